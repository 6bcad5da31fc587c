package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	persistlog "turtleworld.ai/internal/persistence/log"
	"turtleworld.ai/internal/persistence/snapshot"
	"turtleworld.ai/internal/sim/world"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		worldDir = flag.String("world_dir", "", "world dir containing steps/steps-*.jsonl.zst (optional)")
		fromStep = flag.Uint64("from_step", 0, "start auditing from step (inclusive, optional)")
		toStep   = flag.Uint64("to_step", 0, "stop at step (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d world=%s step=%d seed=%d size=%dx%d wrap=%v bodies=%d objects=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Step, snap.Seed, snap.Width, snap.Height,
		snap.Wrap, len(snap.Bodies), len(snap.Objects))

	if *worldDir == "" {
		return
	}

	env, err := restore(snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore snapshot:", err)
		os.Exit(1)
	}

	a := newAudit(snap.Header.Step, *fromStep, *toStep)
	if snap.Header.Step > 0 {
		a.anchorStep = snap.Header.Step - 1
		a.anchorDigest = env.DigestAt(a.anchorStep)
	}

	files, err := persistlog.StepFilesFrom(*worldDir, a.firstStep())
	if err != nil {
		fmt.Fprintln(os.Stderr, "list step files:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no step files found")
		os.Exit(1)
	}

	for _, path := range files {
		entries, err := persistlog.ReadSteps(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read steps:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			if err := a.add(e); err != nil {
				fmt.Fprintln(os.Stderr, "audit failed:", err)
				os.Exit(1)
			}
			if a.done() {
				break
			}
		}
		if a.done() {
			break
		}
	}

	fmt.Println(a.summary())
}

// restore rebuilds the snapshot's environment, bodies included, so its
// digest can be compared with the step log.
func restore(snap snapshot.SnapshotV1) (*world.Environment, error) {
	env, err := world.New(world.Config{
		Width:             snap.Width,
		Height:            snap.Height,
		Wrap:              snap.Wrap,
		DiscardOutOfRange: snap.DiscardOutOfRange,
		SharedCells:       snap.SharedCells,
		Seed:              snap.Seed,
	})
	if err != nil {
		return nil, err
	}
	if _, err := env.ImportSnapshot(snap, true); err != nil {
		return nil, err
	}
	return env, nil
}

// audit walks step log entries in order. It checks that steps are
// contiguous and that the entry written just before the snapshot carries
// the snapshot's digest.
type audit struct {
	from, to uint64

	anchorStep    uint64
	anchorDigest  string
	anchorChecked bool

	next    uint64
	started bool
	last    uint64

	checked    int
	timeouts   int
	joins      int
	leaves     int
	influences map[world.InfluenceKind]int
}

func newAudit(snapStep, from, to uint64) *audit {
	if from == 0 {
		from = snapStep
	}
	return &audit{from: from, to: to, influences: map[world.InfluenceKind]int{}}
}

func (a *audit) add(e world.StepLogEntry) error {
	if a.anchorDigest != "" && e.Step == a.anchorStep {
		if e.Digest != a.anchorDigest {
			return fmt.Errorf("snapshot digest mismatch at step %d: log=%s snapshot=%s", e.Step, e.Digest, a.anchorDigest)
		}
		a.anchorChecked = true
	}
	if e.Step < a.from || a.done() {
		return nil
	}
	if a.to != 0 && e.Step > a.to {
		return nil
	}
	if a.started && e.Step != a.next {
		return fmt.Errorf("step gap: want %d got %d", a.next, e.Step)
	}
	if e.Reported > e.Expected && e.Expected > 0 {
		return fmt.Errorf("step %d: reported %d of %d", e.Step, e.Reported, e.Expected)
	}
	a.started = true
	a.next = e.Step + 1
	a.last = e.Step
	a.checked++
	if e.TimedOut {
		a.timeouts++
	}
	a.joins += len(e.Joins)
	a.leaves += len(e.Leaves)
	for _, r := range e.Influences {
		a.influences[r.Kind]++
	}
	return nil
}

// firstStep is the earliest step the audit reads: the anchor when there is
// one, otherwise the start of the range.
func (a *audit) firstStep() uint64 {
	if a.anchorDigest != "" && a.anchorStep < a.from {
		return a.anchorStep
	}
	return a.from
}

func (a *audit) done() bool {
	return a.to != 0 && a.started && a.last >= a.to
}

func (a *audit) summary() string {
	kinds := make([]string, 0, len(a.influences))
	for k := range a.influences {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	inf := ""
	for _, k := range kinds {
		inf += fmt.Sprintf(" %s=%d", k, a.influences[world.InfluenceKind(k)])
	}
	anchor := "skipped"
	if a.anchorChecked {
		anchor = "ok"
	}
	return fmt.Sprintf("audit ok: steps=%d last=%d timeouts=%d joins=%d leaves=%d anchor=%s influences:%s",
		a.checked, a.last, a.timeouts, a.joins, a.leaves, anchor, inf)
}
