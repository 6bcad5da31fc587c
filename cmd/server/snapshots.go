package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"turtleworld.ai/internal/persistence/snapshot"
	"turtleworld.ai/internal/sim/world"
)

// snapshotter exports the world after every `every` steps, and on request.
// It is installed as a step logger so it runs once the clock has advanced,
// which makes the snapshot step the next step to execute.
type snapshotter struct {
	env     *world.Environment
	worldID string
	every   uint64
	out     chan snapshot.SnapshotV1
	log     *log.Logger

	mu      sync.Mutex
	waiters []chan uint64
}

func newSnapshotter(env *world.Environment, worldID string, every int, logger *log.Logger) *snapshotter {
	s := &snapshotter{
		env:     env,
		worldID: worldID,
		out:     make(chan snapshot.SnapshotV1, 2),
		log:     logger,
	}
	if every > 0 {
		s.every = uint64(every)
	}
	return s
}

func (s *snapshotter) WriteStep(entry world.StepLogEntry) error {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	next := entry.Step + 1
	due := s.every > 0 && next%s.every == 0
	if !due && len(waiters) == 0 {
		return nil
	}
	snap := s.env.ExportSnapshot(s.worldID)
	select {
	case s.out <- snap:
	default:
		s.log.Printf("snapshot step=%d dropped: writer busy", snap.Header.Step)
	}
	for _, w := range waiters {
		w <- snap.Header.Step
	}
	return nil
}

// Request asks for a snapshot at the next step boundary.
func (s *snapshotter) Request(ctx context.Context) (uint64, error) {
	ch := make(chan uint64, 1)
	s.mu.Lock()
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()
	select {
	case step := <-ch:
		return step, nil
	case <-ctx.Done():
		return s.env.Clock().Step(), ctx.Err()
	}
}

func snapshotPath(worldDir string, step uint64) string {
	return filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", step))
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestStep uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		step, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || step > bestStep {
			bestStep = step
			best = filepath.Join(dir, name)
		}
	}
	return best
}

// indexedSnapshot prefers the index's record of the newest snapshot and
// falls back to scanning the snapshot directory.
func indexedSnapshot(ctx context.Context, idx runtimeIndex, worldDir string) string {
	if idx != nil {
		row, ok, err := idx.LatestSnapshot(ctx)
		if err == nil && ok {
			if _, err := os.Stat(row.Path); err == nil {
				return row.Path
			}
		}
	}
	return latestSnapshot(worldDir)
}
