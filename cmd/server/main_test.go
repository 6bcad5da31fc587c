package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"turtleworld.ai/internal/persistence/snapshot"
	"turtleworld.ai/internal/sim/frustum"
	"turtleworld.ai/internal/sim/tuning"
	"turtleworld.ai/internal/sim/world"
	"turtleworld.ai/internal/transport/ws"
)

var discard = log.New(io.Discard, "", 0)

func TestWorldConfigFromTuning(t *testing.T) {
	tune := tuning.Defaults()
	tune.World.Width, tune.World.Height = 30, 20
	tune.Perception = tuning.Perception{Frustum: "circle", Radius: 4}
	tune.Decay = []string{"substance"}

	cfg, err := worldConfig(tune, 0, discard)
	if err != nil {
		t.Fatalf("worldConfig: %v", err)
	}
	if cfg.Width != 30 || cfg.Height != 20 || cfg.Seed != tune.World.Seed {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DefaultFrustum.Kind() != frustum.KindCircle || frustum.Extent(cfg.DefaultFrustum) != 4 {
		t.Fatalf("frustum = %#v", cfg.DefaultFrustum)
	}
	if len(cfg.Endogenous) != 1 || cfg.StepTimeout != 2*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}

	cfg, err = worldConfig(tune, 99, discard)
	if err != nil || cfg.Seed != 99 {
		t.Fatalf("seed override: %d err=%v", cfg.Seed, err)
	}

	tune.Decay = []string{"turtle"}
	if _, err := worldConfig(tune, 0, discard); err == nil {
		t.Fatalf("expected decay kind error")
	}
}

func TestResumeConfigUsesSnapshotGeometry(t *testing.T) {
	cfg, err := worldConfig(tuning.Defaults(), 0, discard)
	if err != nil {
		t.Fatalf("worldConfig: %v", err)
	}
	snap := snapshot.SnapshotV1{Width: 12, Height: 8, Wrap: true, Seed: 5, StepDuration: 0.5}
	cfg = resumeConfig(cfg, snap)
	if cfg.Width != 12 || cfg.Height != 8 || !cfg.Wrap || cfg.Seed != 5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Clock.LastStepDuration() != 0.5 {
		t.Fatalf("step duration = %v", cfg.Clock.LastStepDuration())
	}
}

func TestLatestSnapshotPicksHighestStep(t *testing.T) {
	dir := t.TempDir()
	snapDir := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"9.snap.zst", "120.snap.zst", "30.snap.zst", "junk.snap.zst", "40.txt"} {
		if err := os.WriteFile(filepath.Join(snapDir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := latestSnapshot(dir); filepath.Base(got) != "120.snap.zst" {
		t.Fatalf("latest = %q", got)
	}
	if got := indexedSnapshot(context.Background(), nil, dir); filepath.Base(got) != "120.snap.zst" {
		t.Fatalf("indexed = %q", got)
	}
	if got := latestSnapshot(t.TempDir()); got != "" {
		t.Fatalf("empty dir = %q", got)
	}
}

type recordingLogger struct {
	steps []uint64
	err   error
}

func (r *recordingLogger) WriteStep(e world.StepLogEntry) error {
	r.steps = append(r.steps, e.Step)
	return r.err
}

func TestMultiStepLoggerFansOut(t *testing.T) {
	a := &recordingLogger{err: errors.New("disk full")}
	b := &recordingLogger{}
	m := multiStepLogger{a, nil, b}
	if err := m.WriteStep(world.StepLogEntry{Step: 3}); err == nil {
		t.Fatalf("expected first error")
	}
	if len(a.steps) != 1 || len(b.steps) != 1 {
		t.Fatalf("fan-out a=%v b=%v", a.steps, b.steps)
	}
}

func TestSnapshotterEveryAndOnRequest(t *testing.T) {
	env, err := world.New(world.Config{Width: 6, Height: 6})
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	s := newSnapshotter(env, "w", 2, discard)
	env.SetStepLogger(s)

	ctx := context.Background()
	if _, err := env.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	select {
	case snap := <-s.out:
		t.Fatalf("unexpected snapshot at step %d", snap.Header.Step)
	default:
	}
	if _, err := env.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	snap := <-s.out
	if snap.Header.Step != 2 || snap.Header.WorldID != "w" {
		t.Fatalf("snapshot header = %+v", snap.Header)
	}

	got := make(chan uint64, 1)
	go func() {
		step, _ := s.Request(ctx)
		got <- step
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.waiters)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("request not registered")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := env.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	if step := <-got; step != 3 {
		t.Fatalf("requested snapshot step = %d, want 3", step)
	}
	<-s.out
}

func TestSnapshotRoundTripResumesObjects(t *testing.T) {
	dir := t.TempDir()
	env, err := world.New(world.Config{Width: 6, Height: 6, Seed: 3})
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if _, err := env.AddObject(world.Object{Kind: world.KindObstacle}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := env.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	writeSnapshot(dir, env.ExportSnapshot("w"), nil, 1, discard)

	if _, err := os.Stat(filepath.Join(dir, "archives", "epoch_001", "meta.json")); err != nil {
		t.Fatalf("archive: %v", err)
	}

	path := latestSnapshot(dir)
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	cfg, err := worldConfig(tuning.Defaults(), 0, discard)
	if err != nil {
		t.Fatalf("cfg: %v", err)
	}
	resumed, err := world.New(resumeConfig(cfg, snap))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := resumed.ImportSnapshot(snap, false); err != nil {
		t.Fatalf("import: %v", err)
	}
	if resumed.Clock().Step() != 1 || len(resumed.Objects()) != 1 {
		t.Fatalf("resumed step=%d objects=%d", resumed.Clock().Step(), len(resumed.Objects()))
	}
}

func TestAdminEndpointsAreLoopbackOnly(t *testing.T) {
	env, err := world.New(world.Config{Width: 6, Height: 6})
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	wsSrv := ws.NewServer(env, discard)
	defer wsSrv.Close()
	mux := http.NewServeMux()
	registerAdmin(mux, adminDeps{worldID: "w", env: env, snaps: newSnapshotter(env, "w", 0, discard), ws: wsSrv})

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("remote status = %d", rr.Code)
	}

	req.RemoteAddr = "127.0.0.1:5555"
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("loopback status = %d", rr.Code)
	}
	var resp struct {
		WorldID string `json:"world_id"`
		Digest  string `json:"digest"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorldID != "w" || resp.Digest != env.Digest() {
		t.Fatalf("resp = %+v", resp)
	}

	// Without an index the query endpoints are not mounted.
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/steps", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("steps status = %d", rr.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q) = %v", addr, got)
		}
	}
}
