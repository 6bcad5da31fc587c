package log

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
	"turtleworld.ai/internal/sim/world"
)

func TestStepLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewStepLogger(dir)
	obj := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	entries := []world.StepLogEntry{
		{Step: 0, Time: 0, Expected: 1, Reported: 1, Joins: []string{"b1"}, Digest: "d0"},
		{
			Step:     1,
			Time:     1,
			Expected: 1,
			TimedOut: true,
			Influences: []world.InfluenceRecord{
				{BodyID: "b1", Kind: world.InfluenceMotion, Influence: world.Motion{Linear: geom.V(1, 0), Angular: 0.5}},
				{BodyID: "b1", Kind: world.InfluencePickUp, Influence: world.PickUp{ObjectID: obj, ObjectKind: world.KindSubstance}},
				{Kind: world.InfluenceRemoval, Influence: world.Removal{ObjectID: obj}},
			},
			Digest: "d1",
		},
	}
	for _, e := range entries {
		if err := l.WriteStep(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := StepFiles(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("files = %v err=%v", files, err)
	}
	got, err := ReadSteps(files[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[1].Digest != "d1" || !got[1].TimedOut {
		t.Fatalf("entries = %+v", got)
	}
	m, ok := got[1].Influences[0].Influence.(world.Motion)
	if !ok || m.Linear != geom.V(1, 0) || m.Angular != 0.5 {
		t.Fatalf("motion = %#v", got[1].Influences[0].Influence)
	}
	if p, ok := got[1].Influences[1].Influence.(world.PickUp); !ok || p.ObjectID != obj || p.ObjectKind != world.KindSubstance {
		t.Fatalf("pickup = %#v", got[1].Influences[1].Influence)
	}
	if _, ok := got[1].Influences[2].Influence.(world.Removal); !ok {
		t.Fatalf("removal = %#v", got[1].Influences[2].Influence)
	}
}

func TestStepLoggerSegmentsByStep(t *testing.T) {
	dir := t.TempDir()
	l := NewStepLoggerSegments(dir, 3)
	for step := uint64(0); step < 7; step++ {
		if err := l.WriteStep(world.StepLogEntry{Step: step}); err != nil {
			t.Fatalf("write %d: %v", step, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// A restarted logger appends to the segment that owns the step.
	l = NewStepLoggerSegments(dir, 3)
	if err := l.WriteStep(world.StepLogEntry{Step: 7}); err != nil {
		t.Fatalf("write 7: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := StepFiles(dir)
	if err != nil || len(files) != 3 {
		t.Fatalf("files = %v err=%v", files, err)
	}
	var steps []uint64
	for _, path := range files {
		entries, err := ReadSteps(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		for _, e := range entries {
			steps = append(steps, e.Step)
		}
	}
	for i, s := range steps {
		if s != uint64(i) {
			t.Fatalf("steps = %v", steps)
		}
	}
	if len(steps) != 8 {
		t.Fatalf("steps = %v", steps)
	}

	from, err := StepFilesFrom(dir, 4)
	if err != nil || len(from) != 2 || filepath.Base(from[0]) != "steps-000000000003.jsonl.zst" {
		t.Fatalf("from 4 = %v err=%v", from, err)
	}
	if from, _ := StepFilesFrom(dir, 100); len(from) != 1 {
		t.Fatalf("from 100 = %v", from)
	}
}
