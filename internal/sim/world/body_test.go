package world

import (
	"context"
	"testing"
	"time"

	"turtleworld.ai/internal/sim/geom"
)

func TestBodyQueriesPerceivedCell(t *testing.T) {
	e := newTestEnv(t, Config{Width: 10, Height: 10})
	d := drive(e)
	b := placeBody(t, e, testID(1), 4, 4)
	tagged, err := e.AddObject(Object{Kind: KindSubstance, Position: geom.Pt(4, 4), Semantic: "sugar"})
	if err != nil {
		t.Fatalf("add object: %v", err)
	}
	placeObject(t, e, KindBurrow, 5, 4)

	d.next(b, func(b *TurtleBody) {
		if _, ok := b.Touch(KindBurrow); ok {
			t.Errorf("touched a burrow on another cell")
		}
		o, ok := b.Touch(KindSubstance)
		if !ok || o.ID != tagged.ID {
			t.Errorf("touch = %+v %v", o, ok)
		}
		if b.HasInfluences() {
			t.Errorf("touch queued an influence")
		}
		if _, ok := b.PickUpSemantic("salt"); ok {
			t.Errorf("picked up by a semantic that does not match")
		}
		if _, ok := b.PickUpSemantic("sugar"); !ok {
			t.Errorf("semantic pickup failed")
		}
		if !b.HasInfluences() {
			t.Errorf("pickup not queued")
		}
	})
	mustStep(t, e)
	mustStep(t, e)

	burrows, err := b.PerceivedObjects(KindBurrow)
	if err != nil || len(burrows) != 1 {
		t.Fatalf("burrows = %+v err=%v", burrows, err)
	}
	first, ok, err := FirstPerception[Object](b)
	if err != nil || !ok || first.Kind != KindBurrow {
		t.Fatalf("first object = %+v ok=%v err=%v", first, ok, err)
	}
}

func TestMoveForwardFollowsHeading(t *testing.T) {
	e := newTestEnv(t, Config{Width: 10, Height: 10})
	d := drive(e)
	b := placeBody(t, e, testID(1), 4, 4)

	d.next(b, func(b *TurtleBody) { b.MoveForward(2) })
	mustStep(t, e)
	assertAt(t, b, 6, 4)

	d.next(b, func(b *TurtleBody) { b.SetHeadingVector(geom.V(0, 1)) })
	mustStep(t, e)
	d.next(b, func(b *TurtleBody) { b.MoveBackward(3) })
	mustStep(t, e)
	assertAt(t, b, 6, 1)
}

func TestPerceptionEventCarriesMotionResult(t *testing.T) {
	e := newTestEnv(t, Config{Width: 10, Height: 10})
	d := drive(e)
	b := placeBody(t, e, testID(1), 9, 9)

	d.next(b, func(b *TurtleBody) { b.Move(geom.V(1, 0), true) })
	mustStep(t, e)
	mustStep(t, e)

	evs := d.eventsFor(b.ID())
	if evs[0].Motion.Status != MotionNotAvailable {
		t.Fatalf("first motion = %+v", evs[0].Motion)
	}
	if evs[1].Motion.Status != MotionNone || evs[1].Motion.Boundary != BoundaryClipped {
		t.Fatalf("second motion = %+v", evs[1].Motion)
	}
}

func TestBarrierForgiveReleases(t *testing.T) {
	b := newStepBarrier()
	b.arm(4, 2)
	if !b.arrive(4, func(uint64) bool { return true }) {
		t.Fatalf("arrive rejected")
	}
	if b.arrive(3, func(uint64) bool { return true }) {
		t.Fatalf("stale arrive accepted")
	}
	b.forgive(4, func(uint64) bool { return false })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	timedOut, err := b.wait(ctx, nil, 0)
	if err != nil || timedOut {
		t.Fatalf("wait = %v %v", timedOut, err)
	}
	if received, expected := b.counts(); received != 1 || expected != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", received, expected)
	}
}

func TestBarrierTimesOut(t *testing.T) {
	b := newStepBarrier()
	b.arm(0, 1)
	timedOut, err := b.wait(context.Background(), nil, 10*time.Millisecond)
	if err != nil || !timedOut {
		t.Fatalf("wait = %v %v", timedOut, err)
	}
}
