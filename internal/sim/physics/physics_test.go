package physics

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
)

func TestKinematic_ImpulseStepTransform(t *testing.T) {
	k := NewKinematic(0.5)
	id := uuid.New()
	if err := k.AddBody(id, Transform{Position: geom.Pt(1, 1)}); err != nil {
		t.Fatalf("AddBody: %v", err)
	}
	if err := k.AddBody(id, Transform{}); err == nil {
		t.Fatalf("expected duplicate AddBody to fail")
	}
	if err := k.SetTransform(id, geom.Pt(2, 1), 2*math.Pi+1); err != nil {
		t.Fatalf("SetTransform: %v", err)
	}
	if err := k.ApplyImpulse(id, geom.V(2, 0), 0.25); err != nil {
		t.Fatalf("ApplyImpulse: %v", err)
	}
	k.Step(1)

	tr, ok := k.Transform(id)
	if !ok {
		t.Fatalf("transform missing")
	}
	if tr.Position != geom.Pt(2, 1) {
		t.Fatalf("position moved by Step: %+v", tr.Position)
	}
	if tr.Velocity != geom.V(1, 0) {
		t.Fatalf("velocity=%+v want damped (1,0)", tr.Velocity)
	}
	if math.Abs(tr.Heading-1) > 1e-9 {
		t.Fatalf("heading=%v want 1", tr.Heading)
	}
	if k.Steps() != 1 {
		t.Fatalf("steps=%d", k.Steps())
	}
}

func TestKinematic_UnknownBody(t *testing.T) {
	k := NewKinematic(0)
	if err := k.ApplyImpulse(uuid.New(), geom.V(1, 1), 0); !errors.Is(err, ErrUnknownBody) {
		t.Fatalf("err=%v", err)
	}
	if k.RemoveBody(uuid.New()) {
		t.Fatalf("RemoveBody of unknown id returned true")
	}
}
