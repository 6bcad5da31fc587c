package main

import (
	"math/rand"
	"testing"

	"turtleworld.ai/internal/protocol"
)

func TestWalkerPicksUpAndTurnsWhenBlocked(t *testing.T) {
	w := walker{rng: rand.New(rand.NewSource(1)), dropEvery: 5}
	p := protocol.PerceptionMsg{
		Step:    4,
		Self:    protocol.SelfObs{Pos: [2]float64{2, 3}},
		Motion:  protocol.MotionObs{Status: "NO_MOTION", Boundary: "CLIPPED"},
		Objects: []protocol.ObjectObs{{Kind: "substance", Pos: [2]float64{2, 3}}},
	}
	act := w.act(p)
	if act.Step != 4 || !act.Synchronize() {
		t.Fatalf("act = %+v", act)
	}
	var ops []string
	for _, op := range act.Ops {
		ops = append(ops, op.Op)
	}
	want := []string{protocol.OpPickUp, protocol.OpDropOff, protocol.OpTurnRight, protocol.OpMoveForward}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", ops, want)
		}
	}
}
