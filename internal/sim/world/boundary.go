package world

import (
	"math"

	"turtleworld.ai/internal/sim/geom"
)

// Boundary tells what happened to a position that left the world.
type Boundary string

const (
	BoundaryNoChange  Boundary = "NO_CHANGE"
	BoundaryWrapped   Boundary = "WRAPPED"
	BoundaryClipped   Boundary = "CLIPPED"
	BoundaryDiscarded Boundary = "DISCARDED"
)

// Bounds describes the world's extent and its edge policy. Cells are the
// integer coordinates of [0,Width)x[0,Height).
type Bounds struct {
	Width   int  `json:"width"`
	Height  int  `json:"height"`
	Wrap    bool `json:"wrap"`
	Discard bool `json:"discard_out_of_range"`
}

func (b Bounds) Contains(p geom.Point) bool {
	return p.X >= 0 && p.X < float64(b.Width) && p.Y >= 0 && p.Y < float64(b.Height)
}

func (b Bounds) Rect() geom.Rect {
	return geom.Rect{MaxX: float64(b.Width), MaxY: float64(b.Height)}
}

// Validate maps p back into the world. A toroidal world wraps it; otherwise
// the position is either discarded (returned unchanged) or clipped to the
// last cell on each axis.
func Validate(b Bounds, p geom.Point) (geom.Point, Boundary) {
	if b.Contains(p) {
		return p, BoundaryNoChange
	}
	switch {
	case b.Wrap:
		return geom.Point{X: wrap(p.X, b.Width), Y: wrap(p.Y, b.Height)}, BoundaryWrapped
	case b.Discard:
		return p, BoundaryDiscarded
	default:
		return geom.Point{X: clip(p.X, b.Width), Y: clip(p.Y, b.Height)}, BoundaryClipped
	}
}

func wrap(v float64, n int) float64 {
	m := math.Mod(v, float64(n))
	if m < 0 {
		m += float64(n)
	}
	if m >= float64(n) {
		m = 0
	}
	return m
}

func clip(v float64, n int) float64 {
	if v < 0 {
		return 0
	}
	if last := float64(n - 1); v > last {
		return last
	}
	return v
}
