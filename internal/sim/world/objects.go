package world

import (
	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
)

// ObjectKind classifies what occupies a cell.
type ObjectKind string

const (
	KindTurtle    ObjectKind = "turtle"
	KindObstacle  ObjectKind = "obstacle"
	KindSubstance ObjectKind = "substance"
	KindBurrow    ObjectKind = "burrow"
)

func (k ObjectKind) Valid() bool {
	switch k {
	case KindTurtle, KindObstacle, KindSubstance, KindBurrow:
		return true
	}
	return false
}

// Perceivable is anything that can appear in a perception snapshot.
type Perceivable interface {
	Location() geom.Point
}

// Object is a non-body entity of the world. Values handed out by the
// environment are copies.
type Object struct {
	ID       uuid.UUID  `json:"id"`
	Kind     ObjectKind `json:"kind"`
	Position geom.Point `json:"position"`
	Semantic any        `json:"semantic,omitempty"`

	// ExpiresAt is a simulated time after which decay processes remove the
	// object. Zero means never.
	ExpiresAt float64 `json:"expires_at,omitempty"`
}

func (o Object) Location() geom.Point { return o.Position }

func (o Object) Blocks() bool { return o.Kind == KindObstacle }

// PerceivedTurtle is what an observer sees of another body during one step.
// Position, Heading, Velocity and Speed are absolute; the Relative accessors
// express them in the observer's frame.
type PerceivedTurtle struct {
	ID               uuid.UUID  `json:"id"`
	ObserverPosition geom.Point `json:"observer_position"`
	ObserverHeading  float64    `json:"observer_heading"`
	ObserverVelocity geom.Vec2  `json:"observer_velocity"`
	Position         geom.Point `json:"position"`
	Velocity         geom.Vec2  `json:"velocity"`
	Speed            float64    `json:"speed"`
	Heading          float64    `json:"heading"`
	Semantic         any        `json:"semantic,omitempty"`
}

func (p PerceivedTurtle) Location() geom.Point { return p.Position }

// RelativePosition is the observed position seen from the observer.
func (p PerceivedTurtle) RelativePosition() geom.Vec2 { return p.Position.Sub(p.ObserverPosition) }

// RelativeHeading is the observed heading minus the observer's, in (-π, π].
func (p PerceivedTurtle) RelativeHeading() float64 {
	return geom.NormalizeAngle(p.Heading - p.ObserverHeading)
}

// RelativeVelocity is the observed velocity as the observer sees it.
func (p PerceivedTurtle) RelativeVelocity() geom.Vec2 { return p.Velocity.Sub(p.ObserverVelocity) }

// PickedObject is a pickup granted by the resolver. It is reported in the
// perception that follows the step it was resolved in.
type PickedObject struct {
	Object Object `json:"object"`
	Step   uint64 `json:"step"`
}

func (p PickedObject) Location() geom.Point { return p.Object.Position }
