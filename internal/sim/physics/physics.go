// Package physics defines the contract the environment needs from a physics
// solver and a kinematic implementation of it.
package physics

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
)

var ErrUnknownBody = errors.New("physics: unknown body")

type Transform struct {
	Position        geom.Point `json:"position"`
	Heading         float64    `json:"heading"`
	Velocity        geom.Vec2  `json:"velocity"`
	AngularVelocity float64    `json:"angular_velocity"`
}

// Backend is the physics solver behind PHYSICS_STEP: impulses go in, Step
// integrates, Transform reads the result back.
type Backend interface {
	AddBody(id uuid.UUID, tr Transform) error
	RemoveBody(id uuid.UUID) bool
	SetTransform(id uuid.UUID, pos geom.Point, heading float64) error
	ApplyImpulse(id uuid.UUID, linear geom.Vec2, angular float64) error
	Step(dt float64)
	Transform(id uuid.UUID) (Transform, bool)
}

// Kinematic is a grid-authoritative backend: positions are whatever the
// resolver placed, impulses set velocities on a unit mass, and Step only damps
// velocities.
type Kinematic struct {
	LinearDamping  float64
	AngularDamping float64

	mu     sync.Mutex
	bodies map[uuid.UUID]*Transform
	steps  uint64
}

func NewKinematic(linearDamping float64) *Kinematic {
	if linearDamping < 0 {
		linearDamping = 0
	}
	return &Kinematic{LinearDamping: linearDamping, bodies: map[uuid.UUID]*Transform{}}
}

func (k *Kinematic) AddBody(id uuid.UUID, tr Transform) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.bodies[id]; ok {
		return errors.New("physics: body already added")
	}
	tr.Heading = geom.NormalizeAngle(tr.Heading)
	k.bodies[id] = &tr
	return nil
}

func (k *Kinematic) RemoveBody(id uuid.UUID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.bodies[id]; !ok {
		return false
	}
	delete(k.bodies, id)
	return true
}

// SetTransform teleports a body and clears its velocities.
func (k *Kinematic) SetTransform(id uuid.UUID, pos geom.Point, heading float64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.bodies[id]
	if !ok {
		return ErrUnknownBody
	}
	b.Position = pos
	b.Heading = geom.NormalizeAngle(heading)
	b.Velocity = geom.Vec2{}
	b.AngularVelocity = 0
	return nil
}

func (k *Kinematic) ApplyImpulse(id uuid.UUID, linear geom.Vec2, angular float64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.bodies[id]
	if !ok {
		return ErrUnknownBody
	}
	b.Velocity = b.Velocity.Add(linear)
	b.AngularVelocity += angular
	return nil
}

func (k *Kinematic) Step(dt float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.steps++
	if dt <= 0 {
		return
	}
	lin := damp(k.LinearDamping, dt)
	ang := damp(k.AngularDamping, dt)
	for _, b := range k.bodies {
		b.Velocity = b.Velocity.Scale(lin)
		b.AngularVelocity *= ang
	}
}

func (k *Kinematic) Transform(id uuid.UUID) (Transform, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.bodies[id]
	if !ok {
		return Transform{}, false
	}
	return *b, true
}

// Steps reports how many times Step ran.
func (k *Kinematic) Steps() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.steps
}

func damp(c, dt float64) float64 {
	f := 1 - c*dt
	if f < 0 {
		return 0
	}
	return f
}
