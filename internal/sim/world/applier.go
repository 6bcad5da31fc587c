package world

import (
	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
)

// PhysicalState is the post-resolution state of one body.
type PhysicalState struct {
	Position        geom.Point
	Heading         float64
	Speed           float64
	Velocity        geom.Vec2
	AngularVelocity float64
}

// ActionApplier is the only way the resolver mutates the world.
type ActionApplier interface {
	// PutTurtle moves body onto pos. It returns false when pos cannot host
	// the body; the body then stays where it was.
	PutTurtle(body *TurtleBody, pos geom.Point) bool
	RemoveTurtle(body *TurtleBody) bool
	SetPhysicalState(body *TurtleBody, st PhysicalState) bool
	RemoveObject(obj Object) (Object, bool)
	PutObject(pos geom.Point, obj Object) (Object, bool)
}

// OccupancyView is the read side the resolver plans against.
type OccupancyView interface {
	Blocked(p geom.Point) bool
	Object(id uuid.UUID) (Object, bool)
}

// substrate applies resolver decisions to the environment's registries, the
// spatial index and the physics backend. Callers hold e.mu.
type substrate struct{ e *Environment }

var (
	_ ActionApplier = substrate{}
	_ OccupancyView = substrate{}
)

func (s substrate) PutTurtle(b *TurtleBody, pos geom.Point) bool {
	if !s.e.bounds.Contains(pos) || s.Blocked(pos) {
		return false
	}
	return s.e.index.Reposition(b.id, pos) == nil
}

func (s substrate) RemoveTurtle(b *TurtleBody) bool {
	if _, ok := s.e.bodies[b.id]; !ok {
		return false
	}
	s.e.index.Remove(b.id)
	s.e.physics.RemoveBody(b.id)
	delete(s.e.bodies, b.id)
	b.detach()
	return true
}

func (s substrate) SetPhysicalState(b *TurtleBody, st PhysicalState) bool {
	b.setPose(Pose{Position: st.Position, Heading: geom.NormalizeAngle(st.Heading), Velocity: st.Velocity, Speed: st.Speed})
	if err := s.e.physics.SetTransform(b.id, st.Position, st.Heading); err != nil {
		return false
	}
	return s.e.physics.ApplyImpulse(b.id, st.Velocity, st.AngularVelocity) == nil
}

func (s substrate) RemoveObject(obj Object) (Object, bool) {
	cur, ok := s.e.objects[obj.ID]
	if !ok {
		return Object{}, false
	}
	s.e.index.Remove(obj.ID)
	delete(s.e.objects, obj.ID)
	return *cur, true
}

func (s substrate) PutObject(pos geom.Point, obj Object) (Object, bool) {
	if obj.ID == uuid.Nil {
		obj.ID = s.e.newIDLocked()
	}
	if _, dup := s.e.objects[obj.ID]; dup {
		return Object{}, false
	}
	if _, dup := s.e.bodies[obj.ID]; dup {
		return Object{}, false
	}
	obj.Position = pos
	if err := s.e.index.Insert(obj.ID, pos); err != nil {
		return Object{}, false
	}
	o := obj
	s.e.objects[o.ID] = &o
	return o, true
}

func (s substrate) Blocked(p geom.Point) bool {
	for _, id := range s.e.index.At(p) {
		if o, ok := s.e.objects[id]; ok && o.Blocks() {
			return true
		}
	}
	return false
}

func (s substrate) Object(id uuid.UUID) (Object, bool) {
	o, ok := s.e.objects[id]
	if !ok {
		return Object{}, false
	}
	return *o, true
}
