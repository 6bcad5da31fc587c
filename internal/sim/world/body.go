package world

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/frustum"
	"turtleworld.ai/internal/sim/geom"
)

type MotionStatus string

const (
	MotionNotAvailable MotionStatus = "NOT_AVAILABLE"
	MotionSuccess      MotionStatus = "SUCCESS"
	MotionNone         MotionStatus = "NO_MOTION"
)

// MotionResult is how the resolver handled a body's last motion.
type MotionResult struct {
	Status   MotionStatus `json:"status"`
	Boundary Boundary     `json:"boundary"`
}

type Pose struct {
	Position geom.Point `json:"position"`
	Heading  float64    `json:"heading"`
	Velocity geom.Vec2  `json:"velocity"`
	Speed    float64    `json:"speed"`
}

// Perception is the snapshot a body observed at the start of a step.
type Perception struct {
	Step         uint64            `json:"step"`
	Time         float64           `json:"time"`
	StepDuration float64           `json:"step_duration"`
	Turtles      []PerceivedTurtle `json:"turtles"`
	Objects      []Object          `json:"objects"`
	Picked       []PickedObject    `json:"picked,omitempty"`
}

// All lists every perceived item: turtles, then objects, then pickups.
func (p Perception) All() []Perceivable {
	out := make([]Perceivable, 0, len(p.Turtles)+len(p.Objects)+len(p.Picked))
	for _, t := range p.Turtles {
		out = append(out, t)
	}
	for _, o := range p.Objects {
		out = append(out, o)
	}
	for _, pk := range p.Picked {
		out = append(out, pk)
	}
	return out
}

type reporter interface {
	report(b *TurtleBody, step uint64) bool
}

// TurtleBody is the embodiment of one agent. Agents call its mutators from
// their own goroutines; mutators only queue influences, which the environment
// resolves at the end of the step.
type TurtleBody struct {
	id      uuid.UUID
	frustum frustum.Frustum
	env     reporter

	// barrier generation of the last report; zero means none.
	reported atomic.Uint64

	mu                sync.Mutex
	pose              Pose
	semantic          any
	perceptionEnabled bool
	motion            *Motion
	others            []Influence
	lastMotion        MotionResult
	perception        *Perception
	picked            []PickedObject
	attached          bool
}

func newBody(id uuid.UUID, pos geom.Point, heading float64, semantic any, fr frustum.Frustum, perceive bool) *TurtleBody {
	return &TurtleBody{
		id:                id,
		frustum:           fr,
		pose:              Pose{Position: pos, Heading: geom.NormalizeAngle(heading)},
		semantic:          semantic,
		perceptionEnabled: perceive,
		lastMotion:        MotionResult{Status: MotionNotAvailable, Boundary: BoundaryNoChange},
	}
}

func (b *TurtleBody) ID() uuid.UUID { return b.id }

func (b *TurtleBody) Frustum() frustum.Frustum { return b.frustum }

func (b *TurtleBody) Pose() Pose {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pose
}

func (b *TurtleBody) Position() geom.Point { return b.Pose().Position }
func (b *TurtleBody) Heading() float64     { return b.Pose().Heading }
func (b *TurtleBody) Speed() float64       { return b.Pose().Speed }

func (b *TurtleBody) Semantic() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.semantic
}

func (b *TurtleBody) LastMotion() MotionResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastMotion
}

func (b *TurtleBody) PerceptionEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perceptionEnabled
}

// SetPerceptionEnabled takes effect at the next perception phase.
func (b *TurtleBody) SetPerceptionEnabled(on bool) {
	b.mu.Lock()
	b.perceptionEnabled = on
	b.mu.Unlock()
}

// Attached reports whether the body is currently part of the world.
func (b *TurtleBody) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

func (b *TurtleBody) addMotion(m Motion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.motion == nil {
		b.motion = &m
		return
	}
	merged := b.motion.coalesce(m)
	b.motion = &merged
}

func (b *TurtleBody) addInfluence(in Influence) {
	b.mu.Lock()
	b.others = append(b.others, in)
	b.mu.Unlock()
}

// Move translates the body by direction. With changeHeading the body also
// turns to face direction.
func (b *TurtleBody) Move(direction geom.Vec2, changeHeading bool) {
	m := Motion{Linear: direction}
	if changeHeading && !direction.IsZero() {
		m.HeadingSet = true
		m.Heading = direction.Angle()
	}
	b.addMotion(m)
}

// MoveForward moves n cells along the current heading.
func (b *TurtleBody) MoveForward(n int) {
	b.addMotion(Motion{Linear: geom.FromAngle(b.Heading()).Scale(float64(n))})
}

func (b *TurtleBody) MoveBackward(n int) {
	b.addMotion(Motion{Linear: geom.FromAngle(b.Heading()).Scale(-float64(n))})
}

// TurnLeft turns counter-clockwise on screen, i.e. decreases the heading.
func (b *TurtleBody) TurnLeft(radians float64) {
	b.addMotion(Motion{Angular: -radians})
}

func (b *TurtleBody) TurnRight(radians float64) {
	b.addMotion(Motion{Angular: radians})
}

func (b *TurtleBody) SetHeading(radians float64) {
	b.addMotion(Motion{HeadingSet: true, Heading: radians})
}

// SetHeadingVector faces direction; a zero vector is ignored.
func (b *TurtleBody) SetHeadingVector(direction geom.Vec2) {
	if direction.IsZero() {
		return
	}
	b.SetHeading(direction.Angle())
}

// DropOff places obj on the cell the body occupies when the step resolves.
func (b *TurtleBody) DropOff(obj Object) {
	b.addInfluence(DropOff{Object: obj})
}

func (b *TurtleBody) SetSemantic(semantic any) {
	b.addInfluence(SemanticChange{Semantic: semantic})
}

// PickUp queues the pickup of the first perceived object of the given kind
// lying on the body's cell. It returns false and queues nothing when there is
// no such object.
func (b *TurtleBody) PickUp(kind ObjectKind) (Object, bool) {
	return b.pickUpWhere(func(o Object) bool { return o.Kind == kind })
}

// PickUpSemantic is PickUp matching on the object's semantic payload.
func (b *TurtleBody) PickUpSemantic(semantic any) (Object, bool) {
	return b.pickUpWhere(func(o Object) bool { return reflect.DeepEqual(o.Semantic, semantic) })
}

// PickUpObject queues a pickup of obj without checking the current
// perception. The resolver still requires obj to share the body's cell.
func (b *TurtleBody) PickUpObject(obj Object) {
	b.addInfluence(PickUp{ObjectID: obj.ID, ObjectKind: obj.Kind})
}

// Touch returns the first perceived object of kind on the body's cell
// without picking it up.
func (b *TurtleBody) Touch(kind ObjectKind) (Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.findHereLocked(func(o Object) bool { return o.Kind == kind })
}

func (b *TurtleBody) pickUpWhere(match func(Object) bool) (Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.findHereLocked(match)
	if !ok {
		return Object{}, false
	}
	b.others = append(b.others, PickUp{ObjectID: o.ID, ObjectKind: o.Kind})
	return o, true
}

func (b *TurtleBody) findHereLocked(match func(Object) bool) (Object, bool) {
	if b.perception == nil {
		return Object{}, false
	}
	for _, o := range b.perception.Objects {
		if o.Position == b.pose.Position && match(o) {
			return o, true
		}
	}
	return Object{}, false
}

// HasInfluences reports whether anything was submitted since the last
// perception.
func (b *TurtleBody) HasInfluences() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.motion != nil || len(b.others) > 0
}

// Perception returns the latest snapshot.
func (b *TurtleBody) Perception() (Perception, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.perception == nil {
		return Perception{}, ErrPerceptionNotReady
	}
	return *b.perception, nil
}

// HasPerception reports whether a snapshot is available.
func (b *TurtleBody) HasPerception() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perception != nil
}

// PerceptionOf returns the perceived items of type T, e.g. PerceivedTurtle,
// Object or PickedObject.
func PerceptionOf[T Perceivable](b *TurtleBody) ([]T, error) {
	p, err := b.Perception()
	if err != nil {
		return nil, err
	}
	var out []T
	for _, it := range p.All() {
		if v, ok := it.(T); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// FirstPerception returns the first perceived item of type T.
func FirstPerception[T Perceivable](b *TurtleBody) (T, bool, error) {
	var zero T
	all, err := PerceptionOf[T](b)
	if err != nil {
		return zero, false, err
	}
	if len(all) == 0 {
		return zero, false, nil
	}
	return all[0], true, nil
}

// PerceivedObjects returns the perceived objects of one kind.
func (b *TurtleBody) PerceivedObjects(kind ObjectKind) ([]Object, error) {
	p, err := b.Perception()
	if err != nil {
		return nil, err
	}
	var out []Object
	for _, o := range p.Objects {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out, nil
}

// Synchronize tells the environment this body is done for the step of its
// latest perception. It returns false when the report does not count: no
// perception yet, a stale step, or a repeated report.
func (b *TurtleBody) Synchronize() bool {
	b.mu.Lock()
	p, env := b.perception, b.env
	b.mu.Unlock()
	if p == nil || env == nil {
		return false
	}
	return env.report(b, p.Step)
}

// SynchronizeStep is Synchronize for an agent that acted on the perception
// of step. It does not report when a newer perception has replaced it.
func (b *TurtleBody) SynchronizeStep(step uint64) bool {
	b.mu.Lock()
	p, env := b.perception, b.env
	b.mu.Unlock()
	if p == nil || env == nil || p.Step != step {
		return false
	}
	return env.report(b, step)
}

func (b *TurtleBody) markReported(gen uint64) bool {
	for {
		cur := b.reported.Load()
		if cur == gen {
			return false
		}
		if b.reported.CompareAndSwap(cur, gen) {
			return true
		}
	}
}

func (b *TurtleBody) reportedFor(gen uint64) bool { return b.reported.Load() == gen }

// consumeMotion hands the coalesced motion to the resolver and clears it.
func (b *TurtleBody) consumeMotion() *Motion {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.motion
	b.motion = nil
	return m
}

// consumeOthers hands the queued non-motion influences to the resolver and
// clears them.
func (b *TurtleBody) consumeOthers() []Influence {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.others
	b.others = nil
	return out
}

// setPerception installs a new snapshot. Influences still queued at this
// point belong to an earlier step and are dropped.
func (b *TurtleBody) setPerception(p *Perception) {
	b.mu.Lock()
	b.perception = p
	b.motion = nil
	b.others = nil
	b.mu.Unlock()
}

func (b *TurtleBody) takePicked() []PickedObject {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.picked
	b.picked = nil
	return out
}

func (b *TurtleBody) addPicked(p PickedObject) {
	b.mu.Lock()
	b.picked = append(b.picked, p)
	b.mu.Unlock()
}

func (b *TurtleBody) setPose(p Pose) {
	b.mu.Lock()
	b.pose = p
	b.mu.Unlock()
}

func (b *TurtleBody) setVelocity(v geom.Vec2) {
	b.mu.Lock()
	b.pose.Velocity = v
	b.pose.Speed = v.Len()
	b.mu.Unlock()
}

func (b *TurtleBody) setMotionResult(r MotionResult) {
	b.mu.Lock()
	b.lastMotion = r
	b.mu.Unlock()
}

func (b *TurtleBody) setSemantic(s any) {
	b.mu.Lock()
	b.semantic = s
	b.mu.Unlock()
}

func (b *TurtleBody) attach(env reporter) {
	b.mu.Lock()
	b.env = env
	b.attached = true
	b.mu.Unlock()
}

func (b *TurtleBody) detach() {
	b.mu.Lock()
	b.attached = false
	b.mu.Unlock()
}
