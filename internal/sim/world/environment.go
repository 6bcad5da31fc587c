package world

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"turtleworld.ai/internal/sim/clock"
	"turtleworld.ai/internal/sim/frustum"
	"turtleworld.ai/internal/sim/geom"
	"turtleworld.ai/internal/sim/physics"
	"turtleworld.ai/internal/sim/spatial"
)

// Environment owns the shared world and drives the step pipeline:
// PERCEIVING, AWAITING_INFLUENCES, RESOLVING, PHYSICS_STEP, ENDOGENOUS,
// NOTIFY, then PERCEIVING again.
//
// Only the coordinator (Step or Run) mutates the registries during a step.
// Registrations and removals requested while a step runs are buffered and
// applied at the next PERCEIVING boundary.
type Environment struct {
	cfg      Config
	bounds   Bounds
	clock    *clock.Manager
	physics  physics.Backend
	index    *spatial.QuadTree
	resolver *Resolver
	barrier  *stepBarrier
	log      *log.Logger
	tracer   trace.Tracer

	state atomic.Int32

	mu             sync.Mutex
	rng            *rand.Rand
	bodies         map[uuid.UUID]*TurtleBody
	objects        map[uuid.UUID]*Object
	inStep         bool
	pendingAdds    []pendingAdd
	pendingRemoves []uuid.UUID
	pendingObjects []Object
	pendingUnplace []uuid.UUID
	joined         []string
	left           []string
	endogenous     []EndogenousProcess
	err            error

	listeners  hookList[Listener]
	publishers hookList[Publisher]

	sinkMu     sync.Mutex
	stepLogger StepLogger
	observer   StepObserver

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

type pendingAdd struct {
	body    *TurtleBody
	spawner Spawner
	desired *geom.Point
}

// BodySpec describes a body to create. Zero values pick defaults: a fresh
// id, a free random cell, a random heading and the default frustum.
type BodySpec struct {
	ID                uuid.UUID
	Position          *geom.Point
	Heading           *float64
	Semantic          any
	Frustum           frustum.Frustum
	DisablePerception bool
	Spawner           Spawner
}

func New(cfg Config) (*Environment, error) {
	cfg.applyDefaults()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("world size must be positive: %dx%d", cfg.Width, cfg.Height)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	b := cfg.bounds()
	e := &Environment{
		cfg:        cfg,
		bounds:     b,
		clock:      cfg.Clock,
		physics:    cfg.Physics,
		index:      spatial.New(float64(cfg.Width), float64(cfg.Height), cfg.SplitThreshold),
		resolver:   &Resolver{Bounds: b, SharedCells: cfg.SharedCells},
		barrier:    newStepBarrier(),
		log:        logger,
		tracer:     otel.Tracer("turtleworld.ai/internal/sim/world"),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		bodies:     map[uuid.UUID]*TurtleBody{},
		objects:    map[uuid.UUID]*Object{},
		endogenous: append([]EndogenousProcess(nil), cfg.Endogenous...),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	e.state.Store(int32(StateIdle))
	return e, nil
}

func (e *Environment) Bounds() Bounds             { return e.bounds }
func (e *Environment) Clock() *clock.Manager      { return e.clock }
func (e *Environment) State() State               { return State(e.state.Load()) }
func (e *Environment) SharedCells() bool          { return e.cfg.SharedCells }
func (e *Environment) StepTimeout() time.Duration { return e.cfg.StepTimeout }

// Err returns the error that stopped the environment, if any.
func (e *Environment) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Environment) setState(s State) {
	for {
		cur := e.state.Load()
		if State(cur) == StateStopped {
			return
		}
		if e.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (e *Environment) SetStepLogger(l StepLogger) {
	e.sinkMu.Lock()
	e.stepLogger = l
	e.sinkMu.Unlock()
}

func (e *Environment) SetObserver(o StepObserver) {
	e.sinkMu.Lock()
	e.observer = o
	e.sinkMu.Unlock()
}

// AddListener registers l and returns a function that unregisters it.
func (e *Environment) AddListener(l Listener) (remove func()) { return e.listeners.add(l) }

// AddPublisher registers p and returns a function that unregisters it.
func (e *Environment) AddPublisher(p Publisher) (remove func()) { return e.publishers.add(p) }

func (e *Environment) AddEndogenous(p EndogenousProcess) {
	e.mu.Lock()
	e.endogenous = append(e.endogenous, p)
	e.mu.Unlock()
}

// CreateBody builds a body and registers it, immediately when no step is
// running and at the next PERCEIVING boundary otherwise.
func (e *Environment) CreateBody(spec BodySpec) (*TurtleBody, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() == StateStopped {
		return nil, ErrStopped
	}
	id := spec.ID
	if id == uuid.Nil {
		id = e.newIDLocked()
	} else if e.knownLocked(id) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateBodyID, id)
	}
	sp := spec.Spawner
	if sp == nil {
		sp = WorldSpawner{}
	}
	pos, err := e.spawnLocked(sp, spec.Position, uuid.Nil)
	if err != nil {
		return nil, err
	}
	var heading float64
	if spec.Heading != nil {
		heading = *spec.Heading
	} else {
		heading = sp.Orientation(e.rng)
	}
	fr := spec.Frustum
	if fr == nil {
		fr = e.cfg.DefaultFrustum
	}
	b := newBody(id, pos, heading, spec.Semantic, fr, !spec.DisablePerception)
	if e.inStep {
		e.pendingAdds = append(e.pendingAdds, pendingAdd{body: b, spawner: sp, desired: spec.Position})
	} else {
		if err := e.attachLocked(b); err != nil {
			return nil, err
		}
		e.joined = append(e.joined, b.id.String())
	}
	e.signalWake()
	return b, nil
}

// RemoveBody unregisters a body. During a step the removal is buffered; a
// body removed before reporting no longer holds up the quorum.
func (e *Environment) RemoveBody(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, pa := range e.pendingAdds {
		if pa.body.id == id {
			e.pendingAdds = append(e.pendingAdds[:i], e.pendingAdds[i+1:]...)
			return nil
		}
	}
	b, ok := e.bodies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBodyNotFound, id)
	}
	if !e.inStep {
		if (substrate{e}).RemoveTurtle(b) {
			e.left = append(e.left, id.String())
		}
		return nil
	}
	for _, r := range e.pendingRemoves {
		if r == id {
			return nil
		}
	}
	e.pendingRemoves = append(e.pendingRemoves, id)
	e.barrier.forgive(e.clock.Step(), b.reportedFor)
	return nil
}

// AddObject places an object, rounding its position to a cell.
func (e *Environment) AddObject(obj Object) (Object, error) {
	if !obj.Kind.Valid() {
		return Object{}, fmt.Errorf("invalid object kind %q", obj.Kind)
	}
	obj.Position = obj.Position.Round()
	if !e.bounds.Contains(obj.Position) {
		return Object{}, fmt.Errorf("object at (%g,%g): %w", obj.Position.X, obj.Position.Y, spatial.ErrOutOfBounds)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if obj.ID == uuid.Nil {
		obj.ID = e.newIDLocked()
	} else if e.knownLocked(obj.ID) {
		return Object{}, fmt.Errorf("duplicate object id %s", obj.ID)
	}
	if e.inStep {
		e.pendingObjects = append(e.pendingObjects, obj)
		return obj, nil
	}
	o, ok := substrate{e}.PutObject(obj.Position, obj)
	if !ok {
		return Object{}, fmt.Errorf("place object %s failed", obj.ID)
	}
	return o, nil
}

// RemoveObject removes an object outside the influence pipeline.
func (e *Environment) RemoveObject(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.objects[id]
	if !ok {
		return false
	}
	if e.inStep {
		e.pendingUnplace = append(e.pendingUnplace, id)
		return true
	}
	_, ok = substrate{e}.RemoveObject(*o)
	return ok
}

func (e *Environment) Body(id uuid.UUID) (*TurtleBody, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bodies[id]
	return b, ok
}

// Bodies returns the registered bodies in id order.
func (e *Environment) Bodies() []*TurtleBody {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedBodiesLocked()
}

// Objects returns copies of all objects in id order.
func (e *Environment) Objects() []Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedObjectsLocked()
}

// BodyCount counts registered bodies plus those waiting for the next
// PERCEIVING boundary.
func (e *Environment) BodyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bodies) + len(e.pendingAdds)
}

func (e *Environment) Snapshot() Snapshot {
	r := e.clock.Read()
	e.mu.Lock()
	n := len(e.bodies)
	e.mu.Unlock()
	return Snapshot{
		Step:             r.Step,
		Time:             r.Now,
		LastStepDuration: r.LastStepDuration,
		Width:            e.bounds.Width,
		Height:           e.bounds.Height,
		ActiveBodies:     n,
		State:            e.State(),
	}
}

// Digest hashes the current world state.
func (e *Environment) Digest() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.digestLocked(e.clock.Step())
}

// DigestAt hashes the current state under the given step number. Step log
// entries carry the digest of the state a step produced, keyed by that step.
func (e *Environment) DigestAt(step uint64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.digestLocked(step)
}

// report counts b toward the quorum of step. Bodies that left the world, or
// are about to, no longer count.
func (e *Environment) report(b *TurtleBody, step uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.bodies[b.id]; !ok || cur != b {
		return false
	}
	for _, id := range e.pendingRemoves {
		if id == b.id {
			return false
		}
	}
	return e.barrier.arrive(step, b.markReported)
}

// Step runs one full pass of the pipeline. It returns ErrStopped once the
// environment is stopped, and the context error if ctx ends while waiting
// for influences. A resolution error is fatal and stops the environment.
func (e *Environment) Step(ctx context.Context) (StepLogEntry, error) {
	if e.State() == StateStopped {
		return StepLogEntry{}, ErrStopped
	}
	started := time.Now()
	reading := e.clock.Read()
	entry := StepLogEntry{Step: reading.Step, Time: reading.Now}

	ctx, span := e.tracer.Start(ctx, "environment.step", trace.WithAttributes(
		attribute.Int64("step", int64(reading.Step)),
	))
	defer span.End()

	// PERCEIVING
	e.setState(StatePerceiving)
	e.mu.Lock()
	e.inStep = true
	entry.Joins, entry.Leaves = e.applyPendingLocked()
	bodies := e.sortedBodiesLocked()
	gen := e.barrier.arm(reading.Step, len(bodies))
	events := e.perceiveLocked(bodies, reading)
	e.mu.Unlock()

	e.notify(Listener.PreStep)
	pubs := e.publishers.snapshot()
	for _, ev := range events {
		for _, p := range pubs {
			p.Publish(ev)
		}
	}

	// AWAITING_INFLUENCES
	e.setState(StateAwaiting)
	timedOut, err := e.barrier.wait(ctx, e.stop, e.cfg.StepTimeout)
	e.barrier.disarm()
	if err != nil {
		// The step will run again under the same number; keep its joins.
		e.mu.Lock()
		e.joined = append(append([]string(nil), entry.Joins...), e.joined...)
		e.left = append(append([]string(nil), entry.Leaves...), e.left...)
		e.mu.Unlock()
		e.endStep()
		if !errors.Is(err, ErrStopped) {
			e.setState(StateIdle)
		}
		return entry, err
	}
	entry.Reported, entry.Expected = e.barrier.counts()
	entry.TimedOut = timedOut
	if timedOut {
		e.log.Printf("step %d: timed out after %s with %d/%d reports", reading.Step, e.cfg.StepTimeout, entry.Reported, entry.Expected)
	}

	// RESOLVING
	e.setState(StateResolving)
	e.mu.Lock()
	subs := make([]Submission, 0, len(bodies))
	for _, b := range bodies {
		m, others := b.consumeMotion(), b.consumeOthers()
		if !b.reportedFor(gen) {
			m, others = nil, nil
		}
		subs = append(subs, Submission{Body: b, Motion: m, Others: others})
	}
	sub := substrate{e}
	res, err := e.resolver.Resolve(reading.Step, subs, reading.LastStepDuration, sub, sub)
	if err != nil {
		e.mu.Unlock()
		e.fail(span, err)
		return entry, err
	}

	// PHYSICS_STEP
	e.setState(StatePhysics)
	e.physics.Step(reading.LastStepDuration)
	for _, b := range bodies {
		if tr, ok := e.physics.Transform(b.id); ok {
			b.setVelocity(tr.Velocity)
		}
	}

	// ENDOGENOUS
	e.setState(StateEndogenous)
	endo, err := e.runEndogenousLocked(reading)
	if err != nil {
		e.mu.Unlock()
		e.fail(span, err)
		return entry, err
	}
	entry.Influences = append(res.Records, endo.Records...)
	entry.Digest = e.digestLocked(reading.Step)
	nBodies, nObjects := len(e.bodies), len(e.objects)
	e.mu.Unlock()

	// NOTIFY
	e.setState(StateNotify)
	e.notify(Listener.PostStep)
	e.clock.Increment()

	e.sinkMu.Lock()
	stepLogger, observer := e.stepLogger, e.observer
	e.sinkMu.Unlock()
	if stepLogger != nil {
		if err := stepLogger.WriteStep(entry); err != nil {
			e.log.Printf("step %d: write step log: %v", reading.Step, err)
		}
	}
	if observer != nil {
		counts := res.Counts
		for k, n := range endo.Counts {
			counts[k] += n
		}
		observer.ObserveStep(StepReport{
			Step:       reading.Step,
			Wall:       time.Since(started),
			TimedOut:   timedOut,
			Expected:   entry.Expected,
			Reported:   entry.Reported,
			Bodies:     nBodies,
			Objects:    nObjects,
			Influences: counts,
			Motions:    res.Outcomes,
		})
	}
	span.SetAttributes(
		attribute.Int("bodies", nBodies),
		attribute.Int("reported", entry.Reported),
		attribute.Bool("timed_out", timedOut),
	)
	e.endStep()
	return entry, nil
}

// Run steps until ctx ends, Stop is called, or a step fails. It idles while
// the world has no bodies and paces steps by StepInterval. The environment
// is stopped when Run returns.
func (e *Environment) Run(ctx context.Context) error {
	if e.State() == StateStopped {
		return ErrStopped
	}
	e.log.Printf("simulation started: %dx%d wrap=%v", e.bounds.Width, e.bounds.Height, e.bounds.Wrap)
	e.notify(Listener.SimulationStarted)
	defer func() {
		e.Stop()
		e.notify(Listener.SimulationStopped)
		e.log.Printf("simulation stopped at step %d", e.clock.Step())
	}()

	var pace <-chan time.Time
	if e.cfg.StepInterval > 0 {
		t := time.NewTicker(e.cfg.StepInterval)
		defer t.Stop()
		pace = t.C
	}
	for {
		if e.BodyCount() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.stop:
				return nil
			case <-e.wake:
				continue
			}
		}
		if _, err := e.Step(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
		if pace != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.stop:
				return nil
			case <-pace:
			}
		}
	}
}

// Stop moves the environment to STOPPED and releases a pending barrier.
func (e *Environment) Stop() {
	e.stopOnce.Do(func() {
		e.state.Store(int32(StateStopped))
		close(e.stop)
	})
}

func (e *Environment) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.log.Printf("step aborted: %v", err)
	e.mu.Lock()
	e.err = err
	e.inStep = false
	e.mu.Unlock()
	e.Stop()
}

func (e *Environment) endStep() {
	e.mu.Lock()
	e.inStep = false
	e.mu.Unlock()
}

func (e *Environment) notify(fn func(Listener, Snapshot)) {
	ls := e.listeners.snapshot()
	if len(ls) == 0 {
		return
	}
	s := e.Snapshot()
	for _, l := range ls {
		fn(l, s)
	}
}

func (e *Environment) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// applyPendingLocked applies buffered registrations and reports them along
// with the attaches and removals made between steps.
func (e *Environment) applyPendingLocked() (joins, leaves []string) {
	joins, leaves = e.joined, e.left
	e.joined, e.left = nil, nil
	sub := substrate{e}
	for _, id := range e.pendingRemoves {
		if b, ok := e.bodies[id]; ok && sub.RemoveTurtle(b) {
			leaves = append(leaves, id.String())
		}
	}
	e.pendingRemoves = nil

	for _, pa := range e.pendingAdds {
		b := pa.body
		if pos := b.Position(); !e.freeLocked(pos, b.id) {
			p, err := e.spawnLocked(pa.spawner, pa.desired, b.id)
			if err != nil {
				e.log.Printf("body %s dropped at join: %v", b.id, err)
				continue
			}
			b.setPose(Pose{Position: p, Heading: b.Heading()})
		}
		if err := e.attachLocked(b); err != nil {
			e.log.Printf("body %s dropped at join: %v", b.id, err)
			continue
		}
		joins = append(joins, b.id.String())
	}
	e.pendingAdds = nil

	for _, id := range e.pendingUnplace {
		if o, ok := e.objects[id]; ok {
			sub.RemoveObject(*o)
		}
	}
	e.pendingUnplace = nil
	for _, o := range e.pendingObjects {
		if _, ok := sub.PutObject(o.Position, o); !ok {
			e.log.Printf("object %s dropped at placement", o.ID)
		}
	}
	e.pendingObjects = nil

	sort.Strings(joins)
	sort.Strings(leaves)
	return joins, leaves
}

func (e *Environment) attachLocked(b *TurtleBody) error {
	pose := b.Pose()
	if err := e.index.Insert(b.id, pose.Position); err != nil {
		return fmt.Errorf("index body %s: %w", b.id, err)
	}
	if err := e.physics.AddBody(b.id, physics.Transform{Position: pose.Position, Heading: pose.Heading}); err != nil {
		e.index.Remove(b.id)
		return fmt.Errorf("physics body %s: %w", b.id, err)
	}
	e.bodies[b.id] = b
	b.attach(e)
	return nil
}

// spawnLocked tries desired first and then re-samples from the spawner.
// self is a pending body whose own reservation does not count as occupied.
func (e *Environment) spawnLocked(sp Spawner, desired *geom.Point, self uuid.UUID) (geom.Point, error) {
	for i := 0; i < e.cfg.SpawnRetries; i++ {
		p := sp.SpawnPosition(e.bounds, desired, e.rng).Round()
		if e.freeLocked(p, self) {
			return p, nil
		}
		desired = nil
	}
	return geom.Point{}, fmt.Errorf("%w after %d attempts", ErrSpawnFailure, e.cfg.SpawnRetries)
}

func (e *Environment) freeLocked(p geom.Point, self uuid.UUID) bool {
	if !e.bounds.Contains(p) || (substrate{e}).Blocked(p) {
		return false
	}
	if e.cfg.SharedCells {
		return true
	}
	for _, id := range e.index.At(p) {
		if _, ok := e.bodies[id]; ok {
			return false
		}
	}
	for _, pa := range e.pendingAdds {
		if pa.body.id != self && pa.body.Position() == p {
			return false
		}
	}
	return true
}

func (e *Environment) knownLocked(id uuid.UUID) bool {
	if _, ok := e.bodies[id]; ok {
		return true
	}
	if _, ok := e.objects[id]; ok {
		return true
	}
	for _, pa := range e.pendingAdds {
		if pa.body.id == id {
			return true
		}
	}
	for _, o := range e.pendingObjects {
		if o.ID == id {
			return true
		}
	}
	return false
}

// newIDLocked draws ids from the seeded generator so that runs with the same
// seed and inputs produce the same ids.
func (e *Environment) newIDLocked() uuid.UUID {
	id, err := uuid.NewRandomFromReader(e.rng)
	if err != nil {
		return uuid.New()
	}
	return id
}

func (e *Environment) perceiveLocked(bodies []*TurtleBody, r clock.Reading) []PerceptionEvent {
	events := make([]PerceptionEvent, 0, len(bodies))
	for _, b := range bodies {
		pose := b.Pose()
		p := &Perception{
			Step:         r.Step,
			Time:         r.Now,
			StepDuration: r.LastStepDuration,
			Turtles:      []PerceivedTurtle{},
			Objects:      []Object{},
		}
		if b.frustum != nil && b.PerceptionEnabled() {
			for _, id := range b.frustum.PerceivedIDs(b.id, pose.Position, pose.Heading, e.index) {
				if other, ok := e.bodies[id]; ok {
					op := other.Pose()
					p.Turtles = append(p.Turtles, PerceivedTurtle{
						ID:               id,
						ObserverPosition: pose.Position,
						ObserverHeading:  pose.Heading,
						ObserverVelocity: pose.Velocity,
						Position:         op.Position,
						Velocity:         op.Velocity,
						Speed:            op.Speed,
						Heading:          op.Heading,
						Semantic:         other.Semantic(),
					})
					continue
				}
				if o, ok := e.objects[id]; ok {
					p.Objects = append(p.Objects, *o)
				}
			}
		}
		p.Picked = b.takePicked()
		b.setPerception(p)

		events = append(events, PerceptionEvent{
			Step:         r.Step,
			Timestamp:    r.Now,
			StepDuration: r.LastStepDuration,
			ObserverID:   b.id,
			Position:     pose.Position,
			Heading:      pose.Heading,
			Speed:        pose.Speed,
			Semantic:     b.Semantic(),
			Motion:       b.LastMotion(),
			Turtles:      p.Turtles,
			Objects:      p.Objects,
			Picked:       p.Picked,
		})
	}
	return events
}

func (e *Environment) runEndogenousLocked(r clock.Reading) (Resolution, error) {
	if len(e.endogenous) == 0 {
		return newResolution(), nil
	}
	view := lockedView{e}
	var infl []Influence
	for _, p := range e.endogenous {
		infl = append(infl, p.Influences(view, r.Now, r.LastStepDuration)...)
	}
	sub := substrate{e}
	return e.resolver.ApplyEndogenous(infl, sub, sub)
}

func (e *Environment) sortedBodiesLocked() []*TurtleBody {
	ids := make([]uuid.UUID, 0, len(e.bodies))
	for id := range e.bodies {
		ids = append(ids, id)
	}
	spatial.SortIDs(ids)
	out := make([]*TurtleBody, len(ids))
	for i, id := range ids {
		out[i] = e.bodies[id]
	}
	return out
}

func (e *Environment) sortedObjectsLocked() []Object {
	ids := make([]uuid.UUID, 0, len(e.objects))
	for id := range e.objects {
		ids = append(ids, id)
	}
	spatial.SortIDs(ids)
	out := make([]Object, len(ids))
	for i, id := range ids {
		out[i] = *e.objects[id]
	}
	return out
}

// lockedView serves WorldView while the coordinator holds e.mu.
type lockedView struct{ e *Environment }

func (v lockedView) Bounds() Bounds    { return v.e.bounds }
func (v lockedView) Objects() []Object { return v.e.sortedObjectsLocked() }

func (v lockedView) Bodies() []BodyView {
	bodies := v.e.sortedBodiesLocked()
	out := make([]BodyView, len(bodies))
	for i, b := range bodies {
		out[i] = BodyView{Body: b, Pose: b.Pose(), Semantic: b.Semantic()}
	}
	return out
}

// hookList is a copy-on-read list of callbacks.
type hookList[T any] struct {
	mu    sync.Mutex
	next  int
	items []hookItem[T]
}

type hookItem[T any] struct {
	id int
	v  T
}

func (h *hookList[T]) add(v T) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	h.items = append(h.items, hookItem[T]{id: id, v: v})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, it := range h.items {
			if it.id == id {
				h.items = append(h.items[:i:i], h.items[i+1:]...)
				return
			}
		}
	}
}

func (h *hookList[T]) snapshot() []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]T, len(h.items))
	for i, it := range h.items {
		out[i] = it.v
	}
	return out
}
