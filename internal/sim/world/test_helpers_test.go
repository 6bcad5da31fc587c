package world

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
)

func newTestEnv(t *testing.T, cfg Config) *Environment {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new environment: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func testID(n byte) uuid.UUID {
	var id uuid.UUID
	id[15] = n
	return id
}

func placeBody(t *testing.T, e *Environment, id uuid.UUID, x, y float64) *TurtleBody {
	t.Helper()
	pos := geom.Pt(x, y)
	heading := 0.0
	b, err := e.CreateBody(BodySpec{ID: id, Position: &pos, Heading: &heading})
	if err != nil {
		t.Fatalf("create body at (%g,%g): %v", x, y, err)
	}
	return b
}

func placeObject(t *testing.T, e *Environment, kind ObjectKind, x, y float64) Object {
	t.Helper()
	o, err := e.AddObject(Object{Kind: kind, Position: geom.Pt(x, y)})
	if err != nil {
		t.Fatalf("add %s at (%g,%g): %v", kind, x, y, err)
	}
	return o
}

// driver acts for bodies synchronously from inside Publish. Bodies without an
// action still report unless listed in silent.
type driver struct {
	mu      sync.Mutex
	actions map[uuid.UUID]func(b *TurtleBody)
	silent  map[uuid.UUID]bool
	events  []PerceptionEvent
}

func drive(e *Environment) *driver {
	d := &driver{actions: map[uuid.UUID]func(*TurtleBody){}, silent: map[uuid.UUID]bool{}}
	e.AddPublisher(PublisherFunc(func(ev PerceptionEvent) {
		d.mu.Lock()
		d.events = append(d.events, ev)
		act := d.actions[ev.ObserverID]
		delete(d.actions, ev.ObserverID)
		silent := d.silent[ev.ObserverID]
		d.mu.Unlock()

		b, ok := e.Body(ev.ObserverID)
		if !ok || silent {
			return
		}
		if act != nil {
			act(b)
		}
		b.Synchronize()
	}))
	return d
}

// next sets the action of b for the next step only.
func (d *driver) next(b *TurtleBody, act func(b *TurtleBody)) {
	d.mu.Lock()
	d.actions[b.ID()] = act
	d.mu.Unlock()
}

func (d *driver) mute(b *TurtleBody) {
	d.mu.Lock()
	d.silent[b.ID()] = true
	d.mu.Unlock()
}

func (d *driver) unmute(b *TurtleBody) {
	d.mu.Lock()
	delete(d.silent, b.ID())
	d.mu.Unlock()
}

func (d *driver) eventsFor(id uuid.UUID) []PerceptionEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []PerceptionEvent
	for _, ev := range d.events {
		if ev.ObserverID == id {
			out = append(out, ev)
		}
	}
	return out
}

func mustStep(t *testing.T, e *Environment) StepLogEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry, err := e.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	return entry
}

func assertAt(t *testing.T, b *TurtleBody, x, y float64) {
	t.Helper()
	if got := b.Position(); got != geom.Pt(x, y) {
		t.Fatalf("body %s at (%g,%g), want (%g,%g)", b.ID(), got.X, got.Y, x, y)
	}
}

func assertMotion(t *testing.T, b *TurtleBody, status MotionStatus, boundary Boundary) {
	t.Helper()
	got := b.LastMotion()
	if got.Status != status || got.Boundary != boundary {
		t.Fatalf("body %s motion = %s/%s, want %s/%s", b.ID(), got.Status, got.Boundary, status, boundary)
	}
}
