package world

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"turtleworld.ai/internal/persistence/snapshot"
	"turtleworld.ai/internal/sim/frustum"
	"turtleworld.ai/internal/sim/geom"
)

// ImportSnapshot replaces objects and the clock with the snapshot's. Bodies
// are restored only when withBodies is set; restored bodies are returned in
// id order so the caller can drive them.
//
// It must not be called while a step is running.
func (e *Environment) ImportSnapshot(s snapshot.SnapshotV1, withBodies bool) ([]*TurtleBody, error) {
	if s.Header.Version != snapshot.Version {
		return nil, fmt.Errorf("unsupported snapshot version: %d", s.Header.Version)
	}
	if s.Width != e.bounds.Width || s.Height != e.bounds.Height {
		return nil, fmt.Errorf("snapshot size mismatch: cfg=%dx%d snap=%dx%d", e.bounds.Width, e.bounds.Height, s.Width, s.Height)
	}

	objects := make([]Object, 0, len(s.Objects))
	for _, ov := range s.Objects {
		id, err := uuid.Parse(ov.ID)
		if err != nil {
			return nil, fmt.Errorf("object id %q: %w", ov.ID, err)
		}
		o := Object{
			ID:        id,
			Kind:      ObjectKind(ov.Kind),
			Position:  geom.Pt(ov.Pos[0], ov.Pos[1]),
			Semantic:  unmarshalSemantic(ov.Semantic),
			ExpiresAt: ov.ExpiresAt,
		}
		if !o.Kind.Valid() {
			return nil, fmt.Errorf("object %s: invalid kind %q", ov.ID, ov.Kind)
		}
		objects = append(objects, o)
	}
	var bodies []*TurtleBody
	if withBodies {
		for _, bs := range s.Bodies {
			id, err := uuid.Parse(bs.ID)
			if err != nil {
				return nil, fmt.Errorf("body id %q: %w", bs.ID, err)
			}
			var fr frustum.Frustum
			if bs.Frustum != "" {
				if fr, err = frustum.New(bs.Frustum, bs.FrustumExtent); err != nil {
					return nil, fmt.Errorf("body %s: %w", bs.ID, err)
				}
			}
			b := newBody(id, geom.Pt(bs.Pos[0], bs.Pos[1]), bs.Heading, unmarshalSemantic(bs.Semantic), fr, bs.Perception)
			b.pose.Speed = bs.Speed
			b.pose.Velocity = geom.V(bs.Velocity[0], bs.Velocity[1])
			bodies = append(bodies, b)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inStep {
		return nil, fmt.Errorf("import during step %d", e.clock.Step())
	}
	sub := substrate{e}
	for _, b := range e.sortedBodiesLocked() {
		sub.RemoveTurtle(b)
	}
	for _, o := range e.sortedObjectsLocked() {
		sub.RemoveObject(o)
	}
	e.pendingAdds, e.pendingRemoves, e.pendingObjects, e.pendingUnplace = nil, nil, nil, nil
	e.joined, e.left = nil, nil

	for _, o := range objects {
		if _, ok := sub.PutObject(o.Position, o); !ok {
			return nil, fmt.Errorf("restore object %s failed", o.ID)
		}
	}
	for _, b := range bodies {
		if err := e.attachLocked(b); err != nil {
			return nil, err
		}
	}
	e.clock.Restore(s.Header.Step, s.Time)
	// Reseed so that a resumed run draws the same ids from this step on.
	e.rng = rand.New(rand.NewSource(s.Seed ^ int64(s.Header.Step)))
	return bodies, nil
}

func unmarshalSemantic(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return v
}
