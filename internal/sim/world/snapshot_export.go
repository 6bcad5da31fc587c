package world

import (
	"encoding/json"

	"turtleworld.ai/internal/persistence/snapshot"
	"turtleworld.ai/internal/sim/frustum"
)

// ExportSnapshot captures the world between two steps. Semantic values are
// stored as JSON; values that do not marshal are dropped.
func (e *Environment) ExportSnapshot(worldID string) snapshot.SnapshotV1 {
	r := e.clock.Read()
	e.mu.Lock()
	defer e.mu.Unlock()

	s := snapshot.SnapshotV1{
		Header:            snapshot.Header{Version: snapshot.Version, WorldID: worldID, Step: r.Step},
		Seed:              e.cfg.Seed,
		Width:             e.bounds.Width,
		Height:            e.bounds.Height,
		Wrap:              e.bounds.Wrap,
		DiscardOutOfRange: e.bounds.Discard,
		SharedCells:       e.cfg.SharedCells,
		Time:              r.Now,
		StepDuration:      r.LastStepDuration,
	}
	for _, b := range e.sortedBodiesLocked() {
		pose := b.Pose()
		bs := snapshot.BodyV1{
			ID:         b.id.String(),
			Pos:        [2]float64{pose.Position.X, pose.Position.Y},
			Heading:    pose.Heading,
			Speed:      pose.Speed,
			Velocity:   [2]float64{pose.Velocity.X, pose.Velocity.Y},
			Semantic:   marshalSemantic(b.Semantic()),
			Perception: b.PerceptionEnabled(),
		}
		if b.frustum != nil {
			bs.Frustum = string(b.frustum.Kind())
			bs.FrustumExtent = frustum.Extent(b.frustum)
		}
		s.Bodies = append(s.Bodies, bs)
	}
	for _, o := range e.sortedObjectsLocked() {
		s.Objects = append(s.Objects, snapshot.ObjectV1{
			ID:        o.ID.String(),
			Kind:      string(o.Kind),
			Pos:       [2]float64{o.Position.X, o.Position.Y},
			Semantic:  marshalSemantic(o.Semantic),
			ExpiresAt: o.ExpiresAt,
		})
	}
	return s
}

func marshalSemantic(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
