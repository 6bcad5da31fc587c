package world

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
)

type InfluenceKind string

const (
	InfluenceMotion   InfluenceKind = "motion"
	InfluencePickUp   InfluenceKind = "pick_up"
	InfluenceDropOff  InfluenceKind = "drop_off"
	InfluenceSemantic InfluenceKind = "semantic_change"
	InfluenceRemoval  InfluenceKind = "removal"
)

// Influence is a request to change the world, resolved at the end of a step.
// The set of influences is closed; see the resolver for their semantics.
type Influence interface {
	Kind() InfluenceKind
	isInfluence()
}

// Motion accumulates the movement a body asked for during one step.
// Linear and Angular add up across calls. HeadingSet marks an absolute
// heading, which overrides earlier turns of the same step.
type Motion struct {
	Linear     geom.Vec2 `json:"linear"`
	Angular    float64   `json:"angular,omitempty"`
	HeadingSet bool      `json:"heading_set,omitempty"`
	Heading    float64   `json:"heading,omitempty"`
}

func (Motion) Kind() InfluenceKind { return InfluenceMotion }
func (Motion) isInfluence()        {}

func (m Motion) coalesce(o Motion) Motion {
	m.Linear = m.Linear.Add(o.Linear)
	if o.HeadingSet {
		m.HeadingSet = true
		m.Heading = o.Heading
		m.Angular = o.Angular
	} else {
		m.Angular += o.Angular
	}
	return m
}

// heading returns the heading a body at current ends up with.
func (m Motion) heading(current float64) float64 {
	h := current
	if m.HeadingSet {
		h = m.Heading
	}
	return geom.NormalizeAngle(h + m.Angular)
}

type PickUp struct {
	ObjectID   uuid.UUID  `json:"object_id"`
	ObjectKind ObjectKind `json:"object_kind,omitempty"`
}

func (PickUp) Kind() InfluenceKind { return InfluencePickUp }
func (PickUp) isInfluence()        {}

// DropOff places Object at the emitter's position. Endogenous drop-offs use
// Object.Position as given.
type DropOff struct {
	Object Object `json:"object"`
}

func (DropOff) Kind() InfluenceKind { return InfluenceDropOff }
func (DropOff) isInfluence()        {}

type SemanticChange struct {
	Semantic any `json:"semantic"`
}

func (SemanticChange) Kind() InfluenceKind { return InfluenceSemantic }
func (SemanticChange) isInfluence()        {}

type Removal struct {
	ObjectID uuid.UUID `json:"object_id"`
}

func (Removal) Kind() InfluenceKind { return InfluenceRemoval }
func (Removal) isInfluence()        {}

// InfluenceRecord is the step-log form of a resolved influence.
type InfluenceRecord struct {
	BodyID    string        `json:"body_id,omitempty"`
	Kind      InfluenceKind `json:"kind"`
	Influence Influence     `json:"influence"`
}

// UnmarshalJSON restores the concrete influence from its kind.
func (r *InfluenceRecord) UnmarshalJSON(b []byte) error {
	var raw struct {
		BodyID    string          `json:"body_id"`
		Kind      InfluenceKind   `json:"kind"`
		Influence json.RawMessage `json:"influence"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	in, err := decodeInfluence(raw.Kind, raw.Influence)
	if err != nil {
		return err
	}
	*r = InfluenceRecord{BodyID: raw.BodyID, Kind: raw.Kind, Influence: in}
	return nil
}

func decodeInfluence(kind InfluenceKind, b json.RawMessage) (Influence, error) {
	var err error
	switch kind {
	case InfluenceMotion:
		var v Motion
		err = json.Unmarshal(b, &v)
		return v, err
	case InfluencePickUp:
		var v PickUp
		err = json.Unmarshal(b, &v)
		return v, err
	case InfluenceDropOff:
		var v DropOff
		err = json.Unmarshal(b, &v)
		return v, err
	case InfluenceSemantic:
		var v SemanticChange
		err = json.Unmarshal(b, &v)
		return v, err
	case InfluenceRemoval:
		var v Removal
		err = json.Unmarshal(b, &v)
		return v, err
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownInfluence, kind)
}
