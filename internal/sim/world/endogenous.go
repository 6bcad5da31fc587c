package world

// WorldView is the read-only state endogenous processes see. Slices are
// copies in id order.
type WorldView interface {
	Bounds() Bounds
	Objects() []Object
	Bodies() []BodyView
}

// BodyView is a read-only copy of a body's state.
type BodyView struct {
	Body     *TurtleBody
	Pose     Pose
	Semantic any
}

// EndogenousProcess produces influences of the environment itself, such as
// decay. It runs once per step during ENDOGENOUS, after physics.
type EndogenousProcess interface {
	Name() string
	Influences(view WorldView, now, dt float64) []Influence
}

// Decay removes objects of Kind whose expiry time has passed.
type Decay struct {
	Kind ObjectKind
}

func (d Decay) Name() string { return "decay:" + string(d.Kind) }

func (d Decay) Influences(view WorldView, now, _ float64) []Influence {
	var out []Influence
	for _, o := range view.Objects() {
		if o.Kind == d.Kind && o.ExpiresAt > 0 && o.ExpiresAt <= now {
			out = append(out, Removal{ObjectID: o.ID})
		}
	}
	return out
}
