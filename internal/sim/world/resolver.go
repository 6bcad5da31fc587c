package world

import (
	"bytes"
	"fmt"
	"sort"

	"turtleworld.ai/internal/sim/geom"
)

// Submission is what one body handed in for a step. Bodies that did not
// report are resolved with an empty submission.
type Submission struct {
	Body   *TurtleBody
	Motion *Motion
	Others []Influence
}

// Resolver turns a step's submissions into world changes. It is
// deterministic: bodies are handled in id order and influences of one body
// in submission order.
//
// Non-motion influences resolve first, against the positions the bodies
// perceived. Motions resolve second.
type Resolver struct {
	Bounds Bounds

	// SharedCells lets several bodies occupy one cell. When false, a cell
	// claimed by more than one body goes to the lowest id, and a body that
	// does not move keeps its cell.
	SharedCells bool
}

type Resolution struct {
	Records  []InfluenceRecord
	Counts   map[InfluenceKind]int
	Outcomes map[MotionResult]int
	Picked   int
}

func newResolution() Resolution {
	return Resolution{Counts: map[InfluenceKind]int{}, Outcomes: map[MotionResult]int{}}
}

func (r *Resolution) record(body string, in Influence) {
	r.Records = append(r.Records, InfluenceRecord{BodyID: body, Kind: in.Kind(), Influence: in})
	r.Counts[in.Kind()]++
}

type motionPlan struct {
	sub      *Submission
	origin   geom.Point
	raw      geom.Point
	dest     geom.Point
	heading  float64
	turned   float64
	boundary Boundary
}

func (p *motionPlan) moving() bool { return p.dest != p.origin }

// Resolve applies subs through app. An influence of unknown kind aborts the
// whole step before anything is applied.
func (r *Resolver) Resolve(step uint64, subs []Submission, stepDuration float64, app ActionApplier, occ OccupancyView) (Resolution, error) {
	res := newResolution()
	for _, s := range subs {
		for _, in := range s.Others {
			switch in.(type) {
			case PickUp, DropOff, SemanticChange, Removal:
			default:
				return res, fmt.Errorf("body %s: %w: %T", s.Body.id, ErrUnknownInfluence, in)
			}
		}
	}

	ordered := make([]*Submission, len(subs))
	for i := range subs {
		ordered[i] = &subs[i]
	}
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].Body.id[:], ordered[j].Body.id[:]) < 0
	})

	for _, s := range ordered {
		r.resolveOthers(step, s, app, occ, &res)
	}

	plans := make([]*motionPlan, 0, len(ordered))
	for _, s := range ordered {
		plans = append(plans, r.plan(s, occ))
	}
	if !r.SharedCells {
		settleConflicts(plans)
	}
	for _, p := range plans {
		r.applyMotion(p, stepDuration, app, &res)
	}
	return res, nil
}

func (r *Resolver) resolveOthers(step uint64, s *Submission, app ActionApplier, occ OccupancyView, res *Resolution) {
	b := s.Body
	pos := b.Position()
	for _, in := range s.Others {
		res.record(b.id.String(), in)
		switch v := in.(type) {
		case PickUp:
			obj, ok := occ.Object(v.ObjectID)
			if !ok || obj.Position != pos {
				continue
			}
			if got, ok := app.RemoveObject(obj); ok {
				b.addPicked(PickedObject{Object: got, Step: step})
				res.Picked++
			}
		case DropOff:
			app.PutObject(pos, v.Object)
		case SemanticChange:
			b.setSemantic(v.Semantic)
		case Removal:
			if obj, ok := occ.Object(v.ObjectID); ok {
				app.RemoveObject(obj)
			}
		}
	}
}

func (r *Resolver) plan(s *Submission, occ OccupancyView) *motionPlan {
	pose := s.Body.Pose()
	p := &motionPlan{
		sub:      s,
		origin:   pose.Position,
		raw:      pose.Position,
		dest:     pose.Position,
		heading:  pose.Heading,
		boundary: BoundaryNoChange,
	}
	if s.Motion == nil {
		return p
	}
	p.heading = s.Motion.heading(pose.Heading)
	p.turned = geom.NormalizeAngle(p.heading - pose.Heading)
	p.raw = pose.Position.Add(s.Motion.Linear).Round()

	dest, bnd := Validate(r.Bounds, p.raw)
	p.boundary = bnd
	if bnd == BoundaryDiscarded || dest == p.origin {
		return p
	}
	if occ.Blocked(dest) {
		return p
	}
	p.dest = dest
	return p
}

// settleConflicts reverts motions until no two bodies end on the same cell.
// plans must be in id order. Each pass only turns movers into stationary
// bodies, so the loop terminates.
func settleConflicts(plans []*motionPlan) {
	for {
		owner := make(map[geom.Point]*motionPlan, len(plans))
		changed := false
		for _, p := range plans {
			o, taken := owner[p.dest]
			if !taken {
				owner[p.dest] = p
				continue
			}
			switch {
			case p.moving():
				p.dest = p.origin
				changed = true
			case o.moving():
				o.dest = o.origin
				owner[p.dest] = p
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func (r *Resolver) applyMotion(p *motionPlan, stepDuration float64, app ActionApplier, res *Resolution) {
	b := p.sub.Body
	moved := false
	if p.moving() {
		if app.PutTurtle(b, p.dest) {
			moved = true
		} else {
			p.dest = p.origin
		}
	}

	var d geom.Vec2
	if moved {
		d = p.dest.Sub(p.origin)
		if p.boundary == BoundaryWrapped {
			d = p.raw.Sub(p.origin)
		}
	}
	st := PhysicalState{Position: p.dest, Heading: p.heading}
	if stepDuration > 0 {
		st.Velocity = d.Scale(1 / stepDuration)
		st.Speed = d.Len() / stepDuration
		st.AngularVelocity = p.turned / stepDuration
	}
	app.SetPhysicalState(b, st)

	status := MotionNone
	if moved {
		status = MotionSuccess
	}
	out := MotionResult{Status: status, Boundary: p.boundary}
	b.setMotionResult(out)
	res.Outcomes[out]++
	if p.sub.Motion != nil {
		res.record(b.id.String(), *p.sub.Motion)
	}
}

// ApplyEndogenous resolves influences produced by the environment itself.
// Only removals and drop-offs are meaningful without an emitting body.
func (r *Resolver) ApplyEndogenous(infl []Influence, app ActionApplier, occ OccupancyView) (Resolution, error) {
	res := newResolution()
	for _, in := range infl {
		switch in.(type) {
		case Removal, DropOff:
		case Motion, PickUp, SemanticChange:
			return res, fmt.Errorf("endogenous %s: %w", in.Kind(), ErrNoEmitter)
		default:
			return res, fmt.Errorf("endogenous: %w: %T", ErrUnknownInfluence, in)
		}
	}
	for _, in := range infl {
		res.record("", in)
		switch v := in.(type) {
		case Removal:
			if obj, ok := occ.Object(v.ObjectID); ok {
				app.RemoveObject(obj)
			}
		case DropOff:
			pos, bnd := Validate(r.Bounds, v.Object.Position.Round())
			if bnd == BoundaryDiscarded {
				continue
			}
			app.PutObject(pos, v.Object)
		}
	}
	return res, nil
}
