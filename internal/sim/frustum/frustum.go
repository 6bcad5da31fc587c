// Package frustum selects which indexed ids a body can perceive.
package frustum

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
	"turtleworld.ai/internal/sim/spatial"
)

// DefaultRadius is the perception distance given to bodies that do not ask
// for a specific frustum.
const DefaultRadius = 7

// Index is the read side of the spatial index a frustum queries.
type Index interface {
	QueryRect(r geom.Rect) []uuid.UUID
	Position(id uuid.UUID) (geom.Point, bool)
}

// Frustum returns the ids visible from pos. The observer is never part of the
// result and an empty result is not an error. Heading is passed for shapes that
// depend on it; the built-in shapes are axis aligned.
type Frustum interface {
	PerceivedIDs(observer uuid.UUID, pos geom.Point, heading float64, idx Index) []uuid.UUID
	Kind() Kind
}

type Kind string

const (
	KindSquare Kind = "square"
	KindCircle Kind = "circle"
	KindCross  Kind = "cross"
)

// Square perceives everything inside the box of half-extent Radius.
type Square struct{ Radius float64 }

func (f Square) Kind() Kind { return KindSquare }

func (f Square) PerceivedIDs(observer uuid.UUID, pos geom.Point, _ float64, idx Index) []uuid.UUID {
	return without(idx.QueryRect(geom.RectAround(pos, f.Radius)), observer)
}

// Circle perceives everything within Euclidean distance Radius.
type Circle struct{ Radius float64 }

func (f Circle) Kind() Kind { return KindCircle }

func (f Circle) PerceivedIDs(observer uuid.UUID, pos geom.Point, _ float64, idx Index) []uuid.UUID {
	cands := idx.QueryRect(geom.RectAround(pos, f.Radius))
	out := make([]uuid.UUID, 0, len(cands))
	for _, id := range cands {
		if id == observer {
			continue
		}
		p, ok := idx.Position(id)
		if !ok {
			continue
		}
		if p.Dist(pos) <= f.Radius {
			out = append(out, id)
		}
	}
	return out
}

// Cross perceives along the four axis-aligned rays leaving pos, each Length
// cells long.
type Cross struct{ Length float64 }

func (f Cross) Kind() Kind { return KindCross }

func (f Cross) PerceivedIDs(observer uuid.UUID, pos geom.Point, _ float64, idx Index) []uuid.UUID {
	l := f.Length
	if l < 1 {
		l = 1
	}
	horiz := idx.QueryRect(geom.Rect{MinX: pos.X - l, MinY: pos.Y, MaxX: pos.X + l, MaxY: pos.Y})
	vert := idx.QueryRect(geom.Rect{MinX: pos.X, MinY: pos.Y - l, MaxX: pos.X, MaxY: pos.Y + l})

	seen := make(map[uuid.UUID]struct{}, len(horiz)+len(vert))
	out := make([]uuid.UUID, 0, len(horiz)+len(vert))
	for _, ids := range [][]uuid.UUID{horiz, vert} {
		for _, id := range ids {
			if id == observer {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	spatial.SortIDs(out)
	return out
}

// New builds a frustum by kind name. An empty kind selects a square.
func New(kind string, radius float64) (Frustum, error) {
	if radius <= 0 {
		radius = DefaultRadius
	}
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case "", KindSquare:
		return Square{Radius: radius}, nil
	case KindCircle:
		return Circle{Radius: radius}, nil
	case KindCross:
		return Cross{Length: radius}, nil
	default:
		return nil, fmt.Errorf("unknown frustum kind %q", kind)
	}
}

// Default is the frustum bodies get when none is requested.
func Default() Frustum { return Square{Radius: DefaultRadius} }

// Extent reports the reach of f along either axis.
func Extent(f Frustum) float64 {
	switch v := f.(type) {
	case Square:
		return v.Radius
	case Circle:
		return v.Radius
	case Cross:
		return v.Length
	}
	return 0
}

func without(ids []uuid.UUID, observer uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, id := range ids {
		if id != observer {
			out = append(out, id)
		}
	}
	return out
}
