// Package spatial indexes bodies and objects of the 2D world by position.
package spatial

import (
	"bytes"
	"errors"
	"sort"

	"github.com/google/uuid"

	"turtleworld.ai/internal/sim/geom"
)

var (
	ErrOutOfBounds = errors.New("spatial: position outside index bounds")
	ErrDuplicate   = errors.New("spatial: id already indexed")
	ErrNotIndexed  = errors.New("spatial: id not indexed")
)

const (
	// DefaultSplitThreshold is the leaf occupancy above which a leaf splits
	// into four quadrants.
	DefaultSplitThreshold = 100

	// Bounds the recursion when many ids share (almost) the same position.
	maxDepth = 24

	noChildren int32 = -1
)

type entry struct {
	id  uuid.UUID
	pos geom.Point
}

// node lives in QuadTree.nodes; children are always allocated as four
// consecutive slots starting at first (NW, NE, SW, SE).
type node struct {
	bounds geom.Rect
	parent int32
	first  int32
	depth  int
	items  []entry
}

func (n *node) leaf() bool { return n.first == noChildren }

// QuadTree is an arena-allocated region quadtree over [0,w)x[0,h).
//
// Split nodes keep no occupants of their own, and an id lives in exactly one
// leaf. QuadTree is not safe for concurrent use; the environment owns it.
type QuadTree struct {
	bounds    geom.Rect
	threshold int

	nodes  []node
	free   []int32
	leafOf map[uuid.UUID]int32
}

func New(width, height float64, splitThreshold int) *QuadTree {
	if splitThreshold <= 0 {
		splitThreshold = DefaultSplitThreshold
	}
	b := geom.Rect{MinX: 0, MinY: 0, MaxX: width, MaxY: height}
	return &QuadTree{
		bounds:    b,
		threshold: splitThreshold,
		nodes:     []node{{bounds: b, parent: -1, first: noChildren}},
		leafOf:    map[uuid.UUID]int32{},
	}
}

func (q *QuadTree) Bounds() geom.Rect { return q.bounds }

func (q *QuadTree) Len() int { return len(q.leafOf) }

// Nodes reports the number of live nodes (recycled slots excluded).
func (q *QuadTree) Nodes() int { return len(q.nodes) - 4*len(q.free) }

func (q *QuadTree) inBounds(p geom.Point) bool {
	return p.X >= q.bounds.MinX && p.X < q.bounds.MaxX && p.Y >= q.bounds.MinY && p.Y < q.bounds.MaxY
}

func (q *QuadTree) Insert(id uuid.UUID, p geom.Point) error {
	if !q.inBounds(p) {
		return ErrOutOfBounds
	}
	if _, ok := q.leafOf[id]; ok {
		return ErrDuplicate
	}
	q.insertAt(q.leafFor(p), entry{id: id, pos: p})
	return nil
}

func (q *QuadTree) Remove(id uuid.UUID) bool {
	ni, ok := q.leafOf[id]
	if !ok {
		return false
	}
	q.removeFrom(ni, id)
	delete(q.leafOf, id)
	q.collapse(q.nodes[ni].parent)
	return true
}

// Reposition moves an indexed id. Moves that stay inside the same leaf are
// updated in place.
func (q *QuadTree) Reposition(id uuid.UUID, p geom.Point) error {
	if !q.inBounds(p) {
		return ErrOutOfBounds
	}
	ni, ok := q.leafOf[id]
	if !ok {
		return ErrNotIndexed
	}
	if q.leafFor(p) == ni {
		items := q.nodes[ni].items
		for i := range items {
			if items[i].id == id {
				items[i].pos = p
				return nil
			}
		}
	}
	q.Remove(id)
	q.insertAt(q.leafFor(p), entry{id: id, pos: p})
	return nil
}

func (q *QuadTree) Position(id uuid.UUID) (geom.Point, bool) {
	ni, ok := q.leafOf[id]
	if !ok {
		return geom.Point{}, false
	}
	for _, e := range q.nodes[ni].items {
		if e.id == id {
			return e.pos, true
		}
	}
	return geom.Point{}, false
}

// QueryRect returns the ids inside the closed rectangle r, sorted by id.
// A rectangle entirely outside the indexed area yields an empty result.
func (q *QuadTree) QueryRect(r geom.Rect) []uuid.UUID {
	if !r.Intersects(q.bounds) {
		return nil
	}
	var out []uuid.UUID
	stack := []int32{0}
	for len(stack) > 0 {
		ni := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &q.nodes[ni]
		if n.leaf() {
			for _, e := range n.items {
				if r.Contains(e.pos) {
					out = append(out, e.id)
				}
			}
			continue
		}
		for c := n.first; c < n.first+4; c++ {
			if q.nodes[c].bounds.Intersects(r) {
				stack = append(stack, c)
			}
		}
	}
	SortIDs(out)
	return out
}

// QueryRadius returns the ids whose Euclidean distance to c is at most radius.
func (q *QuadTree) QueryRadius(c geom.Point, radius float64) []uuid.UUID {
	if radius < 0 {
		return nil
	}
	cands := q.QueryRect(geom.RectAround(c, radius))
	out := cands[:0]
	for _, id := range cands {
		p, _ := q.Position(id)
		if p.Dist(c) <= radius {
			out = append(out, id)
		}
	}
	return out
}

// At returns the ids located exactly at p.
func (q *QuadTree) At(p geom.Point) []uuid.UUID {
	return q.QueryRect(geom.Rect{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y})
}

func (q *QuadTree) leafFor(p geom.Point) int32 {
	ni := int32(0)
	for !q.nodes[ni].leaf() {
		ni = q.childFor(ni, p)
	}
	return ni
}

func (q *QuadTree) childFor(ni int32, p geom.Point) int32 {
	n := &q.nodes[ni]
	mid := n.bounds.Center()
	idx := int32(0)
	if p.X >= mid.X {
		idx |= 1
	}
	if p.Y >= mid.Y {
		idx |= 2
	}
	return n.first + idx
}

func (q *QuadTree) insertAt(ni int32, e entry) {
	q.nodes[ni].items = append(q.nodes[ni].items, e)
	q.leafOf[e.id] = ni
	if len(q.nodes[ni].items) > q.threshold && q.nodes[ni].depth < maxDepth {
		q.split(ni)
	}
}

func (q *QuadTree) split(ni int32) {
	b := q.nodes[ni].bounds
	mid := b.Center()
	quads := [4]geom.Rect{
		{MinX: b.MinX, MinY: b.MinY, MaxX: mid.X, MaxY: mid.Y},
		{MinX: mid.X, MinY: b.MinY, MaxX: b.MaxX, MaxY: mid.Y},
		{MinX: b.MinX, MinY: mid.Y, MaxX: mid.X, MaxY: b.MaxY},
		{MinX: mid.X, MinY: mid.Y, MaxX: b.MaxX, MaxY: b.MaxY},
	}
	first := q.alloc4(ni, q.nodes[ni].depth+1, quads)

	items := q.nodes[ni].items
	q.nodes[ni].items = nil
	q.nodes[ni].first = first
	for _, e := range items {
		c := q.childFor(ni, e.pos)
		q.nodes[c].items = append(q.nodes[c].items, e)
		q.leafOf[e.id] = c
	}
	for c := first; c < first+4; c++ {
		if len(q.nodes[c].items) > q.threshold && q.nodes[c].depth < maxDepth {
			q.split(c)
		}
	}
}

func (q *QuadTree) alloc4(parent int32, depth int, quads [4]geom.Rect) int32 {
	var first int32
	if n := len(q.free); n > 0 {
		first = q.free[n-1]
		q.free = q.free[:n-1]
	} else {
		first = int32(len(q.nodes))
		q.nodes = append(q.nodes, node{}, node{}, node{}, node{})
	}
	for i := int32(0); i < 4; i++ {
		q.nodes[first+i] = node{bounds: quads[i], parent: parent, first: noChildren, depth: depth}
	}
	return first
}

func (q *QuadTree) removeFrom(ni int32, id uuid.UUID) {
	items := q.nodes[ni].items
	for i := range items {
		if items[i].id == id {
			copy(items[i:], items[i+1:])
			q.nodes[ni].items = items[:len(items)-1]
			return
		}
	}
}

// collapse merges four leaf children back into their parent once their
// combined occupancy drops to half the split threshold, walking upward.
func (q *QuadTree) collapse(pi int32) {
	for pi >= 0 {
		n := &q.nodes[pi]
		if n.leaf() {
			return
		}
		total := 0
		for c := n.first; c < n.first+4; c++ {
			if !q.nodes[c].leaf() {
				return
			}
			total += len(q.nodes[c].items)
		}
		if total > q.threshold/2 {
			return
		}
		merged := make([]entry, 0, total)
		for c := n.first; c < n.first+4; c++ {
			merged = append(merged, q.nodes[c].items...)
			q.nodes[c].items = nil
		}
		for _, e := range merged {
			q.leafOf[e.id] = pi
		}
		q.free = append(q.free, n.first)
		n.first = noChildren
		n.items = merged
		pi = n.parent
	}
}

// SortIDs orders ids by their byte representation, the canonical order used
// wherever iteration must be deterministic.
func SortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}
