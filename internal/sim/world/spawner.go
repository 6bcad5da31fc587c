package world

import (
	"math"
	"math/rand"

	"turtleworld.ai/internal/sim/geom"
)

// DefaultSpawnRetries bounds how many candidate positions are sampled before
// a spawn fails.
const DefaultSpawnRetries = 10

// Spawner proposes where and facing which way a new body appears. The
// environment rounds the position to a cell and checks it is free.
type Spawner interface {
	SpawnPosition(b Bounds, desired *geom.Point, rng *rand.Rand) geom.Point
	Orientation(rng *rand.Rand) float64
}

// WorldSpawner samples uniformly over the whole world, or uses the desired
// position when one is given.
type WorldSpawner struct{}

func (WorldSpawner) SpawnPosition(b Bounds, desired *geom.Point, rng *rand.Rand) geom.Point {
	if desired != nil {
		return *desired
	}
	return geom.Pt(float64(rng.Intn(b.Width)), float64(rng.Intn(b.Height)))
}

func (WorldSpawner) Orientation(rng *rand.Rand) float64 { return randomHeading(rng) }

// AreaSpawner samples inside Area. A desired position inside Area wins.
type AreaSpawner struct {
	Area geom.Rect
}

func (s AreaSpawner) SpawnPosition(b Bounds, desired *geom.Point, rng *rand.Rand) geom.Point {
	if desired != nil && s.Area.Contains(*desired) {
		return *desired
	}
	a := s.Area
	minX, minY := math.Max(0, math.Ceil(a.MinX)), math.Max(0, math.Ceil(a.MinY))
	maxX, maxY := math.Min(float64(b.Width-1), math.Floor(a.MaxX)), math.Min(float64(b.Height-1), math.Floor(a.MaxY))
	if maxX < minX || maxY < minY {
		return a.Center()
	}
	x := minX + float64(rng.Intn(int(maxX-minX)+1))
	y := minY + float64(rng.Intn(int(maxY-minY)+1))
	return geom.Pt(x, y)
}

func (AreaSpawner) Orientation(rng *rand.Rand) float64 { return randomHeading(rng) }

// PointSpawner always spawns at Point. Heading, when set, replaces the
// random orientation.
type PointSpawner struct {
	Point   geom.Point
	Heading *float64
}

func (s PointSpawner) SpawnPosition(Bounds, *geom.Point, *rand.Rand) geom.Point { return s.Point }

func (s PointSpawner) Orientation(rng *rand.Rand) float64 {
	if s.Heading != nil {
		return geom.NormalizeAngle(*s.Heading)
	}
	return randomHeading(rng)
}

func randomHeading(rng *rand.Rand) float64 {
	return geom.NormalizeAngle(rng.Float64()*2*math.Pi - math.Pi)
}
