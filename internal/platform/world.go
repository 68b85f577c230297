package platform

import (
	"math"

	"github.com/paulmach/orb"
)

// Obstacle is a vertical cylinder in the arena.
type Obstacle struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Radius float64 `yaml:"radius"`
}

// World is a rectangular arena with circular obstacles.
type World struct {
	Bound     orb.Bound
	Obstacles []Obstacle
}

// NewWorld creates an arena spanning [0,width] x [0,height].
func NewWorld(width, height float64, obstacles []Obstacle) *World {
	return &World{
		Bound:     orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{width, height}},
		Obstacles: obstacles,
	}
}

// Free reports whether a point is inside the arena and outside every obstacle.
func (w *World) Free(x, y float64) bool {
	if !w.Bound.Contains(orb.Point{x, y}) {
		return false
	}
	for _, o := range w.Obstacles {
		if math.Hypot(x-o.X, y-o.Y) <= o.Radius {
			return false
		}
	}
	return true
}

// Raycast returns the distance to the first surface along angle from
// (x,y), and false when nothing is hit within maxRange.
func (w *World) Raycast(x, y, angle, maxRange float64) (float64, bool) {
	dx, dy := math.Cos(angle), math.Sin(angle)
	best := math.Inf(1)

	if dx > 0 {
		best = math.Min(best, (w.Bound.Max[0]-x)/dx)
	} else if dx < 0 {
		best = math.Min(best, (w.Bound.Min[0]-x)/dx)
	}
	if dy > 0 {
		best = math.Min(best, (w.Bound.Max[1]-y)/dy)
	} else if dy < 0 {
		best = math.Min(best, (w.Bound.Min[1]-y)/dy)
	}

	for _, o := range w.Obstacles {
		fx, fy := x-o.X, y-o.Y
		b := fx*dx + fy*dy
		c := fx*fx + fy*fy - o.Radius*o.Radius
		disc := b*b - c
		if disc < 0 {
			continue
		}
		s := math.Sqrt(disc)
		t := -b - s
		if t < 0 {
			t = -b + s
		}
		if t >= 0 && t < best {
			best = t
		}
	}

	if best < 0 {
		best = 0
	}
	if best > maxRange {
		return maxRange, false
	}
	return best, true
}
