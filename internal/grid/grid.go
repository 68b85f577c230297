// Package grid implements the occupancy map built by the Mapping thread.
//
// A Grid is owned and mutated by a single writer. Readers only ever see
// immutable Snapshots, which are what the shared control state hands out
// as its map handle.
package grid

import (
	"math"
)

// State classifies a cell.
type State int

const (
	Unknown State = iota
	Free
	Occupied
)

const (
	unknownCell = math.MinInt8
	hitStep     = 20
	missStep    = 6
	limit       = 100
	occupiedAt  = 20
	freeAt      = -5
)

// Beam is one range return expressed relative to the vehicle heading.
type Beam struct {
	Bearing  float64
	Distance float64
	Hit      bool // false when the beam reached max range without a return
}

// Cell addresses a grid cell.
type Cell struct {
	X, Y int
}

// Grid is a log-odds style occupancy grid centred on the start position.
type Grid struct {
	width, height int
	resolution    float64
	originX       float64
	originY       float64
	cells         []int8
	version       uint64
}

// New creates a width x height grid of resolution metres per cell with the
// world origin at its centre.
func New(width, height int, resolution float64) *Grid {
	g := &Grid{
		width:      width,
		height:     height,
		resolution: resolution,
		originX:    -float64(width) * resolution / 2,
		originY:    -float64(height) * resolution / 2,
		cells:      make([]int8, width*height),
	}
	for i := range g.cells {
		g.cells[i] = unknownCell
	}
	return g
}

// WorldToCell maps world coordinates to a cell; ok is false outside the grid.
func (g *Grid) WorldToCell(x, y float64) (Cell, bool) {
	return worldToCell(g.originX, g.originY, g.resolution, g.width, g.height, x, y)
}

func worldToCell(ox, oy, res float64, w, h int, x, y float64) (Cell, bool) {
	cx := int(math.Floor((x - ox) / res))
	cy := int(math.Floor((y - oy) / res))
	if cx < 0 || cy < 0 || cx >= w || cy >= h {
		return Cell{cx, cy}, false
	}
	return Cell{cx, cy}, true
}

// Integrate fuses a scan taken at (x, y) with heading yaw. It returns the
// number of cells touched.
func (g *Grid) Integrate(x, y, yaw float64, beams []Beam) int {
	start, ok := g.WorldToCell(x, y)
	if !ok {
		return 0
	}
	touched := 0
	for _, b := range beams {
		if b.Distance <= 0 || math.IsNaN(b.Distance) || math.IsInf(b.Distance, 0) {
			continue
		}
		a := yaw + b.Bearing
		ex := x + b.Distance*math.Cos(a)
		ey := y + b.Distance*math.Sin(a)
		end, _ := g.WorldToCell(ex, ey)
		line(start, end, func(c Cell, last bool) bool {
			if !g.inside(c) {
				return false
			}
			if last && b.Hit {
				g.bump(c, hitStep)
			} else {
				g.bump(c, -missStep)
			}
			touched++
			return true
		})
	}
	if touched > 0 {
		g.version++
	}
	return touched
}

func (g *Grid) inside(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.width && c.Y < g.height
}

func (g *Grid) bump(c Cell, delta int) {
	i := c.Y*g.width + c.X
	v := int(g.cells[i])
	if v == unknownCell {
		v = 0
	}
	v += delta
	if v > limit {
		v = limit
	}
	if v < -limit {
		v = -limit
	}
	g.cells[i] = int8(v)
}

// line walks the Bresenham line from a to b inclusive. visit returns false
// to stop early.
func line(a, b Cell, visit func(c Cell, last bool) bool) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		last := x == b.X && y == b.Y
		if !visit(Cell{x, y}, last) || last {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Version increases every time an integration changes the grid.
func (g *Grid) Version() uint64 { return g.version }

// Snapshot copies the grid into an immutable view.
func (g *Grid) Snapshot() *Snapshot {
	return &Snapshot{
		Width:      g.width,
		Height:     g.height,
		Resolution: g.resolution,
		OriginX:    g.originX,
		OriginY:    g.originY,
		Version:    g.version,
		cells:      append([]int8(nil), g.cells...),
	}
}

// Snapshot is a read-only copy of a Grid, safe to share between goroutines.
type Snapshot struct {
	Width      int
	Height     int
	Resolution float64
	OriginX    float64
	OriginY    float64
	Version    uint64
	cells      []int8
}

// State returns the classification of cell c; cells outside are Unknown.
func (s *Snapshot) State(c Cell) State {
	if c.X < 0 || c.Y < 0 || c.X >= s.Width || c.Y >= s.Height {
		return Unknown
	}
	v := s.cells[c.Y*s.Width+c.X]
	switch {
	case v == unknownCell:
		return Unknown
	case v >= occupiedAt:
		return Occupied
	case v <= freeAt:
		return Free
	default:
		return Unknown
	}
}

// WorldToCell maps world coordinates to a cell of the snapshot.
func (s *Snapshot) WorldToCell(x, y float64) (Cell, bool) {
	return worldToCell(s.OriginX, s.OriginY, s.Resolution, s.Width, s.Height, x, y)
}

// CellCenter returns the world coordinates of the centre of c.
func (s *Snapshot) CellCenter(c Cell) (float64, float64) {
	return s.OriginX + (float64(c.X)+0.5)*s.Resolution, s.OriginY + (float64(c.Y)+0.5)*s.Resolution
}

// Frontiers returns free cells with at least one unknown 4-neighbour.
func (s *Snapshot) Frontiers() []Cell {
	var out []Cell
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			c := Cell{x, y}
			if s.State(c) != Free {
				continue
			}
			for _, n := range [4]Cell{{x + 1, y}, {x - 1, y}, {x, y + 1}, {x, y - 1}} {
				if n.X < 0 || n.Y < 0 || n.X >= s.Width || n.Y >= s.Height {
					continue
				}
				if s.State(n) == Unknown {
					out = append(out, c)
					break
				}
			}
		}
	}
	return out
}

// Explored returns the fraction of cells classified free or occupied.
func (s *Snapshot) Explored() float64 {
	if len(s.cells) == 0 {
		return 0
	}
	known := 0
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			if s.State(Cell{x, y}) != Unknown {
				known++
			}
		}
	}
	return float64(known) / float64(len(s.cells))
}

// PackBits encodes occupied cells one bit per cell, row major, LSB first.
// This is the compact form sent over the link.
func (s *Snapshot) PackBits() []byte {
	out := make([]byte, (len(s.cells)+7)/8)
	for i := range s.cells {
		v := s.cells[i]
		if v != unknownCell && v >= occupiedAt {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}
