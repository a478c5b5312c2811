package geom

import (
	"fmt"
	"math"

	"github.com/cyclopcam/labeler/pkg/gen"
)

// Polygon is a closed ring of vertices. The closing edge is implicit.
// Self-intersecting polygons are allowed.
type Polygon []Point

// Area returns the absolute shoelace area
func (p Polygon) Area() float64 {
	if len(p) < 3 {
		return 0
	}
	sum := 0.0
	for i := range p {
		j := (i + 1) % len(p)
		sum += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return math.Abs(sum) / 2
}

// Bounds returns the bounding box of the vertices
func (p Polygon) Bounds() Box {
	if len(p) == 0 {
		return Box{}
	}
	b := Box{X1: p[0].X, Y1: p[0].Y, X2: p[0].X, Y2: p[0].Y}
	for _, v := range p[1:] {
		b.X1 = min(b.X1, v.X)
		b.Y1 = min(b.Y1, v.Y)
		b.X2 = max(b.X2, v.X)
		b.Y2 = max(b.Y2, v.Y)
	}
	return b
}

func (p Polygon) Validate() error {
	if len(p) < 3 {
		return fmt.Errorf("polygon has %v vertices, need at least 3: %w", len(p), ErrDegenerate)
	}
	for i, v := range p {
		if !finite(v.X) || !finite(v.Y) {
			return fmt.Errorf("polygon vertex %v is not finite: %w", i, ErrDegenerate)
		}
	}
	if p.collinear() {
		return fmt.Errorf("polygon vertices are collinear: %w", ErrDegenerate)
	}
	return nil
}

// collinear is true if every vertex lies on one line. The shoelace area can't
// be used for this, because it cancels out on self-intersecting rings.
func (p Polygon) collinear() bool {
	a := p[0]
	for i := 1; i < len(p); i++ {
		for j := i + 1; j < len(p); j++ {
			b, c := p[i], p[j]
			if (b.X-a.X)*(c.Y-a.Y)-(b.Y-a.Y)*(c.X-a.X) != 0 {
				return false
			}
		}
	}
	return true
}

func (p Polygon) Clone() Polygon {
	if p == nil {
		return nil
	}
	c := make(Polygon, len(p))
	copy(c, p)
	return c
}

// Clip clamps every vertex into the box. The result may be degenerate.
func (p Polygon) Clip(b Box) Polygon {
	c := make(Polygon, len(p))
	for i, v := range p {
		c[i] = Point{X: gen.Clamp(v.X, b.X1, b.X2), Y: gen.Clamp(v.Y, b.Y1, b.Y2)}
	}
	return c
}

