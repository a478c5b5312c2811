// Package geom holds the label shapes: axis-aligned boxes and polygons in
// image pixel coordinates.
package geom

import (
	"errors"
	"fmt"
	"math"
)

var ErrDegenerate = errors.New("degenerate shape")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned rectangle with X1 < X2 and Y1 < Y2.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BoxFromXYWH builds a box from its top-left corner and size, as COCO stores it.
func BoxFromXYWH(x, y, w, h float64) Box {
	return Box{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

// BoxFromCenter builds a box from its center and size, as YOLO stores it.
func BoxFromCenter(cx, cy, w, h float64) Box {
	return Box{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Empty is true if the box has no positive area
func (b Box) Empty() bool {
	return !(b.X1 < b.X2 && b.Y1 < b.Y2)
}

func (b Box) Validate() error {
	if !finite(b.X1) || !finite(b.Y1) || !finite(b.X2) || !finite(b.Y2) {
		return fmt.Errorf("box has non-finite coordinates: %w", ErrDegenerate)
	}
	if b.Empty() {
		return fmt.Errorf("box (%v,%v)-(%v,%v) has no area: %w", b.X1, b.Y1, b.X2, b.Y2, ErrDegenerate)
	}
	return nil
}

func (b Box) Intersection(c Box) Box {
	x1 := max(b.X1, c.X1)
	y1 := max(b.Y1, c.Y1)
	x2 := min(b.X2, c.X2)
	y2 := min(b.Y2, c.Y2)
	return Box{
		X1: x1,
		Y1: y1,
		X2: max(x1, x2),
		Y2: max(y1, y2),
	}
}

// Intersection over Union
func (b Box) IOU(c Box) float64 {
	inter := b.Intersection(c).Area()
	union := b.Area() + c.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func (b Box) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Contains is true if c lies entirely within b
func (b Box) Contains(c Box) bool {
	return c.X1 >= b.X1 && c.Y1 >= b.Y1 && c.X2 <= b.X2 && c.Y2 <= b.Y2
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
