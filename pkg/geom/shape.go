package geom

import (
	"encoding/json"
	"fmt"
)

// Kind tags the variant held by a Shape
type Kind int

const (
	KindBox Kind = iota
	KindPolygon
)

func (k Kind) String() string {
	switch k {
	case KindBox:
		return "box"
	case KindPolygon:
		return "polygon"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindBox, KindPolygon:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("unknown shape kind %d", int(k))
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "box":
		*k = KindBox
	case "polygon":
		*k = KindPolygon
	default:
		return fmt.Errorf("unknown shape kind '%v'", string(b))
	}
	return nil
}

// Shape is either a Box or a Polygon, selected by Kind.
// Only the field matching Kind is meaningful.
type Shape struct {
	Kind    Kind
	Box     Box
	Polygon Polygon
}

func BoxShape(b Box) Shape {
	return Shape{Kind: KindBox, Box: b}
}

func PolygonShape(p Polygon) Shape {
	return Shape{Kind: KindPolygon, Polygon: p}
}

func (s Shape) Validate() error {
	switch s.Kind {
	case KindBox:
		return s.Box.Validate()
	case KindPolygon:
		return s.Polygon.Validate()
	}
	return fmt.Errorf("unknown shape kind %d", int(s.Kind))
}

// Bounds returns the axis-aligned extent of the shape
func (s Shape) Bounds() Box {
	if s.Kind == KindPolygon {
		return s.Polygon.Bounds()
	}
	return s.Box
}

func (s Shape) Area() float64 {
	if s.Kind == KindPolygon {
		return s.Polygon.Area()
	}
	return s.Box.Area()
}

// Clone returns a deep copy. Polygon vertices are not shared.
func (s Shape) Clone() Shape {
	c := s
	c.Polygon = s.Polygon.Clone()
	return c
}

// Clip confines the shape to the given bounds (usually the image rectangle).
func (s Shape) Clip(bounds Box) Shape {
	switch s.Kind {
	case KindBox:
		return BoxShape(s.Box.Intersection(bounds))
	case KindPolygon:
		return PolygonShape(s.Polygon.Clip(bounds))
	}
	return s
}

// Equal compares shapes exactly. Fields outside the active variant are ignored.
func (s Shape) Equal(o Shape) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case KindBox:
		return s.Box == o.Box
	case KindPolygon:
		if len(s.Polygon) != len(o.Polygon) {
			return false
		}
		for i := range s.Polygon {
			if s.Polygon[i] != o.Polygon[i] {
				return false
			}
		}
		return true
	}
	return false
}

type shapeJSON struct {
	Type   Kind         `json:"type"`
	Box    *[4]float64  `json:"box,omitempty"`
	Points [][2]float64 `json:"points,omitempty"`
}

// MarshalJSON writes {"type":"box","box":[x1,y1,x2,y2]} or {"type":"polygon","points":[[x,y],...]}
func (s Shape) MarshalJSON() ([]byte, error) {
	j := shapeJSON{Type: s.Kind}
	switch s.Kind {
	case KindBox:
		j.Box = &[4]float64{s.Box.X1, s.Box.Y1, s.Box.X2, s.Box.Y2}
	case KindPolygon:
		j.Points = make([][2]float64, len(s.Polygon))
		for i, p := range s.Polygon {
			j.Points[i] = [2]float64{p.X, p.Y}
		}
	default:
		return nil, fmt.Errorf("unknown shape kind %d", int(s.Kind))
	}
	return json.Marshal(&j)
}

func (s *Shape) UnmarshalJSON(b []byte) error {
	j := shapeJSON{}
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	switch j.Type {
	case KindBox:
		if j.Box == nil {
			return fmt.Errorf("box shape has no 'box' field")
		}
		*s = BoxShape(Box{X1: j.Box[0], Y1: j.Box[1], X2: j.Box[2], Y2: j.Box[3]})
	case KindPolygon:
		poly := make(Polygon, len(j.Points))
		for i, p := range j.Points {
			poly[i] = Point{X: p[0], Y: p[1]}
		}
		*s = PolygonShape(poly)
	}
	return nil
}
