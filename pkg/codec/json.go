package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/geom"
)

// JSON is the pixel-coordinate label format, one .json file next to each image
type JSON struct {
	opt Options
}

type jsonFile struct {
	Image  string      `json:"image,omitempty"`
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
	Labels []jsonLabel `json:"labels"`
}

// A label must name its class by id, by name, or both (in which case they must agree).
type jsonLabel struct {
	Type       string       `json:"type"`
	Box        *[4]float64  `json:"box,omitempty"`
	Points     [][2]float64 `json:"points,omitempty"`
	Class      *int         `json:"class,omitempty"`
	ClassName  string       `json:"className,omitempty"`
	Confidence *float32     `json:"confidence,omitempty"`
	Source     string       `json:"source,omitempty"`
}

func (c *JSON) Format() Format { return FormatJSON }

func (c *JSON) Decode(raw []byte, img ImageInfo, reg *classes.Registry) ([]annotation.Record, error) {
	f := jsonFile{}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, jsonSyntaxError(raw, err)
	}
	labels := make([]annotation.Record, 0, len(f.Labels))
	for i, jl := range f.Labels {
		field := func(name string) string { return fmt.Sprintf("labels[%d].%v", i, name) }
		rec := annotation.Record{}

		switch jl.Type {
		case "box":
			if jl.Box == nil {
				return nil, formatErrorf(0, field("box"), "box label has no box")
			}
			rec.Shape = geom.BoxShape(geom.Box{X1: jl.Box[0], Y1: jl.Box[1], X2: jl.Box[2], Y2: jl.Box[3]})
		case "polygon":
			poly := make(geom.Polygon, len(jl.Points))
			for j, p := range jl.Points {
				poly[j] = geom.Point{X: p[0], Y: p[1]}
			}
			rec.Shape = geom.PolygonShape(poly)
		default:
			return nil, formatErrorf(0, field("type"), "unknown shape type '%v'", jl.Type)
		}
		if err := rec.Shape.Validate(); err != nil {
			return nil, formatErrorf(0, field(jl.Type), "%v", err)
		}
		if img.HasSize() && !imageBounds(img).Contains(rec.Shape.Bounds()) {
			return nil, formatErrorf(0, field(jl.Type), "shape extends outside the %vx%v image", img.Width, img.Height)
		}

		var err error
		switch {
		case jl.Class != nil:
			rec.ClassID, err = c.opt.classByID(reg, *jl.Class, jl.ClassName)
		case jl.ClassName != "":
			rec.ClassID, err = c.opt.classByName(reg, jl.ClassName)
		default:
			return nil, formatErrorf(0, field("class"), "label has no class")
		}
		if err != nil {
			return nil, classError(err, 0, field("class"))
		}

		if err := rec.Source.UnmarshalText([]byte(jl.Source)); err != nil {
			return nil, formatErrorf(0, field("source"), "%v", err)
		}
		if jl.Source == "" && jl.Confidence != nil {
			rec.Source = annotation.SourcePredicted
		}
		rec.Confidence = jl.Confidence
		if err := rec.Validate(nil); err != nil {
			return nil, formatErrorf(0, field("confidence"), "%v", err)
		}
		labels = append(labels, rec)
	}
	return labels, nil
}

func (c *JSON) Encode(labels []annotation.Record, img ImageInfo, reg *classes.Registry) ([]byte, error) {
	f := jsonFile{
		Image:  img.FileName,
		Width:  img.Width,
		Height: img.Height,
		Labels: make([]jsonLabel, 0, len(labels)),
	}
	for i, r := range labels {
		cls, err := reg.Resolve(r.ClassID)
		if err != nil {
			return nil, fmt.Errorf("label %v: %w", i, err)
		}
		id := cls.ID
		jl := jsonLabel{
			Type:       r.Shape.Kind.String(),
			Class:      &id,
			ClassName:  cls.Name,
			Confidence: r.Confidence,
			Source:     r.Source.String(),
		}
		switch r.Shape.Kind {
		case geom.KindBox:
			b := r.Shape.Box
			jl.Box = &[4]float64{b.X1, b.Y1, b.X2, b.Y2}
		case geom.KindPolygon:
			jl.Points = make([][2]float64, len(r.Shape.Polygon))
			for j, p := range r.Shape.Polygon {
				jl.Points[j] = [2]float64{p.X, p.Y}
			}
		default:
			return nil, fmt.Errorf("label %v: unknown shape kind %v", i, r.Shape.Kind)
		}
		f.Labels = append(f.Labels, jl)
	}
	return json.MarshalIndent(&f, "", "\t")
}

func imageBounds(img ImageInfo) geom.Box {
	// A little slack, so that coordinates which went through float formatting still fit
	const eps = 1e-6
	return geom.Box{X1: -eps, Y1: -eps, X2: float64(img.Width) + eps, Y2: float64(img.Height) + eps}
}

// classError passes UnmappedClassError through, and turns anything else into a FormatError
func classError(err error, line int, field string) error {
	var ue *UnmappedClassError
	if errors.As(err, &ue) {
		return err
	}
	return formatErrorf(line, field, "%v", err)
}

// jsonSyntaxError converts a JSON decoding error into a FormatError, with a line number if we can find one
func jsonSyntaxError(raw []byte, err error) error {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syn):
		return formatErrorf(lineOf(raw, syn.Offset), "", "invalid JSON: %v", err)
	case errors.As(err, &typ):
		return formatErrorf(lineOf(raw, typ.Offset), typ.Field, "invalid JSON: %v", err)
	}
	return formatErrorf(0, "", "invalid JSON: %v", err)
}

func lineOf(raw []byte, offset int64) int {
	offset = min(max(offset, 0), int64(len(raw)))
	return bytes.Count(raw[:offset], []byte("\n")) + 1
}
