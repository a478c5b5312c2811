package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/geom"
)

// YOLO is the Ultralytics text format. One line per label:
//
//	class cx cy w h [confidence]
//	class x1 y1 x2 y2 ... xn yn [confidence]
//
// Coordinates are normalized to [0,1] by the image size, so the image size is
// required in both directions. The class is the registry id.
type YOLO struct {
	opt Options
}

// Decimal places written for normalized coordinates
const yoloPrecision = 6

// Slack allowed on normalized coordinates, to absorb float formatting
const yoloEpsilon = 1e-6

// Longest line we'll read. Polygons with many thousands of vertices are legal.
const yoloMaxLine = 16 * 1024 * 1024

func (c *YOLO) Format() Format { return FormatYOLO }

// yoloInImage is true if b lies within a WxH image, allowing for the rounding of normalized coordinates
func yoloInImage(b geom.Box, W, H float64) bool {
	return b.X1/W >= -yoloEpsilon && b.Y1/H >= -yoloEpsilon && b.X2/W <= 1+yoloEpsilon && b.Y2/H <= 1+yoloEpsilon
}

func (c *YOLO) Decode(raw []byte, img ImageInfo, reg *classes.Registry) ([]annotation.Record, error) {
	if !img.HasSize() {
		return nil, fmt.Errorf("decoding YOLO labels of '%v': %w", img.FileName, ErrMissingContext)
	}
	W := float64(img.Width)
	H := float64(img.Height)

	labels := []annotation.Record{}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), yoloMaxLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		classIdx, err := strconv.Atoi(fields[0])
		if err != nil || classIdx < 0 {
			return nil, formatErrorf(lineNo, "class", "invalid class index '%v'", fields[0])
		}
		values := make([]float64, len(fields)-1)
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, formatErrorf(lineNo, fmt.Sprintf("value %d", i+1), "invalid number '%v'", s)
			}
			if v < -yoloEpsilon || v > 1+yoloEpsilon {
				return nil, formatErrorf(lineNo, fmt.Sprintf("value %d", i+1), "%v is outside [0,1]", s)
			}
			values[i] = v
		}

		n := len(values)
		var conf *float32
		if n == 5 || (n >= 7 && n%2 == 1) {
			cf := float32(values[n-1])
			conf = &cf
			values = values[:n-1]
			n--
		}

		rec := annotation.Record{Source: annotation.SourceManual}
		switch {
		case n == 4:
			cx, cy, w, h := values[0], values[1], values[2], values[3]
			rec.Shape = geom.BoxShape(geom.BoxFromCenter(cx*W, cy*H, w*W, h*H))
		case n >= 6:
			poly := make(geom.Polygon, n/2)
			for i := range poly {
				poly[i] = geom.Point{X: values[i*2] * W, Y: values[i*2+1] * H}
			}
			rec.Shape = geom.PolygonShape(poly)
		default:
			return nil, formatErrorf(lineNo, "", "expected 4 box values or at least 6 polygon values, but found %v", len(fields)-1)
		}
		if err := rec.Shape.Validate(); err != nil {
			return nil, formatErrorf(lineNo, rec.Shape.Kind.String(), "%v", err)
		}
		// Each value may be in range while the box corners are not
		if !yoloInImage(rec.Shape.Bounds(), W, H) {
			return nil, formatErrorf(lineNo, rec.Shape.Kind.String(), "shape extends outside the %vx%v image", img.Width, img.Height)
		}
		rec.Shape = rec.Shape.Clip(geom.Box{X2: W, Y2: H})
		if conf != nil {
			rec.Source = annotation.SourcePredicted
			rec.Confidence = conf
		}

		rec.ClassID, err = c.opt.classByID(reg, classIdx, "")
		if err != nil {
			return nil, classError(err, lineNo, "class")
		}
		labels = append(labels, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, formatErrorf(lineNo+1, "", "%v", err)
	}
	return labels, nil
}

func (c *YOLO) Encode(labels []annotation.Record, img ImageInfo, reg *classes.Registry) ([]byte, error) {
	if !img.HasSize() {
		return nil, fmt.Errorf("encoding YOLO labels of '%v': %w", img.FileName, ErrMissingContext)
	}
	W := float64(img.Width)
	H := float64(img.Height)

	buf := bytes.Buffer{}
	for i, r := range labels {
		if !reg.Exists(r.ClassID) {
			return nil, fmt.Errorf("label %v: class %v: %w", i, r.ClassID, classes.ErrNotFound)
		}
		if !yoloInImage(r.Shape.Bounds(), W, H) {
			return nil, formatErrorf(i+1, r.Shape.Kind.String(), "label lies outside the %vx%v image", img.Width, img.Height)
		}
		values := []float64{}
		switch r.Shape.Kind {
		case geom.KindBox:
			b := r.Shape.Box
			ctr := b.Center()
			values = append(values, ctr.X/W, ctr.Y/H, b.Width()/W, b.Height()/H)
		case geom.KindPolygon:
			for _, p := range r.Shape.Polygon {
				values = append(values, p.X/W, p.Y/H)
			}
		default:
			return nil, fmt.Errorf("label %v: unknown shape kind %v", i, r.Shape.Kind)
		}
		buf.WriteString(strconv.Itoa(r.ClassID))
		for _, v := range values {
			buf.WriteByte(' ')
			buf.WriteString(strconv.FormatFloat(v, 'f', yoloPrecision, 64))
		}
		if r.Confidence != nil {
			buf.WriteByte(' ')
			buf.WriteString(strconv.FormatFloat(float64(*r.Confidence), 'f', yoloPrecision, 32))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
