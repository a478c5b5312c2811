package codec

import (
	"errors"
	"testing"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/geom"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, names ...string) *classes.Registry {
	t.Helper()
	reg := classes.NewRegistry()
	for _, n := range names {
		_, err := reg.Add(n, classes.Color{R: 10, G: 20, B: 30})
		require.NoError(t, err)
	}
	return reg
}

func newCodec(t *testing.T, format Format, opt Options) Codec {
	t.Helper()
	c, err := New(format, opt)
	require.NoError(t, err)
	require.Equal(t, format, c.Format())
	return c
}

// A label set that exercises every shape and source
func sampleLabels() []annotation.Record {
	return []annotation.Record{
		annotation.Manual(geom.BoxShape(geom.Box{X1: 10, Y1: 20, X2: 50.5, Y2: 60}), 0),
		annotation.Predicted(geom.BoxShape(geom.Box{X1: 0, Y1: 0, X2: 200, Y2: 100}), 1, 0.75),
		annotation.Manual(geom.PolygonShape(geom.Polygon{{X: 5, Y: 5}, {X: 150, Y: 10}, {X: 80, Y: 90.25}}), 1),
		annotation.Predicted(geom.PolygonShape(geom.Polygon{{X: 1, Y: 1}, {X: 9, Y: 1}, {X: 9, Y: 9}, {X: 1, Y: 9}}), 0, 0.5),
	}
}

var sampleImage = ImageInfo{FileName: "img001.jpg", Width: 200, Height: 100}

func requireLabelsNear(t *testing.T, expect, actual []annotation.Record, tolerance float64) {
	t.Helper()
	require.Len(t, actual, len(expect))
	for i := range expect {
		e, a := expect[i], actual[i]
		require.Equal(t, e.ClassID, a.ClassID, "label %v", i)
		require.Equal(t, e.Source, a.Source, "label %v", i)
		require.Equal(t, e.Shape.Kind, a.Shape.Kind, "label %v", i)
		if e.Confidence == nil {
			require.Nil(t, a.Confidence)
		} else {
			require.NotNil(t, a.Confidence)
			require.InDelta(t, *e.Confidence, *a.Confidence, 1e-6)
		}
		switch e.Shape.Kind {
		case geom.KindBox:
			require.InDelta(t, e.Shape.Box.X1, a.Shape.Box.X1, tolerance)
			require.InDelta(t, e.Shape.Box.Y1, a.Shape.Box.Y1, tolerance)
			require.InDelta(t, e.Shape.Box.X2, a.Shape.Box.X2, tolerance)
			require.InDelta(t, e.Shape.Box.Y2, a.Shape.Box.Y2, tolerance)
		case geom.KindPolygon:
			require.Len(t, a.Shape.Polygon, len(e.Shape.Polygon))
			for j := range e.Shape.Polygon {
				require.InDelta(t, e.Shape.Polygon[j].X, a.Shape.Polygon[j].X, tolerance)
				require.InDelta(t, e.Shape.Polygon[j].Y, a.Shape.Polygon[j].Y, tolerance)
			}
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, format := range AllFormats {
		t.Run(string(format), func(t *testing.T) {
			reg := testRegistry(t, "cat", "dog")
			c := newCodec(t, format, Options{})
			labels := sampleLabels()
			raw, err := c.Encode(labels, sampleImage, reg)
			require.NoError(t, err)
			back, err := c.Decode(raw, sampleImage, reg)
			require.NoError(t, err)
			switch format {
			case FormatYOLO:
				// 6 decimal places of the normalized coordinates
				requireLabelsNear(t, labels, back, 1e-4*float64(sampleImage.Width))
			case FormatCOCO:
				// x + (x2 - x1) may not give back x2 exactly
				requireLabelsNear(t, labels, back, 1e-9)
			default:
				require.True(t, annotation.Equal(labels, back), "%v", string(raw))
			}
			// Nothing was added to the registry
			require.Equal(t, 2, reg.Len())
		})
	}
}

func TestRoundTripEmpty(t *testing.T) {
	for _, format := range AllFormats {
		reg := testRegistry(t, "cat")
		c := newCodec(t, format, Options{})
		raw, err := c.Encode(nil, sampleImage, reg)
		require.NoError(t, err)
		back, err := c.Decode(raw, sampleImage, reg)
		require.NoError(t, err)
		require.Empty(t, back, "%v", format)
	}
}

func TestEncodeUnknownClass(t *testing.T) {
	for _, format := range AllFormats {
		reg := testRegistry(t, "cat")
		c := newCodec(t, format, Options{})
		labels := []annotation.Record{annotation.Manual(geom.BoxShape(geom.Box{X1: 1, Y1: 1, X2: 2, Y2: 2}), 5)}
		_, err := c.Encode(labels, sampleImage, reg)
		require.ErrorIs(t, err, classes.ErrNotFound, "%v", format)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("coco")
	require.NoError(t, err)
	require.Equal(t, FormatCOCO, f)
	_, err = ParseFormat("voc")
	require.Error(t, err)
	_, err = New(Format("voc"), Options{})
	require.Error(t, err)

	p, err := ParseUnmappedPolicy("create")
	require.NoError(t, err)
	require.Equal(t, UnmappedCreate, p)
	_, err = ParseUnmappedPolicy("ignore")
	require.Error(t, err)
}

func TestFormatErrorMessage(t *testing.T) {
	err := error(&FormatError{Line: 3, Field: "class", Msg: "bad"})
	err = WithPath(err, "labels/a.txt")
	require.Equal(t, "labels/a.txt line 3 (class): bad", err.Error())
	require.ErrorIs(t, err, ErrFormat)
	require.False(t, errors.Is(err, ErrUnmappedClass))

	// WithPath leaves other errors alone
	plain := errors.New("x")
	require.Equal(t, plain, WithPath(plain, "a"))
}

func TestCOCORoundTripLastBit(t *testing.T) {
	// x + (x2 - x1) != x2 for these values
	x1, x2 := 76.521, 233.29670207757724
	require.NotEqual(t, x2, x1+(x2-x1))

	reg := testRegistry(t, "cat")
	c := newCodec(t, FormatCOCO, Options{})
	img := ImageInfo{FileName: "a.jpg", Width: 640, Height: 480}
	labels := []annotation.Record{annotation.Manual(geom.BoxShape(geom.Box{X1: x1, Y1: 1, X2: x2, Y2: 2}), 0)}
	raw, err := c.Encode(labels, img, reg)
	require.NoError(t, err)
	back, err := c.Decode(raw, img, reg)
	require.NoError(t, err)
	requireLabelsNear(t, labels, back, 1e-9)
}
