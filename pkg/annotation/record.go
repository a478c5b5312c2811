// Package annotation defines the label records attached to an image.
package annotation

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/labeler/pkg/geom"
)

// ErrInvalid is wrapped by the errors of Record.Validate, except for shape errors
var ErrInvalid = errors.New("invalid label")

// Source records whether a label was drawn by a person or produced by a model
type Source int

const (
	SourceManual Source = iota
	SourcePredicted
)

func (s Source) String() string {
	if s == SourcePredicted {
		return "predicted"
	}
	return "manual"
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(b []byte) error {
	switch string(b) {
	case "manual", "":
		*s = SourceManual
	case "predicted":
		*s = SourcePredicted
	default:
		return fmt.Errorf("unknown label source '%v'", string(b))
	}
	return nil
}

// Record is one labeled object in an image.
// Confidence is set if and only if Source is SourcePredicted.
type Record struct {
	Shape      geom.Shape `json:"shape"`
	ClassID    int        `json:"class"`
	Confidence *float32   `json:"confidence,omitempty"`
	Source     Source     `json:"source"`
}

// Manual creates a hand-drawn label
func Manual(shape geom.Shape, classID int) Record {
	return Record{Shape: shape, ClassID: classID, Source: SourceManual}
}

// Predicted creates a model-produced label
func Predicted(shape geom.Shape, classID int, confidence float32) Record {
	return Record{Shape: shape, ClassID: classID, Confidence: &confidence, Source: SourcePredicted}
}

// ClassSet answers whether a class id exists. *classes.Registry implements it.
type ClassSet interface {
	Exists(id int) bool
}

func (r Record) Validate(classes ClassSet) error {
	if err := r.Shape.Validate(); err != nil {
		return err
	}
	if classes != nil && !classes.Exists(r.ClassID) {
		return fmt.Errorf("%w: class %v does not exist", ErrInvalid, r.ClassID)
	}
	switch r.Source {
	case SourceManual:
		if r.Confidence != nil {
			return fmt.Errorf("%w: manual label has a confidence", ErrInvalid)
		}
	case SourcePredicted:
		if r.Confidence == nil {
			return fmt.Errorf("%w: predicted label has no confidence", ErrInvalid)
		}
		if c := *r.Confidence; !(c >= 0 && c <= 1) {
			return fmt.Errorf("%w: confidence %v is outside [0,1]", ErrInvalid, c)
		}
	default:
		return fmt.Errorf("%w: unknown label source %d", ErrInvalid, int(r.Source))
	}
	return nil
}

func (r Record) Clone() Record {
	c := r
	c.Shape = r.Shape.Clone()
	if r.Confidence != nil {
		conf := *r.Confidence
		c.Confidence = &conf
	}
	return c
}

func (r Record) Equal(o Record) bool {
	if r.ClassID != o.ClassID || r.Source != o.Source || !r.Shape.Equal(o.Shape) {
		return false
	}
	if (r.Confidence == nil) != (o.Confidence == nil) {
		return false
	}
	return r.Confidence == nil || *r.Confidence == *o.Confidence
}
