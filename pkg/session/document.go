package session

import (
	"fmt"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/dataset"
)

type State int

const (
	StateNoDocument State = iota
	StateDocumentLoaded
	StateDirty
)

func (s State) String() string {
	switch s {
	case StateDocumentLoaded:
		return "loaded"
	case StateDirty:
		return "dirty"
	}
	return "none"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*s = StateNoDocument
	case "loaded":
		*s = StateDocumentLoaded
	case "dirty":
		*s = StateDirty
	default:
		return fmt.Errorf("unknown document state '%v'", string(b))
	}
	return nil
}

// Document is the label set of the current image, along with its undo history.
// A document of an empty folder has no image (Index is -1).
type Document struct {
	Index int // Position in the dataset
	Item  dataset.Item
	Image codec.ImageInfo

	labels  []annotation.Record
	saved   []annotation.Record // Labels as they are on disk
	dirty   bool
	history *History
}

func newDocument(index int, item dataset.Item, img codec.ImageInfo, labels []annotation.Record, historyDepth int) *Document {
	return &Document{
		Index:   index,
		Item:    item,
		Image:   img,
		labels:  labels,
		saved:   annotation.Clone(labels),
		history: NewHistory(historyDepth),
	}
}

func emptyDocument(historyDepth int) *Document {
	return newDocument(-1, dataset.Item{}, codec.ImageInfo{}, nil, historyDepth)
}

func (d *Document) HasImage() bool {
	return d.Index >= 0
}

// mutate replaces the labels and records the previous set in the undo history
func (d *Document) mutate(labels []annotation.Record) {
	d.history.Push(d.labels)
	d.setLabels(labels)
}

// setLabels replaces the labels without touching the history
func (d *Document) setLabels(labels []annotation.Record) {
	d.labels = labels
	d.dirty = !annotation.Equal(d.labels, d.saved)
}

func (d *Document) markSaved(labels []annotation.Record) {
	d.saved = labels
	d.dirty = !annotation.Equal(d.labels, d.saved)
}
