package session

import (
	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/dataset"
	"github.com/cyclopcam/labeler/pkg/event"
)

type EventKind int

const (
	EventOpened EventKind = iota
	EventNavigated
	EventLabelsChanged
	EventSaved
	EventClassesChanged
	EventPredictionFinished
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventNavigated:
		return "navigated"
	case EventLabelsChanged:
		return "labelsChanged"
	case EventSaved:
		return "saved"
	case EventClassesChanged:
		return "classesChanged"
	case EventPredictionFinished:
		return "predictionFinished"
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is sent by the Controller after every change to its state.
// Events are sent without any controller lock held.
type Event struct {
	Kind       EventKind         `json:"kind"`
	Snapshot   *Snapshot         `json:"snapshot"`
	Class      *classes.Event    `json:"class,omitempty"`      // EventClassesChanged
	Prediction *PredictionResult `json:"prediction,omitempty"` // EventPredictionFinished
}

// Snapshot is a deep copy of the session state, for rendering
type Snapshot struct {
	State      State               `json:"state"`
	Root       string              `json:"root"`
	Index      int                 `json:"index"`
	Count      int                 `json:"count"`
	Path       string              `json:"path"`
	Split      dataset.Split       `json:"split"`
	Image      codec.ImageInfo     `json:"image"`
	Labels     []annotation.Record `json:"labels"`
	CanUndo    bool                `json:"canUndo"`
	CanRedo    bool                `json:"canRedo"`
	Predicting bool                `json:"predicting"`
	Classes    []classes.Class     `json:"classes"`
}

// registryForwarder turns registry events into session events
type registryForwarder struct {
	c *Controller
}

func (f *registryForwarder) OnEvent(sender *event.Sender, ev any) {
	if cev, ok := ev.(classes.Event); ok {
		f.c.SendEvent(Event{Kind: EventClassesChanged, Snapshot: f.c.Snapshot(), Class: &cev})
	}
}

func (c *Controller) notify(kind EventKind) {
	c.SendEvent(Event{Kind: kind, Snapshot: c.Snapshot()})
}
