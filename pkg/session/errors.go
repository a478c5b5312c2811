package session

import (
	"errors"
	"fmt"
)

var (
	ErrNoDocument      = errors.New("no document is open")
	ErrNoMoreItems     = errors.New("no more items")
	ErrNoImage         = errors.New("the document has no image")
	ErrNoSuchLabel     = errors.New("no such label")
	ErrBusy            = errors.New("a prediction is already running")
	ErrNoPredictor     = errors.New("no predictor is configured")
	ErrUnsavedChanges  = errors.New("the document has unsaved changes")
	ErrStalePrediction = errors.New("the document changed while the prediction was running")
	ErrClosed          = errors.New("the session is closed")
)

// IOError is a failure to read or write a file.
type IOError struct {
	Op   string // eg "read image", "save labels"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%v %v: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
