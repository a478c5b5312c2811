package session

import (
	"fmt"

	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/codec"
)

// DirtyPolicy decides what happens when the user leaves a document with unsaved changes
type DirtyPolicy int

const (
	DirtyPrompt   DirtyPolicy = iota // Fail with ErrUnsavedChanges, so that the user can be asked
	DirtyAutosave                    // Save, then move on. A failed save stops the move.
	DirtyDiscard                     // Drop the changes
)

func (p DirtyPolicy) String() string {
	switch p {
	case DirtyAutosave:
		return "autosave"
	case DirtyDiscard:
		return "discard"
	}
	return "prompt"
}

func ParseDirtyPolicy(s string) (DirtyPolicy, error) {
	switch s {
	case "", "prompt":
		return DirtyPrompt, nil
	case "autosave":
		return DirtyAutosave, nil
	case "discard":
		return DirtyDiscard, nil
	}
	return DirtyPrompt, fmt.Errorf("unknown dirty navigation policy '%v'", s)
}

const DefaultHistoryDepth = 50
const DefaultDuplicateIoU = 0.7

// Config holds the policies of a session
type Config struct {
	Format            codec.Format
	Unmapped          codec.UnmappedPolicy // Label files that reference unknown classes
	HistoryDepth      int                  // Number of undo steps. Zero disables undo.
	DirtyNavigation   DirtyPolicy
	AutoExtendClasses bool                 // Create classes for unknown prediction labels, instead of dropping them
	ClassRemoval      classes.RemovePolicy // Used by RemoveClass when no policy is given
	DuplicateIoU      float64              // Predictions overlapping a label of the same class by this much are dropped. Zero disables.
}

func DefaultConfig() Config {
	return Config{
		Format:          codec.FormatJSON,
		Unmapped:        codec.UnmappedFail,
		HistoryDepth:    DefaultHistoryDepth,
		DirtyNavigation: DirtyPrompt,
		ClassRemoval:    classes.RemoveBlock,
		DuplicateIoU:    DefaultDuplicateIoU,
	}
}
