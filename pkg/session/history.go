package session

import "github.com/cyclopcam/labeler/pkg/annotation"

// History is a bounded undo/redo stack of label set snapshots.
// When the undo stack is full, the oldest snapshot is discarded.
type History struct {
	depth int
	undo  [][]annotation.Record
	redo  [][]annotation.Record
}

func NewHistory(depth int) *History {
	return &History{depth: max(depth, 0)}
}

// Push records the label set as it was before a mutation, and forgets the redo stack
func (h *History) Push(prev []annotation.Record) {
	h.redo = nil
	if h.depth == 0 {
		return
	}
	if len(h.undo) == h.depth {
		copy(h.undo, h.undo[1:])
		h.undo = h.undo[:len(h.undo)-1]
	}
	h.undo = append(h.undo, annotation.Clone(prev))
}

// Undo returns the previous label set, and remembers current for Redo.
// Returns false if there is nothing to undo.
func (h *History) Undo(current []annotation.Record) ([]annotation.Record, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	prev := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, annotation.Clone(current))
	return annotation.Clone(prev), true
}

// Redo reverses the most recent Undo
func (h *History) Redo(current []annotation.Record) ([]annotation.Record, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, annotation.Clone(current))
	if len(h.undo) > h.depth {
		h.undo = h.undo[len(h.undo)-h.depth:]
	}
	return annotation.Clone(next), true
}

func (h *History) CanUndo() bool { return len(h.undo) != 0 }
func (h *History) CanRedo() bool { return len(h.redo) != 0 }

// Rewrite applies f to every stored snapshot.
// This keeps the history consistent when a class is removed or reassigned.
func (h *History) Rewrite(f func(labels []annotation.Record) []annotation.Record) {
	for i := range h.undo {
		h.undo[i] = f(h.undo[i])
	}
	for i := range h.redo {
		h.redo[i] = f(h.redo[i])
	}
}
