package session

import (
	"testing"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/stretchr/testify/require"
)

func TestHistoryBounded(t *testing.T) {
	sets := [][]annotation.Record{{}}
	for i := 1; i <= 4; i++ {
		sets = append(sets, append(annotation.Clone(sets[i-1]), box(float64(i), 0, 50, 50, 0)))
	}

	h := NewHistory(3)
	require.False(t, h.CanUndo())
	_, ok := h.Undo(sets[0])
	require.False(t, ok)

	for i := 0; i < 4; i++ {
		h.Push(sets[i])
	}
	// sets[0] fell off the bottom
	cur := sets[4]
	for _, expect := range []int{3, 2, 1} {
		prev, ok := h.Undo(cur)
		require.True(t, ok)
		require.True(t, annotation.Equal(sets[expect], prev))
		cur = prev
	}
	_, ok = h.Undo(cur)
	require.False(t, ok)

	next, ok := h.Redo(cur)
	require.True(t, ok)
	require.True(t, annotation.Equal(sets[2], next))

	// A new change forgets the redo stack
	h.Push(next)
	require.False(t, h.CanRedo())

	h.Rewrite(func(labels []annotation.Record) []annotation.Record { return nil })
	prev, ok := h.Undo(next)
	require.True(t, ok)
	require.Empty(t, prev)
}

func TestHistoryDisabled(t *testing.T) {
	h := NewHistory(0)
	h.Push([]annotation.Record{box(1, 1, 5, 5, 0)})
	require.False(t, h.CanUndo())
}
