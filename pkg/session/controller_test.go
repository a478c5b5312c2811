package session

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/event"
	"github.com/cyclopcam/labeler/pkg/geom"
	"github.com/cyclopcam/labeler/pkg/labeldb"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

var gray = classes.Color{R: 128, G: 128, B: 128}

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0777))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, width, height))))
}

// makeFolder creates a folder with n 100x100 images named img0.png, img1.png, ...
func makeFolder(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	for i := 0; i < n; i++ {
		writePNG(t, filepath.Join(root, "img"+string(rune('0'+i))+".png"), 100, 100)
	}
	return root
}

func newRegistry(t *testing.T, names ...string) *classes.Registry {
	t.Helper()
	reg := classes.NewRegistry()
	for _, n := range names {
		_, err := reg.Add(n, gray)
		require.NoError(t, err)
	}
	return reg
}

func newController(t *testing.T, reg *classes.Registry, cfg Config) *Controller {
	t.Helper()
	c, err := NewController(logs.NewTestingLog(t), reg, cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func box(x1, y1, x2, y2 float64, class int) annotation.Record {
	return annotation.Manual(geom.BoxShape(geom.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}), class)
}

type eventLog struct {
	lock   sync.Mutex
	events []Event
}

func (e *eventLog) OnEvent(sender *event.Sender, ev any) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.events = append(e.events, ev.(Event))
}

func (e *eventLog) kinds() []EventKind {
	e.lock.Lock()
	defer e.lock.Unlock()
	k := []EventKind{}
	for _, ev := range e.events {
		k = append(k, ev.Kind)
	}
	return k
}

func TestNoDocument(t *testing.T) {
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	require.Equal(t, StateNoDocument, c.State())
	require.ErrorIs(t, c.Navigate(Next), ErrNoDocument)
	require.ErrorIs(t, c.Save(), ErrNoDocument)
	require.ErrorIs(t, c.Undo(), ErrNoDocument)
	_, err := c.AddLabel(box(1, 1, 5, 5, 0))
	require.ErrorIs(t, err, ErrNoDocument)
}

func TestOpenEmptyFolder(t *testing.T) {
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	require.NoError(t, c.Open(t.TempDir()))
	require.Equal(t, StateDocumentLoaded, c.State())

	s := c.Snapshot()
	require.Empty(t, s.Labels)
	require.Equal(t, 0, s.Count)
	require.Equal(t, -1, s.Index)

	require.ErrorIs(t, c.Navigate(Next), ErrNoMoreItems)
	_, err := c.AddLabel(box(1, 1, 5, 5, 0))
	require.ErrorIs(t, err, ErrNoImage)
	require.NoError(t, c.Save())
	require.Equal(t, StateDocumentLoaded, c.State())
}

func TestNavigateBounds(t *testing.T) {
	root := makeFolder(t, 2)
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	require.NoError(t, c.Open(root))
	require.Equal(t, filepath.Join(root, "img0.png"), c.Snapshot().Path)

	before := c.Snapshot()
	require.ErrorIs(t, c.Navigate(Prev), ErrNoMoreItems)
	require.Equal(t, before, c.Snapshot())

	require.NoError(t, c.Navigate(Next))
	require.Equal(t, 1, c.Snapshot().Index)
	before = c.Snapshot()
	require.ErrorIs(t, c.Navigate(Next), ErrNoMoreItems)
	require.Equal(t, before, c.Snapshot())

	require.NoError(t, c.Goto(0))
	require.Equal(t, 0, c.Snapshot().Index)
	require.ErrorIs(t, c.Goto(2), ErrNoMoreItems)
	require.ErrorIs(t, c.Goto(-1), ErrNoMoreItems)
}

func TestEditUndoRedo(t *testing.T) {
	root := makeFolder(t, 1)
	cfg := DefaultConfig()
	cfg.HistoryDepth = 2
	c := newController(t, newRegistry(t, "cat", "dog"), cfg)
	require.NoError(t, c.Open(root))

	idx, err := c.AddLabel(box(10, 10, 20, 20, 0))
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.Equal(t, StateDirty, c.State())

	// Shapes are clipped to the image
	idx, err = c.AddLabel(box(90, 90, 150, 150, 1))
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	require.Equal(t, geom.Box{X1: 90, Y1: 90, X2: 100, Y2: 100}, c.Labels()[1].Shape.Box)

	afterTwo := c.Labels()
	require.NoError(t, c.EditLabel(0, box(0, 0, 30, 30, 1)))
	require.NoError(t, c.Undo())
	require.Equal(t, afterTwo, c.Labels())
	require.NoError(t, c.Redo())
	require.Equal(t, 1, c.Labels()[0].ClassID)

	require.NoError(t, c.RemoveLabel(0))
	require.Len(t, c.Labels(), 1)

	// Depth is 2, so only the last two mutations can be undone
	require.NoError(t, c.Undo())
	require.NoError(t, c.Undo())
	afterUndo := c.Labels()
	require.Len(t, afterUndo, 2)
	require.NoError(t, c.Undo())
	require.Equal(t, afterUndo, c.Labels())
	require.False(t, c.Snapshot().CanUndo)

	// Invalid mutations change nothing
	_, err = c.AddLabel(box(10, 10, 20, 20, 7))
	require.ErrorIs(t, err, classes.ErrNotFound)
	_, err = c.AddLabel(box(20, 10, 10, 20, 0))
	require.ErrorIs(t, err, geom.ErrDegenerate)
	_, err = c.AddLabel(box(200, 200, 300, 300, 0))
	require.Error(t, err)
	require.ErrorIs(t, c.EditLabel(5, box(10, 10, 20, 20, 0)), ErrNoSuchLabel)
	require.ErrorIs(t, c.RemoveLabel(-1), ErrNoSuchLabel)
	require.Equal(t, afterUndo, c.Labels())

	require.NoError(t, c.ClearLabels())
	require.Empty(t, c.Labels())
	require.NoError(t, c.Undo())
	require.Equal(t, afterUndo, c.Labels())
}

func TestUndoToSavedStateIsClean(t *testing.T) {
	root := makeFolder(t, 1)
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	require.NoError(t, c.Open(root))
	_, err := c.AddLabel(box(10, 10, 20, 20, 0))
	require.NoError(t, err)
	require.Equal(t, StateDirty, c.State())
	require.NoError(t, c.Undo())
	require.Equal(t, StateDocumentLoaded, c.State())
}

func TestSaveAndReopen(t *testing.T) {
	root := makeFolder(t, 1)
	reg := newRegistry(t, "cat", "dog")
	c := newController(t, reg, DefaultConfig())
	events := &eventLog{}
	c.AddListener(events)

	require.NoError(t, c.Open(root))
	_, err := c.AddLabel(box(10, 10, 20, 20, 1))
	require.NoError(t, err)
	poly := annotation.Manual(geom.PolygonShape(geom.Polygon{{X: 1, Y: 1}, {X: 50, Y: 1}, {X: 25, Y: 40}}), 0)
	_, err = c.AddLabel(poly)
	require.NoError(t, err)
	labels := c.Labels()

	require.NoError(t, c.Save())
	require.Equal(t, StateDocumentLoaded, c.State())
	require.FileExists(t, filepath.Join(root, "img0.json"))
	require.FileExists(t, filepath.Join(root, "classes.json"))
	require.Equal(t, []EventKind{EventOpened, EventLabelsChanged, EventLabelsChanged, EventSaved}, events.kinds())

	// Saving a clean document does nothing
	require.NoError(t, c.Save())
	require.Len(t, events.kinds(), 4)

	// A fresh registry learns the classes from classes.json
	c2 := newController(t, classes.NewRegistry(), DefaultConfig())
	require.NoError(t, c2.Open(root))
	require.True(t, annotation.Equal(labels, c2.Labels()))
	require.Len(t, c2.Registry().Classes(), 2)

	// Revert drops unsaved changes
	require.NoError(t, c.ClearLabels())
	require.NoError(t, c.Revert())
	require.True(t, annotation.Equal(labels, c.Labels()))
	require.Equal(t, StateDocumentLoaded, c.State())
}

func TestSaveFailureStaysDirty(t *testing.T) {
	root := makeFolder(t, 1)
	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	require.NoError(t, c.Open(root))
	_, err := c.AddLabel(box(10, 10, 20, 20, 0))
	require.NoError(t, err)

	// A directory where the label file should be makes the final rename fail
	require.NoError(t, os.Mkdir(filepath.Join(root, "img0.json"), 0777))
	err = c.Save()
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, filepath.Join(root, "img0.json"), ioErr.Path)
	require.Equal(t, StateDirty, c.State())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp")
	}
}

func TestOpenFailureKeepsState(t *testing.T) {
	good := makeFolder(t, 1)
	bad := makeFolder(t, 1)
	require.NoError(t, os.WriteFile(filepath.Join(bad, "img0.json"), []byte(`{"labels": [{"type": "box"`), 0666))

	cfg := DefaultConfig()
	cfg.DirtyNavigation = DirtyDiscard
	c := newController(t, newRegistry(t, "cat"), cfg)
	require.NoError(t, c.Open(good))
	_, err := c.AddLabel(box(10, 10, 20, 20, 0))
	require.NoError(t, err)
	before := c.Snapshot()

	err = c.Open(bad)
	require.ErrorIs(t, err, codec.ErrFormat)
	require.Contains(t, err.Error(), filepath.Join(bad, "img0.json"))
	require.Equal(t, before, c.Snapshot())

	var ioErr *IOError
	require.ErrorAs(t, c.Open(filepath.Join(good, "missing")), &ioErr)
	require.Equal(t, before, c.Snapshot())
}

func TestDirtyNavigation(t *testing.T) {
	root := makeFolder(t, 2)

	t.Run("prompt", func(t *testing.T) {
		c := newController(t, newRegistry(t, "cat"), DefaultConfig())
		require.NoError(t, c.Open(root))
		_, err := c.AddLabel(box(10, 10, 20, 20, 0))
		require.NoError(t, err)
		require.ErrorIs(t, c.Navigate(Next), ErrUnsavedChanges)
		require.Equal(t, 0, c.Snapshot().Index)
		require.Equal(t, StateDirty, c.State())
		require.NoError(t, c.Revert())
		require.NoError(t, c.Navigate(Next))
		require.Equal(t, 1, c.Snapshot().Index)
	})

	t.Run("discard", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DirtyNavigation = DirtyDiscard
		c := newController(t, newRegistry(t, "cat"), cfg)
		require.NoError(t, c.Open(root))
		_, err := c.AddLabel(box(10, 10, 20, 20, 0))
		require.NoError(t, err)
		require.NoError(t, c.Navigate(Next))
		require.NoFileExists(t, filepath.Join(root, "img0.json"))
		require.Equal(t, StateDocumentLoaded, c.State())
	})

	t.Run("autosave", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DirtyNavigation = DirtyAutosave
		c := newController(t, newRegistry(t, "cat"), cfg)
		require.NoError(t, c.Open(root))
		_, err := c.AddLabel(box(10, 10, 20, 20, 0))
		require.NoError(t, err)
		require.NoError(t, c.Navigate(Next))
		require.FileExists(t, filepath.Join(root, "img0.json"))
		require.Empty(t, c.Labels())
		require.NoError(t, c.Navigate(Prev))
		require.Len(t, c.Labels(), 1)
		os.Remove(filepath.Join(root, "img0.json"))
		os.Remove(filepath.Join(root, "classes.json"))
	})
}

func TestAutosaveOntoSameImage(t *testing.T) {
	root := makeFolder(t, 2)
	cfg := DefaultConfig()
	cfg.DirtyNavigation = DirtyAutosave
	c := newController(t, newRegistry(t, "cat"), cfg)
	require.NoError(t, c.Open(root))

	// Going to the current image saves first, and then reads back what was saved
	_, err := c.AddLabel(box(10, 10, 20, 20, 0))
	require.NoError(t, err)
	require.NoError(t, c.Goto(0))
	require.Len(t, c.Labels(), 1)
	require.Equal(t, StateDocumentLoaded, c.State())

	// Same for re-opening the dataset
	_, err = c.AddLabel(box(30, 30, 40, 40, 0))
	require.NoError(t, err)
	require.NoError(t, c.Open(root))
	require.Len(t, c.Labels(), 2)
	require.Equal(t, StateDocumentLoaded, c.State())

	_, err = c.AddLabel(box(50, 50, 60, 60, 0))
	require.NoError(t, err)
	require.NoError(t, c.Save())

	c2 := newController(t, newRegistry(t, "cat"), DefaultConfig())
	require.NoError(t, c2.Open(root))
	require.Len(t, c2.Labels(), 3)
}

func TestRemoveClassPolicies(t *testing.T) {
	root := makeFolder(t, 1)
	reg := newRegistry(t, "cat", "dog", "bird")
	c := newController(t, reg, DefaultConfig())
	require.NoError(t, c.Open(root))
	for _, r := range []annotation.Record{box(1, 1, 5, 5, 0), box(10, 10, 20, 20, 1), box(30, 30, 40, 40, 0)} {
		_, err := c.AddLabel(r)
		require.NoError(t, err)
	}

	// Default policy blocks
	err := c.RemoveClass(0, nil)
	var inUse *classes.InUseError
	require.ErrorAs(t, err, &inUse)
	require.Equal(t, 2, inUse.Count)
	require.ErrorIs(t, err, classes.ErrInUse)
	require.True(t, reg.Exists(0))

	// Reassign dog to bird
	require.NoError(t, c.RemoveClass(1, &classes.RemoveOptions{Policy: classes.RemoveReassign, Target: 2}))
	require.Equal(t, 2, c.Labels()[1].ClassID)

	// Cascade removes exactly the labels of the class, including from history
	require.NoError(t, c.RemoveClass(0, &classes.RemoveOptions{Policy: classes.RemoveCascade}))
	require.Len(t, c.Labels(), 1)
	for c.Snapshot().CanUndo {
		require.NoError(t, c.Undo())
		for _, r := range c.Labels() {
			require.NotEqual(t, 0, r.ClassID)
			require.NotEqual(t, 1, r.ClassID)
		}
	}
	require.False(t, reg.Exists(0))

	// Ids are never reused
	id, err := c.AddClass("cat", nil)
	require.NoError(t, err)
	require.Equal(t, 3, id)
	require.NoError(t, c.RenameClass(id, "kitten"))
	require.NoError(t, c.RecolorClass(id, classes.Color{R: 1}))
	_, ok := reg.Lookup("kitten")
	require.True(t, ok)
}

func TestRegistryEventsForwarded(t *testing.T) {
	reg := newRegistry(t, "cat")
	c := newController(t, reg, DefaultConfig())
	events := &eventLog{}
	c.AddListener(events)
	_, err := reg.Add("dog", gray)
	require.NoError(t, err)
	require.Equal(t, []EventKind{EventClassesChanged}, events.kinds())
	require.Equal(t, "dog", events.events[0].Class.Class.Name)
	require.Len(t, events.events[0].Snapshot.Classes, 2)

	c.Close()
	_, err = reg.Add("bird", gray)
	require.NoError(t, err)
	require.Len(t, events.kinds(), 1)
}

func TestYOLODataset(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "images", "train", "a.png"), 100, 100)
	writePNG(t, filepath.Join(root, "images", "val", "b.png"), 100, 100)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "labels", "train"), 0777))
	require.NoError(t, os.WriteFile(filepath.Join(root, "labels", "train", "a.txt"), []byte("0 0.5 0.5 0.2 0.4\n"), 0666))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.yaml"), []byte("train: images/train\nval: images/val\nnc: 1\nnames: [person]\n"), 0666))

	cfg := DefaultConfig()
	cfg.Format = codec.FormatYOLO
	reg := classes.NewRegistry()
	c := newController(t, reg, cfg)
	require.NoError(t, c.Open(root))

	cls, ok := reg.Lookup("person")
	require.True(t, ok)
	require.Equal(t, 0, cls.ID)

	labels := c.Labels()
	require.Len(t, labels, 1)
	require.Equal(t, 0, labels[0].ClassID)
	b := labels[0].Shape.Box
	require.InDelta(t, 40, b.X1, 1e-9)
	require.InDelta(t, 30, b.Y1, 1e-9)
	require.InDelta(t, 60, b.X2, 1e-9)
	require.InDelta(t, 70, b.Y2, 1e-9)

	require.NoError(t, c.Navigate(Next))
	s := c.Snapshot()
	require.Equal(t, "val", s.Split.String())
	_, err := c.AddClass("car", nil)
	require.NoError(t, err)
	_, err = c.AddLabel(box(0, 0, 50, 50, 1))
	require.NoError(t, err)
	require.NoError(t, c.Save())

	raw, err := os.ReadFile(filepath.Join(root, "labels", "val", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "1 0.250000 0.250000 0.500000 0.500000\n", string(raw))
	raw, err = os.ReadFile(filepath.Join(root, "data.yaml"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "car")
}

func TestCOCOSaveKeepsOtherImages(t *testing.T) {
	root := makeFolder(t, 2)
	cfg := DefaultConfig()
	cfg.Format = codec.FormatCOCO
	cfg.DirtyNavigation = DirtyAutosave
	c := newController(t, newRegistry(t, "cat"), cfg)
	require.NoError(t, c.Open(root))
	_, err := c.AddLabel(box(10, 10, 20, 20, 0))
	require.NoError(t, err)
	require.NoError(t, c.Navigate(Next))
	_, err = c.AddLabel(box(30, 30, 40, 40, 0))
	require.NoError(t, err)
	require.NoError(t, c.Save())

	require.NoError(t, c.Navigate(Prev))
	require.Len(t, c.Labels(), 1)
	require.Equal(t, geom.Box{X1: 10, Y1: 10, X2: 20, Y2: 20}, c.Labels()[0].Shape.Box)
}

func TestNextUnlabeled(t *testing.T) {
	root := makeFolder(t, 4)
	db, err := labeldb.Open(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "progress.sqlite"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.RecordSave(filepath.Join(root, "img1.png"), "", 2, 0))
	require.NoError(t, os.WriteFile(filepath.Join(root, "img2.json"), []byte(`{"labels": []}`), 0666))

	c := newController(t, newRegistry(t, "cat"), DefaultConfig())
	c.SetProgressStore(db)
	require.NoError(t, c.Open(root))
	require.NoError(t, c.NextUnlabeled())
	require.Equal(t, 3, c.Snapshot().Index)
	require.ErrorIs(t, c.NextUnlabeled(), ErrNoMoreItems)

	// Saving records progress
	require.NoError(t, c.Goto(0))
	_, err = c.AddLabel(box(10, 10, 20, 20, 0))
	require.NoError(t, err)
	require.NoError(t, c.Save())
	st, err := db.Status(filepath.Join(root, "img0.png"))
	require.NoError(t, err)
	require.Equal(t, 1, st.Labels)
}

func TestIOErrorUnwrap(t *testing.T) {
	err := &IOError{Op: "save labels", Path: "/x.json", Err: os.ErrPermission}
	require.True(t, errors.Is(err, os.ErrPermission))
	require.Equal(t, "save labels /x.json: permission denied", err.Error())
}
