// Package session holds the state of an open document, and the controller that
// is the only way to change it.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/dataset"
	"github.com/cyclopcam/labeler/pkg/event"
	"github.com/cyclopcam/labeler/pkg/labeldb"
	"github.com/cyclopcam/labeler/pkg/nn"
	"github.com/cyclopcam/logs"
)

type Direction int

const (
	Next Direction = iota
	Prev
)

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "next":
		return Next, nil
	case "prev":
		return Prev, nil
	}
	return Next, fmt.Errorf("unknown direction '%v'", s)
}

// Controller owns one document, and performs every operation on it.
//
// There are two locks. opLock serializes commands, and is held for the duration
// of a command, including its disk I/O. lock guards the document, and is only
// held for short periods. The registry calls back into the controller (as a
// classes.Dependent) and takes only 'lock', so a command may change the registry
// while holding opLock, but never while holding lock. Registry reads are fine
// under either lock.
//
// Events, including registry events that are forwarded, are sent synchronously.
// Listeners must not issue controller commands from inside OnEvent.
type Controller struct {
	event.Sender

	log       logs.Log
	cfg       Config
	reg       *classes.Registry
	codec     codec.Codec
	forwarder *registryForwarder

	opLock sync.Mutex

	lock          sync.Mutex
	dataset       *dataset.Dataset
	doc           *Document // nil when no document is open
	predictor     nn.Predictor
	progress      *labeldb.LabelDB
	predicting    bool
	predictCancel context.CancelFunc
	predictWG     sync.WaitGroup
	closed        bool
}

// NewController creates a controller that shares the given registry with other documents.
func NewController(log logs.Log, reg *classes.Registry, cfg Config) (*Controller, error) {
	cdc, err := codec.New(cfg.Format, codec.Options{Unmapped: cfg.Unmapped})
	if err != nil {
		return nil, err
	}
	c := &Controller{
		log:   log,
		cfg:   cfg,
		reg:   reg,
		codec: cdc,
	}
	c.forwarder = &registryForwarder{c: c}
	reg.Attach(c)
	reg.AddListener(c.forwarder)
	return c, nil
}

// SetPredictor sets the model that RunPrediction uses. May be nil.
func (c *Controller) SetPredictor(p nn.Predictor) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.predictor = p
}

// SetProgressStore sets the DB that records saved images. May be nil.
func (c *Controller) SetProgressStore(db *labeldb.LabelDB) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.progress = db
}

func (c *Controller) Registry() *classes.Registry {
	return c.reg
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Close detaches from the registry, cancels any running prediction, and waits for it to finish
func (c *Controller) Close() {
	c.opLock.Lock()
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		c.opLock.Unlock()
		return
	}
	c.closed = true
	cancel := c.predictCancel
	c.lock.Unlock()
	c.opLock.Unlock()

	if cancel != nil {
		cancel()
	}
	c.predictWG.Wait()
	c.reg.RemoveListener(c.forwarder)
	c.reg.Detach(c)
}

func (c *Controller) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	if c.doc == nil {
		return StateNoDocument
	} else if c.doc.dirty {
		return StateDirty
	}
	return StateDocumentLoaded
}

// Snapshot returns a deep copy of the session state
func (c *Controller) Snapshot() *Snapshot {
	// Read the registry before taking our lock
	classList := c.reg.Classes()

	c.lock.Lock()
	defer c.lock.Unlock()
	s := &Snapshot{
		State:      c.stateLocked(),
		Index:      -1,
		Labels:     []annotation.Record{},
		Predicting: c.predicting,
		Classes:    classList,
	}
	if c.dataset != nil {
		s.Root = c.dataset.Root
		s.Count = c.dataset.Len()
	}
	if d := c.doc; d != nil {
		s.Index = d.Index
		s.Path = d.Item.Path
		s.Split = d.Item.Split
		s.Image = d.Image
		s.Labels = annotation.Clone(d.labels)
		s.CanUndo = d.history.CanUndo()
		s.CanRedo = d.history.CanRedo()
	}
	return s
}

// Labels returns a copy of the current label set
func (c *Controller) Labels() []annotation.Record {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.doc == nil {
		return nil
	}
	return annotation.Clone(c.doc.labels)
}

// Open opens an image, a folder of images, or a dataset, and loads its first image.
// On failure, the previously open document is untouched.
func (c *Controller) Open(path string) error {
	c.opLock.Lock()
	err := c.open(path)
	c.opLock.Unlock()
	if err != nil {
		return err
	}
	c.notify(EventOpened)
	return nil
}

func (c *Controller) open(path string) error {
	if err := c.checkLeave(); err != nil {
		return err
	}

	ds, err := dataset.Open(path)
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	// The current document must reach disk before anything is read from the new
	// location, which may well be the same file.
	if err := c.leave(); err != nil {
		return err
	}
	if err := c.loadClasses(ds); err != nil {
		return err
	}
	doc := emptyDocument(c.cfg.HistoryDepth)
	if ds.Len() != 0 {
		doc, err = c.loadItem(ds, 0)
		if err != nil {
			return err
		}
	}

	c.log.Infof("Opened %v (%v, %v images)", ds.Root, ds.Layout, ds.Len())
	c.lock.Lock()
	c.dataset = ds
	c.doc = doc
	c.lock.Unlock()
	return nil
}

// loadClasses merges classes.json and data.yaml into the registry
func (c *Controller) loadClasses(ds *dataset.Dataset) error {
	list, nextID, err := classes.LoadFile(ds.ClassesPath())
	if err != nil {
		return &IOError{Op: "load classes", Path: ds.ClassesPath(), Err: err}
	}
	if _, err := c.reg.Merge(list, nextID); err != nil {
		c.log.Warnf("Classes in %v conflict with the registry: %v", ds.ClassesPath(), err)
	}

	y, err := dataset.ReadDataYAML(ds.DataYAMLPath())
	if err != nil {
		return &IOError{Op: "load classes", Path: ds.DataYAMLPath(), Err: err}
	}
	if y != nil {
		if _, err := c.reg.Merge(y.Classes(), 0); err != nil {
			c.log.Warnf("Classes in %v conflict with the registry: %v", ds.DataYAMLPath(), err)
		}
	}
	return nil
}

// loadItem reads an image's size and labels into a new Document
func (c *Controller) loadItem(ds *dataset.Dataset, index int) (*Document, error) {
	item := ds.Items[index]
	width, height, err := ds.ImageSize(item.Path)
	if err != nil {
		return nil, &IOError{Op: "read image", Path: item.Path, Err: err}
	}
	img := codec.ImageInfo{
		FileName: filepath.Base(item.Path),
		Width:    width,
		Height:   height,
	}

	labelPath := ds.LabelPath(item, c.codec.Format())
	var labels []annotation.Record
	raw, err := os.ReadFile(labelPath)
	if errors.Is(err, os.ErrNotExist) {
		labels = []annotation.Record{}
	} else if err != nil {
		return nil, &IOError{Op: "read labels", Path: labelPath, Err: err}
	} else {
		labels, err = c.codec.Decode(raw, img, c.reg)
		if err != nil {
			return nil, codec.WithPath(err, labelPath)
		}
	}
	return newDocument(index, item, img, labels, c.cfg.HistoryDepth), nil
}

// checkLeave fails if we are not allowed to leave the current document
func (c *Controller) checkLeave() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.doc != nil && c.doc.dirty && c.cfg.DirtyNavigation == DirtyPrompt {
		return ErrUnsavedChanges
	}
	return nil
}

// leave applies the dirty policy to the current document, right before it is replaced
func (c *Controller) leave() error {
	if c.State() != StateDirty {
		return nil
	}
	switch c.cfg.DirtyNavigation {
	case DirtyAutosave:
		_, err := c.save()
		return err
	case DirtyDiscard:
		c.log.Infof("Discarding unsaved changes")
		return nil
	}
	return ErrUnsavedChanges
}

// Navigate moves to the next or previous image.
// At either end of the dataset, ErrNoMoreItems is returned, and nothing changes.
func (c *Controller) Navigate(dir Direction) error {
	c.opLock.Lock()
	err := c.navigate(dir)
	c.opLock.Unlock()
	if err != nil {
		return err
	}
	c.notify(EventNavigated)
	return nil
}

func (c *Controller) navigate(dir Direction) error {
	c.lock.Lock()
	if c.doc == nil {
		c.lock.Unlock()
		return ErrNoDocument
	}
	target := c.doc.Index + 1
	if dir == Prev {
		target = c.doc.Index - 1
	}
	c.lock.Unlock()
	return c.moveTo(target)
}

// Goto moves to the image at the given position in the dataset
func (c *Controller) Goto(index int) error {
	c.opLock.Lock()
	err := c.moveToChecked(index)
	c.opLock.Unlock()
	if err != nil {
		return err
	}
	c.notify(EventNavigated)
	return nil
}

func (c *Controller) moveToChecked(index int) error {
	if c.State() == StateNoDocument {
		return ErrNoDocument
	}
	return c.moveTo(index)
}

func (c *Controller) moveTo(index int) error {
	ds := c.currentDataset()
	if index < 0 || index >= ds.Len() {
		return ErrNoMoreItems
	}
	if err := c.checkLeave(); err != nil {
		return err
	}
	if err := c.leave(); err != nil {
		return err
	}
	doc, err := c.loadItem(ds, index)
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.doc = doc
	c.lock.Unlock()
	return nil
}

func (c *Controller) currentDataset() *dataset.Dataset {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.dataset
}

// NextUnlabeled moves to the first image after the current one that has not been labeled.
// An image counts as labeled if the progress store saw it saved with labels, or if
// it has its own label file. An empty YOLO file is how a background image is labeled.
func (c *Controller) NextUnlabeled() error {
	c.opLock.Lock()
	err := c.nextUnlabeled()
	c.opLock.Unlock()
	if err != nil {
		return err
	}
	c.notify(EventNavigated)
	return nil
}

func (c *Controller) nextUnlabeled() error {
	c.lock.Lock()
	if c.doc == nil {
		c.lock.Unlock()
		return ErrNoDocument
	}
	start := c.doc.Index + 1
	ds := c.dataset
	progress := c.progress
	c.lock.Unlock()

	labeled := map[string]bool{}
	if progress != nil && start < ds.Len() {
		paths := make([]string, 0, ds.Len()-start)
		for _, item := range ds.Items[start:] {
			paths = append(paths, item.Path)
		}
		var err error
		labeled, err = progress.LabeledSet(paths)
		if err != nil {
			c.log.Warnf("Failed to read labeling progress: %v", err)
			labeled = map[string]bool{}
		}
	}

	for i := start; i < ds.Len(); i++ {
		item := ds.Items[i]
		if labeled[item.Path] {
			continue
		}
		// A COCO file covers many images, so its existence says nothing about this one
		if c.codec.Format() != codec.FormatCOCO {
			if exists, _ := dataset.Exists(ds.LabelPath(item, c.codec.Format())); exists {
				continue
			}
		}
		return c.moveTo(i)
	}
	return ErrNoMoreItems
}

// Revert reloads the current image from disk, dropping unsaved changes
func (c *Controller) Revert() error {
	c.opLock.Lock()
	err := c.revert()
	c.opLock.Unlock()
	if err != nil {
		return err
	}
	c.notify(EventLabelsChanged)
	return nil
}

func (c *Controller) revert() error {
	c.lock.Lock()
	if c.doc == nil {
		c.lock.Unlock()
		return ErrNoDocument
	}
	if !c.doc.HasImage() {
		c.lock.Unlock()
		return nil
	}
	index := c.doc.Index
	ds := c.dataset
	c.lock.Unlock()

	doc, err := c.loadItem(ds, index)
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.doc = doc
	c.lock.Unlock()
	return nil
}
