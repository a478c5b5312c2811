package session

import (
	"fmt"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/geom"
)

// edit runs f on the current labels, and replaces them with the result.
// f receives a copy, so it may modify it freely.
func (c *Controller) edit(f func(labels []annotation.Record) ([]annotation.Record, error)) error {
	c.opLock.Lock()
	err := c.editLocked(f)
	c.opLock.Unlock()
	if err != nil {
		return err
	}
	c.notify(EventLabelsChanged)
	return nil
}

func (c *Controller) editLocked(f func(labels []annotation.Record) ([]annotation.Record, error)) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.doc == nil {
		return ErrNoDocument
	}
	if !c.doc.HasImage() {
		return ErrNoImage
	}
	labels, err := f(annotation.Clone(c.doc.labels))
	if err != nil {
		return err
	}
	c.doc.mutate(labels)
	return nil
}

// prepare validates a record, and clips its shape to the image.
// Called with c.lock held.
func (c *Controller) prepare(rec annotation.Record) (annotation.Record, error) {
	if _, err := c.reg.Resolve(rec.ClassID); err != nil {
		return rec, err
	}
	rec = rec.Clone()
	rec.Shape = rec.Shape.Clip(imageBounds(c.doc.Image))
	if err := rec.Validate(nil); err != nil {
		return rec, err
	}
	return rec, nil
}

func imageBounds(img codec.ImageInfo) geom.Box {
	return geom.Box{X2: float64(img.Width), Y2: float64(img.Height)}
}

func labelIndexError(i, n int) error {
	return fmt.Errorf("label %v of %v: %w", i, n, ErrNoSuchLabel)
}

// AddLabel appends a label, and returns its index
func (c *Controller) AddLabel(rec annotation.Record) (int, error) {
	index := 0
	err := c.edit(func(labels []annotation.Record) ([]annotation.Record, error) {
		r, err := c.prepare(rec)
		if err != nil {
			return nil, err
		}
		index = len(labels)
		return append(labels, r), nil
	})
	return index, err
}

// EditLabel replaces the label at index i
func (c *Controller) EditLabel(i int, rec annotation.Record) error {
	return c.edit(func(labels []annotation.Record) ([]annotation.Record, error) {
		if i < 0 || i >= len(labels) {
			return nil, labelIndexError(i, len(labels))
		}
		r, err := c.prepare(rec)
		if err != nil {
			return nil, err
		}
		labels[i] = r
		return labels, nil
	})
}

// RemoveLabel deletes the label at index i. Later labels move down by one.
func (c *Controller) RemoveLabel(i int) error {
	return c.edit(func(labels []annotation.Record) ([]annotation.Record, error) {
		if i < 0 || i >= len(labels) {
			return nil, labelIndexError(i, len(labels))
		}
		return append(labels[:i], labels[i+1:]...), nil
	})
}

// ClearLabels deletes every label of the current image
func (c *Controller) ClearLabels() error {
	return c.edit(func(labels []annotation.Record) ([]annotation.Record, error) {
		return []annotation.Record{}, nil
	})
}

// Undo restores the label set as it was before the most recent change.
// With nothing to undo, Undo does nothing and returns nil.
func (c *Controller) Undo() error {
	return c.undoRedo(true)
}

// Redo reverses the most recent Undo.
// With nothing to redo, Redo does nothing and returns nil.
func (c *Controller) Redo() error {
	return c.undoRedo(false)
}

func (c *Controller) undoRedo(undo bool) error {
	c.opLock.Lock()
	c.lock.Lock()
	if c.doc == nil {
		c.lock.Unlock()
		c.opLock.Unlock()
		return ErrNoDocument
	}
	var labels []annotation.Record
	var ok bool
	if undo {
		labels, ok = c.doc.history.Undo(c.doc.labels)
	} else {
		labels, ok = c.doc.history.Redo(c.doc.labels)
	}
	if ok {
		c.doc.setLabels(labels)
	}
	c.lock.Unlock()
	c.opLock.Unlock()

	if ok {
		c.notify(EventLabelsChanged)
	}
	return nil
}

// ClassUsage implements classes.Dependent
func (c *Controller) ClassUsage(id int) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.doc == nil {
		return 0
	}
	return annotation.CountClass(c.doc.labels, id)
}

// ReassignClass implements classes.Dependent
func (c *Controller) ReassignClass(from, to int) {
	c.rewriteClass(func(labels []annotation.Record) []annotation.Record {
		labels = annotation.Clone(labels)
		annotation.ReassignClass(labels, from, to)
		return labels
	})
}

// DeleteClass implements classes.Dependent
func (c *Controller) DeleteClass(id int) {
	c.rewriteClass(func(labels []annotation.Record) []annotation.Record {
		return annotation.RemoveClass(labels, id)
	})
}

// rewriteClass applies f to the labels and to every undo snapshot, so that
// no label of a removed class can come back
func (c *Controller) rewriteClass(f func(labels []annotation.Record) []annotation.Record) {
	c.lock.Lock()
	changed := false
	if d := c.doc; d != nil {
		d.history.Rewrite(f)
		labels := f(d.labels)
		if !annotation.Equal(labels, d.labels) {
			d.setLabels(labels)
			changed = true
		}
	}
	c.lock.Unlock()

	if changed {
		c.notify(EventLabelsChanged)
	}
}

// AddClass adds a class to the shared registry. A nil color picks a random one.
func (c *Controller) AddClass(name string, color *classes.Color) (int, error) {
	if color == nil {
		return c.reg.AddAuto(name)
	}
	return c.reg.Add(name, *color)
}

func (c *Controller) RenameClass(id int, name string) error {
	return c.reg.Rename(id, name)
}

func (c *Controller) RecolorClass(id int, color classes.Color) error {
	return c.reg.Recolor(id, color)
}

// RemoveClass removes a class from the shared registry, which affects every open document.
// If opt is nil, the configured policy is used.
func (c *Controller) RemoveClass(id int, opt *classes.RemoveOptions) error {
	o := classes.RemoveOptions{Policy: c.cfg.ClassRemoval}
	if opt != nil {
		o = *opt
	}
	return c.reg.Remove(id, o)
}
