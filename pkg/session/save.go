package session

import (
	"errors"
	"os"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/dataset"
	"github.com/cyclopcam/labeler/pkg/iox"
)

// Save writes the labels of the current image, along with classes.json.
// If the document is not dirty, Save does nothing.
// On failure the document stays dirty.
func (c *Controller) Save() error {
	c.opLock.Lock()
	saved, err := c.save()
	c.opLock.Unlock()
	if saved {
		c.notify(EventSaved)
	}
	return err
}

// save returns true if it wrote the labels
func (c *Controller) save() (bool, error) {
	c.lock.Lock()
	doc := c.doc
	if doc == nil {
		c.lock.Unlock()
		return false, ErrNoDocument
	}
	if !doc.dirty {
		c.lock.Unlock()
		return false, nil
	}
	ds := c.dataset
	progress := c.progress
	labels := annotation.Clone(doc.labels)
	item := doc.Item
	img := doc.Image
	c.lock.Unlock()

	if err := c.reg.Save(ds.ClassesPath()); err != nil {
		return false, &IOError{Op: "save classes", Path: ds.ClassesPath(), Err: err}
	}
	if c.codec.Format() == codec.FormatYOLO && ds.Layout == dataset.LayoutDataset {
		if err := ds.WriteDataYAML(c.reg); err != nil {
			return false, &IOError{Op: "save classes", Path: ds.DataYAMLPath(), Err: err}
		}
	}

	labelPath := ds.LabelPath(item, c.codec.Format())
	raw, err := c.encode(labelPath, labels, img)
	if err != nil {
		return false, err
	}
	if err := iox.WriteFileAtomic(labelPath, raw); err != nil {
		return false, &IOError{Op: "save labels", Path: labelPath, Err: err}
	}
	c.log.Infof("Saved %v labels to %v", len(labels), labelPath)

	c.lock.Lock()
	// If the labels changed while we were writing, the document stays dirty
	if c.doc == doc {
		doc.markSaved(labels)
	}
	c.lock.Unlock()

	if progress != nil {
		predicted := annotation.CountSource(labels, annotation.SourcePredicted)
		if err := progress.RecordSave(item.Path, item.Split.String(), len(labels), predicted); err != nil {
			c.log.Warnf("Failed to record labeling progress of %v: %v", item.Path, err)
		}
	}
	return true, nil
}

// encode produces the new content of the label file.
// Files that hold many images are updated in place, keeping the other images.
func (c *Controller) encode(labelPath string, labels []annotation.Record, img codec.ImageInfo) ([]byte, error) {
	var raw []byte
	var err error
	if dc, ok := c.codec.(codec.DatasetCodec); ok {
		existing, rerr := os.ReadFile(labelPath)
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			return nil, &IOError{Op: "read labels", Path: labelPath, Err: rerr}
		}
		raw, err = dc.Update(existing, labels, img, c.reg)
	} else {
		raw, err = c.codec.Encode(labels, img, c.reg)
	}
	if err != nil {
		return nil, codec.WithPath(err, labelPath)
	}
	return raw, nil
}
