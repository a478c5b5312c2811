// Package convert rewrites the labels of a dataset from one format into another.
package convert

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/dataset"
	"github.com/cyclopcam/labeler/pkg/iox"
	"github.com/cyclopcam/logs"
)

type Options struct {
	From          codec.Format
	To            codec.Format
	Unmapped      codec.UnmappedPolicy // Applies when reading the source labels
	MinConfidence float32              // Drop predicted labels below this confidence
	RequireLabel  bool                 // Skip images that end up with no labels
}

type Stats struct {
	Images  int // Images whose labels were written
	Labels  int // Labels written
	Dropped int // Labels dropped by MinConfidence
	Skipped int // Images without source labels, or without labels when RequireLabel is set
}

// Convert reads every label file of the dataset at root in opt.From, and writes it out in opt.To.
// Classes come from classes.json and data.yaml, and are extended by the source files if
// opt.Unmapped allows it. The registry is written back to classes.json when done.
// Files of the destination format that hold many images are rebuilt from scratch.
func Convert(log logs.Log, root string, opt Options) (Stats, error) {
	stats := Stats{}
	if opt.From == opt.To {
		return stats, fmt.Errorf("source and destination format are both %v", opt.From)
	}
	src, err := codec.New(opt.From, codec.Options{Unmapped: opt.Unmapped})
	if err != nil {
		return stats, err
	}
	dst, err := codec.New(opt.To, codec.Options{Unmapped: codec.UnmappedCreate})
	if err != nil {
		return stats, err
	}
	ds, err := dataset.Open(root)
	if err != nil {
		return stats, err
	}
	reg := classes.NewRegistry()
	if err := loadClasses(log, ds, reg); err != nil {
		return stats, err
	}

	// Label files that are shared between images, by path
	shared := map[string][]byte{}
	sharedSrc := map[string][]byte{}

	for _, item := range ds.Items {
		width, height, err := ds.ImageSize(item.Path)
		if err != nil {
			return stats, fmt.Errorf("Error reading image %v: %w", item.Path, err)
		}
		img := codec.ImageInfo{FileName: filepath.Base(item.Path), Width: width, Height: height}

		srcPath := ds.LabelPath(item, opt.From)
		raw, ok := sharedSrc[srcPath]
		if !ok {
			raw, err = os.ReadFile(srcPath)
			if errors.Is(err, os.ErrNotExist) {
				raw = nil
			} else if err != nil {
				return stats, err
			}
			if _, isShared := src.(codec.DatasetCodec); isShared {
				sharedSrc[srcPath] = raw
			}
		}
		if raw == nil {
			stats.Skipped++
			continue
		}
		labels, err := src.Decode(raw, img, reg)
		if err != nil {
			return stats, codec.WithPath(err, srcPath)
		}
		labels, dropped := filterConfidence(labels, opt.MinConfidence)
		stats.Dropped += dropped
		if len(labels) == 0 && opt.RequireLabel {
			stats.Skipped++
			continue
		}

		dstPath := ds.LabelPath(item, opt.To)
		if dc, isShared := dst.(codec.DatasetCodec); isShared {
			out, err := dc.Update(shared[dstPath], labels, img, reg)
			if err != nil {
				return stats, codec.WithPath(err, dstPath)
			}
			shared[dstPath] = out
		} else {
			out, err := dst.Encode(labels, img, reg)
			if err != nil {
				return stats, codec.WithPath(err, dstPath)
			}
			if err := write(dstPath, out); err != nil {
				return stats, err
			}
		}
		stats.Images++
		stats.Labels += len(labels)
	}

	for path, out := range shared {
		if err := write(path, out); err != nil {
			return stats, err
		}
	}
	if err := reg.Save(ds.ClassesPath()); err != nil {
		return stats, err
	}
	if opt.To == codec.FormatYOLO && ds.Layout == dataset.LayoutDataset {
		if err := ds.WriteDataYAML(reg); err != nil {
			return stats, err
		}
	}
	log.Infof("Converted %v labels in %v images from %v to %v", stats.Labels, stats.Images, opt.From, opt.To)
	return stats, nil
}

func loadClasses(log logs.Log, ds *dataset.Dataset, reg *classes.Registry) error {
	list, nextID, err := classes.LoadFile(ds.ClassesPath())
	if err != nil {
		return err
	}
	if _, err := reg.Merge(list, nextID); err != nil {
		log.Warnf("Classes in %v: %v", ds.ClassesPath(), err)
	}
	y, err := dataset.ReadDataYAML(ds.DataYAMLPath())
	if err != nil {
		return err
	}
	if y != nil {
		if _, err := reg.Merge(y.Classes(), 0); err != nil {
			log.Warnf("Classes in %v: %v", ds.DataYAMLPath(), err)
		}
	}
	return nil
}

func filterConfidence(labels []annotation.Record, min float32) ([]annotation.Record, int) {
	if min <= 0 {
		return labels, 0
	}
	keep := labels[:0]
	for _, r := range labels {
		if r.Confidence != nil && *r.Confidence < min {
			continue
		}
		keep = append(keep, r)
	}
	return keep, len(labels) - len(keep)
}

func write(path string, raw []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return err
	}
	return iox.WriteFileAtomic(path, raw)
}
