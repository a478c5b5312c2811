// Package dataset discovers the images that a session works on, and decides
// where each image's label file lives.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/patrickmn/go-cache"
)

type Split int

const (
	SplitNone Split = iota
	SplitTrain
	SplitVal
)

func (s Split) String() string {
	switch s {
	case SplitTrain:
		return "train"
	case SplitVal:
		return "val"
	}
	return ""
}

func (s Split) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Split) UnmarshalText(b []byte) error {
	switch string(b) {
	case "":
		*s = SplitNone
	case "train":
		*s = SplitTrain
	case "val":
		*s = SplitVal
	default:
		return fmt.Errorf("unknown split '%v'", string(b))
	}
	return nil
}

type Layout int

const (
	LayoutFile    Layout = iota // A single image
	LayoutFolder                // A flat directory of images
	LayoutDataset               // train/val splits
)

func (l Layout) String() string {
	switch l {
	case LayoutFile:
		return "file"
	case LayoutFolder:
		return "folder"
	}
	return "dataset"
}

func (l Layout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Item is one image of a dataset
type Item struct {
	Path  string `json:"path"`
	Split Split  `json:"split"`
}

var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp", ".tif", ".tiff"}

func IsImage(path string) bool {
	return slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// Dataset is an ordered list of images.
type Dataset struct {
	Root      string           // Directory that the label files and classes.json are relative to
	Layout    Layout           //
	Items     []Item           // Train items first, then val items, each sorted by path
	SplitDirs map[Split]string // Image directory of each split, relative to Root (LayoutDataset only)

	sizes *cache.Cache // Image sizes, keyed by path
}

// Open discovers the images at path, which may be an image file, a folder of images,
// or a dataset root with train and val splits.
func Open(path string) (*Dataset, error) {
	path = filepath.Clean(path)
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	d := &Dataset{
		sizes: cache.New(cache.NoExpiration, 0),
	}
	if !st.IsDir() {
		if !IsImage(path) {
			return nil, fmt.Errorf("'%v' is not a supported image type", path)
		}
		d.Root = filepath.Dir(path)
		d.Layout = LayoutFile
		d.Items = []Item{{Path: path}}
		return d, nil
	}

	d.Root = path
	d.SplitDirs = map[Split]string{}
	for _, split := range []Split{SplitTrain, SplitVal} {
		for _, candidate := range splitCandidates(split) {
			dir := filepath.Join(path, candidate)
			if isDir(dir) {
				d.SplitDirs[split] = candidate
				break
			}
		}
	}
	if len(d.SplitDirs) == 0 {
		d.SplitDirs = nil
		d.Layout = LayoutFolder
		d.Items, err = listImages(path, SplitNone)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	d.Layout = LayoutDataset
	for _, split := range []Split{SplitTrain, SplitVal} {
		if rel, ok := d.SplitDirs[split]; ok {
			items, err := listImages(filepath.Join(path, rel), split)
			if err != nil {
				return nil, err
			}
			d.Items = append(d.Items, items...)
		}
	}
	return d, nil
}

// The supported places for the images of a split, in order of preference
func splitCandidates(split Split) []string {
	s := split.String()
	return []string{
		filepath.Join("images", s), // Ultralytics
		filepath.Join(s, "images"), // Roboflow exports
		s,
	}
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func listImages(dir string, split Split) ([]Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	items := []Item{}
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			items = append(items, Item{Path: filepath.Join(dir, e.Name()), Split: split})
		}
	}
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.Path, b.Path) })
	return items, nil
}

func (d *Dataset) Len() int {
	return len(d.Items)
}

func (d *Dataset) ClassesPath() string {
	return filepath.Join(d.Root, "classes.json")
}

func (d *Dataset) DataYAMLPath() string {
	return filepath.Join(d.Root, "data.yaml")
}

// LabelPath returns the label file of an item.
//
//	json: a sibling file with a .json extension
//	yolo: images/ mirrored to labels/ with a .txt extension, or a sibling .txt if there is no images/ directory
//	coco: instances.json at the root, or labels/instances_<split>.json for a split dataset
func (d *Dataset) LabelPath(item Item, format codec.Format) string {
	switch format {
	case codec.FormatYOLO:
		return mirrorImagesDir(d.Root, replaceExt(item.Path, ".txt"))
	case codec.FormatCOCO:
		if item.Split == SplitNone {
			return filepath.Join(d.Root, "instances.json")
		}
		return filepath.Join(d.Root, "labels", "instances_"+item.Split.String()+".json")
	}
	return replaceExt(item.Path, ".json")
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// mirrorImagesDir replaces the last "images" directory between root and path with "labels".
// Directories above root are never touched.
func mirrorImagesDir(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	dir, file := filepath.Split(rel)
	if dir == "" {
		return path
	}
	parts := strings.Split(filepath.Clean(dir), string(filepath.Separator))
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "images" {
			parts[i] = "labels"
			return filepath.Join(root, filepath.Join(parts...), file)
		}
	}
	return path
}

// Exists returns false, nil if the file does not exist
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
