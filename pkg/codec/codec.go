// Package codec translates label sets to and from the on-disk annotation formats:
// pixel JSON, YOLO text and COCO JSON.
package codec

import (
	"fmt"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYOLO Format = "yolo"
	FormatCOCO Format = "coco"
)

var AllFormats = []Format{FormatJSON, FormatYOLO, FormatCOCO}

func ParseFormat(s string) (Format, error) {
	for _, f := range AllFormats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown label format '%v' (expected json, yolo or coco)", s)
}

// ImageInfo is the image that a label set belongs to.
// Width and Height are zero when unknown.
type ImageInfo struct {
	FileName string `json:"fileName"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

func (i ImageInfo) HasSize() bool {
	return i.Width > 0 && i.Height > 0
}

// UnmappedPolicy decides what happens when a label file references a class
// that the registry does not have.
type UnmappedPolicy int

const (
	UnmappedFail   UnmappedPolicy = iota // Fail with UnmappedClassError
	UnmappedCreate                       // Add the class to the registry
)

func ParseUnmappedPolicy(s string) (UnmappedPolicy, error) {
	switch s {
	case "", "fail":
		return UnmappedFail, nil
	case "create":
		return UnmappedCreate, nil
	}
	return UnmappedFail, fmt.Errorf("unknown unmapped class policy '%v'", s)
}

type Options struct {
	Unmapped UnmappedPolicy
}

// Codec converts between a label set and the bytes of one label file.
// For any valid label set L, Decode(Encode(L)) equals L, up to the precision
// that the format stores coordinates with.
type Codec interface {
	Format() Format
	Decode(raw []byte, img ImageInfo, reg *classes.Registry) ([]annotation.Record, error)
	Encode(labels []annotation.Record, img ImageInfo, reg *classes.Registry) ([]byte, error)
}

// DatasetCodec is a Codec whose files hold the labels of many images.
// Update replaces the labels of one image inside an existing file, and leaves the rest alone.
type DatasetCodec interface {
	Codec
	Update(existing []byte, labels []annotation.Record, img ImageInfo, reg *classes.Registry) ([]byte, error)
}

func New(format Format, opt Options) (Codec, error) {
	switch format {
	case FormatJSON:
		return &JSON{opt: opt}, nil
	case FormatYOLO:
		return &YOLO{opt: opt}, nil
	case FormatCOCO:
		return &COCO{opt: opt}, nil
	}
	return nil, fmt.Errorf("unknown label format '%v'", format)
}

// classByID maps a numeric class reference from a file to a registry class.
// If the id is unknown, the class is created with that id (when allowed), named
// after 'name', or "class_<id>" if name is empty.
func (o Options) classByID(reg *classes.Registry, id int, name string) (int, error) {
	if c, err := reg.Resolve(id); err == nil {
		if name != "" && c.Name != name {
			return 0, fmt.Errorf("class %v is '%v' in the registry, but '%v' in the file", id, c.Name, name)
		}
		return id, nil
	}
	if name != "" {
		if c, ok := reg.Lookup(name); ok {
			return c.ID, nil
		}
	}
	if name == "" {
		name = fmt.Sprintf("class_%d", id)
	}
	if o.Unmapped == UnmappedFail {
		return 0, &UnmappedClassError{Class: name}
	}
	if err := reg.AddWithID(id, name, classes.RandomColor()); err != nil {
		return 0, &UnmappedClassError{Class: name, Err: err}
	}
	return id, nil
}

// classByName maps a class name from a file to a registry class, creating it if allowed
func (o Options) classByName(reg *classes.Registry, name string) (int, error) {
	if c, ok := reg.Lookup(name); ok {
		return c.ID, nil
	}
	if o.Unmapped == UnmappedFail {
		return 0, &UnmappedClassError{Class: name}
	}
	id, err := reg.AddAuto(name)
	if err != nil {
		return 0, &UnmappedClassError{Class: name, Err: err}
	}
	return id, nil
}
