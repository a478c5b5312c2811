package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/iox"
	"gopkg.in/yaml.v3"
)

// Names maps YOLO class indices to class names.
// On disk it may be either a list or a map; we always write a map,
// because registry ids can have gaps.
type Names map[int]string

func (n *Names) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		list := []string{}
		if err := value.Decode(&list); err != nil {
			return err
		}
		*n = Names{}
		for i, name := range list {
			(*n)[i] = name
		}
		return nil
	}
	m := map[int]string{}
	if err := value.Decode(&m); err != nil {
		return err
	}
	*n = m
	return nil
}

// DataYAML is the Ultralytics dataset description
type DataYAML struct {
	Path  string `yaml:"path,omitempty"`
	Train string `yaml:"train,omitempty"`
	Val   string `yaml:"val,omitempty"`
	NC    int    `yaml:"nc"`
	Names Names  `yaml:"names"`
}

// ReadDataYAML returns nil, nil if the file does not exist
func ReadDataYAML(filename string) (*DataYAML, error) {
	raw, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	y := &DataYAML{}
	if err := yaml.Unmarshal(raw, y); err != nil {
		return nil, fmt.Errorf("Error loading as YAML %v: %w", filename, err)
	}
	return y, nil
}

// Classes returns the names as registry classes, ordered by index, with random colors
func (y *DataYAML) Classes() []classes.Class {
	list := make([]classes.Class, 0, len(y.Names))
	for id, name := range y.Names {
		list = append(list, classes.Class{ID: id, Name: name, Color: classes.RandomColor()})
	}
	slices.SortFunc(list, func(a, b classes.Class) int { return a.ID - b.ID })
	return list
}

// WriteDataYAML describes the dataset and the registry's classes in data.yaml
func (d *Dataset) WriteDataYAML(reg *classes.Registry) error {
	y := DataYAML{
		Path:  ".",
		NC:    reg.NextID(),
		Names: Names{},
	}
	if rel, ok := d.SplitDirs[SplitTrain]; ok {
		y.Train = filepath.ToSlash(rel)
	}
	if rel, ok := d.SplitDirs[SplitVal]; ok {
		y.Val = filepath.ToSlash(rel)
	}
	for _, c := range reg.Classes() {
		y.Names[c.ID] = c.Name
	}
	raw, err := yaml.Marshal(&y)
	if err != nil {
		return err
	}
	return iox.WriteFileAtomic(d.DataYAMLPath(), raw)
}
