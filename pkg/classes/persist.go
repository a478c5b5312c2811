package classes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cyclopcam/labeler/pkg/iox"
)

// registryFile is the on-disk form of classes.json
type registryFile struct {
	NextID  int     `json:"nextID"`
	Classes []Class `json:"classes"`
}

// LoadFile reads a classes.json file. A missing file is not an error, and yields no classes.
func LoadFile(filename string) ([]Class, int, error) {
	raw, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	} else if err != nil {
		return nil, 0, err
	}
	f := registryFile{}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, 0, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return f.Classes, f.NextID, nil
}

// Merge adds classes that were persisted elsewhere, keeping their ids.
// A class whose name is already present is skipped, since names are the identity
// that label files are matched on. Conflicting ids are reported, but do not stop the merge.
func (r *Registry) Merge(list []Class, nextID int) (added int, err error) {
	var errs []error
	for _, c := range list {
		if existing, ok := r.Lookup(c.Name); ok {
			if existing.ID != c.ID {
				errs = append(errs, fmt.Errorf("class '%v' has id %v here, but %v in the file", c.Name, existing.ID, c.ID))
			}
			continue
		}
		if err := r.AddWithID(c.ID, c.Name, c.Color); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	r.lock.Lock()
	r.nextID = max(r.nextID, nextID)
	r.lock.Unlock()
	return added, errors.Join(errs...)
}

// Save writes the registry to a classes.json file, atomically
func (r *Registry) Save(filename string) error {
	f := registryFile{
		NextID:  r.NextID(),
		Classes: r.Classes(),
	}
	raw, err := json.MarshalIndent(&f, "", "\t")
	if err != nil {
		return err
	}
	return iox.WriteFileAtomic(filename, raw)
}
