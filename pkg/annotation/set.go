package annotation

import "fmt"

// Clone deep-copies a label set. A nil set clones to an empty one.
func Clone(labels []Record) []Record {
	c := make([]Record, len(labels))
	for i, r := range labels {
		c[i] = r.Clone()
	}
	return c
}

func Equal(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Validate checks every record, and reports the index of the first bad one
func Validate(labels []Record, classes ClassSet) error {
	for i, r := range labels {
		if err := r.Validate(classes); err != nil {
			return fmt.Errorf("label %v: %w", i, err)
		}
	}
	return nil
}

// CountClass returns the number of labels that reference the class
func CountClass(labels []Record, classID int) int {
	n := 0
	for _, r := range labels {
		if r.ClassID == classID {
			n++
		}
	}
	return n
}

// RemoveClass returns the labels that do not reference the class
func RemoveClass(labels []Record, classID int) []Record {
	kept := make([]Record, 0, len(labels))
	for _, r := range labels {
		if r.ClassID != classID {
			kept = append(kept, r)
		}
	}
	return kept
}

// ReassignClass moves every label of class 'from' to class 'to', in place.
// Returns the number of labels changed.
func ReassignClass(labels []Record, from, to int) int {
	n := 0
	for i := range labels {
		if labels[i].ClassID == from {
			labels[i].ClassID = to
			n++
		}
	}
	return n
}

// CountSource returns the number of labels with the given source
func CountSource(labels []Record, source Source) int {
	n := 0
	for _, r := range labels {
		if r.Source == source {
			n++
		}
	}
	return n
}
