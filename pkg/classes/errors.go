package classes

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("class not found")
	ErrDuplicateName = errors.New("duplicate class name")
	ErrInUse         = errors.New("class is in use")
	ErrInvalidName   = errors.New("invalid class name")
	ErrIDUnavailable = errors.New("class id unavailable")
)

// InUseError is returned when a class cannot be removed because labels still reference it
type InUseError struct {
	ID    int
	Name  string
	Count int // Number of labels that reference the class
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("class %v '%v' is used by %v labels", e.ID, e.Name, e.Count)
}

func (e *InUseError) Is(target error) bool {
	return target == ErrInUse
}

func notFound(id int) error {
	return fmt.Errorf("class %v: %w", id, ErrNotFound)
}
