package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFormat         = errors.New("malformed label file")
	ErrUnmappedClass  = errors.New("unmapped class")
	ErrMissingContext = errors.New("image size is required")
)

// FormatError describes a malformed label file.
// Line is 1-based for text formats, and zero when unknown.
type FormatError struct {
	Path  string
	Line  int
	Field string
	Msg   string
}

func (e *FormatError) Error() string {
	b := strings.Builder{}
	if e.Path != "" {
		b.WriteString(e.Path)
	} else {
		b.WriteString("label file")
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%v)", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

func formatErrorf(line int, field string, format string, args ...any) *FormatError {
	return &FormatError{Line: line, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// UnmappedClassError is returned when a label file references a class that is not
// in the registry, and the codec is not allowed to create it.
type UnmappedClassError struct {
	Class string
	Err   error // Why the class could not be created, if creation was attempted
}

func (e *UnmappedClassError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("class '%v' is not in the registry: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("class '%v' is not in the registry", e.Class)
}

func (e *UnmappedClassError) Is(target error) bool {
	return target == ErrUnmappedClass
}

func (e *UnmappedClassError) Unwrap() error {
	return e.Err
}

// WithPath fills in the file path of a FormatError inside err, if there is one
func WithPath(err error, path string) error {
	var fe *FormatError
	if errors.As(err, &fe) && fe.Path == "" {
		fe.Path = path
	}
	return err
}
