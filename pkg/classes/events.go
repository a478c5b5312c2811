package classes

import "fmt"

type EventKind int

const (
	EventAdded EventKind = iota
	EventRenamed
	EventRecolored
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRenamed:
		return "renamed"
	case EventRecolored:
		return "recolored"
	case EventRemoved:
		return "removed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is sent by the Registry after every change
type Event struct {
	Kind  EventKind `json:"kind"`
	Class Class     `json:"class"`
}
