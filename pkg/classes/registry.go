// Package classes is the class registry shared by every open document.
package classes

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cyclopcam/labeler/pkg/event"
	"github.com/cyclopcam/labeler/pkg/gen"
)

type Class struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Color Color  `json:"color"`
}

// Dependent is something that holds labels referring to classes, typically an open document.
// The registry consults its dependents when a class is removed.
// Dependents are called without the registry lock held.
type Dependent interface {
	// ClassUsage returns the number of labels referencing the class
	ClassUsage(id int) int
	// ReassignClass moves all labels (including undo history) from one class to another
	ReassignClass(from, to int)
	// DeleteClass removes all labels (including undo history) of the class
	DeleteClass(id int)
}

type RemovePolicy int

const (
	RemoveBlock    RemovePolicy = iota // Fail with InUseError if any label uses the class
	RemoveCascade                      // Delete the labels that use the class
	RemoveReassign                     // Move the labels to RemoveOptions.Target
)

func (p RemovePolicy) String() string {
	switch p {
	case RemoveCascade:
		return "cascade"
	case RemoveReassign:
		return "reassign"
	}
	return "block"
}

func ParseRemovePolicy(s string) (RemovePolicy, error) {
	switch s {
	case "", "block":
		return RemoveBlock, nil
	case "cascade":
		return RemoveCascade, nil
	case "reassign":
		return RemoveReassign, nil
	}
	return RemoveBlock, fmt.Errorf("unknown class removal policy '%v'", s)
}

type RemoveOptions struct {
	Policy RemovePolicy
	Target int // Destination class for RemoveReassign
}

// Registry is the ordered set of classes.
// Ids are allocated monotonically and are never reused, even after removal.
// Every mutation emits an Event after the registry lock is released.
type Registry struct {
	event.Sender

	lock       sync.RWMutex
	classes    map[int]*Class
	byName     map[string]int
	retiring   map[int]bool // Classes in the middle of removal. They resolve as not found.
	retired    map[int]bool
	nextID     int
	dependents []Dependent

	removeLock sync.Mutex // Serializes Remove
}

func NewRegistry() *Registry {
	return &Registry{
		classes:  map[int]*Class{},
		byName:   map[string]int{},
		retiring: map[int]bool{},
		retired:  map[int]bool{},
	}
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("class name is empty: %w", ErrInvalidName)
	}
	return name, nil
}

// Add a class with the next free id
func (r *Registry) Add(name string, color Color) (int, error) {
	name, err := normalizeName(name)
	if err != nil {
		return 0, err
	}
	r.lock.Lock()
	if _, ok := r.byName[name]; ok {
		r.lock.Unlock()
		return 0, fmt.Errorf("'%v': %w", name, ErrDuplicateName)
	}
	c := &Class{ID: r.nextID, Name: name, Color: color}
	r.insertLocked(c)
	r.lock.Unlock()

	r.SendEvent(Event{Kind: EventAdded, Class: *c})
	return c.ID, nil
}

// AddAuto adds a class with a random color
func (r *Registry) AddAuto(name string) (int, error) {
	return r.Add(name, RandomColor())
}

// AddWithID adds a class with a known id, such as one read from a label file.
// The id must not be live, and must not have been removed from this registry.
func (r *Registry) AddWithID(id int, name string, color Color) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	if id < 0 {
		return fmt.Errorf("class id %v is negative: %w", id, ErrIDUnavailable)
	}
	r.lock.Lock()
	if _, ok := r.classes[id]; ok || r.retired[id] {
		r.lock.Unlock()
		return fmt.Errorf("class id %v: %w", id, ErrIDUnavailable)
	}
	if _, ok := r.byName[name]; ok {
		r.lock.Unlock()
		return fmt.Errorf("'%v': %w", name, ErrDuplicateName)
	}
	c := &Class{ID: id, Name: name, Color: color}
	r.insertLocked(c)
	r.lock.Unlock()

	r.SendEvent(Event{Kind: EventAdded, Class: *c})
	return nil
}

func (r *Registry) insertLocked(c *Class) {
	r.classes[c.ID] = c
	r.byName[c.Name] = c.ID
	r.nextID = max(r.nextID, c.ID+1)
}

func (r *Registry) Rename(id int, name string) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	r.lock.Lock()
	c, ok := r.liveLocked(id)
	if !ok {
		r.lock.Unlock()
		return notFound(id)
	}
	if other, ok := r.byName[name]; ok && other != id {
		r.lock.Unlock()
		return fmt.Errorf("'%v': %w", name, ErrDuplicateName)
	}
	delete(r.byName, c.Name)
	c.Name = name
	r.byName[name] = id
	ev := Event{Kind: EventRenamed, Class: *c}
	r.lock.Unlock()

	r.SendEvent(ev)
	return nil
}

func (r *Registry) Recolor(id int, color Color) error {
	r.lock.Lock()
	c, ok := r.liveLocked(id)
	if !ok {
		r.lock.Unlock()
		return notFound(id)
	}
	c.Color = color
	ev := Event{Kind: EventRecolored, Class: *c}
	r.lock.Unlock()

	r.SendEvent(ev)
	return nil
}

// Remove deletes a class. With RemoveBlock, the removal fails with an InUseError
// if any dependent still has labels of this class.
func (r *Registry) Remove(id int, opt RemoveOptions) error {
	r.removeLock.Lock()
	defer r.removeLock.Unlock()

	r.lock.Lock()
	c, ok := r.liveLocked(id)
	if !ok {
		r.lock.Unlock()
		return notFound(id)
	}
	if opt.Policy == RemoveReassign {
		if opt.Target == id {
			r.lock.Unlock()
			return fmt.Errorf("cannot reassign class %v to itself", id)
		}
		if _, ok := r.liveLocked(opt.Target); !ok {
			r.lock.Unlock()
			return fmt.Errorf("reassignment target: %w", notFound(opt.Target))
		}
	}
	removed := *c
	r.retiring[id] = true
	deps := slices.Clone(r.dependents)
	r.lock.Unlock()

	switch opt.Policy {
	case RemoveBlock:
		count := 0
		for _, d := range deps {
			count += d.ClassUsage(id)
		}
		if count != 0 {
			r.lock.Lock()
			delete(r.retiring, id)
			r.lock.Unlock()
			return &InUseError{ID: id, Name: removed.Name, Count: count}
		}
		// Purge undo history, so that undo cannot resurrect a label of a removed class
		for _, d := range deps {
			d.DeleteClass(id)
		}
	case RemoveCascade:
		for _, d := range deps {
			d.DeleteClass(id)
		}
	case RemoveReassign:
		for _, d := range deps {
			d.ReassignClass(id, opt.Target)
		}
	}

	r.lock.Lock()
	delete(r.classes, id)
	delete(r.byName, removed.Name)
	delete(r.retiring, id)
	r.retired[id] = true
	r.lock.Unlock()

	r.SendEvent(Event{Kind: EventRemoved, Class: removed})
	return nil
}

func (r *Registry) liveLocked(id int) (*Class, bool) {
	c, ok := r.classes[id]
	if !ok || r.retiring[id] {
		return nil, false
	}
	return c, true
}

// Resolve returns the class with the given id
func (r *Registry) Resolve(id int) (Class, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	c, ok := r.liveLocked(id)
	if !ok {
		return Class{}, notFound(id)
	}
	return *c, nil
}

// Exists is true if the id resolves to a live class
func (r *Registry) Exists(id int) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.liveLocked(id)
	return ok
}

// Lookup finds a class by exact name
func (r *Registry) Lookup(name string) (Class, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	id, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return Class{}, false
	}
	c, ok := r.liveLocked(id)
	if !ok {
		return Class{}, false
	}
	return *c, true
}

// Classes returns a snapshot of all live classes, ordered by id
func (r *Registry) Classes() []Class {
	r.lock.RLock()
	defer r.lock.RUnlock()
	list := make([]Class, 0, len(r.classes))
	for id, c := range r.classes {
		if !r.retiring[id] {
			list = append(list, *c)
		}
	}
	slices.SortFunc(list, func(a, b Class) int { return a.ID - b.ID })
	return list
}

func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.classes) - len(r.retiring)
}

// NextID is the id that the next Add will receive
func (r *Registry) NextID() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.nextID
}

// MergeNames adds every name that is not yet present, with a random color.
// Returns the number of classes added.
func (r *Registry) MergeNames(names []string) int {
	added := 0
	for _, name := range names {
		if _, ok := r.Lookup(name); ok {
			continue
		}
		if _, err := r.AddAuto(name); err == nil {
			added++
		}
	}
	return added
}

// Attach registers a dependent, to be consulted when classes are removed
func (r *Registry) Attach(d Dependent) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if !slices.Contains(r.dependents, d) {
		r.dependents = append(r.dependents, d)
	}
}

func (r *Registry) Detach(d Dependent) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.dependents = gen.DeleteFirst(r.dependents, d)
}
