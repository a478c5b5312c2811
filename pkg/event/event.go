// Package event provides a way for listeners to subscribe to synchronous events.
package event

import "sync"

// Listener receives events
// We use an interface instead of a function, because functions cannot be compared for equality.
// Comparison for equality is essential for removing an existing listener.
type Listener interface {
	OnEvent(sender *Sender, event any)
}

// Sender sends events.
// Listeners are called on the goroutine of SendEvent, without any lock held,
// so a listener may add or remove listeners, or call back into the sender's owner.
type Sender struct {
	listenersLock sync.Mutex
	listeners     []Listener
}

// Add a new listener
// If the listener is already present, then the function returns immediately
func (s *Sender) AddListener(listener Listener) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	for _, l := range s.listeners {
		if l == listener {
			return
		}
	}
	s.listeners = append(s.listeners, listener)
}

// Remove an existing listener
// If the listener is not present, then the function returns immediately
func (s *Sender) RemoveListener(listener Listener) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	for i, l := range s.listeners {
		if l == listener {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// NumListeners returns the number of registered listeners
func (s *Sender) NumListeners() int {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	return len(s.listeners)
}

// Send an event to all listeners
func (s *Sender) SendEvent(event any) {
	s.listenersLock.Lock()
	list := make([]Listener, len(s.listeners))
	copy(list, s.listeners)
	s.listenersLock.Unlock()

	for _, l := range list {
		l.OnEvent(s, event)
	}
}

// Channel is a Listener that forwards events into a buffered channel.
// If the channel is full, the event is dropped and Dropped is incremented.
type Channel struct {
	C chan any

	lock    sync.Mutex
	dropped int
}

func NewChannel(size int) *Channel {
	return &Channel{C: make(chan any, size)}
}

func (c *Channel) OnEvent(sender *Sender, event any) {
	select {
	case c.C <- event:
	default:
		c.lock.Lock()
		c.dropped++
		c.lock.Unlock()
	}
}

// Dropped returns the number of events that did not fit into the channel
func (c *Channel) Dropped() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.dropped
}
