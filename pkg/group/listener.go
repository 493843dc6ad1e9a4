package group

import (
	"fmt"
	"sync"
)

// EventType is the kind of notification a Listener receives.
type EventType uint8

const (
	// EventConnected follows a (re)connection once the cache was rebuilt and
	// the local registration re-published.
	EventConnected EventType = iota + 1
	// EventDisconnected is fired synchronously when the session is suspended
	// or lost; the cache is empty at that point.
	EventDisconnected
	// EventChanged is fired once per refresh that observed any addition,
	// modification or removal.
	EventChanged
)

func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventChanged:
		return "CHANGED"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(e))
	}
}

// Listener is notified of group events. Listeners run on the group worker
// (EventDisconnected excepted) and must not block: a slow listener stalls
// every later operation of the group.
type Listener interface {
	GroupEvent(g *Group, event EventType) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(g *Group, event EventType) error

func (f ListenerFunc) GroupEvent(g *Group, event EventType) error {
	return f(g, event)
}

// Subscription is the handle returned by AddListener.
type Subscription struct {
	id   uint64
	list *listenerList
	once sync.Once
}

// Cancel removes the listener. It is safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.list.remove(s.id) })
}

type listenerEntry struct {
	id       uint64
	listener Listener
}

// listenerList is a copy-on-write list; notification iterates a snapshot so
// listeners may unsubscribe from within a callback.
type listenerList struct {
	mu      sync.Mutex
	next    uint64
	entries []listenerEntry
}

func (l *listenerList) add(listener Listener) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	entries := make([]listenerEntry, len(l.entries), len(l.entries)+1)
	copy(entries, l.entries)
	l.entries = append(entries, listenerEntry{id: l.next, listener: listener})
	return &Subscription{id: l.next, list: l}
}

func (l *listenerList) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]listenerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.id != id {
			entries = append(entries, e)
		}
	}
	l.entries = entries
}

func (l *listenerList) snapshot() []listenerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

func (l *listenerList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
