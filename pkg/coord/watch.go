package coord

import (
	"sync"

	goset "github.com/deckarep/golang-set/v2"
)

// WatchRegistry keeps armed one-shot watches per path. It is shared by the
// store implementations.
type WatchRegistry struct {
	mu       sync.Mutex
	data     map[string]goset.Set[Watcher]
	children map[string]goset.Set[Watcher]
}

func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{
		data:     make(map[string]goset.Set[Watcher]),
		children: make(map[string]goset.Set[Watcher]),
	}
}

// AddData arms w on the data of path. It reports whether path had no data
// watch armed before.
func (r *WatchRegistry) AddData(path string, w Watcher) bool {
	return r.add(r.data, path, w)
}

// AddChildren arms w on the children of path. It reports whether path had
// no children watch armed before.
func (r *WatchRegistry) AddChildren(path string, w Watcher) bool {
	return r.add(r.children, path, w)
}

// TakeData disarms and returns the data watchers of path.
func (r *WatchRegistry) TakeData(path string) []Watcher {
	return r.take(r.data, path)
}

// TakeChildren disarms and returns the children watchers of path.
func (r *WatchRegistry) TakeChildren(path string) []Watcher {
	return r.take(r.children, path)
}

// Clear disarms everything.
func (r *WatchRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.data)
	clear(r.children)
}

// Len returns the number of armed (path, watcher) pairs.
func (r *WatchRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.data {
		n += s.Cardinality()
	}
	for _, s := range r.children {
		n += s.Cardinality()
	}
	return n
}

func (r *WatchRegistry) add(m map[string]goset.Set[Watcher], path string, w Watcher) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := m[path]
	if !ok {
		set = goset.NewThreadUnsafeSet[Watcher]()
		m[path] = set
	}
	set.Add(w)
	return !ok
}

func (r *WatchRegistry) take(m map[string]goset.Set[Watcher], path string) []Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := m[path]
	if !ok {
		return nil
	}
	delete(m, path)
	return set.ToSlice()
}

// Fire delivers ev to every watcher. Must not be called with store locks held.
func Fire(watchers []Watcher, ev WatchEvent) {
	for _, w := range watchers {
		w.Process(ev)
	}
}
