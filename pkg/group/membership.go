package group

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	goset "github.com/deckarep/golang-set/v2"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
)

// membershipStore maps registration paths to their last known content.
// Only the worker writes to it, except for the synchronous clear on
// disconnect.
type membershipStore struct {
	mu      sync.RWMutex
	entries map[string]ChildData
}

func newMembershipStore() *membershipStore {
	return &membershipStore{entries: make(map[string]ChildData)}
}

func (m *membershipStore) get(path string) (ChildData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cd, ok := m.entries[path]
	return cd, ok
}

func (m *membershipStore) has(path string) bool {
	_, ok := m.get(path)
	return ok
}

func (m *membershipStore) put(cd ChildData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[cd.Path] = cd
}

func (m *membershipStore) remove(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[path]; !ok {
		return false
	}
	delete(m.entries, path)
	return true
}

// clear drops every entry and returns how many there were.
func (m *membershipStore) clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	clear(m.entries)
	return n
}

func (m *membershipStore) paths() goset.Set[string] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := goset.NewThreadUnsafeSetWithSize[string](len(m.entries))
	for p := range m.entries {
		set.Add(p)
	}
	return set
}

func (m *membershipStore) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// snapshot returns every entry ordered by sequence.
func (m *membershipStore) snapshot() []ChildData {
	m.mu.RLock()
	out := make([]ChildData, 0, len(m.entries))
	for _, cd := range m.entries {
		out = append(out, cd)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b ChildData) int { return comparePaths(a.Path, b.Path) })
	return out
}

// activeOrdered keeps the ready entries, collapses entries of the same
// identity to the one with the highest sequence and orders the rest by
// ascending sequence.
func activeOrdered(entries []ChildData) []ChildData {
	best := make(map[string]ChildData, len(entries))
	for _, cd := range entries {
		if !cd.State.Ready {
			continue
		}
		id := cd.identity()
		if cur, ok := best[id]; ok && comparePaths(cd.Path, cur.Path) < 0 {
			continue
		}
		best[id] = cd
	}
	out := make([]ChildData, 0, len(best))
	for _, cd := range best {
		out = append(out, cd)
	}
	slices.SortFunc(out, func(a, b ChildData) int { return comparePaths(a.Path, b.Path) })
	return out
}

// sequenceOf extracts the fixed-width sequence suffix of a registration path.
func sequenceOf(path string) (int64, bool) {
	name := coord.Base(path)
	if len(name) < coord.SequenceWidth {
		return 0, false
	}
	seq, err := strconv.ParseInt(name[len(name)-coord.SequenceWidth:], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

func comparePaths(a, b string) int {
	sa, oka := sequenceOf(a)
	sb, okb := sequenceOf(b)
	if oka && okb && sa != sb {
		if sa < sb {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func sortPaths(paths []string) {
	slices.SortFunc(paths, comparePaths)
}
