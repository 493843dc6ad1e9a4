package coord

import (
	"context"
	"slices"
	"strings"
	"sync"

	"go.uber.org/atomic"
)

type memNode struct {
	data    []byte
	version int64
	// session id of the creator for ephemeral nodes, 0 for persistent ones
	owner uint64
}

// MemStore is an in-memory coordination store. Sessions obtained from
// Session implement Store against the shared tree.
type MemStore struct {
	mu       sync.RWMutex
	nodes    map[string]*memNode
	seqs     map[string]int64
	sessions map[*MemSession]struct{}
	nextID   uint64
	writes   *atomic.Int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		nodes:    make(map[string]*memNode),
		seqs:     make(map[string]int64),
		sessions: make(map[*MemSession]struct{}),
		writes:   atomic.NewInt64(0),
	}
}

// Session opens a new connected client session.
func (m *MemStore) Session() *MemSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &MemSession{
		store:     m,
		id:        m.newID(),
		state:     SessionConnected,
		watches:   NewWatchRegistry(),
		listeners: make(map[int]func(SessionState)),
	}
	m.sessions[s] = struct{}{}
	return s
}

// Put creates or replaces a persistent node, notifying watchers.
func (m *MemStore) Put(path string, data []byte) {
	m.mu.Lock()
	n, exists := m.nodes[path]
	if exists {
		n.data = slices.Clone(data)
		n.version++
	} else {
		m.nodes[path] = &memNode{data: slices.Clone(data)}
	}
	sessions := m.sessionList()
	m.mu.Unlock()

	if exists {
		publish(sessions, path, EventNodeDataChanged)
	} else {
		publish(sessions, path, EventNodeCreated)
	}
}

// Remove deletes a node whatever its owner or version, as a server-side
// removal would. It reports whether the node existed.
func (m *MemStore) Remove(path string) bool {
	m.mu.Lock()
	_, ok := m.nodes[path]
	delete(m.nodes, path)
	sessions := m.sessionList()
	m.mu.Unlock()
	if ok {
		publish(sessions, path, EventNodeDeleted)
	}
	return ok
}

// Get returns a copy of the data stored at path.
func (m *MemStore) Get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[path]
	if !ok {
		return nil, false
	}
	return slices.Clone(n.data), true
}

// Paths returns the sorted full paths of the direct children of parent.
func (m *MemStore) Paths(parent string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := m.childrenLocked(parent)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, Join(parent, name))
	}
	return out
}

// Writes returns the number of successful create, set and delete calls
// issued through sessions.
func (m *MemStore) Writes() int64 {
	return m.writes.Load()
}

func (m *MemStore) newID() uint64 {
	m.nextID++
	return m.nextID
}

func (m *MemStore) sessionList() []*MemSession {
	out := make([]*MemSession, 0, len(m.sessions))
	for s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *MemStore) childrenLocked(parent string) []string {
	prefix := strings.TrimSuffix(parent, "/") + "/"
	var names []string
	for p := range m.nodes {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	slices.Sort(names)
	return names
}

// dropEphemerals deletes every node owned by session id.
func (m *MemStore) dropEphemerals(id uint64) {
	m.mu.Lock()
	var gone []string
	for p, n := range m.nodes {
		if n.owner == id {
			gone = append(gone, p)
			delete(m.nodes, p)
		}
	}
	sessions := m.sessionList()
	m.mu.Unlock()

	slices.Sort(gone)
	for _, p := range gone {
		publish(sessions, p, EventNodeDeleted)
	}
}

func publish(sessions []*MemSession, path string, typ EventType) {
	for _, s := range sessions {
		if typ != EventNodeDataChanged {
			Fire(s.watches.TakeChildren(Parent(path)), WatchEvent{Type: EventNodeChildrenChanged, Path: Parent(path)})
		}
		Fire(s.watches.TakeData(path), WatchEvent{Type: typ, Path: path})
	}
}

// MemSession is one client's session against a MemStore. Tests drive its
// lifecycle with Suspend, Expire and Reconnect.
type MemSession struct {
	store *MemStore

	mu           sync.Mutex
	id           uint64
	state        SessionState
	closed       bool
	dropNextAck  bool
	listeners    map[int]func(SessionState)
	nextListener int

	watches *WatchRegistry
}

var _ Store = (*MemSession)(nil)

func (s *MemSession) checkUsable(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.state == SessionSuspended || s.state == SessionLost {
		return 0, ErrConnectionLoss
	}
	return s.id, nil
}

// CreateSequentialEphemeral implements Store.
func (s *MemSession) CreateSequentialEphemeral(ctx context.Context, prefix string, data []byte) (string, error) {
	id, err := s.checkUsable(ctx)
	if err != nil {
		return "", err
	}

	m := s.store
	m.mu.Lock()
	parent := Parent(prefix)
	seq := m.seqs[parent]
	m.seqs[parent] = seq + 1
	path := Join(parent, SequenceName(Base(prefix), seq))
	m.nodes[path] = &memNode{data: slices.Clone(data), owner: id}
	sessions := m.sessionList()
	m.mu.Unlock()

	m.writes.Inc()
	publish(sessions, path, EventNodeCreated)

	s.mu.Lock()
	drop := s.dropNextAck
	s.dropNextAck = false
	s.mu.Unlock()
	if drop {
		return "", ErrConnectionLoss
	}
	return path, nil
}

// SetData implements Store.
func (s *MemSession) SetData(ctx context.Context, path string, data []byte, version int64) (Stat, error) {
	if _, err := s.checkUsable(ctx); err != nil {
		return Stat{}, err
	}

	m := s.store
	m.mu.Lock()
	n, ok := m.nodes[path]
	if !ok {
		m.mu.Unlock()
		return Stat{}, ErrNoNode
	}
	if version != AnyVersion && n.version != version {
		m.mu.Unlock()
		return Stat{}, ErrBadVersion
	}
	n.data = slices.Clone(data)
	n.version++
	stat := Stat{Version: n.version}
	sessions := m.sessionList()
	m.mu.Unlock()

	m.writes.Inc()
	publish(sessions, path, EventNodeDataChanged)
	return stat, nil
}

// Children implements Store.
func (s *MemSession) Children(ctx context.Context, path string, w Watcher) ([]string, error) {
	if _, err := s.checkUsable(ctx); err != nil {
		return nil, err
	}
	m := s.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	// arm under the read lock so a concurrent writer publishes to us
	if w != nil {
		s.watches.AddChildren(path, w)
	}
	return m.childrenLocked(path), nil
}

// GetData implements Store.
func (s *MemSession) GetData(ctx context.Context, path string, w Watcher) ([]byte, Stat, error) {
	if _, err := s.checkUsable(ctx); err != nil {
		return nil, Stat{}, err
	}
	m := s.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[path]
	if !ok {
		return nil, Stat{}, ErrNoNode
	}
	if w != nil {
		s.watches.AddData(path, w)
	}
	return slices.Clone(n.data), Stat{Version: n.version}, nil
}

// Delete implements Store.
func (s *MemSession) Delete(ctx context.Context, path string, version int64) error {
	if _, err := s.checkUsable(ctx); err != nil {
		return err
	}
	m := s.store
	m.mu.Lock()
	n, ok := m.nodes[path]
	if !ok {
		m.mu.Unlock()
		return ErrNoNode
	}
	if version != AnyVersion && n.version != version {
		m.mu.Unlock()
		return ErrBadVersion
	}
	delete(m.nodes, path)
	sessions := m.sessionList()
	m.mu.Unlock()

	m.writes.Inc()
	publish(sessions, path, EventNodeDeleted)
	return nil
}

// Connected implements Store.
func (s *MemSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && (s.state == SessionConnected || s.state == SessionReconnected)
}

// SubscribeSession implements Store.
func (s *MemSession) SubscribeSession(fn func(SessionState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Suspend simulates a lost connection whose session is still alive
// server-side. Ephemeral nodes survive.
func (s *MemSession) Suspend() {
	s.mu.Lock()
	if s.closed || (s.state != SessionConnected && s.state != SessionReconnected) {
		s.mu.Unlock()
		return
	}
	s.state = SessionSuspended
	s.mu.Unlock()
	s.notify(SessionSuspended)
}

// Expire simulates session expiry: the session's ephemeral nodes are
// removed and its watches discarded.
func (s *MemSession) Expire() {
	s.mu.Lock()
	if s.closed || s.state == SessionLost {
		s.mu.Unlock()
		return
	}
	s.state = SessionLost
	id := s.id
	s.mu.Unlock()

	s.watches.Clear()
	s.store.dropEphemerals(id)
	s.notify(SessionLost)
}

// Reconnect restores a suspended or expired session. An expired session
// comes back as a new server-side session.
func (s *MemSession) Reconnect() {
	s.mu.Lock()
	if s.closed || (s.state != SessionSuspended && s.state != SessionLost) {
		s.mu.Unlock()
		return
	}
	if s.state == SessionLost {
		s.store.mu.Lock()
		s.id = s.store.newID()
		s.store.mu.Unlock()
	}
	s.state = SessionReconnected
	s.mu.Unlock()
	s.notify(SessionReconnected)
}

// DropNextCreateAck makes the next CreateSequentialEphemeral commit the node
// but report ErrConnectionLoss, as if the acknowledgement got lost.
func (s *MemSession) DropNextCreateAck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropNextAck = true
}

// Close ends the session and removes its ephemeral nodes.
func (s *MemSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	id := s.id
	s.mu.Unlock()

	s.watches.Clear()
	s.store.mu.Lock()
	delete(s.store.sessions, s)
	s.store.mu.Unlock()
	s.store.dropEphemerals(id)
	return nil
}

func (s *MemSession) notify(state SessionState) {
	s.mu.Lock()
	fns := make([]func(SessionState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}
