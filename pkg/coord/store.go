package coord

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AnyVersion disables the optimistic version check of SetData and Delete.
const AnyVersion int64 = -1

// SequenceWidth is the number of digits of the suffix appended to
// sequential nodes. Fixed width keeps lexicographic and numeric order equal.
const SequenceWidth = 10

var (
	ErrNoNode         = errors.New("coord: node does not exist")
	ErrBadVersion     = errors.New("coord: version mismatch")
	ErrConnectionLoss = errors.New("coord: connection loss")
	ErrClosed         = errors.New("coord: store closed")
)

// Stat is the metadata returned alongside a node's data.
type Stat struct {
	Version int64
}

type EventType uint8

const (
	EventNodeCreated EventType = iota + 1
	EventNodeDataChanged
	EventNodeDeleted
	EventNodeChildrenChanged
)

func (e EventType) String() string {
	switch e {
	case EventNodeCreated:
		return "NodeCreated"
	case EventNodeDataChanged:
		return "NodeDataChanged"
	case EventNodeDeleted:
		return "NodeDeleted"
	case EventNodeChildrenChanged:
		return "NodeChildrenChanged"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(e))
	}
}

// WatchEvent is delivered to a Watcher once the observed path changes.
type WatchEvent struct {
	Type EventType
	Path string
}

// Watcher receives one-shot watch notifications. Stores keep watchers in
// sets, so implementations must be comparable (typically a pointer); arming
// the same watcher twice on the same path yields one notification.
type Watcher interface {
	Process(WatchEvent)
}

type SessionState uint8

const (
	SessionConnected SessionState = iota + 1
	SessionSuspended
	SessionReconnected
	SessionLost
)

func (s SessionState) String() string {
	switch s {
	case SessionConnected:
		return "CONNECTED"
	case SessionSuspended:
		return "SUSPENDED"
	case SessionReconnected:
		return "RECONNECTED"
	case SessionLost:
		return "LOST"
	default:
		return fmt.Sprintf("SessionState(%d)", uint8(s))
	}
}

// Store is a client session against the coordination store.
//
// Ephemeral nodes belong to the session that created them and disappear
// when that session is lost. Watches are one-shot: after a notification the
// caller re-arms by reading again.
type Store interface {
	// CreateSequentialEphemeral creates prefix+<sequence> and returns the
	// assigned path.
	CreateSequentialEphemeral(ctx context.Context, prefix string, data []byte) (string, error)
	// SetData replaces the data of an existing node. version is the expected
	// current version or AnyVersion.
	SetData(ctx context.Context, path string, data []byte, version int64) (Stat, error)
	// Children lists the names of the direct children of path, sorted.
	// A non-nil watcher is notified on the next child creation or deletion.
	Children(ctx context.Context, path string, w Watcher) ([]string, error)
	// GetData reads a node. A non-nil watcher is notified on the next data
	// change or deletion of that node. No watch is armed on ErrNoNode.
	GetData(ctx context.Context, path string, w Watcher) ([]byte, Stat, error)
	// Delete removes a node. version is the expected current version or
	// AnyVersion.
	Delete(ctx context.Context, path string, version int64) error
	// Connected reports whether the session is currently usable.
	Connected() bool
	// SubscribeSession registers fn for session state transitions. The
	// returned function unsubscribes.
	SubscribeSession(fn func(SessionState)) (cancel func())
}

// Join appends name to parent.
func Join(parent, name string) string {
	if strings.HasSuffix(parent, "/") {
		return parent + name
	}
	return parent + "/" + name
}

// Parent returns the parent path of p, or "/" for top-level nodes.
func Parent(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Base returns the last element of p.
func Base(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}

// SequenceName formats the name of a sequential node.
func SequenceName(prefix string, seq int64) string {
	return fmt.Sprintf("%s%0*d", prefix, SequenceWidth, seq)
}
