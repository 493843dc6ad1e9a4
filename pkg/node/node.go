package node

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
	"github.com/ryandielhenn/zephyrgroup/pkg/group"
	"github.com/ryandielhenn/zephyrgroup/pkg/ring"
)

// Node is the HTTP face of a process taking part in a group. It keeps a
// hash ring of the active members so that keys can be assigned to owners.
type Node struct {
	group  *group.Group
	ring   *ring.HashRing
	addr   string
	logger *zap.Logger
}

func New(g *group.Group, r *ring.HashRing, addr string, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		group:  g,
		ring:   r,
		addr:   addr,
		logger: logger,
	}
}

func (n *Node) Addr() string {
	return n.addr
}

// GroupEvent implements group.Listener: the ring follows the active member
// set, and is emptied when the session drops.
func (n *Node) GroupEvent(g *group.Group, ev group.EventType) error {
	if ev == group.EventDisconnected {
		n.ring.Clear()
		return nil
	}
	n.SyncRing()
	return nil
}

// SyncRing rebuilds the ring from the group's active members.
func (n *Node) SyncRing() {
	nodes := make(map[string]string)
	for path, st := range n.group.Members() {
		nodes[MemberID(path, st)] = st.Address
	}
	if n.ring.Rebuild(nodes) {
		n.logger.Info("ring rebuilt", zap.Int("members", len(nodes)))
	}
}

// Routes registers the handlers on mux. wrap, when not nil, decorates each
// handler with the op name it is registered under.
func (n *Node) Routes(mux *http.ServeMux, wrap func(op string, h http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(_ string, h http.Handler) http.Handler { return h }
	}
	mux.Handle("GET /healthz", wrap("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("GET /info", wrap("info", http.HandlerFunc(n.Info)))
	mux.Handle("GET /members", wrap("members", http.HandlerFunc(n.Members)))
	mux.Handle("GET /owner/{key}", wrap("owner", http.HandlerFunc(n.Owner)))
}

// MemberID names a member on the ring: its container, else its uuid, else
// the last element of its registration path.
func MemberID(path string, st group.NodeState) string {
	switch {
	case st.Container != "":
		return st.Container
	case st.UUID != "":
		return st.UUID
	default:
		return coord.Base(path)
	}
}
