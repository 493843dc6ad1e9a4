package node

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/group"
)

// Healthz returns 200 while the group session is usable, 503 otherwise.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	if !n.group.IsConnected() {
		http.Error(w, "disconnected", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Info writes a JSON payload describing this member.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID          int              `json:"pid"`
		Now          time.Time        `json:"now"`
		Group        string           `json:"group"`
		UUID         string           `json:"uuid"`
		Registration string           `json:"registration,omitempty"`
		Connected    bool             `json:"connected"`
		Master       bool             `json:"master"`
		Unstable     bool             `json:"unstable"`
		Members      int              `json:"members"`
		State        *group.NodeState `json:"state,omitempty"`
	}
	n.writeJSON(w, resp{
		PID:          os.Getpid(),
		Now:          time.Now(),
		Group:        n.group.Path(),
		UUID:         n.group.ID(),
		Registration: n.group.OwnRegistrationPath(),
		Connected:    n.group.IsConnected(),
		Master:       n.group.IsMaster(),
		Unstable:     n.group.IsUnstable(),
		Members:      len(n.group.Members()),
		State:        n.group.LastState(),
	})
}

type member struct {
	Path  string          `json:"path"`
	State group.NodeState `json:"state"`
}

// Members lists the active members in election order, master first.
func (n *Node) Members(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		Master  *member  `json:"master,omitempty"`
		Members []member `json:"members"`
	}
	active := n.group.ActiveMembers()
	out := resp{Members: make([]member, 0, len(active))}
	for _, cd := range active {
		out.Members = append(out.Members, member{Path: cd.Path, State: cd.State})
	}
	if len(out.Members) > 0 {
		m := out.Members[0]
		out.Master = &m
	}
	n.writeJSON(w, out)
}

// Owner tells which member owns a key. Add ?n=3 for the preference list.
func (n *Node) Owner(w http.ResponseWriter, req *http.Request) {
	key := req.PathValue("key")
	ownerID, ownerHP, self, ok := n.OwnerForKey(key)
	if !ok {
		http.Error(w, "no owner for key", http.StatusServiceUnavailable)
		return
	}

	type resp struct {
		Key      string   `json:"key"`
		Owner    string   `json:"owner"`
		Address  string   `json:"address"`
		Self     bool     `json:"self"`
		Replicas []string `json:"replicas,omitempty"`
	}
	out := resp{Key: key, Owner: ownerID, Address: ownerHP, Self: self}
	if v := req.URL.Query().Get("n"); v != "" {
		count, err := strconv.Atoi(v)
		if err != nil || count <= 0 {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		out.Replicas = n.ring.LookupN([]byte(key), count)
	}
	n.writeJSON(w, out)
}

func (n *Node) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		n.logger.Error("encode response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
