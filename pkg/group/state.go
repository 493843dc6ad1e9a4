package group

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// NodeState is what a member advertises in its registration node.
type NodeState struct {
	// ID names the role the member competes for, e.g. "autoscaler".
	ID string `json:"id"`
	// Container identifies the owning process across re-registrations.
	Container string `json:"container,omitempty"`
	// UUID is injected by the Group on registration.
	UUID string `json:"uuid,omitempty"`
	// Ready marks a completed registration. Only ready members take part in
	// election.
	Ready      bool              `json:"ready"`
	Address    string            `json:"address,omitempty"`
	Services   []string          `json:"services,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of s.
func (s NodeState) Clone() NodeState {
	s.Services = slices.Clone(s.Services)
	s.Attributes = maps.Clone(s.Attributes)
	return s
}

// HasService reports whether s advertises the named service.
func (s NodeState) HasService(name string) bool {
	return slices.Contains(s.Services, name)
}

// ChildData is the last known content of one registration node.
type ChildData struct {
	Path    string
	Version int64
	Data    []byte
	State   NodeState
}

// identity is the key used to collapse duplicate registrations of the same
// process: the container, else the uuid, else the path itself.
func (c ChildData) identity() string {
	switch {
	case c.State.Container != "":
		return "container:" + c.State.Container
	case c.State.UUID != "":
		return "uuid:" + c.State.UUID
	default:
		return "path:" + c.Path
	}
}

// Codec converts a NodeState to and from the bytes stored in a node.
// Decode must ignore fields it does not know so mixed-version fleets keep
// interoperating.
type Codec interface {
	Encode(NodeState) ([]byte, error)
	Decode([]byte) (NodeState, error)
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) Encode(s NodeState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode node state: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (NodeState, error) {
	var s NodeState
	if err := json.Unmarshal(data, &s); err != nil {
		return NodeState{}, fmt.Errorf("decode node state: %w", err)
	}
	return s, nil
}
