package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec{}
	states := []NodeState{
		{},
		{ID: "autoscaler", Ready: true},
		{ID: "broker", Container: "root", UUID: "u-1", Address: "10.0.0.1:61616"},
		{
			ID:         "broker",
			Container:  "child",
			Ready:      true,
			Services:   []string{"amq", "mqtt"},
			Attributes: map[string]string{"zone": "eu-1", "rack": "r2"},
		},
	}
	for _, s := range states {
		data, err := codec.Encode(s)
		require.NoError(t, err)
		got, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestJSONCodecIgnoresUnknownFields(t *testing.T) {
	got, err := JSONCodec{}.Decode([]byte(`{"id":"a","ready":true,"weight":7,"nested":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, NodeState{ID: "a", Ready: true}, got)
}

func TestJSONCodecRejectsGarbage(t *testing.T) {
	_, err := JSONCodec{}.Decode([]byte("not json"))
	assert.Error(t, err)
	_, err = JSONCodec{}.Decode(nil)
	assert.Error(t, err)
}

func TestNodeStateClone(t *testing.T) {
	s := NodeState{Services: []string{"a"}, Attributes: map[string]string{"k": "v"}}
	c := s.Clone()
	c.Services[0] = "b"
	c.Attributes["k"] = "w"
	assert.Equal(t, "a", s.Services[0])
	assert.Equal(t, "v", s.Attributes["k"])
	assert.True(t, s.HasService("a"))
	assert.False(t, s.HasService("b"))
}

func TestChildDataIdentity(t *testing.T) {
	assert.Equal(t, "container:c", ChildData{Path: "/p", State: NodeState{Container: "c", UUID: "u"}}.identity())
	assert.Equal(t, "uuid:u", ChildData{Path: "/p", State: NodeState{UUID: "u"}}.identity())
	assert.Equal(t, "path:/p", ChildData{Path: "/p"}.identity())
}
