package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	testcontainer "github.com/testcontainers/testcontainers-go/modules/etcd"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
	"github.com/ryandielhenn/zephyrgroup/pkg/group"
)

func startEtcd(t *testing.T) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("etcd integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := testcontainer.Run(t.Context(), "gcr.io/etcd-development/etcd:v3.5.14")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(container))
	})
	endpoints, err := container.ClientEndpoints(t.Context())
	require.NoError(t, err)
	return endpoints
}

func openStore(t *testing.T, endpoints []string, ns string) *EtcdStore {
	t.Helper()
	s, err := Open(t.Context(), Config{
		Endpoints: endpoints,
		Namespace: ns,
		TTL:       5,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type watchRecorder struct {
	mu     sync.Mutex
	events []coord.WatchEvent
}

func (r *watchRecorder) Process(ev coord.WatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *watchRecorder) all() []coord.WatchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]coord.WatchEvent, len(r.events))
	copy(out, r.events)
	return out
}

func TestEtcdStore(t *testing.T) {
	endpoints := startEtcd(t)
	ctx := context.Background()

	t.Run("sequential ephemeral nodes", func(t *testing.T) {
		a := openStore(t, endpoints, "/seq-test")
		b := openStore(t, endpoints, "/seq-test")

		p0, err := a.CreateSequentialEphemeral(ctx, "/g/member-", []byte("a"))
		require.NoError(t, err)
		p1, err := b.CreateSequentialEphemeral(ctx, "/g/member-", []byte("b"))
		require.NoError(t, err)
		p2, err := a.CreateSequentialEphemeral(ctx, "/other/member-", nil)
		require.NoError(t, err)

		assert.Equal(t, "/g/member-0000000000", p0)
		assert.Equal(t, "/g/member-0000000001", p1)
		assert.Equal(t, "/other/member-0000000000", p2)

		names, err := a.Children(ctx, "/g", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"member-0000000000", "member-0000000001"}, names)

		// closing b revokes its lease
		require.NoError(t, b.Close())
		names, err = a.Children(ctx, "/g", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"member-0000000000"}, names)
		_, _, err = b.GetData(ctx, p1, nil)
		assert.ErrorIs(t, err, coord.ErrClosed)
	})

	t.Run("versioned writes", func(t *testing.T) {
		s := openStore(t, endpoints, "/version-test")
		p, err := s.CreateSequentialEphemeral(ctx, "/g/n-", []byte("v0"))
		require.NoError(t, err)

		data, stat, err := s.GetData(ctx, p, nil)
		require.NoError(t, err)
		assert.Equal(t, "v0", string(data))
		assert.Zero(t, stat.Version)

		stat, err = s.SetData(ctx, p, []byte("v1"), 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stat.Version)

		_, err = s.SetData(ctx, p, []byte("v2"), 0)
		assert.ErrorIs(t, err, coord.ErrBadVersion)
		stat, err = s.SetData(ctx, p, []byte("v2"), coord.AnyVersion)
		require.NoError(t, err)
		assert.EqualValues(t, 2, stat.Version)

		assert.ErrorIs(t, s.Delete(ctx, p, 0), coord.ErrBadVersion)
		require.NoError(t, s.Delete(ctx, p, 2))
		assert.ErrorIs(t, s.Delete(ctx, p, coord.AnyVersion), coord.ErrNoNode)
		_, err = s.SetData(ctx, p, nil, coord.AnyVersion)
		assert.ErrorIs(t, err, coord.ErrNoNode)
		_, _, err = s.GetData(ctx, p, nil)
		assert.ErrorIs(t, err, coord.ErrNoNode)
	})

	t.Run("one-shot watches", func(t *testing.T) {
		s := openStore(t, endpoints, "/watch-test")
		p, err := s.CreateSequentialEphemeral(ctx, "/g/n-", []byte("x"))
		require.NoError(t, err)

		data := &watchRecorder{}
		children := &watchRecorder{}
		_, _, err = s.GetData(ctx, p, data)
		require.NoError(t, err)
		_, err = s.Children(ctx, "/g", children)
		require.NoError(t, err)

		// a data change does not touch the children watch
		_, err = s.SetData(ctx, p, []byte("y"), coord.AnyVersion)
		require.NoError(t, err)
		_, err = s.SetData(ctx, p, []byte("z"), coord.AnyVersion)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(data.all()) == 1 }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, coord.WatchEvent{Type: coord.EventNodeDataChanged, Path: p}, data.all()[0])

		_, err = s.CreateSequentialEphemeral(ctx, "/g/n-", nil)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(children.all()) == 1 }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, coord.EventNodeChildrenChanged, children.all()[0].Type)

		time.Sleep(200 * time.Millisecond)
		assert.Len(t, data.all(), 1)
		assert.Len(t, children.all(), 1)
	})

	t.Run("revoked lease is a lost session", func(t *testing.T) {
		s := openStore(t, endpoints, "/session-test")
		var mu sync.Mutex
		var states []coord.SessionState
		cancel := s.SubscribeSession(func(st coord.SessionState) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, st)
		})
		defer cancel()

		p, err := s.CreateSequentialEphemeral(ctx, "/g/n-", nil)
		require.NoError(t, err)
		old := s.currentLease()
		_, err = s.client.Revoke(ctx, old)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(states) >= 2
		}, 10*time.Second, 20*time.Millisecond)
		mu.Lock()
		assert.Equal(t, []coord.SessionState{coord.SessionLost, coord.SessionReconnected}, states[:2])
		mu.Unlock()

		assert.True(t, s.Connected())
		assert.NotEqual(t, old, s.currentLease())
		_, _, err = s.GetData(ctx, p, nil)
		assert.ErrorIs(t, err, coord.ErrNoNode)
	})

	t.Run("renewed session retires the old lease", func(t *testing.T) {
		s := openStore(t, endpoints, "/retire-test")
		p, err := s.CreateSequentialEphemeral(ctx, "/g/n-", nil)
		require.NoError(t, err)
		old := s.currentLease()

		// the old lease is still alive server-side when the new one is granted
		require.NoError(t, s.grant(ctx))
		require.NotEqual(t, old, s.currentLease())
		s.retireLease(ctx, old)

		ttl, err := s.client.TimeToLive(ctx, old)
		require.NoError(t, err)
		assert.EqualValues(t, -1, ttl.TTL)
		require.Eventually(t, func() bool {
			_, _, err := s.GetData(ctx, p, nil)
			return errors.Is(err, coord.ErrNoNode)
		}, 5*time.Second, 20*time.Millisecond)

		// retiring an already revoked lease is harmless
		s.retireLease(ctx, old)
		require.Eventually(t, s.Connected, 10*time.Second, 20*time.Millisecond)
	})
}

func TestGroupOverEtcd(t *testing.T) {
	endpoints := startEtcd(t)

	newGroup := func(container string) *group.Group {
		s := openStore(t, endpoints, "/group-test")
		g := group.New(s, "/fleet/brokers", group.WithLogger(zaptest.NewLogger(t)))
		require.NoError(t, g.Start(t.Context()))
		t.Cleanup(func() { _ = g.Close(context.Background()) })
		require.NoError(t, g.Update(&group.NodeState{ID: "broker", Container: container}))
		return g
	}

	a := newGroup("a")
	require.Eventually(t, a.IsMaster, 10*time.Second, 20*time.Millisecond)
	b := newGroup("b")
	require.Eventually(t, func() bool { return len(b.Members()) == 2 && len(a.Members()) == 2 }, 10*time.Second, 20*time.Millisecond)
	assert.False(t, b.IsMaster())

	require.NoError(t, a.Close(context.Background()))
	require.Eventually(t, b.IsMaster, 10*time.Second, 20*time.Millisecond)
	assert.Len(t, b.Members(), 1)
}
