package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
	"github.com/ryandielhenn/zephyrgroup/pkg/group"
)

func TestInstrumentRecordsStatusClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	h := m.Instrument("members", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			http.Error(w, "nope", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, target := range []string{"/members", "/members", "/members?fail=1"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("members", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("members", "5xx")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight.WithLabelValues("members")))
}

func TestGroupMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGroupMetrics(reg)

	m.ObserveOperation("/g", "refresh", time.Millisecond, nil)
	m.ObserveOperation("/g", "refresh", time.Millisecond, errors.New("x"))
	m.DropOperation("/g", "refresh")
	m.SetMaster("/g", true)
	m.SetMembers("/g", 3)
	m.CountListenerFailure("/g")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("/g", "refresh", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("/g", "refresh", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("/g", "refresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.master.WithLabelValues("/g")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.members.WithLabelValues("/g")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listenerFailures.WithLabelValues("/g")))

	m.SetMaster("/g", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.master.WithLabelValues("/g")))
}

func TestGroupMetricsFollowALiveGroup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGroupMetrics(reg)

	store := coord.NewMemStore()
	session := store.Session()
	defer session.Close()

	g := group.New(session, "/fleet/metrics", group.WithMetrics(m), group.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, g.Start(context.Background()))
	defer g.Close(context.Background())

	require.NoError(t, g.Update(&group.NodeState{ID: "svc"}))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.master.WithLabelValues("/fleet/metrics")) == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.members.WithLabelValues("/fleet/metrics")))
	assert.Positive(t, testutil.ToFloat64(m.events.WithLabelValues("/fleet/metrics", "CHANGED")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	reg := NewRegistry("v1.2.3", "abc123")
	NewGroupMetrics(reg).SetMembers("/g", 2)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `zephyrgroup_build_info{git_sha="abc123",version="v1.2.3"} 1`))
	assert.True(t, strings.Contains(body, `zephyrgroup_group_active_members{group="/g"} 2`))
	assert.True(t, strings.Contains(body, "zephyrgroup_uptime_seconds"))
}
