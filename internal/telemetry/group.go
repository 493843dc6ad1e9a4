package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ryandielhenn/zephyrgroup/pkg/group"
)

// GroupMetrics records group worker activity. Every series is labeled by
// the group path.
type GroupMetrics struct {
	operations       *prometheus.CounterVec
	opDuration       *prometheus.HistogramVec
	dropped          *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	members          *prometheus.GaugeVec
	master           *prometheus.GaugeVec
	events           *prometheus.CounterVec
	listenerFailures *prometheus.CounterVec
}

var _ group.Metrics = (*GroupMetrics)(nil)

func NewGroupMetrics(reg prometheus.Registerer) *GroupMetrics {
	m := &GroupMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "group",
				Name:      "operations_total",
				Help:      "Operations executed by the group worker.",
			},
			[]string{"group", "op", "result"},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "group",
				Name:      "operation_duration_seconds",
				Help:      "Latency of group worker operations.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"group", "op"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "group",
				Name:      "operations_coalesced_total",
				Help:      "Operations dropped because an equal one was already queued.",
			},
			[]string{"group", "op"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "group",
				Name:      "queue_depth",
				Help:      "Operations waiting for the group worker.",
			},
			[]string{"group"},
		),
		members: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "group",
				Name:      "active_members",
				Help:      "Ready members after identity collapsing.",
			},
			[]string{"group"},
		),
		master: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "group",
				Name:      "is_master",
				Help:      "1 while this process is the group master.",
			},
			[]string{"group"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "group",
				Name:      "events_total",
				Help:      "Events delivered to group listeners.",
			},
			[]string{"group", "event"},
		),
		listenerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "group",
				Name:      "listener_failures_total",
				Help:      "Listener invocations that returned an error or panicked.",
			},
			[]string{"group"},
		),
	}
	reg.MustRegister(
		m.operations, m.opDuration, m.dropped, m.queueDepth,
		m.members, m.master, m.events, m.listenerFailures,
	)
	return m
}

func (m *GroupMetrics) ObserveOperation(g, op string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(g, op, result).Inc()
	m.opDuration.WithLabelValues(g, op).Observe(elapsed.Seconds())
}

func (m *GroupMetrics) DropOperation(g, op string) {
	m.dropped.WithLabelValues(g, op).Inc()
}

func (m *GroupMetrics) SetQueueDepth(g string, depth int) {
	m.queueDepth.WithLabelValues(g).Set(float64(depth))
}

func (m *GroupMetrics) SetMembers(g string, active int) {
	m.members.WithLabelValues(g).Set(float64(active))
}

func (m *GroupMetrics) SetMaster(g string, master bool) {
	v := 0.0
	if master {
		v = 1
	}
	m.master.WithLabelValues(g).Set(v)
}

func (m *GroupMetrics) CountEvent(g, event string) {
	m.events.WithLabelValues(g, event).Inc()
}

func (m *GroupMetrics) CountListenerFailure(g string) {
	m.listenerFailures.WithLabelValues(g).Inc()
}
