// Package metrics exposes Virtus's Prometheus instrumentation: catalog
// entity counts, Raft health, API traffic, routing decisions, and effector
// latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics
	EntitiesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "virtus_entities_total",
			Help: "Total number of catalog entities by kind",
		},
		[]string{"kind"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "virtus_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "virtus_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "virtus_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "virtus_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "virtus_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virtus_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "virtus_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Routing metrics
	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virtus_routing_decisions_total",
			Help: "Total number of routing decisions by action",
		},
		[]string{"action"},
	)

	ForwardedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "virtus_forwarded_requests_total",
			Help: "Total number of requests forwarded to another cluster member",
		},
	)

	// Effector metrics
	EffectorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "virtus_effector_duration_seconds",
			Help:    "Host effector call duration in seconds by effector and operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"effector", "op"},
	)

	EffectorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virtus_effector_failures_total",
			Help: "Total number of failed effector calls by effector and operation",
		},
		[]string{"effector", "op"},
	)

	// Peer cache metrics
	PeerDialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virtus_peer_dials_total",
			Help: "Total number of outbound peer dials by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(EntitiesTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RoutingDecisionsTotal)
	prometheus.MustRegister(ForwardedRequestsTotal)
	prometheus.MustRegister(EffectorDuration)
	prometheus.MustRegister(EffectorFailuresTotal)
	prometheus.MustRegister(PeerDialsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
