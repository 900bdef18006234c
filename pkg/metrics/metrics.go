package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	RaftRole = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_role",
			Help: "Current role of this node (2=leader, 0=follower or candidate)",
		},
	)

	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_term",
			Help: "Current term of this node",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_peers_total",
			Help: "Total number of voting peers in the current configuration",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_log_last_index",
			Help: "Highest log index held by this node",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_commit_index",
			Help: "Current commit index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_applied_index",
			Help: "Last applied log index",
		},
	)

	RaftSnapshotIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_snapshot_last_index",
			Help: "Highest log index folded into the most recent snapshot",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftcore_api_requests_total",
			Help: "Total number of client API requests by kind and status",
		},
		[]string{"kind", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftcore_api_request_duration_seconds",
			Help:    "Client API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Raft operation metrics
	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftcore_apply_duration_seconds",
			Help:    "Time taken for the FSM to apply a committed log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftcore_commit_duration_seconds",
			Help:    "Time from a client submit to its entry committing",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftcore_elections_total",
			Help: "Total number of elections this node has started",
		},
	)

	RaftSnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftcore_snapshots_total",
			Help: "Total number of snapshots taken or installed, by direction",
		},
		[]string{"direction"}, // "taken" or "installed"
	)

	RaftMembershipChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftcore_membership_changes_total",
			Help: "Total number of committed membership changes",
		},
	)

	RaftTransportErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftcore_transport_errors_total",
			Help: "Total number of transport-level send failures, by peer",
		},
		[]string{"peer"},
	)
)

func init() {
	prometheus.MustRegister(RaftRole)
	prometheus.MustRegister(RaftTerm)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftCommitIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftSnapshotIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(RaftElectionsTotal)
	prometheus.MustRegister(RaftSnapshotsTotal)
	prometheus.MustRegister(RaftMembershipChangesTotal)
	prometheus.MustRegister(RaftTransportErrorsTotal)
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
