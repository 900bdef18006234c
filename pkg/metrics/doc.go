/*
Package metrics provides Prometheus metrics collection and exposition for a
raftcore node.

The metrics package defines and registers node metrics using the Prometheus
client library, giving observability into leadership, log progress, and
client-facing request latency. Metrics are exposed via an HTTP endpoint for
scraping by Prometheus servers.

# Metrics Catalog

Cluster Metrics:

raftcore_role:
  - Type: Gauge
  - Description: Current role of this node (2=leader, 0=follower or candidate; candidates are not reported separately)

raftcore_term:
  - Type: Gauge
  - Description: Current term of this node

raftcore_peers_total:
  - Type: Gauge
  - Description: Total voting peers in the current configuration

raftcore_log_last_index:
  - Type: Gauge
  - Description: Highest log index held by this node

raftcore_commit_index:
  - Type: Gauge
  - Description: Current commit index

raftcore_applied_index:
  - Type: Gauge
  - Description: Last applied log index

raftcore_snapshot_last_index:
  - Type: Gauge
  - Description: Highest log index folded into the most recent snapshot

API Metrics:

raftcore_api_requests_total{kind, status}:
  - Type: Counter
  - Description: Total client API requests by kind (apply/barrier/change/transfer) and status

raftcore_api_request_duration_seconds{kind}:
  - Type: Histogram
  - Description: Client API request duration in seconds

Raft Operation Metrics:

raftcore_apply_duration_seconds:
  - Type: Histogram
  - Description: Time for the FSM to apply a committed entry

raftcore_commit_duration_seconds:
  - Type: Histogram
  - Description: Time from a client submit to its entry committing

raftcore_elections_total:
  - Type: Counter
  - Description: Total elections this node has started

raftcore_snapshots_total{direction}:
  - Type: Counter
  - Description: Total snapshots taken or installed, by direction ("taken"/"installed")

raftcore_membership_changes_total:
  - Type: Counter
  - Description: Total committed membership changes

raftcore_transport_errors_total{peer}:
  - Type: Counter
  - Description: Total transport send failures, by peer

# Usage

	import "github.com/cuemby/raftcore/pkg/metrics"

	timer := metrics.NewTimer()
	// ... commit an entry ...
	timer.ObserveDuration(metrics.RaftCommitDuration)

	http.Handle("/metrics", metrics.Handler())

# Health Endpoints

HealthHandler, ReadyHandler, and LivenessHandler back raftd's /health,
/ready, and /live endpoints. Both reports are consensus-aware: the
node wires in a RaftHealth snapshot via SetRaftStatus and per-collaborator
Probe functions via RegisterProbe, and readiness requires every probe
to pass plus an elected leader to route writes to.

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
