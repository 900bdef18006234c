package metrics

import "time"

// ClusterStats is the subset of node state the collector samples on
// each tick. A concrete Node satisfies this without the metrics
// package needing to import it back.
type ClusterStats interface {
	IsLeader() bool
	PeerCount() int
	LastLogIndex() uint64
	CommitIndex() uint64
	AppliedIndex() uint64
	SnapshotIndex() uint64
	Term() uint64
}

// Collector periodically samples a running node's Raft state into the
// package-level Prometheus gauges.
type Collector struct {
	stats  ClusterStats
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for stats.
func NewCollector(stats ClusterStats) *Collector {
	return &Collector{
		stats:  stats,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every interval until Stop is called.
func (c *Collector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.stats.IsLeader() {
		RaftRole.Set(2)
	} else {
		RaftRole.Set(0)
	}
	RaftTerm.Set(float64(c.stats.Term()))
	RaftPeers.Set(float64(c.stats.PeerCount()))
	RaftLogIndex.Set(float64(c.stats.LastLogIndex()))
	RaftCommitIndex.Set(float64(c.stats.CommitIndex()))
	RaftAppliedIndex.Set(float64(c.stats.AppliedIndex()))
	RaftSnapshotIndex.Set(float64(c.stats.SnapshotIndex()))
}
