package metrics

import (
	"time"
)

// StatsSource is the slice of the cluster manager the collector polls.
// Declared here so the collector does not depend on pkg/cluster.
type StatsSource interface {
	IsLeader() bool
	RaftStats() (lastIndex, appliedIndex, peers uint64)
	EntityCounts() map[string]int
}

// Collector periodically refreshes the catalog and Raft gauges.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a collector over the given source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting every 15 seconds, with one immediate collection.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	lastIndex, appliedIndex, peers := c.source.RaftStats()
	RaftLogIndex.Set(float64(lastIndex))
	RaftAppliedIndex.Set(float64(appliedIndex))
	RaftPeers.Set(float64(peers))

	for kind, count := range c.source.EntityCounts() {
		EntitiesTotal.WithLabelValues(kind).Set(float64(count))
	}
}
