package syncmetrics

import (
	"math"
	"time"

	"github.com/meridiandb/coresync/pkg/bootstrap"
	"github.com/meridiandb/coresync/pkg/coordinator"
	"github.com/meridiandb/coresync/pkg/history"
	"github.com/meridiandb/coresync/pkg/pendingerror"
	"github.com/meridiandb/coresync/pkg/subscription"
)

// Collector polls a session's stores on a ticker and republishes their
// state as gauges, generalized from the teacher's manager-polling
// Collector to the stores one open sync session owns.
type Collector struct {
	coord        *coordinator.Coordinator
	hist         *history.ClientHistory
	bootstrap    *bootstrap.Store
	pendingError *pendingerror.Store
	subs         *subscription.Store

	stopCh chan struct{}
}

// NewCollector creates a collector over whichever stores are non-nil; a
// nil store is skipped during each collection pass.
func NewCollector(coord *coordinator.Coordinator, hist *history.ClientHistory, boot *bootstrap.Store, pe *pendingerror.Store, subs *subscription.Store) *Collector {
	return &Collector{
		coord:        coord,
		hist:         hist,
		bootstrap:    boot,
		pendingError: pe,
		subs:         subs,
		stopCh:       make(chan struct{}),
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
	c.collectCoordinator()
	c.collectHistory()
	c.collectBootstrap()
	c.collectPendingErrors()
	c.collectSubscription()
}

func (c *Collector) collectCoordinator() {
	if c.coord == nil {
		return
	}
	NotifierCount.Set(float64(c.coord.NotifierCount()))
}

func (c *Collector) collectHistory() {
	if c.hist == nil {
		return
	}
	n, err := c.hist.EntryCount()
	if err != nil {
		return
	}
	HistoryEntriesTotal.Set(float64(n))
}

func (c *Collector) collectBootstrap() {
	if c.bootstrap == nil {
		return
	}
	stats, err := c.bootstrap.PendingStats()
	if err != nil {
		return
	}
	PendingBootstrapChangesets.Set(float64(stats.PendingChangesets))
	PendingBootstrapBytes.Set(float64(stats.PendingChangesetBytes))
}

func (c *Collector) collectPendingErrors() {
	if c.pendingError == nil {
		return
	}
	pending, err := c.pendingError.PeekPendingErrors(math.MaxUint64)
	if err != nil {
		return
	}
	PendingErrorsTotal.Set(float64(len(pending)))
}

func (c *Collector) collectSubscription() {
	if c.subs == nil {
		return
	}
	active, found, err := c.subs.GetActive()
	if err != nil {
		return
	}
	for _, s := range []subscription.State{
		subscription.Uncommitted, subscription.Pending, subscription.Bootstrapping,
		subscription.AwaitingMark, subscription.Complete, subscription.Error,
	} {
		value := 0.0
		if found && active.State == s {
			value = 1.0
		}
		SubscriptionState.WithLabelValues(s.String()).Set(value)
	}
}
