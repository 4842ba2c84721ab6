// Package coordinator implements component E: the per-file background
// worker that drives every registered notifier through one diff pump per
// tick, and hands the packaged results to target threads on advance.
package coordinator

import (
	"sync"
	"time"

	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/events"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/notifier"
	"github.com/meridiandb/coresync/pkg/observer"
)

// Notifier is the subset of pkg/notifier's three concrete notifier kinds the
// coordinator drives; ResultsNotifier, ListNotifier and ObjectNotifier all
// satisfy it.
type Notifier interface {
	AddRequiredChangeInfo(info *changeset.TransactionChangeInfo)
	Run(version keys.VersionID, info *changeset.TransactionChangeInfo, force bool)
	PrepareHandover()
	PackageForDelivery() []notifier.Deliverable
	Deliver()
	HaveCallbacks() bool
}

// ReplayFunc runs the transaction-log observer over every committed log
// entry between from and to, populating info. Supplied by whatever owns the
// storage engine (pkg/dbengine); the coordinator itself has no storage
// knowledge.
type ReplayFunc func(from, to keys.VersionID, obs observer.Observer) error

// LatestVersionFunc returns the most recently committed snapshot version.
type LatestVersionFunc func() keys.VersionID

// Coordinator owns one background worker shared by every notifier open
// against a single file, grounded on the teacher's Manager (owns store +
// FSM + event broker + background pieces, one per node, pkg/manager/
// manager.go) and its ticker-driven Collector (pkg/metrics/collector.go),
// generalized from one cluster node to one open database file.
type Coordinator struct {
	path   string
	replay ReplayFunc
	latest LatestVersionFunc

	mu          sync.Mutex
	notifiers   []Notifier
	lastVersion keys.VersionID
	broker      *events.Broker

	commitAvailable chan struct{}
	stopCh          chan struct{}
}

// SetEventBroker attaches broker so NotifyCommit publishes a CommitAvailable
// notification a host application can subscribe to (pkg/events); Tick
// publishes nothing. Optional:
// a Coordinator with no broker attached behaves exactly as before.
func (c *Coordinator) SetEventBroker(broker *events.Broker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broker = broker
}

func newCoordinator(path string, replay ReplayFunc, latest LatestVersionFunc) *Coordinator {
	return &Coordinator{
		path:            path,
		replay:          replay,
		latest:          latest,
		commitAvailable: make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
}

// RegisterNotifier adds n to the set driven by the next tick.
func (c *Coordinator) RegisterNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiers = append(c.notifiers, n)
}

// PruneDeadNotifiers drops every registered notifier that has lost all of
// its callbacks. Go has no weak references, so unlike the teacher's direct
// equivalent the coordinator sweeps explicitly instead of relying on
// GC-observed expiry; the user-facing collection is expected to call this
// after dropping its handle. Tick does not prune.
func (c *Coordinator) PruneDeadNotifiers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := c.notifiers[:0]
	for _, n := range c.notifiers {
		if n.HaveCallbacks() {
			live = append(live, n)
		}
	}
	c.notifiers = live
}

// NotifierCount reports how many notifiers are currently registered.
func (c *Coordinator) NotifierCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notifiers)
}

// Start launches the background worker: it ticks on interval and whenever
// NotifyCommit wakes it, until Stop is called.
func (c *Coordinator) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				_ = c.Tick()
			case <-c.commitAvailable:
				_ = c.Tick()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the background worker.
func (c *Coordinator) Stop() {
	close(c.stopCh)
}

// NotifyCommit sets the commit-available flag, waking the worker to
// recompute diffs for other Realms' notifiers on this file (spec.md §4.E
// "commit broadcast"). Non-blocking: a pending wake is coalesced if the
// worker hasn't consumed the last one yet.
func (c *Coordinator) NotifyCommit() {
	select {
	case c.commitAvailable <- struct{}{}:
	default:
	}
	c.mu.Lock()
	broker := c.broker
	path := c.path
	c.mu.Unlock()
	if broker != nil {
		broker.Publish(events.New(events.CommitAvailable, "local commit observed").WithMetadata("path", path))
	}
}

// Tick runs one background diff pump (spec.md §4.E, coordination protocol
// steps 1-4; step 5, "signal the target threads", is the caller's
// responsibility once Tick returns — typically by waking an event-loop
// handle per open Realm).
func (c *Coordinator) Tick() error {
	c.mu.Lock()
	notifiers := append([]Notifier(nil), c.notifiers...)
	from := c.lastVersion
	c.mu.Unlock()

	vNew := c.latest()

	info := changeset.NewTransactionChangeInfo()
	for _, n := range notifiers {
		n.AddRequiredChangeInfo(info)
	}

	if c.replay != nil {
		obs := observer.NewChangeInfoObserver(info)
		if err := c.replay(from, vNew, obs); err != nil {
			return err
		}
		if err := obs.Err(); err != nil {
			return err
		}
	}

	for _, n := range notifiers {
		n.Run(vNew, info, false)
		n.PrepareHandover()
	}

	c.mu.Lock()
	c.lastVersion = vNew
	c.mu.Unlock()
	return nil
}

// TargetAdvance runs the target-thread advance sequence for every
// registered notifier (spec.md §4.E): package_for_delivery, then the
// packaged version becomes current (Deliver), then before/after_advance
// fire around it. Returns every callback's packaged delivery so the caller
// can fire its binding-context hooks (changes_available / did_change /
// will_send_notifications / did_send_notifications).
func (c *Coordinator) TargetAdvance() []notifier.Deliverable {
	c.mu.Lock()
	notifiers := append([]Notifier(nil), c.notifiers...)
	c.mu.Unlock()

	var all []notifier.Deliverable
	for _, n := range notifiers {
		d := n.PackageForDelivery()
		notifier.BeforeAdvance(d)
		n.Deliver()
		notifier.AfterAdvance(d)
		all = append(all, d...)
	}
	return all
}
