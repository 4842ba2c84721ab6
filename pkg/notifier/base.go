// Package notifier implements component D: the collection-notifier base
// shared by the three concrete notifier kinds (Results/List/Object), plus
// the callback bookkeeping the coordinator's worker and target threads hand
// off to each other every tick.
package notifier

import (
	"sync"
	"sync/atomic"

	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/keys"
)

// Callback is one registration against a notifier, grounded on the teacher's
// events.Subscriber (pkg/events/events.go) — a stable handle the worker
// accumulates changes against and the target thread drains — adapted from a
// channel-delivery model to the spec's synchronous pre/post hook model.
type Callback struct {
	token            uint64
	skipNext         bool
	initialDelivered bool
	keyPathFilter    map[keys.TableKey]bool

	pending *changeset.CollectionChangeBuilder
	deleted bool

	OnChange func(change *changeset.CollectionChangeBuilder, deleted bool)
	OnError  func(err error)
}

// Token returns the callback's stable removal handle.
func (c *Callback) Token() uint64 { return c.token }

// Deliverable is one callback's packaged result, ready for the target thread
// to hand to the callback's hooks.
type Deliverable struct {
	Callback *Callback
	Change   *changeset.CollectionChangeBuilder
	Deleted  bool
	Err      error
}

// Base is the state machine shared by every collection notifier (spec.md
// §4.D). Field grouping mirrors the spec's background-only / handover /
// target-only / atomic division; the coordinator is the only caller expected
// to cross those boundaries, always in the documented order:
// add_required_change_info -> run -> prepare_handover (worker side), then
// package_for_delivery -> before_advance -> deliver -> after_advance (target
// side).
type Base struct {
	mu sync.Mutex // guards callbacks and the target-only fields below

	// background-only
	lastSeenVersion keys.VersionID
	previousRows    []int64
	pendingChange   *changeset.CollectionChangeBuilder
	tableGone       bool
	runErr          error

	// handover
	handoverRows []int64
	handoverErr  error
	haveHandover bool

	// target-only
	deliveredRows []int64
	callbacks     []*Callback
	nextToken     uint64

	// cross-thread atomics
	haveCallbacks int32
	hasRun        int32
}

// AddCallback registers a new callback and returns its stable token.
func (b *Base) AddCallback(keyPathFilter map[keys.TableKey]bool, onChange func(*changeset.CollectionChangeBuilder, bool), onError func(error)) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextToken++
	cb := &Callback{token: b.nextToken, keyPathFilter: keyPathFilter, OnChange: onChange, OnError: onError}
	b.callbacks = append(b.callbacks, cb)
	atomic.StoreInt32(&b.haveCallbacks, 1)
	return cb.token
}

// RemoveCallback drops the callback identified by token. Removal
// mid-delivery doesn't need an adjusted iteration cursor here: PackageForDelivery
// snapshots each callback's packaged Deliverable under the lock before
// AfterAdvance ever calls out to user code, and AfterAdvance walks that
// snapshot, so removing one callback never makes another one be skipped.
// A callback removed after PackageForDelivery has packaged it (for example
// by an earlier callback running inside AfterAdvance) is still invoked once
// from that snapshot; later deliveries no longer include it.
func (b *Base) RemoveCallback(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cb := range b.callbacks {
		if cb.token != token {
			continue
		}
		b.callbacks = append(b.callbacks[:i], b.callbacks[i+1:]...)
		break
	}
	if len(b.callbacks) == 0 {
		atomic.StoreInt32(&b.haveCallbacks, 0)
	}
}

// SkipNextFor marks that the next diff delivered to token should be dropped
// (used so a thread that just wrote doesn't get its own write echoed back).
func (b *Base) SkipNextFor(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cb := range b.callbacks {
		if cb.token == token {
			cb.skipNext = true
			return
		}
	}
}

// HaveCallbacks reports whether any callback is registered. Once this goes
// false the notifier is a zombie: the user-facing collection must drop its
// handle and recreate the notifier before next use.
func (b *Base) HaveCallbacks() bool { return atomic.LoadInt32(&b.haveCallbacks) == 1 }

// HasRun reports whether run() has executed at least once.
func (b *Base) HasRun() bool { return atomic.LoadInt32(&b.hasRun) == 1 }

// NeedsRerun reports whether run() should do real work: it returns false
// only when the notifier already ran at exactly this version and no rerun
// is being forced.
func (b *Base) NeedsRerun(version keys.VersionID, force bool) bool {
	return force || b.lastSeenVersion.IsZero() || b.lastSeenVersion.Compare(version) != 0
}

// recordRun stores the result of a successful run() (worker-side only).
func (b *Base) recordRun(version keys.VersionID, rows []int64, change *changeset.CollectionChangeBuilder) {
	b.lastSeenVersion = version
	b.previousRows = rows
	b.pendingChange = change
	atomic.StoreInt32(&b.hasRun, 1)
}

// recordTableGone stores the "every row deleted" result run() reports when
// its table no longer exists (spec.md §4.D).
func (b *Base) recordTableGone(version keys.VersionID) {
	cb := changeset.NewCollectionChangeBuilder()
	cb.Deletions.Set(len(b.previousRows))
	cb.RootDeleted = true
	b.tableGone = true
	b.recordRun(version, nil, cb)
}

// recordRunError stores a failed run() (schema mismatch, query parse error);
// propagated to every callback on the next delivery instead of a diff.
func (b *Base) recordRunError(err error) {
	b.runErr = err
	atomic.StoreInt32(&b.hasRun, 1)
}

// PreviousRows returns the row set from the most recent run, for a subclass
// to diff against.
func (b *Base) PreviousRows() []int64 { return b.previousRows }

// PrepareHandover folds this tick's pending change into every callback's
// accumulator (worker-side). It runs even when the diff is empty, so that
// any callback's skip-next flag is still cleared (spec.md §4.D).
func (b *Base) PrepareHandover() {
	b.mu.Lock()
	defer b.mu.Unlock()

	change := b.pendingChange
	if change == nil {
		change = changeset.NewCollectionChangeBuilder()
	}

	for _, cb := range b.callbacks {
		if cb.skipNext {
			cb.skipNext = false
			continue
		}
		if cb.pending == nil {
			cb.pending = change
		} else {
			cb.pending = changeset.Merge(len(b.deliveredRows), cb.pending, change)
		}
		cb.deleted = cb.deleted || change.RootDeleted
	}

	b.handoverRows = b.previousRows
	b.handoverErr = b.runErr
	b.haveHandover = true
	b.pendingChange = nil
	b.runErr = nil
}

// PackageForDelivery gathers, under the notifier lock, what each callback
// should receive this target-thread advance, clearing each callback's
// accumulator. Call order per tick: PackageForDelivery, then (elsewhere)
// Deliver, then AfterAdvance with the returned slice.
func (b *Base) PackageForDelivery() []Deliverable {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Deliverable
	for _, cb := range b.callbacks {
		if b.handoverErr != nil {
			out = append(out, Deliverable{Callback: cb, Err: b.handoverErr})
			continue
		}
		if cb.pending == nil && cb.initialDelivered {
			continue
		}
		change := cb.pending
		if change == nil {
			change = changeset.NewCollectionChangeBuilder()
		}
		out = append(out, Deliverable{Callback: cb, Change: change, Deleted: cb.deleted})
		cb.pending = nil
		cb.deleted = false
		cb.initialDelivered = true
	}
	return out
}

// BeforeAdvance does nothing: Callback carries no pre-advance hook. It is
// kept so the target-thread advance
// sequence matches spec.md §4.D's before_advance/after_advance pair exactly.
func BeforeAdvance(deliverables []Deliverable) {}

// AfterAdvance invokes each callback's OnChange/OnError with its packaged
// result.
func AfterAdvance(deliverables []Deliverable) {
	for _, d := range deliverables {
		if d.Err != nil {
			if d.Callback.OnError != nil {
				d.Callback.OnError(d.Err)
			}
			continue
		}
		if d.Callback.OnChange != nil {
			d.Callback.OnChange(d.Change, d.Deleted)
		}
	}
}

// Deliver installs the handed-over row set for consumption by the
// user-facing collection (target-thread, under the notifier lock).
func (b *Base) Deliver() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.haveHandover {
		return
	}
	b.deliveredRows = b.handoverRows
	b.haveHandover = false
}

// DeliveredRows returns the row set last installed by Deliver.
func (b *Base) DeliveredRows() []int64 { return b.deliveredRows }

// ReleaseData drops query/view references when the owning file is closing
// (worker-side).
func (b *Base) ReleaseData() {
	b.previousRows = nil
	b.pendingChange = nil
	b.handoverRows = nil
}

// DeliverError propagates a terminal failure to every registered callback
// and empties the callback list (spec.md §4.D failure semantics).
func (b *Base) DeliverError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cb := range b.callbacks {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}
	b.callbacks = nil
	atomic.StoreInt32(&b.haveCallbacks, 0)
}
