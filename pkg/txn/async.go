package txn

import (
	"context"
	"errors"
	"sync"

	"github.com/meridiandb/coresync/pkg/observer"
)

// AsyncStage is one state of the async write-acquisition sub-machine
// (spec.md §4.F "Async write mode"), protected by its own mutex/condition
// variable so a synchronous writer on another transaction is never blocked
// by a transaction merely waiting its turn.
type AsyncStage int

const (
	AsyncIdle AsyncStage = iota
	AsyncRequesting
	AsyncHasLock
	AsyncHasCommits
	AsyncSyncing
)

func (s AsyncStage) String() string {
	switch s {
	case AsyncIdle:
		return "idle"
	case AsyncRequesting:
		return "requesting"
	case AsyncHasLock:
		return "has_lock"
	case AsyncHasCommits:
		return "has_commits"
	case AsyncSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// ErrAsyncCanceled is returned to an in-flight RequestWriteAsync caller
// whose wait was canceled by PrepareForClose.
var ErrAsyncCanceled = errors.New("txn: async write request canceled")

type asyncState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	stage    AsyncStage
	canceled bool
}

func (a *asyncState) ensureCond() *sync.Cond {
	if a.cond == nil {
		a.cond = sync.NewCond(&a.mu)
	}
	return a.cond
}

// AsyncStage reports the current position in the async write-acquisition
// sub-machine.
func (t *Transaction) AsyncStage() AsyncStage {
	t.async.mu.Lock()
	defer t.async.mu.Unlock()
	return t.async.stage
}

// RequestWriteAsync requests the write lock: it promotes to Writing in a
// background goroutine and waits for that promotion to finish or for ctx to
// be done, whichever comes first; it does not return before one of the two.
// On success the stage is AsyncHasLock when it returns. This call performs
// the Requesting -> HasLock step of spec.md's Requesting -> HasLock ->
// HasCommits -> Syncing -> Idle sequence.
func (t *Transaction) RequestWriteAsync(ctx context.Context, obs observer.Observer) error {
	if err := t.requireStage("request_write_async", Reading); err != nil {
		return err
	}
	t.async.mu.Lock()
	if t.async.stage != AsyncIdle {
		t.async.mu.Unlock()
		return errors.New("txn: async write already in progress")
	}
	t.async.stage = AsyncRequesting
	t.async.canceled = false
	cond := t.async.ensureCond()
	t.async.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- t.PromoteToWrite(obs)
	}()

	select {
	case err := <-errCh:
		t.async.mu.Lock()
		defer t.async.mu.Unlock()
		if t.async.canceled {
			return ErrAsyncCanceled
		}
		if err != nil {
			t.async.stage = AsyncIdle
			cond.Broadcast()
			return err
		}
		t.async.stage = AsyncHasLock
		cond.Broadcast()
		return nil
	case <-ctx.Done():
		// The promote goroutine still owns the outcome; record the
		// intent to cancel so it resolves to ErrAsyncCanceled once it
		// finishes instead of silently leaving HasLock unreachable.
		t.async.mu.Lock()
		t.async.canceled = true
		t.async.mu.Unlock()
		return ctx.Err()
	}
}

// AwaitLock blocks until the write lock has been acquired (AsyncHasLock or
// later) or ctx is done.
func (t *Transaction) AwaitLock(ctx context.Context) error {
	t.async.mu.Lock()
	cond := t.async.ensureCond()
	for t.async.stage == AsyncRequesting {
		if ctx.Err() != nil {
			t.async.mu.Unlock()
			return ctx.Err()
		}
		cond.Wait()
	}
	stage := t.async.stage
	t.async.mu.Unlock()
	if stage == AsyncIdle {
		return errors.New("txn: async write request failed")
	}
	return nil
}

// MarkCommitted records that a commit has landed while in async write mode
// (HasLock -> HasCommits), for async_complete_writes to later sync.
func (t *Transaction) MarkCommitted() {
	t.async.mu.Lock()
	defer t.async.mu.Unlock()
	if t.async.stage == AsyncHasLock {
		t.async.stage = AsyncHasCommits
	}
}

// AsyncCompleteWrites fsync-synchronizes all writes performed so far
// (HasCommits -> Syncing -> Idle), invoking onSync with the result.
func (t *Transaction) AsyncCompleteWrites(onSync func(error)) {
	t.async.mu.Lock()
	if t.async.stage != AsyncHasCommits {
		t.async.mu.Unlock()
		if onSync != nil {
			onSync(errors.New("txn: async_complete_writes with no pending commits"))
		}
		return
	}
	t.async.stage = AsyncSyncing
	t.async.mu.Unlock()

	// bbolt fsyncs on every Commit by default, so by the time MarkCommitted
	// ran the data was already durable; Syncing here is a bookkeeping state,
	// not an additional fsync call.
	if onSync != nil {
		onSync(nil)
	}

	t.async.mu.Lock()
	t.async.stage = AsyncIdle
	t.async.cond.Broadcast()
	t.async.mu.Unlock()
}

// PrepareForClose drains pending async work, canceling an in-flight
// RequestWriteAsync if present.
func (t *Transaction) PrepareForClose() {
	t.async.mu.Lock()
	defer t.async.mu.Unlock()
	if t.async.stage == AsyncRequesting {
		t.async.canceled = true
	}
	if t.async.cond != nil {
		for t.async.stage == AsyncRequesting {
			t.async.cond.Wait()
		}
	}
	t.async.stage = AsyncIdle
}
