package notifier

import (
	"testing"

	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/stretchr/testify/require"
)

func TestRemoveCallbackDuringIterationDoesNotSkip(t *testing.T) {
	var base Base
	var delivered []uint64

	tokA := base.AddCallback(nil, func(*changeset.CollectionChangeBuilder, bool) { delivered = append(delivered, 1) }, nil)
	tokB := base.AddCallback(nil, func(*changeset.CollectionChangeBuilder, bool) { delivered = append(delivered, 2) }, nil)
	tokC := base.AddCallback(nil, func(*changeset.CollectionChangeBuilder, bool) { delivered = append(delivered, 3) }, nil)

	// Remove the middle callback, simulating a callback that unregisters
	// itself while the coordinator is mid-delivery to the others.
	base.RemoveCallback(tokB)

	require.Len(t, base.callbacks, 2)
	require.Equal(t, tokA, base.callbacks[0].token)
	require.Equal(t, tokC, base.callbacks[1].token)
	require.True(t, base.HaveCallbacks())

	base.RemoveCallback(tokA)
	base.RemoveCallback(tokC)
	require.False(t, base.HaveCallbacks(), "removing every callback makes the notifier a zombie")
}

func TestPrepareHandoverClearsSkipNextEvenWhenEmpty(t *testing.T) {
	var base Base
	var changes int
	tok := base.AddCallback(nil, func(*changeset.CollectionChangeBuilder, bool) { changes++ }, nil)
	base.SkipNextFor(tok)

	base.pendingChange = nil // empty diff this tick
	base.PrepareHandover()

	require.Nil(t, base.callbacks[0].pending, "skipped tick must not accumulate a pending change")
	require.False(t, base.callbacks[0].skipNext, "skip_next must clear even on an empty diff")
}

func TestPackageForDeliveryAndAfterAdvance(t *testing.T) {
	var base Base
	var gotChange *changeset.CollectionChangeBuilder
	var gotDeleted bool
	base.AddCallback(nil, func(c *changeset.CollectionChangeBuilder, deleted bool) {
		gotChange = c
		gotDeleted = deleted
	}, nil)

	cb := changeset.NewCollectionChangeBuilder()
	cb.Insertions.Add(0)
	base.pendingChange = cb
	base.PrepareHandover()

	deliverables := base.PackageForDelivery()
	require.Len(t, deliverables, 1)
	base.Deliver()
	AfterAdvance(deliverables)

	require.NotNil(t, gotChange)
	require.True(t, gotChange.Insertions.Contains(0))
	require.False(t, gotDeleted)
}

func TestDeliverErrorPropagatesAndClearsCallbacks(t *testing.T) {
	var base Base
	var gotErr error
	base.AddCallback(nil, nil, func(err error) { gotErr = err })

	base.DeliverError(assertableErr{"schema mismatch"})
	require.Error(t, gotErr)
	require.False(t, base.HaveCallbacks())
}

type assertableErr struct{ msg string }

func (e assertableErr) Error() string { return e.msg }

func TestResultsNotifierDetectsInsertAndRespectsInTableOrder(t *testing.T) {
	table := keys.NewTableKey(1)
	var version int

	n := &ResultsNotifier{
		Table:        table,
		InTableOrder: true,
		Modified:     func(int64) bool { return false },
	}
	n.Live = func(keys.VersionID) ([]int64, bool) {
		version++
		if version == 1 {
			return []int64{10, 20}, true
		}
		return []int64{10, 15, 20}, true
	}

	n.Run(keys.VersionID{Version: 1}, nil, false)
	require.Equal(t, []int64{10, 20}, n.PreviousRows())

	n.Run(keys.VersionID{Version: 2}, nil, false)
	require.Equal(t, []int64{10, 15, 20}, n.PreviousRows())
	require.True(t, n.HasRun())
	require.True(t, n.pendingChange.Insertions.Contains(1), "15 is reported as inserted at index 1")
	require.Empty(t, n.pendingChange.Moves, "rows 10 and 20 keep their table order, so nothing moved")

	// Same version again, no force: must not rerun (Live would bump version
	// and break the assertion below if it did).
	n.Run(keys.VersionID{Version: 2}, nil, false)
	require.Equal(t, 2, version)
}

func TestResultsNotifierTableGoneReportsAllDeleted(t *testing.T) {
	n := &ResultsNotifier{
		Table: keys.NewTableKey(1),
		Live:  func(keys.VersionID) ([]int64, bool) { return nil, false },
	}
	n.previousRows = []int64{1, 2, 3}
	n.Run(keys.VersionID{Version: 1}, nil, false)

	require.True(t, n.tableGone)
	require.Equal(t, 3, n.pendingChange.Deletions.Count())
	require.True(t, n.pendingChange.RootDeleted)
}
