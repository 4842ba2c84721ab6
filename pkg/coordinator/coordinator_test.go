package coordinator

import (
	"testing"

	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/notifier"
	"github.com/meridiandb/coresync/pkg/observer"
	"github.com/stretchr/testify/require"
)

func TestForPathReturnsSameInstance(t *testing.T) {
	defer Forget("/tmp/a.realm")
	c1 := ForPath("/tmp/a.realm", nil, func() keys.VersionID { return keys.VersionID{} })
	c2 := ForPath("/tmp/a.realm", nil, func() keys.VersionID { return keys.VersionID{Version: 99} })
	require.Same(t, c1, c2)
}

func TestForgetStopsAndRemoves(t *testing.T) {
	ForPath("/tmp/b.realm", nil, func() keys.VersionID { return keys.VersionID{} })
	_, ok := Lookup("/tmp/b.realm")
	require.True(t, ok)

	Forget("/tmp/b.realm")
	_, ok = Lookup("/tmp/b.realm")
	require.False(t, ok)
}

func TestTickRunsObserverAndNotifiers(t *testing.T) {
	table := keys.NewTableKey(1)

	replay := func(from, to keys.VersionID, obs observer.Observer) error {
		obs.SelectTable(table)
		obs.CreateObject(0)
		obs.ParseComplete()
		return nil
	}

	c := newCoordinator("/tmp/c.realm", replay, func() keys.VersionID { return keys.VersionID{Version: 1} })

	var delivered *changeset.CollectionChangeBuilder
	n := &notifier.ResultsNotifier{
		Table: table,
		Live:  func(keys.VersionID) ([]int64, bool) { return []int64{0}, true },
	}
	n.AddCallback(nil, func(c *changeset.CollectionChangeBuilder, deleted bool) { delivered = c }, nil)
	c.RegisterNotifier(n)

	require.NoError(t, c.Tick())
	require.Equal(t, keys.VersionID{Version: 1}, c.lastVersion)

	c.TargetAdvance()
	require.NotNil(t, delivered)
	require.True(t, delivered.Insertions.Contains(0))
}

func TestTickPropagatesReplayObserverError(t *testing.T) {
	replay := func(from, to keys.VersionID, obs observer.Observer) error {
		obs.EraseColumn(keys.NewColKey(keys.ColKeyParts{Tag: 1}))
		return nil
	}
	c := newCoordinator("/tmp/d.realm", replay, func() keys.VersionID { return keys.VersionID{Version: 1} })
	err := c.Tick()
	require.Error(t, err)
}

func TestPruneDeadNotifiersDropsZombies(t *testing.T) {
	c := newCoordinator("/tmp/e.realm", nil, func() keys.VersionID { return keys.VersionID{} })

	n1 := &notifier.ResultsNotifier{Live: func(keys.VersionID) ([]int64, bool) { return nil, true }}
	tok := n1.AddCallback(nil, func(*changeset.CollectionChangeBuilder, bool) {}, nil)
	n2 := &notifier.ResultsNotifier{Live: func(keys.VersionID) ([]int64, bool) { return nil, true }}
	n2.AddCallback(nil, func(*changeset.CollectionChangeBuilder, bool) {}, nil)

	c.RegisterNotifier(n1)
	c.RegisterNotifier(n2)
	require.Equal(t, 2, c.NotifierCount())

	n1.RemoveCallback(tok)
	c.PruneDeadNotifiers()
	require.Equal(t, 1, c.NotifierCount())
}

func TestNotifyCommitIsNonBlockingAndCoalesces(t *testing.T) {
	c := newCoordinator("/tmp/f.realm", nil, func() keys.VersionID { return keys.VersionID{} })
	c.NotifyCommit()
	c.NotifyCommit() // must not block even though the channel is buffered size 1
	require.Len(t, c.commitAvailable, 1)
}
