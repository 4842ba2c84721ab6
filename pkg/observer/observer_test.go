package observer

import (
	"testing"

	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/stretchr/testify/require"
)

func TestChangeInfoObserverTableLifecycle(t *testing.T) {
	info := changeset.NewTransactionChangeInfo()
	info.TrackAll = true
	o := NewChangeInfoObserver(info)

	table := keys.NewTableKey(1)
	col := keys.NewColKey(keys.ColKeyParts{Tag: 7})
	objA := keys.ObjKey(1)
	objB := keys.ObjKey(2)

	require.True(t, o.SelectTable(table))
	require.True(t, o.CreateObject(objA))
	require.True(t, o.CreateObject(objB))
	require.True(t, o.ModifyObject(col, objB))
	require.True(t, o.RemoveObject(objA))

	cs := info.Tables[table]
	require.NotNil(t, cs)
	require.True(t, cs.Insertions[objB])
	require.False(t, cs.Insertions[objA], "objA was created then removed within the same span")
	require.False(t, cs.Deletions[objA], "objA never existed before this span, so removing it is not a deletion")
	require.Contains(t, cs.Modifications[objB], col)
}

func TestChangeInfoObserverRemoveScrubsLists(t *testing.T) {
	info := changeset.NewTransactionChangeInfo()
	info.TrackAll = true
	o := NewChangeInfoObserver(info)

	table := keys.NewTableKey(1)
	col := keys.NewColKey(keys.ColKeyParts{Tag: 2})
	obj := keys.ObjKey(5)
	info.RequireList(table, obj, col)

	require.True(t, o.SelectTable(table))
	require.True(t, o.RemoveObject(obj))

	require.Nil(t, info.ListChanges(table, obj, col))
}

func TestChangeInfoObserverListHooks(t *testing.T) {
	info := changeset.NewTransactionChangeInfo()
	table := keys.NewTableKey(1)
	col := keys.NewColKey(keys.ColKeyParts{Tag: 3})
	obj := keys.ObjKey(9)
	info.RequireList(table, obj, col)

	o := NewChangeInfoObserver(info)
	require.True(t, o.SelectTable(table))
	require.True(t, o.SelectList(col, obj))
	require.True(t, o.ListInsert(0))
	require.True(t, o.ListInsert(1))
	require.True(t, o.ListErase(0))
	require.True(t, o.ParseComplete())

	lc := info.ListChanges(table, obj, col)
	require.NotNil(t, lc)
	require.True(t, lc.Change.Insertions.Contains(1))
	require.True(t, lc.Change.Deletions.Contains(0))
}

func TestChangeInfoObserverSchemaHooks(t *testing.T) {
	info := changeset.NewTransactionChangeInfo()
	o := NewChangeInfoObserver(info)

	col := keys.NewColKey(keys.ColKeyParts{Tag: 4})
	require.True(t, o.InsertColumn(col))
	require.True(t, info.SchemaChanged)

	require.False(t, o.EraseColumn(col))
	require.Error(t, o.Err())

	var usc *UnsupportedSchemaChangeError
	require.ErrorAs(t, o.Err(), &usc)
	require.Equal(t, "erase_column", usc.Op)
}

func TestValidatingObserverRejectsSchemaMutation(t *testing.T) {
	o := &ValidatingObserver{}
	table := keys.NewTableKey(1)

	require.True(t, o.SelectTable(table))
	require.True(t, o.CreateObject(keys.ObjKey(1)))
	require.False(t, o.RenameGroupLevelTable(table))
	require.Error(t, o.Err())
}
