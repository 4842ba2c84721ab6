package deepchange

import (
	"testing"

	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/stretchr/testify/require"
)

type fakeSchema map[keys.TableKey][]Link

func (s fakeSchema) OutgoingLinks(t keys.TableKey) []Link { return s[t] }

type fakeResolver map[tableObjKey][]keys.ObjKey

func (r fakeResolver) Targets(table keys.TableKey, obj keys.ObjKey, col keys.ColKey) []keys.ObjKey {
	return r[tableObjKey{table, obj}]
}

func TestCheckDirectModification(t *testing.T) {
	authors := keys.NewTableKey(1)
	info := changeset.NewTransactionChangeInfo()
	info.TrackAll = true
	info.TableChanges(authors).Modify(keys.ObjKey(1), keys.NewColKey(keys.ColKeyParts{Tag: 1}))

	related := FindAllRelatedTables(authors, fakeSchema{}, nil)
	c := NewChecker(related, info, fakeResolver{})

	require.True(t, c.Check(authors, keys.ObjKey(1), 0))
	require.False(t, c.Check(authors, keys.ObjKey(2), 0))
}

func TestCheckFollowsLinkTransitively(t *testing.T) {
	books := keys.NewTableKey(1)
	authors := keys.NewTableKey(2)
	authorCol := keys.NewColKey(keys.ColKeyParts{Tag: 5})

	schema := fakeSchema{
		books: {{Column: authorCol, IsList: false, TargetTable: authors}},
	}

	info := changeset.NewTransactionChangeInfo()
	info.TrackAll = true
	info.TableChanges(authors).Modify(keys.ObjKey(100), keys.NewColKey(keys.ColKeyParts{Tag: 9}))

	resolver := fakeResolver{
		{books, keys.ObjKey(1)}: {keys.ObjKey(100)},
		{books, keys.ObjKey(2)}: {keys.ObjKey(101)},
	}

	related := FindAllRelatedTables(books, schema, nil)
	require.Len(t, related, 2)

	c := NewChecker(related, info, resolver)
	require.True(t, c.Check(books, keys.ObjKey(1), 0), "book 1's author was modified")
	require.False(t, c.Check(books, keys.ObjKey(2), 0), "book 2's author was untouched")
}

func TestCheckRespectsMaxDepth(t *testing.T) {
	// A ten-table chain, each linking to the next; nothing is ever modified,
	// but following the links from the root passes the depth cap of 4 before
	// the chain ends, and the cap answers "changed".
	const n = 10
	tables := make([]keys.TableKey, n)
	for i := range tables {
		tables[i] = keys.NewTableKey(uint64(i))
	}
	col := keys.NewColKey(keys.ColKeyParts{Tag: 1})
	schema := fakeSchema{}
	resolver := fakeResolver{}
	for i := 0; i < n-1; i++ {
		schema[tables[i]] = []Link{{Column: col, IsList: false, TargetTable: tables[i+1]}}
		resolver[tableObjKey{tables[i], keys.ObjKey(1)}] = []keys.ObjKey{1}
	}

	info := changeset.NewTransactionChangeInfo()
	related := FindAllRelatedTables(tables[0], schema, nil)
	c := NewChecker(related, info, resolver)

	// Nothing was ever recorded as modified, but the chain is longer than
	// maxDepth, so the conservative default must report "changed".
	require.True(t, c.Check(tables[0], keys.ObjKey(1), 0))
}

func TestCheckKeyPathFilterLimitsExpansion(t *testing.T) {
	books := keys.NewTableKey(1)
	authors := keys.NewTableKey(2)
	publishers := keys.NewTableKey(3)
	col := keys.NewColKey(keys.ColKeyParts{Tag: 1})

	schema := fakeSchema{
		books: {
			{Column: col, TargetTable: authors},
			{Column: keys.NewColKey(keys.ColKeyParts{Tag: 2}), TargetTable: publishers},
		},
	}

	filter := map[keys.TableKey]bool{authors: true}
	related := FindAllRelatedTables(books, schema, filter)

	var sawPublishers bool
	for _, r := range related {
		if r.Table == publishers {
			sawPublishers = true
		}
	}
	require.False(t, sawPublishers, "publishers is excluded by the key-path filter")
	require.Len(t, related, 2) // books itself, plus authors
}
