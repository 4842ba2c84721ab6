package deepchange

import (
	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/keys"
)

type tableObjKey struct {
	table keys.TableKey
	obj   keys.ObjKey
}

// Checker answers "was obj_key, or anything it transitively links to,
// modified" for one already-computed TransactionChangeInfo, grounded on the
// teacher's filter-by-scan traversal idiom in pkg/storage/boltdb.go
// (ListContainersByNode et al.), generalized from a flat scan to a bounded
// graph walk.
type Checker struct {
	related     map[keys.TableKey]RelatedTable
	info        *changeset.TransactionChangeInfo
	resolver    LinkResolver
	notModified map[tableObjKey]bool
}

// NewChecker builds a checker over the result of FindAllRelatedTables.
func NewChecker(related []RelatedTable, info *changeset.TransactionChangeInfo, resolver LinkResolver) *Checker {
	m := make(map[keys.TableKey]RelatedTable, len(related))
	for _, r := range related {
		m[r.Table] = r
	}
	return &Checker{
		related:     m,
		info:        info,
		resolver:    resolver,
		notModified: map[tableObjKey]bool{},
	}
}

// Check reports whether obj (in table) was modified, or transitively links
// to something that was, up to a depth of 4 (spec.md §4.C). Beyond that
// depth the answer conservatively defaults to "changed".
func (c *Checker) Check(table keys.TableKey, obj keys.ObjKey, depth int) bool {
	key := tableObjKey{table, obj}
	if c.notModified[key] {
		return false
	}
	if depth > maxDepth {
		return true
	}
	if c.directlyModified(table, obj) {
		return true
	}

	rt, ok := c.related[table]
	if !ok {
		c.notModified[key] = true
		return false
	}
	for _, link := range rt.Links {
		for _, target := range c.resolver.Targets(table, obj, link.Column) {
			if c.Check(link.TargetTable, target, depth+1) {
				return true
			}
		}
	}
	c.notModified[key] = true
	return false
}

func (c *Checker) directlyModified(table keys.TableKey, obj keys.ObjKey) bool {
	cs, ok := c.info.Tables[table]
	if !ok {
		return false
	}
	if cs.Insertions[obj] {
		return true
	}
	cols, ok := cs.Modifications[obj]
	return ok && len(cols) > 0
}
