// Package deepchange implements component C: the bounded-depth reachability
// checker notifiers use to answer "did anything this key-path cares about
// change", following outgoing object/list links across tables.
package deepchange

import "github.com/meridiandb/coresync/pkg/keys"

// maxDepth bounds how far Check recurses before defaulting to "changed", per
// spec.md §4.C.
const maxDepth = 4

// Link is one outgoing object or list-of-object column from a table.
type Link struct {
	Column      keys.ColKey
	IsList      bool
	TargetTable keys.TableKey
}

// RelatedTable is one table reachable from a root table, with its outgoing
// links.
type RelatedTable struct {
	Table keys.TableKey
	Links []Link
}

// SchemaGraph exposes the outgoing link columns for a table; implemented by
// whatever owns the live schema (the coordinator, in production use).
type SchemaGraph interface {
	OutgoingLinks(t keys.TableKey) []Link
}

// LinkResolver resolves the live object(s) a link column on a given object
// currently points to (one object for a plain link, zero or more for a
// list-of-objects link).
type LinkResolver interface {
	Targets(table keys.TableKey, obj keys.ObjKey, col keys.ColKey) []keys.ObjKey
}

// FindAllRelatedTables BFS's schema starting at root, producing one
// RelatedTable per reachable table. If keyPathFilter is non-nil, only edges
// into tables present in the filter are followed (root is always included
// regardless of the filter) — spec.md §4.C.
func FindAllRelatedTables(root keys.TableKey, schema SchemaGraph, keyPathFilter map[keys.TableKey]bool) []RelatedTable {
	visited := map[keys.TableKey]bool{root: true}
	queue := []keys.TableKey{root}
	var out []RelatedTable

	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		links := schema.OutgoingLinks(t)
		out = append(out, RelatedTable{Table: t, Links: links})

		for _, l := range links {
			if keyPathFilter != nil && !keyPathFilter[l.TargetTable] {
				continue
			}
			if visited[l.TargetTable] {
				continue
			}
			visited[l.TargetTable] = true
			queue = append(queue, l.TargetTable)
		}
	}
	return out
}
