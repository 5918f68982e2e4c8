package qmap

import (
	"sort"

	"github.com/nsip/otf-assess/internal/assessment"
)

//
// CanBeRemoved reports whether an item may be destructively replaced or
// removed. Locked items carry user submissions or edits and survive
// unless the caller forces.
//
func CanBeRemoved(item *assessment.Item, force bool) bool {
	return force || !item.Locked
}

// IgnoreSet holds the NTIIDs a remove pass must leave alone.
type IgnoreSet map[string]bool

//
// add puts item and, transitively, every constituent it references
// into the set: a locked composite keeps its children too.
//
func (s IgnoreSet) add(reg Registry, item *assessment.Item) {
	if s[item.NTIID] {
		return
	}
	s[item.NTIID] = true
	for _, ref := range item.Refs {
		if sub, ok := reg.Lookup(item.Kind.RefKind(), ref); ok {
			s.add(reg, sub)
		}
	}
}

// Sorted returns the members in name order.
func (s IgnoreSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

//
// ignoreSet gathers, across every container of the package tree, the
// items that fail CanBeRemoved and everything they reach.
//
func ignoreSet(reg Registry, cs Containers, root assessment.ContentUnit, force bool) IgnoreSet {
	ignore := IgnoreSet{}
	assessment.Walk(root, func(u assessment.ContentUnit) {
		c, ok := cs.Container(u.NTIID())
		if !ok {
			return
		}
		for _, id := range c.IDs {
			item, ok := lookupAny(reg, id)
			if ok && !CanBeRemoved(item, force) {
				ignore.add(reg, item)
			}
		}
	})
	return ignore
}
