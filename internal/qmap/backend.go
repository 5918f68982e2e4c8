//
// Package qmap keeps the registry of live assessment items in step
// with the assessment indexes shipped inside content packages: the
// question map synchronizer.
//
// A sync pass parses a package's index, walks it creating, refreshing
// or preserving items, then registers everything it collected in one
// deferred batch. Whole-package add, remove and modify passes each run
// in one backend transaction.
//
package qmap

import (
	"github.com/nsip/otf-assess/internal/assessment"
)

// Registry maps (kind, ntiid) to exactly one item.
type Registry interface {
	Register(kind assessment.Kind, ntiid string, item *assessment.Item) error
	Unregister(kind assessment.Kind, ntiid string) bool
	Lookup(kind assessment.Kind, ntiid string) (*assessment.Item, bool)
}

// IdentityIndex hands out stable surrogate ids; AddID is idempotent.
type IdentityIndex interface {
	AddID(item *assessment.Item) int64
	RemoveID(item *assessment.Item) bool
	QueryID(item *assessment.Item) (int64, bool)
}

// AuditLog holds transaction history keyed by surrogate id.
type AuditLog interface {
	CopyHistory(src, dst int64)
	RemoveHistory(id int64)
}

type PublishState interface {
	Publish(item *assessment.Item)
	Unpublish(item *assessment.Item)
	IsPublished(item *assessment.Item) bool
}

// Containers stores the per content-unit item containers.
type Containers interface {
	Container(unitID string) (*assessment.Container, bool)
	EnsureContainer(unitID, filename string) *assessment.Container
}

//
// Transactor runs fn all-or-nothing. Implementations must not be
// re-entered from inside fn.
//
type Transactor interface {
	Atomic(fn func() error) error
}

// Backend is everything a Coordinator needs from the persistence layer.
type Backend interface {
	Registry
	IdentityIndex
	AuditLog
	PublishState
	Containers
	Transactor
}

//
// lookupAny finds an item by NTIID alone. Containers only record
// NTIIDs, so removal resolves kinds this way.
//
func lookupAny(r Registry, ntiid string) (*assessment.Item, bool) {
	for _, k := range assessment.Kinds {
		if item, ok := r.Lookup(k, ntiid); ok {
			return item, true
		}
	}
	return nil, false
}
