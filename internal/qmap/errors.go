package qmap

import "github.com/pkg/errors"

var (
	// ErrMissingDependency: an item references an NTIID nothing resolves.
	ErrMissingDependency = errors.New("unresolved assessment reference")

	// ErrKindConflict: one NTIID used for items of two different kinds.
	ErrKindConflict = errors.New("assessment ntiid reused across kinds")

	//
	// ErrConsistencyViolation: after a modify pass fewer items are
	// reachable under the new package than the pass synced. Either the
	// engine is wrong or something mutated the registry concurrently.
	//
	ErrConsistencyViolation = errors.New("question map consistency violation")
)
