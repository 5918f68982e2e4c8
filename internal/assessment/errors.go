package assessment

import "github.com/pkg/errors"

//
// ErrDuplicateRegistration is returned by registries asked to bind a
// second object to an occupied (kind, ntiid) slot.
//
var ErrDuplicateRegistration = errors.New("duplicate registration")
