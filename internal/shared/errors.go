package shared

import "errors"

// Error kinds shared by every domain package. Domain errors wrap one of these
// with %w so the HTTP layer can map them without knowing the domain.
var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a write would violate a uniqueness invariant.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates the operation is not legal in the entity's current state.
	ErrInvalidState = errors.New("invalid state")
)
