package domain

import "errors"

// Sentinel errors for the mutation pipeline. Wrapped with context at
// the point of failure and classified with errors.Is at the transport
// boundary when building rejection frames.
var (
	// ErrValidation rejects a malformed event before it reaches the
	// merge engine. No state change.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateID rejects a Create whose NativeID already exists
	// as a live node.
	ErrDuplicateID = errors.New("duplicate native id")

	// ErrNotFound rejects a mutation referencing a missing or
	// tombstoned node.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidMove rejects a Move that would make a node its own
	// ancestor.
	ErrInvalidMove = errors.New("invalid move")

	// ErrInconsistentReorder rejects a Reorder batch with duplicate
	// targets. The batch fails wholesale.
	ErrInconsistentReorder = errors.New("inconsistent reorder")

	// ErrPersistence reports a failed durable write. The in-memory
	// change is rolled back before this is returned.
	ErrPersistence = errors.New("persistence failed")
)

// RejectionCode maps a pipeline error to its wire code. Unknown errors
// map to "internal".
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidMove):
		return "invalid_move"
	case errors.Is(err, ErrInconsistentReorder):
		return "inconsistent_reorder"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}
