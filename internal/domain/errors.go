package domain

import "errors"

// Error taxonomy for the tracking core. Callers branch with errors.Is; all
// other errors are treated as internal.
var (
	// ErrValidation: malformed coordinates or timestamps beyond the clock
	// skew tolerance. Nothing was mutated.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState: a report for an off-duty or unknown vehicle.
	ErrInvalidState = errors.New("invalid vehicle state")

	// ErrNotFound: a query for a vehicle or subscriber with no state.
	ErrNotFound = errors.New("not found")
)
