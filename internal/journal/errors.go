package journal

import "errors"

var (
	// ErrUnbalancedJournal means a candidate journal failed the double-entry check.
	// It points at a construction defect and must never be corrected silently.
	ErrUnbalancedJournal = errors.New("unbalanced journal")

	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidRoute is returned when the accounts do not fit the transaction type.
	ErrInvalidRoute = errors.New("invalid account route")

	// ErrInvalidParams is returned for fee, tax or commission values that cannot be posted.
	ErrInvalidParams = errors.New("invalid posting parameters")
)
