package idempotency

import (
	"errors"
	"time"
)

// ErrIdempotencyConflict reports a key reused for a different request.
var ErrIdempotencyConflict = errors.New("idempotency key reused with a different payload")

// Record is written once, together with the journal it points to.
type Record struct {
	ScopeFP   string
	PayloadFP string
	JournalID string
	Result    []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record may be discarded at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Outcome is the classification of an incoming request.
type Outcome int

const (
	New Outcome = iota
	Duplicate
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case New:
		return "new"
	case Duplicate:
		return "duplicate"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Decision carries the outcome and, for duplicates, the stored result untouched.
type Decision struct {
	Outcome Outcome
	Result  []byte
	Record  *Record
}

// Classify compares an incoming payload fingerprint against the record already stored
// under the same scope. A nil record means the request has not been seen.
func Classify(existing *Record, payloadFP string) Decision {
	switch {
	case existing == nil:
		return Decision{Outcome: New}
	case existing.PayloadFP == payloadFP:
		return Decision{Outcome: Duplicate, Result: existing.Result, Record: existing}
	default:
		return Decision{Outcome: Conflict, Record: existing}
	}
}
