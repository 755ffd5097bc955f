package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/mobile_ledger/internal/idempotency"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

var (
	// ErrInsufficientFunds occurs when a debited account lacks available balance,
	// overdraft headroom included, to cover a posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateIdempotency indicates a live record already exists for the scope
	// fingerprint. The caller should serve the stored result instead.
	ErrDuplicateIdempotency = errors.New("idempotency record already exists")

	// ErrAccountNotFound is returned when a line references an account that was never opened.
	ErrAccountNotFound = errors.New("account not found")

	// ErrJournalNotFound is returned by lookups for an unknown journal id.
	ErrJournalNotFound = errors.New("journal not found")
)

// Account is a ledger account. Its balance is never stored: it is derived from lines.
type Account struct {
	ID             string
	Ref            journal.AccountRef
	OverdraftLimit int64
	// Unlimited accounts may go negative without bound (issuance side).
	Unlimited bool
	CreatedAt time.Time
}

// Reader is the read-only reconciliation surface. Nothing behind it writes.
type Reader interface {
	Account(ctx context.Context, ref journal.AccountRef) (Account, error)
	Balance(ctx context.Context, ref journal.AccountRef) (int64, error)
	Journal(ctx context.Context, id string) (journal.Journal, error)
	JournalsInRange(ctx context.Context, from, to time.Time) ([]journal.Journal, error)
	// ReversalOf returns the id of the journal reversing id, or ErrJournalNotFound.
	ReversalOf(ctx context.Context, id string) (string, error)
	FindIdempotency(ctx context.Context, scopeFP string) (*idempotency.Record, error)
}

// Store is implemented by ledger backends (in-memory, PostgreSQL, SQLite).
type Store interface {
	Reader

	// EnsureAccount opens the account if it does not exist and returns the stored row.
	EnsureAccount(ctx context.Context, acct Account) (Account, error)

	// Append writes j, its lines and rec as one atomic unit. The store assigns the
	// sequence, links and seals the hash, and re-checks funds for every debited account.
	// Nothing is written when an error is returned.
	Append(ctx context.Context, j journal.Journal, rec idempotency.Record) (journal.Journal, error)

	// ExpireIdempotency deletes records whose expiry is at or before now.
	ExpireIdempotency(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

// accountsTouched returns the distinct account codes of lines in a stable order.
func accountsTouched(lines []journal.Line) []journal.AccountRef {
	seen := make(map[string]struct{}, len(lines))
	refs := make([]journal.AccountRef, 0, len(lines))
	for _, l := range lines {
		code := l.Account.Code()
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		refs = append(refs, l.Account)
	}
	sortRefs(refs)
	return refs
}
