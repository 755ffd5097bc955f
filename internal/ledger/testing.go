package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/mobile_ledger/internal/idempotency"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// Seed credits ref with amount taken from the unlimited system suspense account, opening
// both accounts if needed. It is a helper for tests and local demos.
func Seed(ctx context.Context, s Store, ref journal.AccountRef, amount int64) (journal.Journal, error) {
	suspense := journal.SystemAccount(journal.Suspense, ref.Currency)
	if _, err := s.EnsureAccount(ctx, Account{Ref: suspense, Unlimited: true}); err != nil {
		return journal.Journal{}, err
	}
	if _, err := s.EnsureAccount(ctx, Account{Ref: ref}); err != nil {
		return journal.Journal{}, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := "seed-" + uuid.NewString()
	j := journal.Journal{
		ID:             uuid.NewString(),
		Type:           journal.Deposit,
		ActorID:        journal.SystemOwner.Key(),
		Currency:       ref.Currency,
		CorrelationID:  key,
		IdempotencyKey: key,
		State:          journal.Posted,
		Description:    "opening balance",
		CreatedAt:      now,
		Lines: []journal.Line{
			{Account: suspense, Direction: journal.Debit, Amount: amount, Description: "opening balance"},
			{Account: ref, Direction: journal.Credit, Amount: amount, Description: "opening balance"},
		},
	}
	rec := idempotency.Record{
		ScopeFP:   idempotency.ScopeFingerprint(journal.SystemOwner.Key(), journal.Deposit, key),
		PayloadFP: key,
		JournalID: j.ID,
		Result:    []byte(`{}`),
		CreatedAt: now,
	}
	return s.Append(ctx, j, rec)
}
