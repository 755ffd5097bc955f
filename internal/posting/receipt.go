package posting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/mobile_ledger/internal/amount"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// Receipt is returned synchronously for every posting and stored with its idempotency
// record so replays return it byte for byte.
type Receipt struct {
	JournalID      string          `json:"journal_id"`
	Type           journal.TxnType `json:"type"`
	State          journal.State   `json:"state"`
	TotalAmount    string          `json:"total_amount"`
	Fees           string          `json:"fees"`
	Commissions    string          `json:"commissions"`
	Currency       string          `json:"currency"`
	CorrelationID  string          `json:"correlation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	ReversalOf     string          `json:"reversal_of,omitempty"`
	PostedAt       time.Time       `json:"posted_at"`

	// Replayed is set when the receipt came from a stored record.
	Replayed bool `json:"-"`
}

// totals reads gross, fee and commission figures back out of forward lines: the gross is
// the debit on the source account, the fee is the fee revenue credit, commissions are
// the credits to commission accounts.
func totals(lines []journal.Line) (gross, fees, commissions decimal.Decimal) {
	gross, fees, commissions = decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range lines {
		v := decimal.NewFromInt(l.Amount)
		switch {
		case l.Account.Category == journal.FeeRevenue && l.Account.OwnerType == journal.System:
			if l.Direction == journal.Credit {
				fees = fees.Add(v)
			}
		case l.Account.Category == journal.CommissionsPayable:
			if l.Direction == journal.Credit {
				commissions = commissions.Add(v)
			}
		case l.Account.Category == journal.TaxPayable && l.Account.OwnerType == journal.System:
		default:
			if l.Direction == journal.Debit {
				gross = gross.Add(v)
			}
		}
	}
	return gross, fees, commissions
}

// newReceipt describes j. For reversals the figures are those of the original, read
// from originalLines.
func newReceipt(j journal.Journal, originalLines []journal.Line) Receipt {
	src := j.Lines
	if originalLines != nil {
		src = originalLines
	}
	gross, fees, commissions := totals(src)
	return Receipt{
		JournalID:      j.ID,
		Type:           j.Type,
		State:          j.State,
		TotalAmount:    amount.FormatDecimal(gross),
		Fees:           amount.FormatDecimal(fees),
		Commissions:    amount.FormatDecimal(commissions),
		Currency:       j.Currency,
		CorrelationID:  j.CorrelationID,
		IdempotencyKey: j.IdempotencyKey,
		ReversalOf:     j.ReversalOf,
		PostedAt:       j.CreatedAt,
	}
}
