package journal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/mobile_ledger/internal/amount"
)

// AssertBalanced is the single gate every journal passes before persistence. An empty
// line set is balanced.
func AssertBalanced(lines []Line) error {
	debits, credits := decimal.Zero, decimal.Zero
	currency := ""
	for i, l := range lines {
		if l.Amount <= 0 {
			return fmt.Errorf("%w: line %d amount %d is not positive", ErrUnbalancedJournal, i, l.Amount)
		}
		if currency == "" {
			currency = l.Account.Currency
		} else if l.Account.Currency != currency {
			return fmt.Errorf("%w: line %d currency %s differs from %s", ErrUnbalancedJournal, i, l.Account.Currency, currency)
		}

		switch l.Direction {
		case Debit:
			debits = debits.Add(decimal.NewFromInt(l.Amount))
		case Credit:
			credits = credits.Add(decimal.NewFromInt(l.Amount))
		default:
			return fmt.Errorf("%w: line %d has direction %q", ErrUnbalancedJournal, i, l.Direction)
		}
	}

	if !debits.Equal(credits) {
		return fmt.Errorf("%w: debits %s, credits %s", ErrUnbalancedJournal, debits, credits)
	}
	return nil
}

// Deltas returns the signed effect of lines per account code: credits add, debits subtract.
// A net effect outside the int64 range fails with amount.ErrAmountOverflow.
func Deltas(lines []Line) (map[string]int64, error) {
	out := make(map[string]int64, len(lines))
	for _, l := range lines {
		signed := l.Amount
		if l.Direction != Credit {
			signed = -l.Amount
		}
		code := l.Account.Code()
		next, err := amount.Add(out[code], signed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", code, err)
		}
		out[code] = next
	}
	return out, nil
}
