package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/mobile_ledger/internal/amount"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// Position is an account together with its current balance.
type Position struct {
	Account Account
	Balance int64
}

// Available is the amount the account can still be debited by.
func (p Position) Available() decimal.Decimal {
	return amount.Sum(p.Balance, p.Account.OverdraftLimit)
}

// CheckFunds applies the funds rule to every account the lines debit on net: the
// resulting balance may not drop below minus the overdraft limit. positions is keyed
// by account code; a missing position is an unknown account.
func CheckFunds(lines []journal.Line, positions map[string]Position) error {
	deltas, err := journal.Deltas(lines)
	if err != nil {
		return err
	}
	codes := make([]string, 0, len(deltas))
	for code := range deltas {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		pos, ok := positions[code]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		delta := deltas[code]
		if delta >= 0 || pos.Account.Unlimited {
			continue
		}
		after := amount.Sum(pos.Balance, delta)
		floor := decimal.NewFromInt(-pos.Account.OverdraftLimit)
		if after.LessThan(floor) {
			return fmt.Errorf("%w: %s has %s available, needs %s",
				ErrInsufficientFunds, code, pos.Available().Shift(-amount.Scale).StringFixed(amount.Scale), amount.Format(-delta))
		}
	}
	return nil
}

func sortRefs(refs []journal.AccountRef) {
	sort.Slice(refs, func(a, b int) bool { return refs[a].Code() < refs[b].Code() })
}
