package journal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/mobile_ledger/internal/amount"
)

// ReversalPrefix marks the descriptions of reversal lines.
const ReversalPrefix = "Reversal: "

// Commission credits part of the fee to a beneficiary's commissions account.
type Commission struct {
	Beneficiary Owner
	Amount      int64
}

// Params are the inputs shared by every forward template.
type Params struct {
	Source      Owner
	Destination Owner
	Currency    string
	Amount      int64
	Fee         int64
	Tax         int64
	Commissions []Commission
	Description string
}

type route struct {
	source       Category
	destination  Category
	sourceOwners []OwnerType
	destOwners   []OwnerType
}

var routes = map[TxnType]route{
	Deposit:         {source: CashFloat, destination: Wallet, sourceOwners: []OwnerType{Agent}, destOwners: []OwnerType{Customer, Merchant}},
	Withdrawal:      {source: Wallet, destination: CashFloat, sourceOwners: []OwnerType{Customer, Merchant}, destOwners: []OwnerType{Agent}},
	P2PTransfer:     {source: Wallet, destination: Wallet, sourceOwners: []OwnerType{Customer}, destOwners: []OwnerType{Customer}},
	MerchantPayment: {source: Wallet, destination: Wallet, sourceOwners: []OwnerType{Customer}, destOwners: []OwnerType{Merchant}},
	B2BTransfer:     {source: Wallet, destination: Wallet, sourceOwners: []OwnerType{Merchant}, destOwners: []OwnerType{Merchant}},
}

// Build dispatches to the template for t. Reversals are built with Reverse from the
// original journal's lines.
func Build(t TxnType, p Params) ([]Line, error) {
	switch t {
	case Deposit:
		return BuildDeposit(p)
	case Withdrawal:
		return BuildWithdrawal(p)
	case P2PTransfer:
		return BuildP2PTransfer(p)
	case MerchantPayment:
		return BuildMerchantPayment(p)
	case B2BTransfer:
		return BuildB2BTransfer(p)
	case Reversal:
		return nil, fmt.Errorf("%w: reversal lines come from the original journal", ErrInvalidRoute)
	default:
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidRoute, t)
	}
}

// BuildDeposit moves value from an agent's cash float into a wallet.
func BuildDeposit(p Params) ([]Line, error) { return build(Deposit, p) }

// BuildWithdrawal moves value from a wallet into an agent's cash float.
func BuildWithdrawal(p Params) ([]Line, error) { return build(Withdrawal, p) }

// BuildP2PTransfer moves value between two customer wallets.
func BuildP2PTransfer(p Params) ([]Line, error) { return build(P2PTransfer, p) }

// BuildMerchantPayment moves value from a customer wallet to a merchant wallet.
func BuildMerchantPayment(p Params) ([]Line, error) { return build(MerchantPayment, p) }

// BuildB2BTransfer moves value between two merchant wallets.
func BuildB2BTransfer(p Params) ([]Line, error) { return build(B2BTransfer, p) }

func build(t TxnType, p Params) ([]Line, error) {
	r := routes[t]
	if !ownerAllowed(p.Source.Type, r.sourceOwners) {
		return nil, fmt.Errorf("%w: %s source cannot be %s", ErrInvalidRoute, t, p.Source.Type)
	}
	if !ownerAllowed(p.Destination.Type, r.destOwners) {
		return nil, fmt.Errorf("%w: %s destination cannot be %s", ErrInvalidRoute, t, p.Destination.Type)
	}
	if p.Source == p.Destination && r.source == r.destination {
		return nil, fmt.Errorf("%w: source and destination are the same account", ErrInvalidRoute)
	}
	if err := validateParams(p); err != nil {
		return nil, err
	}

	label := p.Description
	if label == "" {
		label = strings.ReplaceAll(string(t), "_", " ")
	}
	feeRevenue := SystemAccount(FeeRevenue, p.Currency)

	lines := []Line{
		{Account: p.Source.Ref(r.source, p.Currency), Direction: Debit, Amount: p.Amount, Description: label},
		{Account: p.Destination.Ref(r.destination, p.Currency), Direction: Credit, Amount: p.Amount - p.Fee, Description: label},
	}
	lines = appendLeg(lines, Line{Account: feeRevenue, Direction: Credit, Amount: p.Fee, Description: label + " fee"})
	lines = appendLeg(lines, Line{Account: feeRevenue, Direction: Debit, Amount: p.Tax, Description: label + " fee tax"})
	lines = appendLeg(lines, Line{Account: SystemAccount(TaxPayable, p.Currency), Direction: Credit, Amount: p.Tax, Description: label + " fee tax"})
	for _, c := range p.Commissions {
		lines = appendLeg(lines, Line{Account: feeRevenue, Direction: Debit, Amount: c.Amount, Description: label + " commission"})
		lines = appendLeg(lines, Line{Account: c.Beneficiary.Ref(CommissionsPayable, p.Currency), Direction: Credit, Amount: c.Amount, Description: label + " commission"})
	}
	return lines, nil
}

// appendLeg drops zero-value legs.
func appendLeg(lines []Line, l Line) []Line {
	if l.Amount == 0 {
		return lines
	}
	return append(lines, l)
}

func validateParams(p Params) error {
	if p.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidParams)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	if p.Fee < 0 || p.Tax < 0 {
		return fmt.Errorf("%w: fee and tax cannot be negative", ErrInvalidParams)
	}
	if p.Fee >= p.Amount {
		return fmt.Errorf("%w: fee %d must be below amount %d", ErrInvalidParams, p.Fee, p.Amount)
	}

	carved := []int64{p.Tax}
	for _, c := range p.Commissions {
		if c.Amount < 0 {
			return fmt.Errorf("%w: commission cannot be negative", ErrInvalidParams)
		}
		if c.Amount > 0 && !c.Beneficiary.Type.Valid() {
			return fmt.Errorf("%w: commission beneficiary type %q", ErrInvalidParams, c.Beneficiary.Type)
		}
		carved = append(carved, c.Amount)
	}
	if total := amount.Sum(carved...); total.GreaterThan(decimal.NewFromInt(p.Fee)) {
		return fmt.Errorf("%w: tax and commissions %s exceed fee %s", ErrInvalidParams, amount.FormatDecimal(total), amount.Format(p.Fee))
	}
	return nil
}

func ownerAllowed(o OwnerType, allowed []OwnerType) bool {
	for _, a := range allowed {
		if a == o {
			return true
		}
	}
	return false
}

// Reverse mirrors lines: every direction flips and every description gains the
// reversal prefix. Applying Reverse twice restores the input.
func Reverse(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		desc := ReversalPrefix + l.Description
		if strings.HasPrefix(l.Description, ReversalPrefix) {
			desc = strings.TrimPrefix(l.Description, ReversalPrefix)
		}
		out[i] = Line{
			Account:     l.Account,
			Direction:   l.Direction.Flip(),
			Amount:      l.Amount,
			Description: desc,
		}
	}
	return out
}
