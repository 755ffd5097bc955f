package posting

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/congo-pay/mobile_ledger/internal/amount"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// ErrInvalidRequest is returned for requests missing the fields a posting needs.
var ErrInvalidRequest = errors.New("invalid posting request")

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// CommissionSplit credits part of the fee to a beneficiary.
type CommissionSplit struct {
	Beneficiary journal.Owner
	Amount      string
}

// Request is what the upstream layer hands the engine once shape, authentication, fraud
// and approval checks have passed. Actor is the initiating party: the debited side of
// a forward posting, or whoever asks for a reversal.
type Request struct {
	Actor          journal.Owner
	Counterparty   journal.Owner
	Type           journal.TxnType
	Currency       string
	Amount         string
	Fee            string
	Tax            string
	Commissions    []CommissionSplit
	Description    string
	ReversalOf     string
	IdempotencyKey string
	CorrelationID  string
}

// parsed is a Request with amounts in minor units.
type parsed struct {
	Request
	amount      int64
	fee         int64
	tax         int64
	commissions []journal.Commission
}

func parseRequest(req Request) (parsed, error) {
	p := parsed{Request: req}
	if !req.Actor.Valid() {
		return p, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}
	if !req.Type.Valid() {
		return p, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidRequest, req.Type)
	}
	if req.IdempotencyKey == "" {
		return p, fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	}

	if req.Type == journal.Reversal {
		if req.ReversalOf == "" {
			return p, fmt.Errorf("%w: reversal needs the original journal id", ErrInvalidRequest)
		}
		if req.Currency != "" && !currencyPattern.MatchString(req.Currency) {
			return p, fmt.Errorf("%w: currency %q", ErrInvalidRequest, req.Currency)
		}
		return p, nil
	}

	if req.ReversalOf != "" {
		return p, fmt.Errorf("%w: reversal_of is only valid on reversals", ErrInvalidRequest)
	}
	if !currencyPattern.MatchString(req.Currency) {
		return p, fmt.Errorf("%w: currency %q", ErrInvalidRequest, req.Currency)
	}
	if !req.Counterparty.Valid() {
		return p, fmt.Errorf("%w: counterparty is required", ErrInvalidRequest)
	}

	var err error
	if p.amount, err = amount.Parse(req.Amount); err != nil {
		return p, err
	}
	if p.fee, err = optionalAmount(req.Fee); err != nil {
		return p, err
	}
	if p.tax, err = optionalAmount(req.Tax); err != nil {
		return p, err
	}
	for _, c := range req.Commissions {
		v, err := amount.Parse(c.Amount)
		if err != nil {
			return p, err
		}
		p.commissions = append(p.commissions, journal.Commission{Beneficiary: c.Beneficiary, Amount: v})
	}
	return p, nil
}

func optionalAmount(text string) (int64, error) {
	if text == "" {
		return 0, nil
	}
	return amount.Parse(text)
}

func (p parsed) params() journal.Params {
	return journal.Params{
		Source:      p.Actor,
		Destination: p.Counterparty,
		Currency:    p.Currency,
		Amount:      p.amount,
		Fee:         p.fee,
		Tax:         p.tax,
		Commissions: p.commissions,
		Description: p.Description,
	}
}

type payloadCommission struct {
	Beneficiary string `json:"beneficiary"`
	Amount      string `json:"amount"`
}

// payloadDoc is the fingerprinted form of a request. Amounts are normalised and the
// tracing fields are left out so a retry with a fresh correlation id still matches.
type payloadDoc struct {
	Actor        string              `json:"actor"`
	Counterparty string              `json:"counterparty,omitempty"`
	Type         string              `json:"type"`
	Currency     string              `json:"currency,omitempty"`
	Amount       string              `json:"amount,omitempty"`
	Fee          string              `json:"fee,omitempty"`
	Tax          string              `json:"tax,omitempty"`
	Commissions  []payloadCommission `json:"commissions,omitempty"`
	Description  string              `json:"description,omitempty"`
	ReversalOf   string              `json:"reversal_of,omitempty"`
}

func (p parsed) payload() payloadDoc {
	doc := payloadDoc{
		Actor:       p.Actor.Key(),
		Type:        string(p.Type),
		Currency:    p.Currency,
		Description: p.Description,
		ReversalOf:  p.ReversalOf,
	}
	if p.Type == journal.Reversal {
		return doc
	}
	doc.Counterparty = p.Counterparty.Key()
	doc.Amount = amount.Format(p.amount)
	doc.Fee = amount.Format(p.fee)
	doc.Tax = amount.Format(p.tax)
	for _, c := range p.commissions {
		doc.Commissions = append(doc.Commissions, payloadCommission{Beneficiary: c.Beneficiary.Key(), Amount: amount.Format(c.Amount)})
	}
	return doc
}

// scopeKey is the serialization scope: initiating actor and currency.
func scopeKey(actor journal.Owner, currency string) string {
	return actor.Key() + ":" + currency
}
