package journal

import (
	"fmt"
	"time"
)

// TxnType enumerates the transaction kinds the posting engine can build.
type TxnType string

const (
	Deposit         TxnType = "deposit"
	Withdrawal      TxnType = "withdrawal"
	P2PTransfer     TxnType = "p2p_transfer"
	MerchantPayment TxnType = "merchant_payment"
	B2BTransfer     TxnType = "b2b_transfer"
	Reversal        TxnType = "reversal"
)

// TxnTypes lists every TxnType in a stable order.
var TxnTypes = []TxnType{Deposit, Withdrawal, P2PTransfer, MerchantPayment, B2BTransfer, Reversal}

// Valid reports whether t is a known transaction type.
func (t TxnType) Valid() bool {
	switch t {
	case Deposit, Withdrawal, P2PTransfer, MerchantPayment, B2BTransfer, Reversal:
		return true
	default:
		return false
	}
}

// ParseTxnType converts wire text into a TxnType.
func ParseTxnType(s string) (TxnType, error) {
	t := TxnType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}

// Category is the accounting purpose of an account.
type Category string

const (
	Wallet             Category = "wallet"
	CashFloat          Category = "cash_float"
	FeeRevenue         Category = "fee_revenue"
	TaxPayable         Category = "tax_payable"
	CommissionsPayable Category = "commissions_payable"
	OverdraftFacility  Category = "overdraft_facility"
	Suspense           Category = "suspense"
)

// Valid reports whether c is a known account category.
func (c Category) Valid() bool {
	switch c {
	case Wallet, CashFloat, FeeRevenue, TaxPayable, CommissionsPayable, OverdraftFacility, Suspense:
		return true
	default:
		return false
	}
}

// ParseCategory converts wire text into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown account category %q", s)
	}
	return c, nil
}

// OwnerType identifies who holds an account.
type OwnerType string

const (
	Customer OwnerType = "customer"
	Agent    OwnerType = "agent"
	Merchant OwnerType = "merchant"
	System   OwnerType = "system"
)

// SystemOwnerID is the owner id used for platform-held accounts.
const SystemOwnerID = "system"

// Valid reports whether o is a known owner type.
func (o OwnerType) Valid() bool {
	switch o {
	case Customer, Agent, Merchant, System:
		return true
	default:
		return false
	}
}

// ParseOwnerType converts wire text into an OwnerType.
func ParseOwnerType(s string) (OwnerType, error) {
	o := OwnerType(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown owner type %q", s)
	}
	return o, nil
}

// Direction is the side of a line.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// Owner is an actor that can hold accounts.
type Owner struct {
	Type OwnerType
	ID   string
}

// Key renders the owner as "type:id".
func (o Owner) Key() string { return string(o.Type) + ":" + o.ID }

// Valid reports whether the owner has a known type and an id.
func (o Owner) Valid() bool { return o.Type.Valid() && o.ID != "" }

// SystemOwner is the platform itself.
var SystemOwner = Owner{Type: System, ID: SystemOwnerID}

// AccountRef identifies an account by owner, category and currency.
type AccountRef struct {
	OwnerType OwnerType
	OwnerID   string
	Category  Category
	Currency  string
}

// Ref builds the account reference for an owner.
func (o Owner) Ref(category Category, currency string) AccountRef {
	return AccountRef{OwnerType: o.Type, OwnerID: o.ID, Category: category, Currency: currency}
}

// SystemAccount returns the platform account of the given category.
func SystemAccount(category Category, currency string) AccountRef {
	return SystemOwner.Ref(category, currency)
}

// Code renders the account as a stable code, e.g. "customer:42:wallet:XAF".
func (r AccountRef) Code() string {
	return fmt.Sprintf("%s:%s:%s:%s", r.OwnerType, r.OwnerID, r.Category, r.Currency)
}

func (r AccountRef) String() string { return r.Code() }

// Line is one debit or credit within a journal. Amount is in minor units.
type Line struct {
	Account     AccountRef
	Direction   Direction
	Amount      int64
	Description string
}

// Journal is one balanced double-entry transaction. Once persisted it is never changed.
type Journal struct {
	ID             string
	Sequence       int64
	Type           TxnType
	ActorID        string
	Currency       string
	CorrelationID  string
	IdempotencyKey string
	State          State
	Description    string
	ReversalOf     string
	CreatedAt      time.Time
	PrevHash       string
	Hash           string
	Lines          []Line
}

// Total returns the sum of debit lines, which equals the credit side for a balanced journal.
func (j Journal) Total() int64 {
	var total int64
	for _, l := range j.Lines {
		if l.Direction == Debit {
			total += l.Amount
		}
	}
	return total
}
