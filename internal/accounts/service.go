package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/mobile_ledger/internal/amount"
	"github.com/congo-pay/mobile_ledger/internal/journal"
	"github.com/congo-pay/mobile_ledger/internal/ledger"
)

// ErrUnsupportedOwner is returned when onboarding is asked for an owner that cannot be
// onboarded, such as the platform itself.
var ErrUnsupportedOwner = errors.New("owner cannot be onboarded")

var categoriesByOwner = map[journal.OwnerType][]journal.Category{
	journal.Customer: {journal.Wallet},
	journal.Agent:    {journal.CashFloat, journal.Wallet, journal.CommissionsPayable},
	journal.Merchant: {journal.Wallet, journal.CommissionsPayable},
}

// systemCategories are opened once per currency at startup.
var systemCategories = []journal.Category{journal.FeeRevenue, journal.TaxPayable, journal.Suspense, journal.OverdraftFacility}

// Categories returns the accounts an owner type gets at onboarding.
func Categories(o journal.OwnerType) []journal.Category {
	return append([]journal.Category(nil), categoriesByOwner[o]...)
}

// Service opens ledger accounts. Accounts are created once and never deleted.
type Service struct {
	store  ledger.Store
	logger *slog.Logger
}

// NewService builds an onboarding service.
func NewService(store ledger.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// OnboardInput captures the actor to onboard.
type OnboardInput struct {
	Owner    journal.Owner
	Currency string
	// OverdraftLimit is the facility granted on the wallet, as decimal text. Optional.
	OverdraftLimit string
}

// Onboard opens every account the owner type needs. Repeating it is harmless: existing
// accounts are returned unchanged.
func (s *Service) Onboard(ctx context.Context, input OnboardInput) ([]ledger.Account, error) {
	if !input.Owner.Valid() {
		return nil, fmt.Errorf("%w: owner %q", ErrUnsupportedOwner, input.Owner.Key())
	}
	categories, ok := categoriesByOwner[input.Owner.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOwner, input.Owner.Type)
	}
	if len(input.Currency) != 3 {
		return nil, fmt.Errorf("%w: currency %q", ErrUnsupportedOwner, input.Currency)
	}
	var limit int64
	if input.OverdraftLimit != "" {
		var err error
		if limit, err = amount.Parse(input.OverdraftLimit); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	opened := make([]ledger.Account, 0, len(categories))
	for _, cat := range categories {
		acct := ledger.Account{Ref: input.Owner.Ref(cat, input.Currency), CreatedAt: now}
		if cat == journal.Wallet {
			acct.OverdraftLimit = limit
		}
		stored, err := s.store.EnsureAccount(ctx, acct)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", acct.Ref.Code(), err)
		}
		opened = append(opened, stored)
	}
	s.logger.Info("actor onboarded", slog.String("owner", input.Owner.Key()), slog.String("currency", input.Currency), slog.Int("accounts", len(opened)))
	return opened, nil
}

// EnsureSystemAccounts opens the platform accounts for each currency. Suspense is the
// issuance side and is unlimited.
func (s *Service) EnsureSystemAccounts(ctx context.Context, currencies ...string) error {
	for _, cur := range currencies {
		for _, cat := range systemCategories {
			acct := ledger.Account{Ref: journal.SystemAccount(cat, cur)}
			if cat == journal.Suspense || cat == journal.OverdraftFacility {
				acct.Unlimited = true
			}
			if _, err := s.store.EnsureAccount(ctx, acct); err != nil {
				return fmt.Errorf("open %s: %w", acct.Ref.Code(), err)
			}
		}
	}
	return nil
}

// Balance is an account balance at a point in time.
type Balance struct {
	Account ledger.Account
	Amount  int64
	AsOf    time.Time
}

// Balance returns the summed balance of one account.
func (s *Service) Balance(ctx context.Context, ref journal.AccountRef) (Balance, error) {
	acct, err := s.store.Account(ctx, ref)
	if err != nil {
		return Balance{}, err
	}
	amt, err := s.store.Balance(ctx, ref)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Account: acct, Amount: amt, AsOf: time.Now().UTC()}, nil
}
