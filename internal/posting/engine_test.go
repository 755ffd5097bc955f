package posting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/mobile_ledger/internal/amount"
	"github.com/congo-pay/mobile_ledger/internal/chain"
	"github.com/congo-pay/mobile_ledger/internal/events"
	"github.com/congo-pay/mobile_ledger/internal/idempotency"
	"github.com/congo-pay/mobile_ledger/internal/journal"
	"github.com/congo-pay/mobile_ledger/internal/ledger"
	"github.com/congo-pay/mobile_ledger/internal/logging"
)

const xaf = "XAF"

var (
	agent = journal.Owner{Type: journal.Agent, ID: "agent-7"}
	alice = journal.Owner{Type: journal.Customer, ID: "alice"}
	bob   = journal.Owner{Type: journal.Customer, ID: "bob"}
)

type fixture struct {
	engine *Engine
	store  ledger.Store
	events *events.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := ledger.NewInMemory()
	ctx := context.Background()
	for _, acct := range []ledger.Account{
		{Ref: journal.SystemAccount(journal.Suspense, xaf), Unlimited: true},
		{Ref: journal.SystemAccount(journal.FeeRevenue, xaf)},
		{Ref: journal.SystemAccount(journal.TaxPayable, xaf)},
		{Ref: agent.Ref(journal.CashFloat, xaf)},
		{Ref: agent.Ref(journal.CommissionsPayable, xaf)},
		{Ref: alice.Ref(journal.Wallet, xaf)},
		{Ref: bob.Ref(journal.Wallet, xaf)},
	} {
		_, err := store.EnsureAccount(ctx, acct)
		require.NoError(t, err)
	}
	rec := &events.Recorder{}
	engine := NewEngine(store, NewLocalLocker(), nil, rec, logging.Discard(), Config{IdempotencyTTL: time.Hour, LockTimeout: time.Second})
	return fixture{engine: engine, store: store, events: rec}
}

func (f fixture) seed(t *testing.T, ref journal.AccountRef, text string) {
	t.Helper()
	_, err := ledger.Seed(context.Background(), f.store, ref, amount.MustParse(text))
	require.NoError(t, err)
}

func (f fixture) balance(t *testing.T, ref journal.AccountRef) string {
	t.Helper()
	b, err := f.store.Balance(context.Background(), ref)
	require.NoError(t, err)
	return amount.Format(b)
}

func (f fixture) journals(t *testing.T) []journal.Journal {
	t.Helper()
	js, err := f.store.JournalsInRange(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	return js
}

func p2p(key, amt string) Request {
	return Request{
		Actor:          alice,
		Counterparty:   bob,
		Type:           journal.P2PTransfer,
		Currency:       xaf,
		Amount:         amt,
		IdempotencyKey: key,
		CorrelationID:  "corr-" + key,
	}
}

func TestPost_DepositWithFeeAndCommission(t *testing.T) {
	f := newFixture(t)
	f.seed(t, agent.Ref(journal.CashFloat, xaf), "1000.00")
	ctx := context.Background()

	rc, err := f.engine.Post(ctx, Request{
		Actor:          agent,
		Counterparty:   alice,
		Type:           journal.Deposit,
		Currency:       xaf,
		Amount:         "100.00",
		Fee:            "5.00",
		Commissions:    []CommissionSplit{{Beneficiary: agent, Amount: "2.00"}},
		IdempotencyKey: "dep-1",
		CorrelationID:  "trace-1",
	})
	require.NoError(t, err)
	assert.False(t, rc.Replayed)
	assert.Equal(t, journal.Posted, rc.State)
	assert.Equal(t, "100.00", rc.TotalAmount)
	assert.Equal(t, "5.00", rc.Fees)
	assert.Equal(t, "2.00", rc.Commissions)
	assert.Equal(t, xaf, rc.Currency)
	assert.Equal(t, "trace-1", rc.CorrelationID)
	assert.Equal(t, "dep-1", rc.IdempotencyKey)

	j, err := f.store.Journal(ctx, rc.JournalID)
	require.NoError(t, err)
	assert.Len(t, j.Lines, 5)
	assert.Equal(t, amount.MustParse("102.00"), j.Total())
	require.NoError(t, journal.AssertBalanced(j.Lines))

	assert.Equal(t, "900.00", f.balance(t, agent.Ref(journal.CashFloat, xaf)))
	assert.Equal(t, "95.00", f.balance(t, alice.Ref(journal.Wallet, xaf)))
	assert.Equal(t, "3.00", f.balance(t, journal.SystemAccount(journal.FeeRevenue, xaf)))
	assert.Equal(t, "2.00", f.balance(t, agent.Ref(journal.CommissionsPayable, xaf)))

	posted := f.events.Named(events.JournalPosted)
	require.Len(t, posted, 1)
	assert.Equal(t, rc.JournalID, posted[0].EntityID)
	assert.Equal(t, "trace-1", posted[0].CorrelationID)

	assert.True(t, chain.VerifyRange(f.journals(t)).Valid)
}

func TestPost_CommissionSplitsCannotWrapAround(t *testing.T) {
	f := newFixture(t)
	f.seed(t, agent.Ref(journal.CashFloat, xaf), "1000.00")
	ctx := context.Background()
	other := journal.Owner{Type: journal.Agent, ID: "agent-8"}
	_, err := f.store.EnsureAccount(ctx, ledger.Account{Ref: other.Ref(journal.CommissionsPayable, xaf)})
	require.NoError(t, err)

	_, err = f.engine.Post(ctx, Request{
		Actor:        agent,
		Counterparty: alice,
		Type:         journal.Deposit,
		Currency:     xaf,
		Amount:       "1.00",
		Fee:          "0.50",
		Commissions: []CommissionSplit{
			{Beneficiary: agent, Amount: "50000000000000000.00"},
			{Beneficiary: other, Amount: "50000000000000000.00"},
		},
		IdempotencyKey: "dep-wrap",
	})
	require.ErrorIs(t, err, journal.ErrInvalidParams)

	assert.Equal(t, "1000.00", f.balance(t, agent.Ref(journal.CashFloat, xaf)))
	assert.Equal(t, "0.00", f.balance(t, agent.Ref(journal.CommissionsPayable, xaf)))
	assert.Equal(t, "0.00", f.balance(t, other.Ref(journal.CommissionsPayable, xaf)))
	assert.Equal(t, "0.00", f.balance(t, journal.SystemAccount(journal.FeeRevenue, xaf)))
	assert.Len(t, f.journals(t), 1)
	assert.Empty(t, f.events.Named(events.JournalPosted))
}

func TestTotalsDoNotWrap(t *testing.T) {
	huge := amount.MustParse("50000000000000000.00")
	lines := []journal.Line{
		{Account: agent.Ref(journal.CommissionsPayable, xaf), Direction: journal.Credit, Amount: huge},
		{Account: alice.Ref(journal.CommissionsPayable, xaf), Direction: journal.Credit, Amount: huge},
	}
	_, _, commissions := totals(lines)
	assert.Equal(t, "100000000000000000.00", amount.FormatDecimal(commissions))
}

func TestPost_DuplicateReturnsStoredReceipt(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	ctx := context.Background()

	first, err := f.engine.Post(ctx, p2p("k-1", "40.00"))
	require.NoError(t, err)

	// A retry with a new correlation id is still the same request.
	retry := p2p("k-1", "40")
	retry.CorrelationID = "another-trace"
	second, err := f.engine.Post(ctx, retry)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	second.Replayed = false
	assert.Equal(t, first.JournalID, second.JournalID)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.True(t, first.PostedAt.Equal(second.PostedAt))

	assert.Equal(t, "60.00", f.balance(t, alice.Ref(journal.Wallet, xaf)))
	assert.Len(t, f.journals(t), 2)
	assert.Len(t, f.events.Named(events.JournalPosted), 1)
}

func TestPost_ConcurrentIdenticalRequestsPostOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	ctx := context.Background()

	const n = 25
	receipts := make([]Receipt, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = f.engine.Post(ctx, p2p("same", "10.00"))
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, receipts[0].JournalID, receipts[i].JournalID)
		if !receipts[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Len(t, f.journals(t), 2)
	assert.Equal(t, "90.00", f.balance(t, alice.Ref(journal.Wallet, xaf)))
}

func TestPost_ConflictingPayloadIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	ctx := context.Background()

	_, err := f.engine.Post(ctx, p2p("k-1", "10.00"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.engine.Post(ctx, p2p("k-1", "11.00"))
		assert.ErrorIs(t, err, idempotency.ErrIdempotencyConflict)
	}
	assert.Len(t, f.journals(t), 2)
	assert.Equal(t, "90.00", f.balance(t, alice.Ref(journal.Wallet, xaf)))
}

func TestPost_NoDoubleSpend(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, insufficient int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Post(ctx, p2p(fmt.Sprintf("spend-%d", i), "30.00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, n-3, insufficient)
	assert.Equal(t, "10.00", f.balance(t, alice.Ref(journal.Wallet, xaf)))
	assert.Equal(t, "90.00", f.balance(t, bob.Ref(journal.Wallet, xaf)))
}

func TestPost_InsufficientFundsWritesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "50.00")
	ctx := context.Background()

	_, err := f.engine.Post(ctx, p2p("k-1", "80.00"))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	rec, err := f.store.FindIdempotency(ctx, idempotency.ScopeFingerprint(alice.Key(), journal.P2PTransfer, "k-1"))
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, err = f.engine.Lookup(ctx, alice, journal.P2PTransfer, "k-1")
	assert.ErrorIs(t, err, ErrReceiptNotFound)

	// Once funded, the same key goes through.
	f.seed(t, alice.Ref(journal.Wallet, xaf), "50.00")
	rc, err := f.engine.Post(ctx, p2p("k-1", "80.00"))
	require.NoError(t, err)
	assert.False(t, rc.Replayed)
	assert.Equal(t, "20.00", f.balance(t, alice.Ref(journal.Wallet, xaf)))
}

func TestPost_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]struct {
		mutate func(r *Request)
		want   error
	}{
		"malformed amount":   {func(r *Request) { r.Amount = "10.001" }, amount.ErrInvalidAmountFormat},
		"negative amount":    {func(r *Request) { r.Amount = "-1.00" }, amount.ErrInvalidAmountFormat},
		"empty amount":       {func(r *Request) { r.Amount = "" }, amount.ErrInvalidAmountFormat},
		"malformed fee":      {func(r *Request) { r.Fee = "1,00" }, amount.ErrInvalidAmountFormat},
		"zero amount":        {func(r *Request) { r.Amount = "0.00" }, journal.ErrInvalidParams},
		"fee above amount":   {func(r *Request) { r.Fee = "20.00" }, journal.ErrInvalidParams},
		"missing key":        {func(r *Request) { r.IdempotencyKey = "" }, ErrInvalidRequest},
		"bad currency":       {func(r *Request) { r.Currency = "xaf" }, ErrInvalidRequest},
		"unknown type":       {func(r *Request) { r.Type = "loan" }, ErrInvalidRequest},
		"wrong route":        {func(r *Request) { r.Type = journal.B2BTransfer }, journal.ErrInvalidRoute},
		"missing actor":      {func(r *Request) { r.Actor = journal.Owner{} }, ErrInvalidRequest},
		"reversal_of on p2p": {func(r *Request) { r.ReversalOf = "j" }, ErrInvalidRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := p2p("bad", "10.00")
			tc.mutate(&req)
			_, err := f.engine.Post(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.journals(t))
}

func TestPost_Reversal(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	ctx := context.Background()

	orig, err := f.engine.Post(ctx, p2p("k-1", "25.00"))
	require.NoError(t, err)

	rev, err := f.engine.Reverse(ctx, alice, orig.JournalID, "rev-1", "trace-rev")
	require.NoError(t, err)
	assert.Equal(t, journal.Reversal, rev.Type)
	assert.Equal(t, orig.JournalID, rev.ReversalOf)
	assert.Equal(t, "25.00", rev.TotalAmount)
	assert.Equal(t, xaf, rev.Currency)

	assert.Equal(t, "100.00", f.balance(t, alice.Ref(journal.Wallet, xaf)))
	assert.Equal(t, "0.00", f.balance(t, bob.Ref(journal.Wallet, xaf)))

	original, err := f.store.Journal(ctx, orig.JournalID)
	require.NoError(t, err)
	state, err := f.engine.State(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, journal.Reversed, state)

	reversal, err := f.store.Journal(ctx, rev.JournalID)
	require.NoError(t, err)
	for _, l := range reversal.Lines {
		assert.Contains(t, l.Description, journal.ReversalPrefix)
	}

	// Replaying the reversal is a duplicate, not a second reversal.
	again, err := f.engine.Reverse(ctx, alice, orig.JournalID, "rev-1", "trace-rev")
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	_, err = f.engine.Reverse(ctx, alice, orig.JournalID, "rev-2", "")
	assert.ErrorIs(t, err, journal.ErrInvalidTransition)

	_, err = f.engine.Reverse(ctx, alice, rev.JournalID, "rev-3", "")
	assert.ErrorIs(t, err, journal.ErrInvalidTransition)

	_, err = f.engine.Reverse(ctx, alice, "missing", "rev-4", "")
	assert.ErrorIs(t, err, ledger.ErrJournalNotFound)

	assert.Len(t, f.events.Named(events.JournalReversed), 1)
	assert.True(t, chain.VerifyRange(f.journals(t)).Valid)
}

func TestPost_ReversalNeedsFundsOnCreditedSide(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	ctx := context.Background()

	orig, err := f.engine.Post(ctx, p2p("k-1", "60.00"))
	require.NoError(t, err)

	// bob spends what he received
	_, err = f.engine.Post(ctx, Request{Actor: bob, Counterparty: alice, Type: journal.P2PTransfer, Currency: xaf, Amount: "50.00", IdempotencyKey: "b-1"})
	require.NoError(t, err)

	_, err = f.engine.Reverse(ctx, alice, orig.JournalID, "rev-1", "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestPost_UnbalancedJournalIsRefused(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	f.engine.buildLines = func(t journal.TxnType, p journal.Params) ([]journal.Line, error) {
		lines, err := journal.Build(t, p)
		if err != nil {
			return nil, err
		}
		lines[1].Amount--
		return lines, nil
	}

	_, err := f.engine.Post(context.Background(), p2p("k-1", "10.00"))
	assert.ErrorIs(t, err, journal.ErrUnbalancedJournal)
	assert.Len(t, f.journals(t), 1)
	assert.Equal(t, "100.00", f.balance(t, alice.Ref(journal.Wallet, xaf)))
}

func TestPost_LockTimeoutWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	f.engine.cfg.LockTimeout = 20 * time.Millisecond
	ctx := context.Background()

	release, err := f.engine.locker.Acquire(ctx, scopeKey(alice, xaf))
	require.NoError(t, err)
	_, err = f.engine.Post(ctx, p2p("k-1", "10.00"))
	assert.ErrorIs(t, err, ErrLockTimeout)
	release()

	assert.Len(t, f.journals(t), 1)
	rc, err := f.engine.Post(ctx, p2p("k-1", "10.00"))
	require.NoError(t, err)
	assert.False(t, rc.Replayed)
}

func TestPost_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	req := p2p("k-1", "10.00")
	req.Counterparty = journal.Owner{Type: journal.Customer, ID: "nobody"}
	_, err := f.engine.Post(context.Background(), req)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	ctx := context.Background()

	rc, err := f.engine.Post(ctx, p2p("k-1", "10.00"))
	require.NoError(t, err)

	found, err := f.engine.Lookup(ctx, alice, journal.P2PTransfer, "k-1")
	require.NoError(t, err)
	assert.Equal(t, rc.JournalID, found.JournalID)
	assert.True(t, found.Replayed)

	_, err = f.engine.Lookup(ctx, bob, journal.P2PTransfer, "k-1")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestPost_ServesDuplicatesFromRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	f.engine.cache = idempotency.NewCache(client)
	ctx := context.Background()

	rc, err := f.engine.Post(ctx, p2p("k-1", "10.00"))
	require.NoError(t, err)

	cached, err := f.engine.cache.Get(ctx, idempotency.ScopeFingerprint(alice.Key(), journal.P2PTransfer, "k-1"))
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, rc.JournalID, cached.JournalID)

	// Hold the scope: a cached duplicate must not wait for it.
	release, err := f.engine.locker.Acquire(ctx, scopeKey(alice, xaf))
	require.NoError(t, err)
	defer release()

	again, err := f.engine.Post(ctx, p2p("k-1", "10.00"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, rc.JournalID, again.JournalID)

	_, err = f.engine.Post(ctx, p2p("k-1", "12.00"))
	assert.ErrorIs(t, err, idempotency.ErrIdempotencyConflict)
}

func TestPost_FailingPublisherDoesNotFailPosting(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.Ref(journal.Wallet, xaf), "100.00")
	f.engine.publisher = failingPublisher{}

	rc, err := f.engine.Post(context.Background(), p2p("k-1", "10.00"))
	require.NoError(t, err)
	assert.NotEmpty(t, rc.JournalID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error {
	return errors.New("bus down")
}
