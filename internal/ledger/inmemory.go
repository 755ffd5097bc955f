package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/mobile_ledger/internal/amount"
	"github.com/congo-pay/mobile_ledger/internal/chain"
	"github.com/congo-pay/mobile_ledger/internal/idempotency"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

type inMemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]Account
	balances  map[string]int64
	journals  []journal.Journal
	byID      map[string]int
	reversals map[string]string
	records   map[string]idempotency.Record
	lastHash  string
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests and
// single-process demos. All appends are serialized by one mutex.
func NewInMemory() Store {
	return &inMemoryStore{
		accounts:  make(map[string]Account),
		balances:  make(map[string]int64),
		byID:      make(map[string]int),
		reversals: make(map[string]string),
		records:   make(map[string]idempotency.Record),
		lastHash:  chain.GenesisHash,
	}
}

func (s *inMemoryStore) EnsureAccount(_ context.Context, acct Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := acct.Ref.Code()
	if existing, ok := s.accounts[code]; ok {
		return existing, nil
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	s.accounts[code] = acct
	s.balances[code] = 0
	return acct, nil
}

func (s *inMemoryStore) Account(_ context.Context, ref journal.AccountRef) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[ref.Code()]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, ref.Code())
	}
	return acct, nil
}

func (s *inMemoryStore) Balance(_ context.Context, ref journal.AccountRef) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance, ok := s.balances[ref.Code()]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, ref.Code())
	}
	return balance, nil
}

func (s *inMemoryStore) Journal(_ context.Context, id string) (journal.Journal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return journal.Journal{}, fmt.Errorf("%w: %s", ErrJournalNotFound, id)
	}
	return cloneJournal(s.journals[idx]), nil
}

func (s *inMemoryStore) JournalsInRange(_ context.Context, from, to time.Time) ([]journal.Journal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]journal.Journal, 0)
	for _, j := range s.journals {
		if j.CreatedAt.Before(from) || (!to.IsZero() && j.CreatedAt.After(to)) {
			continue
		}
		out = append(out, cloneJournal(j))
	}
	return out, nil
}

func (s *inMemoryStore) ReversalOf(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rev, ok := s.reversals[id]
	if !ok {
		return "", fmt.Errorf("%w: no reversal of %s", ErrJournalNotFound, id)
	}
	return rev, nil
}

func (s *inMemoryStore) FindIdempotency(_ context.Context, scopeFP string) (*idempotency.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[scopeFP]
	if !ok || rec.Expired(time.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *inMemoryStore) Append(_ context.Context, j journal.Journal, rec idempotency.Record) (journal.Journal, error) {
	if err := journal.AssertBalanced(j.Lines); err != nil {
		return journal.Journal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ScopeFP]; ok && !existing.Expired(time.Now()) {
		return journal.Journal{}, ErrDuplicateIdempotency
	}
	if _, ok := s.byID[j.ID]; ok {
		return journal.Journal{}, fmt.Errorf("journal %s already exists", j.ID)
	}
	if j.ReversalOf != "" {
		if _, ok := s.byID[j.ReversalOf]; !ok {
			return journal.Journal{}, fmt.Errorf("%w: %s", ErrJournalNotFound, j.ReversalOf)
		}
		if _, done := s.reversals[j.ReversalOf]; done {
			return journal.Journal{}, fmt.Errorf("%w: journal %s already reversed", journal.ErrInvalidTransition, j.ReversalOf)
		}
	}

	positions := make(map[string]Position)
	for _, ref := range accountsTouched(j.Lines) {
		acct, ok := s.accounts[ref.Code()]
		if !ok {
			return journal.Journal{}, fmt.Errorf("%w: %s", ErrAccountNotFound, ref.Code())
		}
		positions[ref.Code()] = Position{Account: acct, Balance: s.balances[ref.Code()]}
	}
	if err := CheckFunds(j.Lines, positions); err != nil {
		return journal.Journal{}, err
	}

	deltas, err := journal.Deltas(j.Lines)
	if err != nil {
		return journal.Journal{}, err
	}
	next := make(map[string]int64, len(deltas))
	for code, delta := range deltas {
		if next[code], err = amount.Add(s.balances[code], delta); err != nil {
			return journal.Journal{}, fmt.Errorf("%s: %w", code, err)
		}
	}

	j.Sequence = int64(len(s.journals)) + 1
	chain.Seal(&j, s.lastHash)

	for code, balance := range next {
		s.balances[code] = balance
	}
	stored := cloneJournal(j)
	s.journals = append(s.journals, stored)
	s.byID[j.ID] = len(s.journals) - 1
	if j.ReversalOf != "" {
		s.reversals[j.ReversalOf] = j.ID
	}
	rec.JournalID = j.ID
	s.records[rec.ScopeFP] = rec
	s.lastHash = j.Hash
	return cloneJournal(j), nil
}

func (s *inMemoryStore) ExpireIdempotency(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for fp, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, fp)
			n++
		}
	}
	return n, nil
}

func (s *inMemoryStore) Close() error { return nil }

func cloneJournal(j journal.Journal) journal.Journal {
	j.Lines = append([]journal.Line(nil), j.Lines...)
	return j
}
