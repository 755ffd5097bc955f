package posting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/mobile_ledger/internal/events"
	"github.com/congo-pay/mobile_ledger/internal/idempotency"
	"github.com/congo-pay/mobile_ledger/internal/journal"
	"github.com/congo-pay/mobile_ledger/internal/ledger"
)

// ErrReceiptNotFound is returned by Lookup when no live record exists for the scope.
var ErrReceiptNotFound = errors.New("receipt not found")

// Config tunes the engine.
type Config struct {
	// IdempotencyTTL is how long a completed record is kept. Zero keeps records forever.
	IdempotencyTTL time.Duration
	// LockTimeout bounds the wait for a scope's execution slot.
	LockTimeout time.Duration
}

// Engine turns requests into balanced, hash-chained journals exactly once per
// idempotency scope.
type Engine struct {
	store     ledger.Store
	locker    Locker
	cache     *idempotency.Cache
	publisher events.Publisher
	logger    *slog.Logger
	cfg       Config

	now        func() time.Time
	newID      func() string
	buildLines func(journal.TxnType, journal.Params) ([]journal.Line, error)
}

// NewEngine wires an engine. cache and publisher may be nil.
func NewEngine(store ledger.Store, locker Locker, cache *idempotency.Cache, publisher events.Publisher, logger *slog.Logger, cfg Config) *Engine {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	return &Engine{
		store:      store,
		locker:     locker,
		cache:      cache,
		publisher:  publisher,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
		buildLines: journal.Build,
	}
}

// Post applies req. A duplicate of a completed request returns the stored receipt with
// Replayed set and writes nothing.
func (e *Engine) Post(ctx context.Context, req Request) (Receipt, error) {
	p, err := parseRequest(req)
	if err != nil {
		return Receipt{}, err
	}
	if p.Type == journal.Reversal && p.Currency == "" {
		// Journals are immutable, so reading the original outside the lock is safe.
		original, err := e.store.Journal(ctx, p.ReversalOf)
		if err != nil {
			return Receipt{}, err
		}
		p.Currency = original.Currency
	}
	payloadFP, err := idempotency.PayloadFingerprintOf(p.payload())
	if err != nil {
		return Receipt{}, err
	}
	scopeFP := idempotency.ScopeFingerprint(p.Actor.Key(), p.Type, p.IdempotencyKey)
	logger := e.logger.With(
		slog.String("actor", p.Actor.Key()),
		slog.String("type", string(p.Type)),
		slog.String("idempotency_key", p.IdempotencyKey),
		slog.String("correlation_id", p.CorrelationID),
	)

	// Completed records are immutable, so a cache hit can be served without the lock.
	if cached, err := e.cache.Get(ctx, scopeFP); err != nil {
		logger.Warn("idempotency cache lookup failed", slog.Any("error", err))
	} else if cached != nil {
		if rc, done, err := e.settle(idempotency.Classify(cached, payloadFP)); done {
			return rc, err
		}
	}

	scope := scopeKey(p.Actor, p.Currency)
	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	release, err := e.locker.Acquire(lockCtx, scope)
	cancel()
	if err != nil {
		logger.Warn("posting scope busy", slog.String("scope", scope), slog.Any("error", err))
		return Receipt{}, err
	}
	rc, stored, err := e.postLocked(ctx, logger, p, scopeFP, payloadFP)
	release()
	if err != nil {
		return Receipt{}, err
	}
	if rc.Replayed {
		return rc, nil
	}

	e.afterCommit(ctx, logger, stored, rc)
	return rc, nil
}

// postLocked runs while the scope is held. It returns the stored journal for fresh
// postings; replays come back with Replayed set.
func (e *Engine) postLocked(ctx context.Context, logger *slog.Logger, p parsed, scopeFP, payloadFP string) (Receipt, storedPosting, error) {
	existing, err := e.store.FindIdempotency(ctx, scopeFP)
	if err != nil {
		return Receipt{}, storedPosting{}, fmt.Errorf("find idempotency record: %w", err)
	}
	if rc, done, err := e.settle(idempotency.Classify(existing, payloadFP)); done {
		return rc, storedPosting{}, err
	}

	now := e.now().UTC().Truncate(time.Microsecond)
	j := journal.Journal{
		ID:             e.newID(),
		Type:           p.Type,
		ActorID:        p.Actor.Key(),
		Currency:       p.Currency,
		CorrelationID:  p.CorrelationID,
		IdempotencyKey: p.IdempotencyKey,
		State:          journal.Posted,
		Description:    p.Description,
		CreatedAt:      now,
	}

	var originalLines []journal.Line
	if p.Type == journal.Reversal {
		original, err := e.reversible(ctx, p)
		if err != nil {
			return Receipt{}, storedPosting{}, err
		}
		j.Currency = original.Currency
		j.ReversalOf = original.ID
		if j.Description == "" {
			j.Description = journal.ReversalPrefix + original.Description
		}
		j.Lines = journal.Reverse(original.Lines)
		originalLines = original.Lines
	} else {
		j.Lines, err = e.buildLines(p.Type, p.params())
		if err != nil {
			return Receipt{}, storedPosting{}, err
		}
		if j.Description == "" && len(j.Lines) > 0 {
			j.Description = j.Lines[0].Description
		}
	}

	if err := journal.AssertBalanced(j.Lines); err != nil {
		logger.Error("refusing unbalanced journal", slog.String("journal_id", j.ID), slog.Any("error", err), slog.Bool("alert", true))
		return Receipt{}, storedPosting{}, err
	}
	if err := e.checkFunds(ctx, j.Lines); err != nil {
		return Receipt{}, storedPosting{}, err
	}

	rc := newReceipt(j, originalLines)
	result, err := json.Marshal(rc)
	if err != nil {
		return Receipt{}, storedPosting{}, fmt.Errorf("encode receipt: %w", err)
	}
	rec := idempotency.Record{
		ScopeFP:   scopeFP,
		PayloadFP: payloadFP,
		JournalID: j.ID,
		Result:    result,
		CreatedAt: now,
	}
	if e.cfg.IdempotencyTTL > 0 {
		rec.ExpiresAt = now.Add(e.cfg.IdempotencyTTL)
	}

	sealed, err := e.store.Append(ctx, j, rec)
	if errors.Is(err, ledger.ErrDuplicateIdempotency) {
		// Another instance committed the same scope between our read and write.
		existing, ferr := e.store.FindIdempotency(ctx, scopeFP)
		if ferr != nil {
			return Receipt{}, storedPosting{}, fmt.Errorf("find idempotency record: %w", ferr)
		}
		if rc, done, err := e.settle(idempotency.Classify(existing, payloadFP)); done {
			return rc, storedPosting{}, err
		}
		return Receipt{}, storedPosting{}, err
	}
	if err != nil {
		return Receipt{}, storedPosting{}, err
	}
	return rc, storedPosting{journal: sealed, record: rec}, nil
}

type storedPosting struct {
	journal journal.Journal
	record  idempotency.Record
}

// settle turns a classification into a final answer. done is false only for New.
func (e *Engine) settle(d idempotency.Decision) (Receipt, bool, error) {
	switch d.Outcome {
	case idempotency.Duplicate:
		var rc Receipt
		if err := json.Unmarshal(d.Result, &rc); err != nil {
			return Receipt{}, true, fmt.Errorf("decode stored receipt: %w", err)
		}
		rc.Replayed = true
		return rc, true, nil
	case idempotency.Conflict:
		return Receipt{}, true, idempotency.ErrIdempotencyConflict
	default:
		return Receipt{}, false, nil
	}
}

// reversible loads the original journal and checks it may move to reversed.
func (e *Engine) reversible(ctx context.Context, p parsed) (journal.Journal, error) {
	original, err := e.store.Journal(ctx, p.ReversalOf)
	if err != nil {
		return journal.Journal{}, err
	}
	if original.Type == journal.Reversal {
		return journal.Journal{}, fmt.Errorf("%w: %s is itself a reversal", journal.ErrInvalidTransition, original.ID)
	}
	if p.Currency != "" && p.Currency != original.Currency {
		return journal.Journal{}, fmt.Errorf("%w: currency %s does not match journal currency %s", ErrInvalidRequest, p.Currency, original.Currency)
	}
	state, err := e.State(ctx, original)
	if err != nil {
		return journal.Journal{}, err
	}
	if err := journal.Transition(state, journal.Reversed); err != nil {
		return journal.Journal{}, fmt.Errorf("journal %s: %w", original.ID, err)
	}
	return original, nil
}

// State is the effective lifecycle state of j. Journals are immutable, so a posted
// journal reads as reversed once a reversal journal points at it.
func (e *Engine) State(ctx context.Context, j journal.Journal) (journal.State, error) {
	_, err := e.store.ReversalOf(ctx, j.ID)
	switch {
	case err == nil:
		return journal.Reversed, nil
	case errors.Is(err, ledger.ErrJournalNotFound):
		return j.State, nil
	default:
		return "", err
	}
}

// checkFunds is the fast-fail pass under the scope lock. The store repeats it inside
// the write.
func (e *Engine) checkFunds(ctx context.Context, lines []journal.Line) error {
	deltas, err := journal.Deltas(lines)
	if err != nil {
		return err
	}
	positions := make(map[string]ledger.Position, len(deltas))
	for _, l := range lines {
		code := l.Account.Code()
		if _, ok := positions[code]; ok {
			continue
		}
		acct, err := e.store.Account(ctx, l.Account)
		if err != nil {
			return err
		}
		pos := ledger.Position{Account: acct}
		if deltas[code] < 0 {
			if pos.Balance, err = e.store.Balance(ctx, l.Account); err != nil {
				return err
			}
		}
		positions[code] = pos
	}
	return ledger.CheckFunds(lines, positions)
}

func (e *Engine) afterCommit(ctx context.Context, logger *slog.Logger, sp storedPosting, rc Receipt) {
	logger.Info("journal posted",
		slog.String("journal_id", sp.journal.ID),
		slog.Int64("sequence", sp.journal.Sequence),
		slog.String("total_amount", rc.TotalAmount),
	)
	if err := e.cache.Put(ctx, sp.record, e.cfg.IdempotencyTTL); err != nil {
		logger.Warn("idempotency cache write failed", slog.Any("error", err))
	}
	if e.publisher == nil {
		return
	}

	name := events.JournalPosted
	if sp.journal.Type == journal.Reversal {
		name = events.JournalReversed
	}
	evt := events.Event{
		Name:          name,
		EntityType:    events.EntityJournal,
		EntityID:      sp.journal.ID,
		CorrelationID: sp.journal.CorrelationID,
		Payload: map[string]any{
			"type":            string(rc.Type),
			"actor":           sp.journal.ActorID,
			"state":           string(rc.State),
			"total_amount":    rc.TotalAmount,
			"fees":            rc.Fees,
			"commissions":     rc.Commissions,
			"currency":        rc.Currency,
			"idempotency_key": rc.IdempotencyKey,
			"sequence":        sp.journal.Sequence,
			"hash":            sp.journal.Hash,
		},
		OccurredAt: sp.journal.CreatedAt,
	}
	if rc.ReversalOf != "" {
		evt.Payload["reversal_of"] = rc.ReversalOf
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		logger.Warn("publish event failed", slog.String("event", name), slog.Any("error", err))
	}
}

// Lookup returns the receipt stored for the scope, without taking the lock.
func (e *Engine) Lookup(ctx context.Context, actor journal.Owner, t journal.TxnType, key string) (Receipt, error) {
	scopeFP := idempotency.ScopeFingerprint(actor.Key(), t, key)
	rec, err := e.cache.Get(ctx, scopeFP)
	if err != nil {
		e.logger.Warn("idempotency cache lookup failed", slog.Any("error", err))
		rec = nil
	}
	if rec == nil {
		if rec, err = e.store.FindIdempotency(ctx, scopeFP); err != nil {
			return Receipt{}, err
		}
	}
	if rec == nil {
		return Receipt{}, ErrReceiptNotFound
	}
	var rc Receipt
	if err := json.Unmarshal(rec.Result, &rc); err != nil {
		return Receipt{}, fmt.Errorf("decode stored receipt: %w", err)
	}
	rc.Replayed = true
	return rc, nil
}

// Reverse is shorthand for posting a reversal of journalID on behalf of actor.
func (e *Engine) Reverse(ctx context.Context, actor journal.Owner, journalID, idempotencyKey, correlationID string) (Receipt, error) {
	return e.Post(ctx, Request{
		Actor:          actor,
		Type:           journal.Reversal,
		ReversalOf:     journalID,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
	})
}
