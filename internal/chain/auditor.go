package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/mobile_ledger/internal/events"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// Source is the read-only view the auditor verifies.
type Source interface {
	JournalsInRange(ctx context.Context, from, to time.Time) ([]journal.Journal, error)
}

// Auditor runs verification passes off the request path and reports findings as events.
type Auditor struct {
	source    Source
	publisher events.Publisher
	logger    *slog.Logger
	window    time.Duration
	now       func() time.Time
}

// NewAuditor builds an auditor. A zero window verifies the whole history on every pass.
func NewAuditor(source Source, publisher events.Publisher, logger *slog.Logger, window time.Duration) *Auditor {
	return &Auditor{source: source, publisher: publisher, logger: logger, window: window, now: time.Now}
}

// Check verifies journals created in [from, to] and publishes the outcome.
func (a *Auditor) Check(ctx context.Context, from, to time.Time) (Result, error) {
	journals, err := a.source.JournalsInRange(ctx, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("load journals: %w", err)
	}
	res := VerifyRange(journals)

	evt := events.Event{
		Name:       events.IntegrityVerified,
		EntityType: events.EntityLedger,
		EntityID:   "journals",
		Payload: map[string]any{
			"from":    from.UTC().Format(time.RFC3339Nano),
			"to":      to.UTC().Format(time.RFC3339Nano),
			"checked": res.Checked,
			"skipped": res.Skipped,
		},
		OccurredAt: a.now().UTC(),
	}
	if !res.Valid {
		evt.Name = events.IntegrityBroken
		evt.EntityType = events.EntityJournal
		evt.EntityID = res.BrokenAtID
		evt.Payload["broken_at_id"] = res.BrokenAtID
		a.logger.Error("hash chain mismatch", slog.String("journal_id", res.BrokenAtID), slog.Bool("alert", true))
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, evt); err != nil {
			a.logger.Warn("publish integrity event", slog.Any("error", err))
		}
	}
	return res, nil
}

// Run verifies on every tick until ctx is cancelled. A non-positive interval disables it.
func (a *Auditor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		a.logger.Warn("integrity auditor disabled", slog.Duration("interval", interval))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.logger.Info("integrity auditor started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			to := a.now()
			var from time.Time
			if a.window > 0 {
				from = to.Add(-a.window)
			}
			if _, err := a.Check(ctx, from, to); err != nil {
				a.logger.Error("integrity check failed", slog.Any("error", err))
			}
		}
	}
}
