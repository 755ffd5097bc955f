package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// JournalPosted is emitted after a forward journal commits.
	JournalPosted = "journal.posted"
	// JournalReversed is emitted after a reversal journal commits.
	JournalReversed = "journal.reversed"
	// IntegrityVerified is emitted when a verification pass finds an intact chain.
	IntegrityVerified = "ledger.integrity_verified"
	// IntegrityBroken is emitted when a verification pass finds a mismatch.
	IntegrityBroken = "ledger.integrity_broken"

	EntityJournal = "journal"
	EntityLedger  = "ledger"
)

// Event is the envelope handed to downstream consumers. Delivery is at-least-once, so
// consumers dedupe on Name+EntityID.
type Event struct {
	Name          string
	EntityType    string
	EntityID      string
	CorrelationID string
	Payload       map[string]any
	OccurredAt    time.Time
}

// Publisher delivers events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LoggerPublisher writes events to the structured logger.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a publisher that only logs.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event",
		slog.String("name", event.Name),
		slog.String("entity_type", event.EntityType),
		slog.String("entity_id", event.EntityID),
		slog.String("correlation_id", event.CorrelationID),
		slog.Any("payload", event.Payload),
	)
	return nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

// Publish sends event to each publisher in order.
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

// Publish appends event.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, event)
	return nil
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.Events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
