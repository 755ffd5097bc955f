package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congo-pay/mobile_ledger/internal/events"
)

const (
	// KindPosted tells an actor a posting completed.
	KindPosted = "posting_completed"
	// KindReversed tells an actor a posting was reversed.
	KindReversed = "posting_reversed"
	// KindIntegrityAlert pages operators about a broken hash chain.
	KindIntegrityAlert = "integrity_alert"

	// OpsDestination receives integrity alerts.
	OpsDestination = "ops"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// Publisher turns ledger events into notifications. Events without a recipient are ignored.
type Publisher struct {
	notifier Notifier
}

// NewPublisher adapts notifier to the events.Publisher interface.
func NewPublisher(notifier Notifier) *Publisher {
	return &Publisher{notifier: notifier}
}

// Publish sends the notification matching event, if any.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	msg, ok := messageFor(event)
	if !ok {
		return nil
	}
	return p.notifier.Send(ctx, msg)
}

func messageFor(event events.Event) (Message, bool) {
	str := func(key string) string {
		v, _ := event.Payload[key].(string)
		return v
	}
	switch event.Name {
	case events.JournalPosted:
		if str("actor") == "" {
			return Message{}, false
		}
		return Message{
			Kind:        KindPosted,
			Destination: str("actor"),
			Body:        fmt.Sprintf("%s of %s %s posted (ref %s)", str("type"), str("total_amount"), str("currency"), event.EntityID),
		}, true
	case events.JournalReversed:
		if str("actor") == "" {
			return Message{}, false
		}
		return Message{
			Kind:        KindReversed,
			Destination: str("actor"),
			Body:        fmt.Sprintf("%s of %s %s reversed (ref %s)", str("type"), str("total_amount"), str("currency"), str("reversal_of")),
		}, true
	case events.IntegrityBroken:
		return Message{
			Kind:        KindIntegrityAlert,
			Destination: OpsDestination,
			Body:        fmt.Sprintf("hash chain broken at journal %s", event.EntityID),
		}, true
	default:
		return Message{}, false
	}
}
