package commitment

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event topics emitted by the ledger.
const (
	TopicCreated   = "Created"
	TopicValueUpd  = "ValUpd"
	TopicViolated  = "Violated"
	TopicSettled   = "Settled"
	TopicEarlyExit = "EarlyExt"
	TopicAllocated = "Alloc"
)

// Event is a notification about a commitment state observation or change.
type Event struct {
	ID           string            `json:"id"`
	Topic        string            `json:"topic"`
	CommitmentID uint64            `json:"commitment_id"`
	Data         map[string]string `json:"data,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Notifier receives ledger events. Implementations must not call back into
// the ledger: events fire while the reentrancy guard may still be held.
type Notifier interface {
	Emit(ctx context.Context, ev Event)
}

// SlogNotifier writes events to structured logs.
type SlogNotifier struct {
	log *slog.Logger
}

// NewSlogNotifier creates a notifier on the given logger.
func NewSlogNotifier(log *slog.Logger) *SlogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &SlogNotifier{log: log.With("component", "commitment")}
}

// Emit implements Notifier.
func (n *SlogNotifier) Emit(ctx context.Context, ev Event) {
	n.log.InfoContext(ctx, "event",
		"topic", ev.Topic,
		"commitment_id", ev.CommitmentID,
		"data", ev.Data,
	)
}

// NopNotifier discards events.
type NopNotifier struct{}

// Emit implements Notifier.
func (NopNotifier) Emit(context.Context, Event) {}

func newEvent(topic string, commitmentID uint64, now time.Time, data map[string]string) Event {
	return Event{
		ID:           uuid.New().String(),
		Topic:        topic,
		CommitmentID: commitmentID,
		Data:         data,
		Timestamp:    now,
	}
}
