package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/commitlabs/core/pkg/commitment"
)

// MetricsNotifier maps ledger events onto the provider's domain counters.
// It satisfies commitment.Notifier and never calls back into the ledger.
type MetricsNotifier struct {
	provider *Provider
}

// NewMetricsNotifier creates a notifier recording against p.
func NewMetricsNotifier(p *Provider) *MetricsNotifier {
	return &MetricsNotifier{provider: p}
}

// Emit implements commitment.Notifier.
func (n *MetricsNotifier) Emit(ctx context.Context, ev commitment.Event) {
	attrs := []attribute.KeyValue{
		AttrCommitmentID.Int64(int64(ev.CommitmentID)),
		attribute.String("commitd.event.topic", ev.Topic),
	}
	switch ev.Topic {
	case commitment.TopicCreated:
		n.provider.RecordCommitmentCreated(ctx, attrs...)
	case commitment.TopicViolated:
		n.provider.RecordViolation(ctx, attrs...)
	default:
		n.provider.RecordRequest(ctx, attrs...)
	}
}

// FanoutNotifier delivers every event to each wrapped notifier in order.
type FanoutNotifier []commitment.Notifier

// Emit implements commitment.Notifier.
func (f FanoutNotifier) Emit(ctx context.Context, ev commitment.Event) {
	for _, n := range f {
		n.Emit(ctx, ev)
	}
}
