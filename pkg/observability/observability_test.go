package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/commitlabs/core/pkg/commitment"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "commitd", config.ServiceName)
	require.Equal(t, "1.0.0", config.ServiceVersion)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, p)

	// Should not fail even when disabled
	tracer := p.Tracer()
	require.NotNil(t, tracer)

	meter := p.Meter()
	require.NotNil(t, meter)
}

func TestTrackOperation(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("test.key", "test.value"),
	}

	newCtx, finish := p.TrackOperation(ctx, "test.operation", attrs...)
	require.NotNil(t, newCtx)

	// Simulate some work
	time.Sleep(1 * time.Millisecond)

	// Call finish without error
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	_, finish := p.TrackOperation(ctx, "test.operation.error")

	// Call finish with error
	testErr := errors.New("test error")
	finish(testErr)

	// Should not panic
}

func TestRecordMetrics(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()

	// These should not panic when provider is disabled
	p.RecordRequest(ctx, attribute.String("test", "value"))
	p.RecordError(ctx, errors.New("test"), attribute.String("test", "value"))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("test", "value"))
	p.RecordCommitmentCreated(ctx, attribute.String("test", "value"))
	p.RecordViolation(ctx, attribute.String("test", "value"))
	p.RecordValueLocked(ctx, 1000)
}

func TestStartSpan(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	newCtx, span := p.StartSpan(ctx, "test.span")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	span.End()
}

func TestShutdown(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.Shutdown(ctx)
	require.NoError(t, err)
}

// Domain attribute helpers

func TestCommitmentOperation(t *testing.T) {
	attrs := CommitmentOperation(42, "alice", "USDC", "active")
	require.Len(t, attrs, 4)
	require.Equal(t, "commitd.commitment.id", string(attrs[0].Key))
	require.Equal(t, int64(42), attrs[0].Value.AsInt64())
	require.Equal(t, "alice", attrs[1].Value.AsString())
}

func TestViolationCheck(t *testing.T) {
	attrs := ViolationCheck(42, "11", true, false)
	require.Len(t, attrs, 4)
	require.Equal(t, "commitd.violation.loss_violated", string(attrs[2].Key))
	require.Equal(t, true, attrs[2].Value.AsBool())
}

func TestAttestationOperation(t *testing.T) {
	attrs := AttestationOperation(42, "drawdown", "oracle", 95)
	require.Len(t, attrs, 4)
	require.Equal(t, "commitd.attestation.compliance_score", string(attrs[3].Key))
	require.Equal(t, int64(95), attrs[3].Value.AsInt64())
}

func TestOracleOperation(t *testing.T) {
	attrs := OracleOperation("USDC", "feeder-1")
	require.Len(t, attrs, 2)
	require.Equal(t, "commitd.oracle.feeder", string(attrs[1].Key))
	require.Equal(t, "feeder-1", attrs[1].Value.AsString())
}

func TestMetricsNotifier(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	n := NewMetricsNotifier(p)
	ctx := context.Background()

	// Disabled provider: recording must be a safe no-op for every topic.
	n.Emit(ctx, commitment.Event{Topic: commitment.TopicCreated, CommitmentID: 1})
	n.Emit(ctx, commitment.Event{Topic: commitment.TopicViolated, CommitmentID: 1})
	n.Emit(ctx, commitment.Event{Topic: commitment.TopicSettled, CommitmentID: 1})
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Emit(context.Context, commitment.Event) { c.n++ }

func TestFanoutNotifier(t *testing.T) {
	a := &countingNotifier{}
	b := &countingNotifier{}
	fan := FanoutNotifier{a, b}

	fan.Emit(context.Background(), commitment.Event{Topic: commitment.TopicCreated})
	require.Equal(t, 1, a.n)
	require.Equal(t, 1, b.n)
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()
	span := SpanFromContext(ctx)
	require.NotNil(t, span) // Returns a no-op span if none
}

func TestAddSpanEvent(t *testing.T) {
	ctx := context.Background()
	// Should not panic
	AddSpanEvent(ctx, "test.event", attribute.String("key", "value"))
}

func TestSetSpanStatus(t *testing.T) {
	ctx := context.Background()
	// Should not panic
	SetSpanStatus(ctx, errors.New("test error"))
	SetSpanStatus(ctx, nil)
}
