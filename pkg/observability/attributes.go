// Package observability provides commitment-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Commitment-specific semantic convention attributes.
var (
	// Commitment attributes
	AttrCommitmentID   = attribute.Key("commitd.commitment.id")
	AttrCommitmentType = attribute.Key("commitd.commitment.type")
	AttrOwner          = attribute.Key("commitd.commitment.owner")
	AttrAsset          = attribute.Key("commitd.commitment.asset")
	AttrStatus         = attribute.Key("commitd.commitment.status")

	// Violation attributes
	AttrLossPercent      = attribute.Key("commitd.violation.loss_percent")
	AttrLossViolated     = attribute.Key("commitd.violation.loss_violated")
	AttrDurationViolated = attribute.Key("commitd.violation.duration_violated")

	// Attestation attributes
	AttrAttestationType = attribute.Key("commitd.attestation.type")
	AttrVerifiedBy      = attribute.Key("commitd.attestation.verified_by")
	AttrComplianceScore = attribute.Key("commitd.attestation.compliance_score")

	// Oracle attributes
	AttrFeeder = attribute.Key("commitd.oracle.feeder")
)

// CommitmentOperation creates attributes for ledger operations.
func CommitmentOperation(id uint64, owner, asset, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCommitmentID.Int64(int64(id)),
		AttrOwner.String(owner),
		AttrAsset.String(asset),
		AttrStatus.String(status),
	}
}

// ViolationCheck creates attributes for violation checks.
func ViolationCheck(id uint64, lossPercent string, lossViolated, durationViolated bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCommitmentID.Int64(int64(id)),
		AttrLossPercent.String(lossPercent),
		AttrLossViolated.Bool(lossViolated),
		AttrDurationViolated.Bool(durationViolated),
	}
}

// AttestationOperation creates attributes for attestation records.
func AttestationOperation(id uint64, attType, verifiedBy string, score int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCommitmentID.Int64(int64(id)),
		AttrAttestationType.String(attType),
		AttrVerifiedBy.String(verifiedBy),
		AttrComplianceScore.Int64(score),
	}
}

// OracleOperation creates attributes for price feed updates.
func OracleOperation(asset, feeder string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAsset.String(asset),
		AttrFeeder.String(feeder),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
