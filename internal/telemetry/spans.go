package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan opens an internal span under the active tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetSpanError records err on span and marks it failed.
func SetSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks span as having completed successfully.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys for the storage core's spans. Not every key is set by a
// current span (the WAL, for one, opens no spans).
var (
	AttrEntityID     = attribute.Key("cortex.entity.id")
	AttrTenantID     = attribute.Key("cortex.tenant.id")
	AttrCollection   = attribute.Key("cortex.collection")
	AttrEndpoint     = attribute.Key("cortex.endpoint")
	AttrBatchSize    = attribute.Key("cortex.batch.size")
	AttrBatchID      = attribute.Key("cortex.batch.id")
	AttrRunID        = attribute.Key("cortex.migration.run_id")
	AttrWALStatus    = attribute.Key("cortex.wal.status")
	AttrRetryAttempt = attribute.Key("cortex.retry.attempt")
)
