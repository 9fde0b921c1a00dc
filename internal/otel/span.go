// Package otel provides tracing helpers shared by the reconciler and the CLI.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys attached to reconciliation spans.
const (
	AttrTransport = attribute.Key("deployer.transport")
	AttrUnit      = attribute.Key("deployer.unit")
	AttrRunID     = attribute.Key("deployer.run_id")
	AttrStep      = attribute.Key("deployer.step")
	AttrSeverity  = attribute.Key("deployer.step.severity")
	AttrStatus    = attribute.Key("deployer.step.status")
	AttrRevision  = attribute.Key("deployer.revision")
)

// StartSpan starts a span on tracer. With a nil tracer it returns ctx
// unchanged and a no-op span, so ending it never ends a caller's span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed.
// The status description stays generic; command output can carry
// credentials and is only kept in the error event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
