// Package otel provides OpenTelemetry span helpers for subscription operations.
package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// Attribute keys shared by tracker spans
const (
	AttrSubscription = attribute.Key("tracker.subscription")
	AttrPolicy       = attribute.Key("tracker.policy")
	AttrServiceID    = attribute.Key("service.id")
	AttrFilter       = attribute.Key("service.filter")
	AttrResultCount  = attribute.Key("result.count")
	AttrErrorKind    = attribute.Key("tracker.error.kind")
)

// Scope names the subscription an operation runs for. Empty fields are not
// recorded.
type Scope struct {
	Subscription string
	Filter       string
}

func (s Scope) attributes(extra []attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	if s.Subscription != "" {
		attrs = append(attrs, AttrSubscription.String(s.Subscription))
	}
	if s.Filter != "" {
		attrs = append(attrs, AttrFilter.String(s.Filter))
	}
	return append(attrs, extra...)
}

// StartSpan starts a span carrying the scope's subscription and filter.
// With a nil tracer the span already in ctx is returned and nothing is recorded.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	scope Scope,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(scope.attributes(attrs)...))
}

// RecordError marks the span failed and tags it with the registry error kind.
// The status description stays generic; the error text goes to the exception event.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(AttrErrorKind.String(ErrorKind(err)))
	span.SetStatus(codes.Error, "operation failed")
}

// ErrorKind maps err onto a short label for the registry sentinel it wraps
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, registry.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, registry.ErrClosed):
		return "closed"
	case errors.Is(err, registry.ErrServiceGone):
		return "gone"
	case errors.Is(err, registry.ErrNoSuchService):
		return "not_found"
	case errors.Is(err, registry.ErrAmbiguousService):
		return "ambiguous"
	case errors.Is(err, registry.ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "context"
	default:
		return "internal"
	}
}
