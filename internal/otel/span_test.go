package otel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder, tp.Tracer("tracker-test")
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]string {
	m := make(map[attribute.Key]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value.Emit()
	}
	return m
}

func TestStartSpan_Scope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		scope Scope
		extra []attribute.KeyValue
		want  map[attribute.Key]string
	}{
		{
			name:  "subscription and filter",
			scope: Scope{Subscription: "runnables", Filter: "(objectClass=Runnable)"},
			want: map[attribute.Key]string{
				AttrSubscription: "runnables",
				AttrFilter:       "(objectClass=Runnable)",
			},
		},
		{
			name:  "empty filter is omitted",
			scope: Scope{Subscription: "runnables"},
			extra: []attribute.KeyValue{AttrServiceID.Int64(7)},
			want: map[attribute.Key]string{
				AttrSubscription: "runnables",
				AttrServiceID:    "7",
			},
		},
		{
			name:  "empty scope",
			extra: []attribute.KeyValue{AttrPolicy.String("mandatory")},
			want:  map[attribute.Key]string{AttrPolicy: "mandatory"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			recorder, tracer := newRecorder(t)

			ctx, span := StartSpan(context.Background(), tracer, "importer.Open", tt.scope, tt.extra...)
			assert.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())
			span.End()

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, "importer.Open", ended[0].Name())
			assert.Equal(t, tt.want, attrMap(ended[0].Attributes()))
		})
	}
}

func TestStartSpan_NilTracerKeepsParent(t *testing.T) {
	t.Parallel()

	recorder, tracer := newRecorder(t)
	parentCtx, parent := tracer.Start(context.Background(), "parent")

	ctx, span := StartSpan(parentCtx, nil, "collection.Resolve", Scope{Subscription: "runnables"})
	assert.Equal(t, parentCtx, ctx)
	assert.Equal(t, parent.SpanContext(), span.SpanContext())
	parent.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "parent", ended[0].Name())
	assert.NotContains(t, attrMap(ended[0].Attributes()), AttrSubscription)

	_, noop := StartSpan(context.Background(), nil, "collection.Resolve", Scope{})
	assert.False(t, noop.SpanContext().IsValid())
	assert.NotPanics(t, func() { noop.End() })
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	t.Run("tags the error kind", func(t *testing.T) {
		t.Parallel()
		recorder, tracer := newRecorder(t)

		_, span := StartSpan(context.Background(), tracer, "importer.AwaitAvailability", Scope{Subscription: "runnables"})
		RecordError(span, fmt.Errorf("wait for runnables: %w", registry.ErrServiceUnavailable))
		span.End()

		ended := recorder.Ended()
		require.Len(t, ended, 1)
		assert.Equal(t, codes.Error, ended[0].Status().Code)
		assert.Equal(t, "operation failed", ended[0].Status().Description)
		assert.Equal(t, "unavailable", attrMap(ended[0].Attributes())[AttrErrorKind])
		require.Len(t, ended[0].Events(), 1)
		assert.Equal(t, "exception", ended[0].Events()[0].Name)
	})

	t.Run("nil error leaves the span untouched", func(t *testing.T) {
		t.Parallel()
		recorder, tracer := newRecorder(t)

		_, span := StartSpan(context.Background(), tracer, "collection.Resolve", Scope{})
		RecordError(span, nil)
		span.End()

		ended := recorder.Ended()
		require.Len(t, ended, 1)
		assert.Equal(t, codes.Unset, ended[0].Status().Code)
		assert.Empty(t, ended[0].Events())
		assert.NotContains(t, attrMap(ended[0].Attributes()), AttrErrorKind)
	})

	t.Run("nil span", func(t *testing.T) {
		t.Parallel()
		assert.NotPanics(t, func() { RecordError(nil, registry.ErrClosed) })
	})
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{registry.ErrServiceUnavailable, "unavailable"},
		{fmt.Errorf("subscription: %w", registry.ErrClosed), "closed"},
		{registry.ErrServiceGone, "gone"},
		{registry.ErrNoSuchService, "not_found"},
		{registry.ErrAmbiguousService, "ambiguous"},
		{fmt.Errorf("%w: timeout", registry.ErrInvalidConfiguration), "invalid_configuration"},
		{context.DeadlineExceeded, "context"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "error %v", tt.err)
	}
}
