package importer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-service-tracker/internal/otel"
	"github.com/stacklok/toolhive-service-tracker/internal/telemetry"
	"github.com/stacklok/toolhive-service-tracker/pkg/availability"
	"github.com/stacklok/toolhive-service-tracker/pkg/collection"
	"github.com/stacklok/toolhive-service-tracker/pkg/listener"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry/inmemory"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry/mocks"
)

type task struct {
	id string
}

func (*task) Run() {}

type Runnable interface {
	Run()
}

func TestNew_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	t.Cleanup(func() {
		assert.Zero(t, reg.SubscriberCount(), "failed construction must not leave subscriptions behind")
	})

	tests := []struct {
		name string
		gw   registry.Gateway
		opts []Option
	}{
		{name: "nil gateway", gw: nil, opts: []Option{WithCapabilities("Runnable")}},
		{name: "no capabilities", gw: reg},
		{name: "malformed filter", gw: reg, opts: []Option{WithCapabilities("Runnable"), WithFilter("tier in (web")}},
		{name: "negative timeout", gw: reg, opts: []Option{WithCapabilities("Runnable"), WithTimeout(-time.Second)}},
		{name: "bad version range", gw: reg, opts: []Option{WithCapabilities("Runnable"), WithVersionRange("~>banana")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sub, err := New(context.Background(), tt.gw, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, sub)
			assert.ErrorIs(t, err, registry.ErrInvalidConfiguration)
		})
	}
}

func TestSubscription_OptionalReferenceScenario(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	sub, err := New(context.Background(), reg,
		WithName("runnables"),
		WithCapabilities("Runnable"),
		WithPolicy(availability.Optional),
		WithMemberType(collection.ReferenceHandle))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	ctx := context.Background()
	empty, err := sub.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	h1, err := reg.Register([]string{"Runnable"}, nil, &task{id: "h1"})
	require.NoError(t, err)

	size, err := sub.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	handles, err := collection.Instances[*registry.Handle](ctx, sub)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Same(t, h1, handles[0])

	require.NoError(t, reg.Unregister(h1.ID()))
	size, err = sub.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestSubscription_MandatoryBlocksUntilRegistered(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	sub, err := New(context.Background(), reg,
		WithCapabilities("Runnable"),
		WithPolicy(availability.Mandatory),
		WithTimeout(10*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	assert.Equal(t, availability.Waiting, sub.State())

	type result struct {
		size int
		err  error
	}
	results := make(chan result, 1)
	go func() {
		size, err := sub.Size(context.Background())
		results <- result{size: size, err: err}
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = reg.Register([]string{"Runnable"}, nil, &task{id: "h1"})
	require.NoError(t, err)

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, 1, r.size)
	case <-time.After(5 * time.Second):
		t.Fatal("Size did not return after a matching service registered")
	}
	assert.Equal(t, availability.Satisfied, sub.State())

	runnables, err := collection.Instances[Runnable](context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, runnables, 1)
	assert.Equal(t, "h1", runnables[0].(*task).id)
}

func TestSubscription_MandatoryTimeout(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	_, err := reg.Register([]string{"Runnable"}, map[string]string{"tier": "batch"}, &task{})
	require.NoError(t, err)

	sub, err := New(context.Background(), reg,
		WithCapabilities("Runnable"),
		WithFilter("tier=web"),
		WithPolicy(availability.Mandatory),
		WithTimeout(25*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	_, err = sub.Size(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrServiceUnavailable)

	var unavailable *registry.UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Contains(t, unavailable.Filter, "tier=web")
}

func TestSubscription_MandatorySatisfiedByInitialMembers(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	_, err := reg.Register([]string{"Runnable"}, nil, &task{})
	require.NoError(t, err)

	sub, err := New(context.Background(), reg,
		WithCapabilities("Runnable"),
		WithPolicy(availability.Mandatory),
		WithTimeout(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	assert.Equal(t, availability.Satisfied, sub.State())
	size, err := sub.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestSubscription_ListenerOrderAndIsolation(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls []string
	record := func(entry string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, entry)
	}

	first := listener.Funcs{
		OnBind: func(_ context.Context, h *registry.Handle) error {
			record("first bind " + h.ID().String())
			return errors.New("first listener failed")
		},
		OnUnbind: func(_ context.Context, h *registry.Handle, reason registry.EventKind) error {
			record("first unbind " + h.ID().String() + " " + reason.String())
			panic("first listener panicked")
		},
	}
	second := listener.Funcs{
		OnBind: func(_ context.Context, h *registry.Handle) error {
			record("second bind " + h.ID().String())
			return nil
		},
		OnUnbind: func(_ context.Context, h *registry.Handle, reason registry.EventKind) error {
			record("second unbind " + h.ID().String() + " " + reason.String())
			return nil
		},
	}

	reg := inmemory.New()
	sub, err := New(context.Background(), reg,
		WithCapabilities("Runnable"),
		WithListeners(first, second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	h, err := reg.Register([]string{"Runnable"}, nil, &task{})
	require.NoError(t, err)
	require.NoError(t, reg.Unregister(h.ID()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"first bind 1",
		"second bind 1",
		"first unbind 1 UNREGISTERING",
		"second unbind 1 UNREGISTERING",
	}, calls)

	size, err := sub.Size(context.Background())
	require.NoError(t, err)
	assert.Zero(t, size, "listener faults do not corrupt the membership set")
}

func TestSubscription_ResolvedInstances(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	sub, err := New(context.Background(), reg, WithCapabilities("Runnable"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	instance := &task{id: "alpha"}
	h, err := reg.Register([]string{"Runnable"}, nil, instance)
	require.NoError(t, err)

	instances, err := collection.Instances[*task](context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Same(t, instance, instances[0])
	assert.Equal(t, 1, reg.UseCount(h.ID()))

	handles, err := sub.Handles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []*registry.Handle{h}, handles)
	assert.Equal(t, handles, sub.Snapshot())

	require.NoError(t, sub.Close())
	assert.Zero(t, reg.UseCount(h.ID()), "close releases resolved instances")
}

func TestSubscription_CloseWakesReadersAndIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	sub, err := New(context.Background(), reg,
		WithCapabilities("Runnable"),
		WithPolicy(availability.Mandatory),
		WithTimeout(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, reg.SubscriberCount())

	results := make(chan error, 1)
	go func() {
		for _, err := range sub.All(context.Background()) {
			results <- err
			return
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case err := <-results:
		assert.ErrorIs(t, err, registry.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not wake the blocked reader")
	}

	assert.Zero(t, reg.SubscriberCount())
	_, err = sub.Size(context.Background())
	assert.ErrorIs(t, err, registry.ErrClosed)
}

func TestSubscription_WithMockGateway(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)

	h1 := registry.NewHandle(1, []string{"Runnable"}, map[string]string{"version": "1.2.0"})
	h2 := registry.NewHandle(2, []string{"Runnable"}, map[string]string{"version": "2.0.0"})

	var handler registry.EventHandler
	gw.EXPECT().Query(gomock.Any(), "Runnable", gomock.Any()).Return(nil, nil).Times(2)
	gw.EXPECT().Subscribe("Runnable", gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ string, _ registry.Filter, h registry.EventHandler) (registry.SubscriptionID, error) {
			handler = h
			return 9, nil
		})
	gw.EXPECT().Resolve(gomock.Any(), h1).Return(&task{id: "one"}, nil)
	gw.EXPECT().Release(h1).Return(nil)
	gw.EXPECT().Unsubscribe(registry.SubscriptionID(9)).Return(nil)

	sub, err := New(context.Background(), gw,
		WithCapabilities("Runnable"),
		WithVersionRange("^1"))
	require.NoError(t, err)
	require.NotNil(t, handler)

	handler(registry.Event{Kind: registry.EventRegistered, Handle: h1})
	handler(registry.Event{Kind: registry.EventRegistered, Handle: h2})

	instances, err := collection.Instances[*task](context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "one", instances[0].id)

	handler(registry.Event{Kind: registry.EventUnregistering, Handle: h1})
	handler(registry.Event{Kind: registry.EventUnregistering, Handle: h1})

	empty, err := sub.IsEmpty(context.Background())
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, sub.Close())
}

func TestSubscription_OpenFailureCleansUp(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)

	errQuery := errors.New("registry unavailable")
	gomock.InOrder(
		gw.EXPECT().Query(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil),
		gw.EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).Return(registry.SubscriptionID(3), nil),
		gw.EXPECT().Query(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errQuery),
		gw.EXPECT().Unsubscribe(registry.SubscriptionID(3)).Return(nil),
	)

	sub, err := New(context.Background(), gw, WithCapabilities("Runnable"))
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, errQuery)
}

func TestSubscription_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	reg := inmemory.New()
	sub, err := New(context.Background(), reg,
		WithName("runnables"),
		WithCapabilities("Runnable"),
		WithPolicy(availability.Mandatory),
		WithTimeout(5*time.Millisecond),
		WithMeterProvider(mp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	_, err = sub.Size(context.Background())
	require.ErrorIs(t, err, registry.ErrServiceUnavailable)

	h, err := reg.Register([]string{"Runnable"}, nil, &task{})
	require.NoError(t, err)
	require.NoError(t, reg.Unregister(h.ID()))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != telemetry.TrackerMetricsMeterName {
			continue
		}
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["thv_tracker_members"])
	assert.True(t, names["thv_tracker_membership_changes_total"])
	assert.True(t, names["thv_tracker_gate_wait_seconds"])
}

func TestSubscription_Accessors(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	sub, err := New(context.Background(), reg, WithCapabilities("Runnable"), WithFilter("tier=web"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	assert.Equal(t, `capabilities=[Runnable] predicate="tier=web"`, sub.Name(), "name defaults to the filter")
	assert.Equal(t, sub.Name(), sub.Filter())
	assert.Equal(t, availability.Optional, sub.Policy())
	assert.Equal(t, availability.Satisfied, sub.State())
}

func TestSubscription_ListenerReadsDoNotStallEventPath(t *testing.T) {
	t.Parallel()

	var (
		mu         sync.Mutex
		bindSizes  []int
		unbindErrs []error
		sub        *Subscription
	)
	reader := listener.Funcs{
		OnBind: func(ctx context.Context, _ *registry.Handle) error {
			size, err := sub.Size(ctx)
			mu.Lock()
			defer mu.Unlock()
			bindSizes = append(bindSizes, size)
			return err
		},
		OnUnbind: func(ctx context.Context, _ *registry.Handle, _ registry.EventKind) error {
			_, err := sub.Size(ctx)
			mu.Lock()
			defer mu.Unlock()
			unbindErrs = append(unbindErrs, err)
			return nil
		},
	}

	reg := inmemory.New()
	var err error
	sub, err = New(context.Background(), reg,
		WithCapabilities("Runnable"),
		WithPolicy(availability.Mandatory),
		WithTimeout(5*time.Second),
		WithListeners(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	h, err := reg.Register([]string{"Runnable"}, nil, &task{})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, reg.Unregister(h.ID()))
	assert.Less(t, time.Since(start), time.Second, "unbind listener must not wait on its own subscription")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1}, bindSizes)
	require.Len(t, unbindErrs, 1)
	assert.ErrorIs(t, unbindErrs[0], registry.ErrServiceUnavailable)
	assert.Equal(t, availability.Waiting, sub.State())
}

func TestSubscription_OtherContextsStillWait(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	sub, err := New(context.Background(), reg,
		WithCapabilities("Runnable"),
		WithPolicy(availability.Mandatory),
		WithTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	// A context carrying another subscription's event-path marker waits as usual
	other, err := New(context.Background(), reg, WithCapabilities("Closer"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })
	ctx := context.WithValue(context.Background(), eventPathKey{}, other)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, err := reg.Register([]string{"Runnable"}, nil, &task{})
		assert.NoError(t, err)
	}()

	size, err := sub.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

// spanContextHandler records the span context each log message was emitted under
type spanContextHandler struct {
	mu    sync.Mutex
	spans map[string]trace.SpanContext
}

func (h *spanContextHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *spanContextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spans[r.Message] = trace.SpanContextFromContext(ctx)
	return nil
}

func (h *spanContextHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *spanContextHandler) WithGroup(string) slog.Handler      { return h }

// Not parallel: swaps the default logger.
func TestSubscription_SpansAndLogsCarryScope(t *testing.T) {
	logs := &spanContextHandler{spans: map[string]trace.SpanContext{}}
	previous := slog.Default()
	slog.SetDefault(slog.New(logs))
	t.Cleanup(func() { slog.SetDefault(previous) })

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := inmemory.New()
	_, err := reg.Register([]string{"Runnable"}, nil, &task{id: "h1"})
	require.NoError(t, err)

	sub, err := New(context.Background(), reg,
		WithName("runnables"),
		WithCapabilities("Runnable"),
		WithTracer(tp.Tracer("tracker-test")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	items, err := collection.Instances[*task](context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, items, 1)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range recorder.Ended() {
		byName[s.Name()] = s
	}
	for _, name := range []string{"importer.Open", "collection.Resolve"} {
		span, ok := byName[name]
		require.True(t, ok, "missing span %s", name)
		attrs := map[attribute.Key]string{}
		for _, kv := range span.Attributes() {
			attrs[kv.Key] = kv.Value.Emit()
		}
		assert.Equal(t, "runnables", attrs[otel.AttrSubscription], name)
		assert.Equal(t, sub.Filter(), attrs[otel.AttrFilter], name)
	}

	logs.mu.Lock()
	defer logs.mu.Unlock()
	opened, ok := logs.spans["Subscription opened"]
	require.True(t, ok)
	assert.Equal(t, byName["importer.Open"].SpanContext().SpanID(), opened.SpanID())
}
