package importer

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-service-tracker/internal/otel"
	"github.com/stacklok/toolhive-service-tracker/internal/telemetry"
	"github.com/stacklok/toolhive-service-tracker/pkg/availability"
	"github.com/stacklok/toolhive-service-tracker/pkg/collection"
	"github.com/stacklok/toolhive-service-tracker/pkg/filtering"
	"github.com/stacklok/toolhive-service-tracker/pkg/listener"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
	"github.com/stacklok/toolhive-service-tracker/pkg/tracker"
)

// Subscription is a live collection of the registry services matching a filter
type Subscription struct {
	name       string
	matcher    *filtering.Matcher
	tracker    *tracker.Tracker
	gate       *availability.Controller
	dispatcher *listener.Dispatcher
	view       *collection.View
	metrics    *telemetry.TrackerMetrics
	tracer     trace.Tracer

	closeOnce sync.Once
	closeErr  error
}

var _ collection.Collection = (*Subscription)(nil)

// New validates the configuration, opens the subscription against gw and
// returns once the initial membership has been established.
func New(ctx context.Context, gw registry.Gateway, opts ...Option) (*Subscription, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if gw == nil {
		return nil, fmt.Errorf("%w: registry gateway cannot be nil", registry.ErrInvalidConfiguration)
	}
	if o.timeout < 0 {
		return nil, fmt.Errorf("%w: timeout cannot be negative, got %s", registry.ErrInvalidConfiguration, o.timeout)
	}

	matcher, err := filtering.NewMatcher(o.capabilities, o.matcherOptions()...)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewTrackerMetrics(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription metrics: %w", err)
	}

	name := o.name
	if name == "" {
		name = matcher.String()
	}

	s := &Subscription{
		name:    name,
		matcher: matcher,
		metrics: metrics,
		tracer:  o.tracer,
		gate: availability.NewController(o.policy,
			availability.WithTimeout(o.timeout),
			availability.WithFilterDescription(matcher.String())),
	}
	s.dispatcher = listener.NewDispatcher(o.listeners,
		listener.WithName(name),
		listener.WithFaultHook(func(f listener.Fault) {
			s.metrics.RecordListenerFault(context.Background(), s.name, string(f.Operation))
		}))
	s.tracker = tracker.New(gw, matcher.TypeName(), matcher,
		tracker.WithName(name),
		tracker.WithChangeFunc(s.onChange))
	s.view = collection.NewView(s.tracker, gateFunc(s.await), o.memberType,
		collection.WithName(name),
		collection.WithFilterDescription(matcher.String()),
		collection.WithTracer(o.tracer))

	ctx, span := otel.StartSpan(ctx, s.tracer, "importer.Open", s.scope(),
		otel.AttrPolicy.String(o.policy.String()))
	defer span.End()

	if err := s.tracker.Open(ctx); err != nil {
		otel.RecordError(span, err)
		_ = s.Close()
		return nil, fmt.Errorf("failed to open subscription %q: %w", name, err)
	}
	size := s.tracker.Len()
	span.SetAttributes(otel.AttrResultCount.Int(size))
	s.metrics.RecordMembers(ctx, name, size)

	slog.InfoContext(ctx, "Subscription opened",
		"subscription", name,
		"filter", matcher.String(),
		"policy", o.policy.String(),
		"member_type", o.memberType.String(),
		"members", size)
	return s, nil
}

// eventPathKey marks a context handed to listeners on a subscription's event path
type eventPathKey struct{}

// onChange runs on the tracker's serialized event path
func (s *Subscription) onChange(c tracker.Change) {
	ctx := context.WithValue(context.Background(), eventPathKey{}, s)

	switch c.Kind {
	case tracker.Bound:
		s.gate.Update(c.Size)
		slog.DebugContext(ctx, "Service bound",
			"subscription", s.name,
			"service_id", c.Handle.ID(),
			"members", c.Size)
		s.dispatcher.NotifyBind(ctx, c.Handle)
	case tracker.Unbound:
		s.gate.Update(c.Size)
		slog.DebugContext(ctx, "Service unbound",
			"subscription", s.name,
			"service_id", c.Handle.ID(),
			"reason", c.Reason.String(),
			"members", c.Size)
		s.dispatcher.NotifyUnbind(ctx, c.Handle, c.Reason)
	case tracker.Replaced:
		slog.DebugContext(ctx, "Service properties updated",
			"subscription", s.name,
			"service_id", c.Handle.ID())
		return
	}

	s.metrics.RecordChange(ctx, s.name, c.Kind.String())
	s.metrics.RecordMembers(ctx, s.name, c.Size)
}

type gateFunc func(ctx context.Context) error

func (f gateFunc) Await(ctx context.Context) error {
	return f(ctx)
}

// await passes the availability gate, recording wait time when it blocks.
// A read from this subscription's own event path never waits: the event path
// cannot deliver the member it would be waiting for.
func (s *Subscription) await(ctx context.Context) error {
	if path, _ := ctx.Value(eventPathKey{}).(*Subscription); path == s {
		return s.gate.Check()
	}
	if s.gate.State() == availability.Satisfied {
		return s.gate.Await(ctx)
	}

	ctx, span := otel.StartSpan(ctx, s.tracer, "importer.AwaitAvailability", s.scope())
	defer span.End()

	start := time.Now()
	err := s.gate.Await(ctx)
	s.metrics.RecordGateWait(ctx, s.name, time.Since(start), err == nil)
	otel.RecordError(span, err)
	return err
}

func (s *Subscription) scope() otel.Scope {
	return otel.Scope{Subscription: s.name, Filter: s.matcher.String()}
}

// Name returns the subscription name
func (s *Subscription) Name() string {
	return s.name
}

// Filter returns the effective filter description
func (s *Subscription) Filter() string {
	return s.matcher.String()
}

// Policy returns the cardinality policy
func (s *Subscription) Policy() availability.Policy {
	return s.gate.Policy()
}

// State returns the availability state without blocking
func (s *Subscription) State() availability.State {
	return s.gate.State()
}

// Snapshot returns the current member handles without passing the gate
func (s *Subscription) Snapshot() []*registry.Handle {
	return s.tracker.Handles()
}

// Size implements collection.Collection
func (s *Subscription) Size(ctx context.Context) (int, error) {
	return s.view.Size(ctx)
}

// IsEmpty implements collection.Collection
func (s *Subscription) IsEmpty(ctx context.Context) (bool, error) {
	return s.view.IsEmpty(ctx)
}

// All implements collection.Collection
func (s *Subscription) All(ctx context.Context) iter.Seq2[any, error] {
	return s.view.All(ctx)
}

// Handles implements collection.Collection
func (s *Subscription) Handles(ctx context.Context) ([]*registry.Handle, error) {
	return s.view.Handles(ctx)
}

// Close unsubscribes from the registry, releases all resolved instances and
// wakes blocked readers with registry.ErrClosed. Listeners are not notified.
// Close is idempotent.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.gate.Close()
		s.closeErr = s.tracker.Close()
		s.metrics.RecordMembers(context.Background(), s.name, 0)
		slog.Info("Subscription closed", "subscription", s.name)
	})
	return s.closeErr
}
