// Package collection exposes a subscription's membership set as a live,
// read-only collection.
//
// Every read first passes the availability gate, including every range over
// a sequence returned by All. Iteration works on a snapshot taken when the
// range loop starts, so it never observes a member removed before that point
// and never fails because of concurrent changes.
package collection

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-service-tracker/internal/otel"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
	"github.com/stacklok/toolhive-service-tracker/pkg/tracker"
)

// MemberType selects what iteration yields for each member
type MemberType int

const (
	// ResolvedInstance yields the service instance resolved through the registry
	ResolvedInstance MemberType = iota
	// ReferenceHandle yields the member's *registry.Handle
	ReferenceHandle
)

// String implements fmt.Stringer
func (t MemberType) String() string {
	switch t {
	case ResolvedInstance:
		return "instance"
	case ReferenceHandle:
		return "reference"
	default:
		return fmt.Sprintf("MemberType(%d)", int(t))
	}
}

// ParseMemberType parses "instance" or "reference" (case-insensitive).
// The empty string yields ResolvedInstance.
func ParseMemberType(s string) (MemberType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "instance":
		return ResolvedInstance, nil
	case "reference":
		return ReferenceHandle, nil
	default:
		return ResolvedInstance, fmt.Errorf("%w: unknown member type %q", registry.ErrInvalidConfiguration, s)
	}
}

// Collection is the read side of a subscription
type Collection interface {
	Size(ctx context.Context) (int, error)
	IsEmpty(ctx context.Context) (bool, error)
	All(ctx context.Context) iter.Seq2[any, error]
	Handles(ctx context.Context) ([]*registry.Handle, error)
}

// Gate blocks readers until the collection may be accessed
type Gate interface {
	Await(ctx context.Context) error
}

// Source provides membership snapshots in arrival order
type Source interface {
	Snapshot() []*tracker.Member
}

// View is the Collection backed by a tracker
type View struct {
	name       string
	filter     string
	source     Source
	gate       Gate
	memberType MemberType
	tracer     trace.Tracer
}

var _ Collection = (*View)(nil)

// Option configures a View
type Option func(*View)

// WithName sets the subscription name used in logs and spans
func WithName(name string) Option {
	return func(v *View) {
		v.name = name
	}
}

// WithFilterDescription sets the filter recorded on spans
func WithFilterDescription(filter string) Option {
	return func(v *View) {
		v.filter = filter
	}
}

// WithTracer enables spans around instance resolution
func WithTracer(tracer trace.Tracer) Option {
	return func(v *View) {
		v.tracer = tracer
	}
}

// NewView creates a view over source guarded by gate
func NewView(source Source, gate Gate, memberType MemberType, opts ...Option) *View {
	v := &View{
		source:     source,
		gate:       gate,
		memberType: memberType,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// MemberType returns what iteration yields
func (v *View) MemberType() MemberType {
	return v.memberType
}

// Size returns the number of members
func (v *View) Size(ctx context.Context) (int, error) {
	if err := v.gate.Await(ctx); err != nil {
		return 0, err
	}
	return len(v.source.Snapshot()), nil
}

// IsEmpty reports whether the collection has no members
func (v *View) IsEmpty(ctx context.Context) (bool, error) {
	size, err := v.Size(ctx)
	if err != nil {
		return false, err
	}
	return size == 0, nil
}

// Handles returns the handles of the current members in arrival order
func (v *View) Handles(ctx context.Context) ([]*registry.Handle, error) {
	if err := v.gate.Await(ctx); err != nil {
		return nil, err
	}
	members := v.source.Snapshot()
	handles := make([]*registry.Handle, len(members))
	for i, m := range members {
		handles[i] = m.Handle()
	}
	return handles, nil
}

// All returns a sequence over the members. Each range over the sequence
// passes the gate and then takes a fresh snapshot; when the gate fails the
// sequence yields the error once and stops. Once started, an iteration runs
// to completion even if the collection becomes unavailable. In
// ResolvedInstance mode members are resolved lazily; a member unbound before
// it was resolved is skipped.
func (v *View) All(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if err := v.gate.Await(ctx); err != nil {
			yield(nil, err)
			return
		}

		for _, m := range v.source.Snapshot() {
			var item any
			if v.memberType == ReferenceHandle {
				item = m.Handle()
			} else {
				instance, ok := v.resolve(ctx, m)
				if !ok {
					continue
				}
				item = instance
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (v *View) resolve(ctx context.Context, m *tracker.Member) (any, bool) {
	ctx, span := otel.StartSpan(ctx, v.tracer, "collection.Resolve",
		otel.Scope{Subscription: v.name, Filter: v.filter},
		otel.AttrServiceID.Int64(int64(m.ID())))
	defer span.End()

	instance, err := m.Instance(ctx)
	if err == nil {
		return instance, true
	}
	if errors.Is(err, registry.ErrServiceGone) {
		slog.DebugContext(ctx, "Skipping service unbound during iteration",
			"subscription", v.name,
			"service_id", m.ID())
		return nil, false
	}

	otel.RecordError(span, err)
	slog.WarnContext(ctx, "Failed to resolve service, skipping",
		"subscription", v.name,
		"service_id", m.ID(),
		"error", err)
	return nil, false
}

// Instances collects the members of c as values of type T
func Instances[T any](ctx context.Context, c Collection) ([]T, error) {
	var out []T
	for item, err := range c.All(ctx) {
		if err != nil {
			return nil, err
		}
		typed, ok := item.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("collection member of type %T is not a %T", item, zero)
		}
		out = append(out, typed)
	}
	return out, nil
}
