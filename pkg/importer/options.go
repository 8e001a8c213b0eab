package importer

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-service-tracker/pkg/availability"
	"github.com/stacklok/toolhive-service-tracker/pkg/collection"
	"github.com/stacklok/toolhive-service-tracker/pkg/filtering"
	"github.com/stacklok/toolhive-service-tracker/pkg/listener"
)

type options struct {
	name          string
	capabilities  []string
	filter        string
	hierarchy     filtering.Hierarchy
	versionRange  string
	policy        availability.Policy
	memberType    collection.MemberType
	timeout       time.Duration
	listeners     []listener.Listener
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
}

func defaultOptions() *options {
	return &options{
		policy:     availability.Optional,
		memberType: collection.ResolvedInstance,
		timeout:    availability.DefaultTimeout,
	}
}

func (o *options) matcherOptions() []filtering.MatcherOption {
	opts := []filtering.MatcherOption{
		filtering.WithHierarchy(o.hierarchy),
		filtering.WithPredicate(o.filter),
	}
	if o.versionRange != "" {
		opts = append(opts, filtering.WithVersionRange(o.versionRange))
	}
	return opts
}

// Option configures a Subscription or a lookup
type Option func(*options)

// WithName names the subscription in logs, metrics and spans
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithCapabilities adds required capabilities
func WithCapabilities(capabilities ...string) Option {
	return func(o *options) {
		o.capabilities = append(o.capabilities, capabilities...)
	}
}

// WithFilter sets the label-selector predicate
func WithFilter(expr string) Option {
	return func(o *options) {
		o.filter = expr
	}
}

// WithHierarchy sets the capability subtype hierarchy
func WithHierarchy(h filtering.Hierarchy) Option {
	return func(o *options) {
		o.hierarchy = h
	}
}

// WithVersionRange restricts members to a semver range of their "version" property
func WithVersionRange(expr string) Option {
	return func(o *options) {
		o.versionRange = expr
	}
}

// WithPolicy sets the cardinality policy (default Optional)
func WithPolicy(p availability.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithMemberType selects what iteration yields (default ResolvedInstance)
func WithMemberType(t collection.MemberType) Option {
	return func(o *options) {
		o.memberType = t
	}
}

// WithTimeout bounds how long reads wait on a Mandatory subscription
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithListeners appends lifecycle listeners, notified in the given order
func WithListeners(listeners ...listener.Listener) Option {
	return func(o *options) {
		o.listeners = append(o.listeners, listeners...)
	}
}

// WithMeterProvider enables subscription metrics
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = provider
	}
}

// WithTracer enables spans around opening, gate waits and resolution
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}
