// Package inmemory provides an in-process service registry implementing registry.Gateway.
//
// Services are registered with a set of capability names, a property set and
// the instance handed out by Resolve. Every mutation is delivered to matching
// subscribers synchronously and in mutation order on the mutating goroutine.
// Event handlers may query the registry but must not mutate it.
package inmemory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// serviceEntry is one registered service
type serviceEntry struct {
	handle   *registry.Handle
	instance any
	useCount int
}

// subscriber is one installed event subscription
type subscriber struct {
	typeName string
	filter   registry.Filter
	handler  registry.EventHandler
}

// Registry is an in-memory service registry
type Registry struct {
	name string

	// deliverMu serializes mutations together with their event delivery
	deliverMu sync.Mutex

	mu          sync.RWMutex // Protects everything below
	nextID      registry.ID
	nextSubID   registry.SubscriptionID
	services    map[registry.ID]*serviceEntry
	subscribers map[registry.SubscriptionID]*subscriber
	closed      bool
}

var _ registry.Gateway = (*Registry)(nil)

// Option configures a Registry
type Option func(*Registry)

// WithName sets the registry name used in logs. Defaults to a random UUID.
func WithName(name string) Option {
	return func(r *Registry) {
		r.name = name
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		name:        uuid.NewString(),
		services:    make(map[registry.ID]*serviceEntry),
		subscribers: make(map[registry.SubscriptionID]*subscriber),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the registry name
func (r *Registry) Name() string {
	return r.name
}

// Register adds a service and delivers REGISTERED to matching subscribers
func (r *Registry) Register(capabilities []string, properties map[string]string, instance any) (*registry.Handle, error) {
	if len(capabilities) == 0 {
		return nil, fmt.Errorf("%w: at least one capability is required", registry.ErrInvalidConfiguration)
	}
	if slices.Contains(capabilities, "") {
		return nil, fmt.Errorf("%w: capability names cannot be empty", registry.ErrInvalidConfiguration)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: service instance cannot be nil", registry.ErrInvalidConfiguration)
	}

	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, registry.ErrClosed
	}
	r.nextID++
	h := registry.NewHandle(r.nextID, capabilities, properties)
	r.services[h.ID()] = &serviceEntry{handle: h, instance: instance}
	r.mu.Unlock()

	slog.Debug("Registered service",
		"registry", r.name,
		"service_id", h.ID(),
		"capabilities", capabilities)

	r.deliver(registry.Event{Kind: registry.EventRegistered, Handle: h}, nil)
	return h, nil
}

// Modify replaces the properties of a registered service and delivers MODIFIED
// to subscribers the service matched before or after the change.
func (r *Registry) Modify(id registry.ID, properties map[string]string) (*registry.Handle, error) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	entry, ok := r.services[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", registry.ErrServiceGone, id)
	}
	previous := entry.handle
	entry.handle = previous.WithProperties(properties)
	current := entry.handle
	r.mu.Unlock()

	slog.Debug("Modified service", "registry", r.name, "service_id", id)

	r.deliver(registry.Event{Kind: registry.EventModified, Handle: current}, previous)
	return current, nil
}

// Unregister delivers UNREGISTERING to matching subscribers and then removes the service
func (r *Registry) Unregister(id registry.ID) error {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	return r.unregisterLocked(id)
}

// unregisterLocked removes one service. Caller must hold r.deliverMu.
func (r *Registry) unregisterLocked(id registry.ID) error {
	r.mu.RLock()
	entry, ok := r.services[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", registry.ErrServiceGone, id)
	}

	// The service stays resolvable while subscribers observe UNREGISTERING
	r.deliver(registry.Event{Kind: registry.EventUnregistering, Handle: entry.handle}, nil)

	r.mu.Lock()
	delete(r.services, id)
	r.mu.Unlock()

	slog.Debug("Unregistered service", "registry", r.name, "service_id", id)
	return nil
}

// Get returns the current handle of a registered service
func (r *Registry) Get(id registry.ID) (*registry.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.services[id]
	if !ok {
		return nil, false
	}
	return entry.handle, true
}

// Len returns the number of registered services
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// UseCount returns how many resolved instances of a service have not been released
func (r *Registry) UseCount(id registry.ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.services[id]; ok {
		return entry.useCount
	}
	return 0
}

// SubscriberCount returns the number of installed subscriptions
func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Query implements registry.Gateway. Results are ordered by service ID.
func (r *Registry) Query(_ context.Context, typeName string, filter registry.Filter) ([]*registry.Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, registry.ErrClosed
	}

	result := make([]*registry.Handle, 0, len(r.services))
	for _, entry := range r.services {
		if selects(typeName, filter, entry.handle) {
			result = append(result, entry.handle)
		}
	}
	slices.SortFunc(result, func(a, b *registry.Handle) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return result, nil
}

// Subscribe implements registry.Gateway
func (r *Registry) Subscribe(
	typeName string,
	filter registry.Filter,
	handler registry.EventHandler,
) (registry.SubscriptionID, error) {
	if handler == nil {
		return 0, fmt.Errorf("%w: event handler cannot be nil", registry.ErrInvalidConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, registry.ErrClosed
	}

	r.nextSubID++
	r.subscribers[r.nextSubID] = &subscriber{
		typeName: typeName,
		filter:   filter,
		handler:  handler,
	}
	return r.nextSubID, nil
}

// Unsubscribe implements registry.Gateway
func (r *Registry) Unsubscribe(id registry.SubscriptionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subscribers, id)
	return nil
}

// Resolve implements registry.Gateway
func (r *Registry) Resolve(_ context.Context, h *registry.Handle) (any, error) {
	if h == nil {
		return nil, errors.New("handle cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.services[h.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %d", registry.ErrServiceGone, h.ID())
	}
	entry.useCount++
	return entry.instance, nil
}

// Release implements registry.Gateway. Releasing an unregistered service is a no-op.
func (r *Registry) Release(h *registry.Handle) error {
	if h == nil {
		return errors.New("handle cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.services[h.ID()]; ok && entry.useCount > 0 {
		entry.useCount--
	}
	return nil
}

// Close unregisters every service, delivering UNREGISTERING for each, and
// drops all subscriptions. Close is idempotent.
func (r *Registry) Close() error {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	ids := make([]registry.ID, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	slices.Sort(ids)
	var errs []error
	for _, id := range ids {
		if err := r.unregisterLocked(id); err != nil {
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	r.closed = true
	r.subscribers = make(map[registry.SubscriptionID]*subscriber)
	r.mu.Unlock()

	return errors.Join(errs...)
}

// deliver fans an event out to matching subscribers.
// For MODIFIED, previous is the handle before the change.
// Caller must hold r.deliverMu and must not hold r.mu.
func (r *Registry) deliver(ev registry.Event, previous *registry.Handle) {
	r.mu.RLock()
	ids := make([]registry.SubscriptionID, 0, len(r.subscribers))
	for id := range r.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	targets := make([]*subscriber, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, r.subscribers[id])
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		matched := selects(sub.typeName, sub.filter, ev.Handle)
		if !matched && previous != nil {
			matched = selects(sub.typeName, sub.filter, previous)
		}
		if !matched {
			continue
		}
		r.invoke(sub, ev)
	}
}

// invoke calls one handler, containing panics so one subscriber cannot break delivery
func (r *Registry) invoke(sub *subscriber, ev registry.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Event handler panicked",
				"registry", r.name,
				"event", ev.Kind.String(),
				"service_id", ev.Handle.ID(),
				"panic", rec)
		}
	}()
	sub.handler(ev)
}

// selects reports whether the handle declares typeName and matches filter
func selects(typeName string, filter registry.Filter, h *registry.Handle) bool {
	if typeName != "" && !h.HasCapability(typeName) {
		return false
	}
	return filter == nil || filter.Matches(h)
}
