package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// ChangeKind classifies a membership delta
type ChangeKind int

const (
	// Bound means a service joined the set
	Bound ChangeKind = iota
	// Unbound means a service left the set
	Unbound
	// Replaced means a member's handle was replaced after a MODIFIED event
	Replaced
)

// String implements fmt.Stringer
func (k ChangeKind) String() string {
	switch k {
	case Bound:
		return "bound"
	case Unbound:
		return "unbound"
	case Replaced:
		return "replaced"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is a membership delta reported after the set has been updated
type Change struct {
	Kind   ChangeKind
	Handle *registry.Handle
	// Reason is the registry event that caused the change
	Reason registry.EventKind
	// Size is the membership size after the change
	Size int
}

// ChangeFunc receives membership deltas on the serialized event path
type ChangeFunc func(Change)

// reasoner is implemented by filters that can explain their decisions
type reasoner interface {
	MatchWithReason(h *registry.Handle) (bool, string)
}

// Tracker maintains the membership set of one subscription
type Tracker struct {
	name     string
	typeName string
	filter   registry.Filter
	gw       registry.Gateway
	onChange ChangeFunc

	// eventMu serializes event processing, seeding and reconciliation
	eventMu    sync.Mutex
	subID      registry.SubscriptionID
	subscribed bool
	opening    bool
	seen       map[registry.ID]struct{}
	closed     bool

	// mu guards members for readers
	mu      sync.RWMutex
	members *orderedmap.OrderedMap[registry.ID, *Member]
}

// Option configures a Tracker
type Option func(*Tracker)

// WithName sets the subscription name used in log records
func WithName(name string) Option {
	return func(t *Tracker) {
		t.name = name
	}
}

// WithChangeFunc registers the callback receiving membership deltas
func WithChangeFunc(fn ChangeFunc) Option {
	return func(t *Tracker) {
		t.onChange = fn
	}
}

// New creates a tracker selecting services of typeName accepted by filter.
// The tracker is inert until Open is called.
func New(gw registry.Gateway, typeName string, filter registry.Filter, opts ...Option) *Tracker {
	t := &Tracker{
		typeName: typeName,
		filter:   filter,
		gw:       gw,
		members:  orderedmap.New[registry.ID, *Member](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open seeds the set, subscribes to registry events and reconciles the set
// against a second query taken after the subscription was installed.
func (t *Tracker) Open(ctx context.Context) error {
	t.eventMu.Lock()
	if t.closed {
		t.eventMu.Unlock()
		return registry.ErrClosed
	}
	if t.subscribed {
		t.eventMu.Unlock()
		return errors.New("tracker already open")
	}

	initial, err := t.gw.Query(ctx, t.typeName, t.filter)
	if err != nil {
		t.eventMu.Unlock()
		return fmt.Errorf("initial query failed: %w", err)
	}
	for _, h := range initial {
		t.evaluate(ctx, h, registry.EventRegistered)
	}
	t.opening = true
	t.seen = make(map[registry.ID]struct{})
	t.eventMu.Unlock()

	subID, err := t.gw.Subscribe(t.typeName, t.filter, t.HandleEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	t.eventMu.Lock()
	t.subID = subID
	t.subscribed = true
	if t.closed {
		// Closed while subscribing
		t.eventMu.Unlock()
		_ = t.gw.Unsubscribe(subID)
		return registry.ErrClosed
	}
	t.eventMu.Unlock()

	current, err := t.gw.Query(ctx, t.typeName, t.filter)
	if err != nil {
		return fmt.Errorf("reconciliation query failed: %w", err)
	}

	t.eventMu.Lock()
	defer t.eventMu.Unlock()
	if t.closed {
		return registry.ErrClosed
	}
	t.reconcile(ctx, current)
	t.opening = false
	t.seen = nil

	slog.DebugContext(ctx, "Tracker opened",
		"subscription", t.name,
		"filter", t.filter.String(),
		"members", t.Len())
	return nil
}

// reconcile applies a fresh query result, skipping services already observed
// through events since subscribing. Caller must hold eventMu.
func (t *Tracker) reconcile(ctx context.Context, current []*registry.Handle) {
	registered := make(map[registry.ID]struct{}, len(current))
	for _, h := range current {
		registered[h.ID()] = struct{}{}
	}

	for _, m := range t.Snapshot() {
		id := m.ID()
		if _, ok := registered[id]; ok {
			continue
		}
		if _, ok := t.seen[id]; ok {
			continue
		}
		slog.DebugContext(ctx, "Service missing from reconciliation query",
			"subscription", t.name,
			"service_id", id)
		t.remove(ctx, m.Handle(), registry.EventUnregistering)
	}

	for _, h := range current {
		if _, ok := t.seen[h.ID()]; ok {
			continue
		}
		t.evaluate(ctx, h, registry.EventModified)
	}
}

// HandleEvent applies one registry event. It is safe to call concurrently;
// events are processed one at a time.
func (t *Tracker) HandleEvent(ev registry.Event) {
	ctx := context.Background()

	t.eventMu.Lock()
	defer t.eventMu.Unlock()

	if t.closed {
		slog.DebugContext(ctx, "Ignoring event for closed tracker",
			"subscription", t.name,
			"event", ev.Kind.String())
		return
	}
	if ev.Handle == nil {
		slog.DebugContext(ctx, "Ignoring event without service", "subscription", t.name, "event", ev.Kind.String())
		return
	}
	if t.opening {
		t.seen[ev.Handle.ID()] = struct{}{}
	}

	switch ev.Kind {
	case registry.EventRegistered, registry.EventModified:
		t.evaluate(ctx, ev.Handle, ev.Kind)
	case registry.EventUnregistering:
		t.remove(ctx, ev.Handle, ev.Kind)
	default:
		slog.DebugContext(ctx, "Ignoring unknown event kind",
			"subscription", t.name,
			"event", uint32(ev.Kind),
			"service_id", ev.Handle.ID())
	}
}

// evaluate re-runs the filter for h and applies the resulting delta.
// Caller must hold eventMu.
func (t *Tracker) evaluate(ctx context.Context, h *registry.Handle, reason registry.EventKind) {
	matches, why := t.match(h)
	id := h.ID()

	t.mu.Lock()
	existing, present := t.members.Get(id)
	switch {
	case matches && !present:
		t.members.Set(id, newMember(t.gw, h))
		size := t.members.Len()
		t.mu.Unlock()

		slog.DebugContext(ctx, "Binding service", "subscription", t.name, "service_id", id, "reason", why)
		t.emit(Change{Kind: Bound, Handle: h, Reason: reason, Size: size})

	case matches && present:
		existing.handle.Store(h)
		size := t.members.Len()
		t.mu.Unlock()

		t.emit(Change{Kind: Replaced, Handle: h, Reason: reason, Size: size})

	case !matches && present:
		t.members.Delete(id)
		size := t.members.Len()
		t.mu.Unlock()

		slog.DebugContext(ctx, "Unbinding service", "subscription", t.name, "service_id", id, "reason", why)
		t.emit(Change{Kind: Unbound, Handle: h, Reason: reason, Size: size})
		t.release(ctx, existing)

	default:
		t.mu.Unlock()
	}
}

// remove unbinds h if present. Caller must hold eventMu.
func (t *Tracker) remove(ctx context.Context, h *registry.Handle, reason registry.EventKind) {
	id := h.ID()

	t.mu.Lock()
	existing, present := t.members.Delete(id)
	size := t.members.Len()
	t.mu.Unlock()

	if !present {
		slog.DebugContext(ctx, "Ignoring removal of unknown service",
			"subscription", t.name,
			"service_id", id,
			"event", reason.String())
		return
	}

	t.emit(Change{Kind: Unbound, Handle: existing.Handle(), Reason: reason, Size: size})
	t.release(ctx, existing)
}

func (t *Tracker) match(h *registry.Handle) (bool, string) {
	if r, ok := t.filter.(reasoner); ok {
		return r.MatchWithReason(h)
	}
	if t.filter.Matches(h) {
		return true, "matches filter"
	}
	return false, "does not match filter"
}

func (t *Tracker) emit(c Change) {
	if t.onChange != nil {
		t.onChange(c)
	}
}

func (t *Tracker) release(ctx context.Context, m *Member) {
	if err := m.release(); err != nil {
		slog.WarnContext(ctx, "Failed to release service",
			"subscription", t.name,
			"service_id", m.ID(),
			"error", err)
	}
}

// Snapshot returns the current members in arrival order
func (t *Tracker) Snapshot() []*Member {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := make([]*Member, 0, t.members.Len())
	for pair := t.members.Oldest(); pair != nil; pair = pair.Next() {
		members = append(members, pair.Value)
	}
	return members
}

// Handles returns the handles of the current members in arrival order
func (t *Tracker) Handles() []*registry.Handle {
	members := t.Snapshot()
	handles := make([]*registry.Handle, len(members))
	for i, m := range members {
		handles[i] = m.Handle()
	}
	return handles
}

// Len returns the current membership size
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.members.Len()
}

// Contains reports whether the service is currently a member
func (t *Tracker) Contains(id registry.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members.Get(id)
	return ok
}

// Close unsubscribes from the registry and releases every member without
// reporting changes. It is idempotent.
func (t *Tracker) Close() error {
	t.eventMu.Lock()
	defer t.eventMu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.opening = false
	t.seen = nil

	var errs []error
	if t.subscribed {
		if err := t.gw.Unsubscribe(t.subID); err != nil {
			errs = append(errs, fmt.Errorf("failed to unsubscribe: %w", err))
		}
		t.subscribed = false
	}

	members := t.Snapshot()
	t.mu.Lock()
	t.members = orderedmap.New[registry.ID, *Member]()
	t.mu.Unlock()

	for _, m := range members {
		if err := m.release(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release service %s: %w", m.ID(), err))
		}
	}
	return errors.Join(errs...)
}
