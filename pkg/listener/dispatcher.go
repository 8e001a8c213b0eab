package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// Operation names the notification being dispatched
type Operation string

const (
	// OperationBind is a bind notification
	OperationBind Operation = "bind"
	// OperationUnbind is an unbind notification
	OperationUnbind Operation = "unbind"
)

// Fault is the failure of a single listener during one notification
type Fault struct {
	// Index is the listener's registration position
	Index     int
	Operation Operation
	Handle    *registry.Handle
	Err       error
}

func (f Fault) Error() string {
	return fmt.Sprintf("listener %d failed on %s of %s: %v", f.Index, f.Operation, f.Handle, f.Err)
}

func (f Fault) Unwrap() error {
	return f.Err
}

// Result collects the faults of one notification
type Result struct {
	Notified int
	Faults   []Fault
}

// Err joins all faults, or returns nil when every listener succeeded
func (r Result) Err() error {
	if len(r.Faults) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Faults))
	for _, f := range r.Faults {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// FaultHook observes listener faults, e.g. to count them
type FaultHook func(Fault)

// Dispatcher notifies an ordered list of listeners
type Dispatcher struct {
	name      string
	listeners []Listener
	onFault   FaultHook
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithName sets the subscription name used in log records
func WithName(name string) Option {
	return func(d *Dispatcher) {
		d.name = name
	}
}

// WithFaultHook registers a hook invoked once per captured fault
func WithFaultHook(hook FaultHook) Option {
	return func(d *Dispatcher) {
		d.onFault = hook
	}
}

// NewDispatcher creates a dispatcher notifying listeners in the given order.
// Nil listeners are skipped.
func NewDispatcher(listeners []Listener, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		listeners: slices.DeleteFunc(slices.Clone(listeners), func(l Listener) bool { return l == nil }),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Len returns the number of registered listeners
func (d *Dispatcher) Len() int {
	return len(d.listeners)
}

// NotifyBind calls Bind on every listener in registration order
func (d *Dispatcher) NotifyBind(ctx context.Context, h *registry.Handle) Result {
	return d.notify(ctx, OperationBind, h, func(l Listener) error {
		return l.Bind(ctx, h)
	})
}

// NotifyUnbind calls Unbind on every listener in registration order
func (d *Dispatcher) NotifyUnbind(ctx context.Context, h *registry.Handle, reason registry.EventKind) Result {
	return d.notify(ctx, OperationUnbind, h, func(l Listener) error {
		return l.Unbind(ctx, h, reason)
	})
}

func (d *Dispatcher) notify(ctx context.Context, op Operation, h *registry.Handle, call func(Listener) error) Result {
	var result Result
	for i, l := range d.listeners {
		err := invoke(l, call)
		result.Notified++
		if err == nil {
			continue
		}

		fault := Fault{Index: i, Operation: op, Handle: h, Err: err}
		result.Faults = append(result.Faults, fault)
		slog.WarnContext(ctx, "Listener failed",
			"subscription", d.name,
			"operation", string(op),
			"listener", i,
			"service", h.String(),
			"error", err)
		if d.onFault != nil {
			d.onFault(fault)
		}
	}
	return result
}

// invoke runs call, converting a panic into an error
func invoke(l Listener, call func(Listener) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return call(l)
}
