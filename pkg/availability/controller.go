package availability

import (
	"context"
	"sync"
	"time"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// DefaultTimeout is the wait bound used when no timeout is configured
const DefaultTimeout = 5 * time.Minute

// Controller tracks the availability state of one subscription
type Controller struct {
	policy  Policy
	timeout time.Duration
	filter  string

	mu     sync.Mutex
	state  State
	ready  chan struct{} // closed on the transition to Satisfied
	closed chan struct{}
	done   bool
}

// Option configures a Controller
type Option func(*Controller)

// WithTimeout sets how long Await blocks while Waiting.
// A zero timeout fails immediately instead of waiting.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// WithFilterDescription sets the filter named in unavailability errors
func WithFilterDescription(filter string) Option {
	return func(c *Controller) {
		c.filter = filter
	}
}

// NewController creates a controller for an initially empty membership set
func NewController(policy Policy, opts ...Option) *Controller {
	c := &Controller{
		policy:  policy,
		timeout: DefaultTimeout,
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if policy == Optional {
		c.state = Satisfied
		close(c.ready)
	}
	return c
}

// Policy returns the configured policy
func (c *Controller) Policy() Policy {
	return c.policy
}

// Timeout returns the configured wait bound
func (c *Controller) Timeout() time.Duration {
	return c.timeout
}

// State returns the current gate state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Update re-evaluates the state for the current membership size and
// reports whether the state changed.
func (c *Controller) Update(size int) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done || c.policy == Optional {
		return c.state, false
	}

	switch {
	case size > 0 && c.state == Waiting:
		c.state = Satisfied
		close(c.ready)
		return c.state, true
	case size == 0 && c.state == Satisfied:
		c.state = Waiting
		c.ready = make(chan struct{})
		return c.state, true
	default:
		return c.state, false
	}
}

// Await blocks until the gate is Satisfied.
// It returns a *registry.UnavailableError on timeout, registry.ErrClosed
// once the controller is closed and ctx.Err() on cancellation.
func (c *Controller) Await(ctx context.Context) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return registry.ErrClosed
	}
	if c.state == Satisfied {
		c.mu.Unlock()
		return nil
	}
	ready := c.ready
	c.mu.Unlock()

	if c.timeout <= 0 {
		return c.unavailable()
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-c.closed:
		return registry.ErrClosed
	case <-timer.C:
		return c.unavailable()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Check reports whether the gate is passable without blocking. It returns
// registry.ErrClosed once closed and a *registry.UnavailableError with a zero
// Timeout while Waiting.
func (c *Controller) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return registry.ErrClosed
	}
	if c.state == Satisfied {
		return nil
	}
	return &registry.UnavailableError{Filter: c.filter}
}

// Close wakes all waiters with registry.ErrClosed. It is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return
	}
	c.done = true
	close(c.closed)
}

func (c *Controller) unavailable() error {
	return &registry.UnavailableError{Filter: c.filter, Timeout: c.timeout}
}
