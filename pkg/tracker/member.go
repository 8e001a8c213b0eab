package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// Member is one service currently or previously bound to a subscription.
// The instance is resolved lazily on first use and released when the
// member is unbound or the tracker closes.
type Member struct {
	gw     registry.Gateway
	handle atomic.Pointer[registry.Handle]

	mu       sync.Mutex
	instance any
	resolved bool
	released bool
}

func newMember(gw registry.Gateway, h *registry.Handle) *Member {
	m := &Member{gw: gw}
	m.handle.Store(h)
	return m
}

// Handle returns the latest handle observed for the member
func (m *Member) Handle() *registry.Handle {
	return m.handle.Load()
}

// ID returns the registry identity of the member
func (m *Member) ID() registry.ID {
	return m.Handle().ID()
}

// Instance resolves the member's service through the gateway, caching the result.
// It returns registry.ErrServiceGone once the member has been released.
func (m *Member) Instance(ctx context.Context) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil, registry.ErrServiceGone
	}
	if m.resolved {
		return m.instance, nil
	}

	h := m.Handle()
	instance, err := m.gw.Resolve(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", h, err)
	}
	m.instance = instance
	m.resolved = true
	return instance, nil
}

// Released reports whether the member has been unbound
func (m *Member) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// release drops the cached instance and returns it to the gateway.
// Subsequent calls are no-ops.
func (m *Member) release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil
	}
	m.released = true
	if !m.resolved {
		return nil
	}
	m.instance = nil
	m.resolved = false
	return m.gw.Release(m.Handle())
}
