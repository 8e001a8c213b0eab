// Package listener fans bind and unbind notifications out to lifecycle listeners.
package listener

import (
	"context"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// Listener observes membership transitions of a subscription.
//
// Callbacks run synchronously on the subscription's event path, which holds
// up event delivery for the whole registry until they return. They must not
// call the subscription's mutating operations. Reads of the same
// subscription must use the ctx passed to the callback: with it a read does
// not wait for availability and fails with registry.ErrServiceUnavailable
// while the subscription is waiting. A read made with any other context
// blocks the event path for up to the subscription's timeout.
type Listener interface {
	Bind(ctx context.Context, h *registry.Handle) error
	Unbind(ctx context.Context, h *registry.Handle, reason registry.EventKind) error
}

// Funcs adapts plain functions to a Listener. Nil fields are no-ops.
type Funcs struct {
	OnBind   func(ctx context.Context, h *registry.Handle) error
	OnUnbind func(ctx context.Context, h *registry.Handle, reason registry.EventKind) error
}

var _ Listener = Funcs{}

// Bind implements Listener
func (f Funcs) Bind(ctx context.Context, h *registry.Handle) error {
	if f.OnBind == nil {
		return nil
	}
	return f.OnBind(ctx, h)
}

// Unbind implements Listener
func (f Funcs) Unbind(ctx context.Context, h *registry.Handle, reason registry.EventKind) error {
	if f.OnUnbind == nil {
		return nil
	}
	return f.OnUnbind(ctx, h, reason)
}
