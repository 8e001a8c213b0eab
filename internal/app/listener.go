package app

import (
	"context"
	"log/slog"

	"github.com/stacklok/toolhive-service-tracker/pkg/listener"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// newLoggingListener reports membership changes of one subscription
func newLoggingListener(subscription string) listener.Listener {
	return listener.Funcs{
		OnBind: func(ctx context.Context, h *registry.Handle) error {
			slog.InfoContext(ctx, "Service available",
				"subscription", subscription,
				"service_id", h.ID(),
				"capabilities", h.Capabilities(),
				"properties", h.Properties())
			return nil
		},
		OnUnbind: func(ctx context.Context, h *registry.Handle, reason registry.EventKind) error {
			slog.InfoContext(ctx, "Service no longer available",
				"subscription", subscription,
				"service_id", h.ID(),
				"reason", reason.String())
			return nil
		},
	}
}
