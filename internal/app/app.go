// Package app wires the service registry, its sources, the configured
// subscriptions and the status HTTP server into one runnable tracker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolhive-service-tracker/internal/config"
	"github.com/stacklok/toolhive-service-tracker/pkg/importer"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry/inmemory"
)

// Source feeds services into the registry until its context is cancelled
type Source interface {
	Run(ctx context.Context) error
}

// TrackerApp is the assembled service tracker
type TrackerApp struct {
	config          *config.Config
	registry        *inmemory.Registry
	sources         []Source
	subscriptions   []*importer.Subscription
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// Registry returns the registry the sources populate
func (app *TrackerApp) Registry() *inmemory.Registry {
	return app.registry
}

// Subscription returns the subscription with the given name
func (app *TrackerApp) Subscription(name string) (*importer.Subscription, bool) {
	for _, s := range app.subscriptions {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Handler returns the status HTTP handler
func (app *TrackerApp) Handler() http.Handler {
	return app.httpServer.Handler
}

// Run starts the sources and the HTTP server and blocks until ctx is
// cancelled or one of them fails. Subscriptions and the registry are
// closed before Run returns.
func (app *TrackerApp) Run(ctx context.Context) error {
	defer app.close()

	g, gctx := errgroup.WithContext(ctx)

	for _, src := range app.sources {
		g.Go(func() error {
			return src.Run(gctx)
		})
	}

	g.Go(func() error {
		slog.Info("Starting HTTP server", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
		defer cancel()

		slog.Info("Shutting down HTTP server")
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		slog.Error("Tracker stopped with error", "error", err)
		return err
	}
	slog.Info("Tracker stopped")
	return nil
}

// close releases subscriptions first so their listeners do not observe
// the registry being torn down.
func (app *TrackerApp) close() {
	for _, s := range app.subscriptions {
		if err := s.Close(); err != nil {
			slog.Warn("Failed to close subscription", "subscription", s.Name(), "error", err)
		}
	}
	if err := app.registry.Close(); err != nil {
		slog.Warn("Failed to close registry", "error", err)
	}
}
