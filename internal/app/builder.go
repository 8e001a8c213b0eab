package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-service-tracker/internal/api"
	"github.com/stacklok/toolhive-service-tracker/internal/config"
	"github.com/stacklok/toolhive-service-tracker/internal/git"
	"github.com/stacklok/toolhive-service-tracker/internal/httpclient"
	"github.com/stacklok/toolhive-service-tracker/internal/kubernetes"
	"github.com/stacklok/toolhive-service-tracker/internal/sources"
	"github.com/stacklok/toolhive-service-tracker/internal/telemetry"
	"github.com/stacklok/toolhive-service-tracker/pkg/importer"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry/inmemory"
)

const (
	defaultHTTPAddress     = ":8080"
	defaultRequestTimeout  = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	importerTracerName = "github.com/stacklok/toolhive-service-tracker/importer"
)

// TrackerAppOption is a function that configures the tracker app builder
type TrackerAppOption func(*trackerAppConfig) error

type trackerAppConfig struct {
	config *config.Config

	// HTTP server options
	address         string
	middlewares     []func(http.Handler) http.Handler
	requestTimeout  time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler

	kubernetesOptions []kubernetes.Option
}

func baseConfig(opts ...TrackerAppOption) (*trackerAppConfig, error) {
	cfg := &trackerAppConfig{
		address:         defaultHTTPAddress,
		requestTimeout:  defaultRequestTimeout,
		readTimeout:     defaultReadTimeout,
		writeTimeout:    defaultWriteTimeout,
		idleTimeout:     defaultIdleTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewTrackerApp builds the registry, its sources, the configured
// subscriptions and the status HTTP server. Nothing runs until Run.
func NewTrackerApp(ctx context.Context, opts ...TrackerAppOption) (*TrackerApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	reg := inmemory.New(inmemory.WithName(cfg.config.GetTrackerName()))

	srcs, err := buildSources(cfg, reg)
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("failed to build sources: %w", err)
	}

	subs, err := buildSubscriptions(ctx, cfg, reg)
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("failed to build subscriptions: %w", err)
	}

	app := &TrackerApp{
		config:          cfg.config,
		registry:        reg,
		sources:         srcs,
		subscriptions:   subs,
		shutdownTimeout: cfg.shutdownTimeout,
	}

	app.httpServer, err = buildHTTPServer(cfg, app)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	return app, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) TrackerAppOption {
	return func(cfg *trackerAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) TrackerAppOption {
	return func(cfg *trackerAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		switch host {
		case "localhost":
			host = "127.0.0.1"
		case "":
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(net.JoinHostPort(host, port)); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) TrackerAppOption {
	return func(cfg *trackerAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithShutdownTimeout bounds the graceful HTTP shutdown
func WithShutdownTimeout(d time.Duration) TrackerAppOption {
	return func(cfg *trackerAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("shutdown timeout must be greater than 0")
		}
		cfg.shutdownTimeout = d
		return nil
	}
}

// WithMeterProvider enables subscription and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) TrackerAppOption {
	return func(cfg *trackerAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider enables subscription and HTTP spans
func WithTracerProvider(tp trace.TracerProvider) TrackerAppOption {
	return func(cfg *trackerAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves the Prometheus scrape handler on /metrics
func WithMetricsHandler(h http.Handler) TrackerAppOption {
	return func(cfg *trackerAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// WithKubernetesOptions passes extra options to the Kubernetes source
func WithKubernetesOptions(opts ...kubernetes.Option) TrackerAppOption {
	return func(cfg *trackerAppConfig) error {
		cfg.kubernetesOptions = append(cfg.kubernetesOptions, opts...)
		return nil
	}
}

// buildSources creates a runner for every configured source
func buildSources(b *trackerAppConfig, reg *inmemory.Registry) ([]Source, error) {
	slog.Info("Initializing sources")

	var srcs []Source
	if f := b.config.Source.File; f != nil {
		srcs = append(srcs, sources.NewFileSource(f.Path, reg))
		slog.Info("File source configured", "path", f.Path)
	}

	if k := b.config.Source.Kubernetes; k != nil {
		opts := []kubernetes.Option{kubernetes.WithAnnotation(k.GetAnnotation())}
		switch {
		case k.CurrentNamespace:
			opts = append(opts, kubernetes.WithCurrentNamespace())
		case k.Namespace != "":
			opts = append(opts, kubernetes.WithNamespaces(k.Namespace))
		}
		opts = append(opts, b.kubernetesOptions...)

		src, err := kubernetes.NewSource(reg, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes source: %w", err)
		}
		srcs = append(srcs, src)
		slog.Info("Kubernetes source configured", "annotation", k.GetAnnotation())
	}

	if g := b.config.Source.Git; g != nil {
		src, err := buildGitSource(g, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to create git source: %w", err)
		}
		srcs = append(srcs, src)
		slog.Info("Git source configured", "repository", g.Repository, "path", g.Path)
	}

	if h := b.config.Source.HTTP; h != nil {
		var opts []sources.PollOption
		if d := h.GetInterval(); d > 0 {
			opts = append(opts, sources.WithPollInterval(d))
		}
		opts = append(opts, sources.WithHTTPClient(httpclient.NewDefaultClient(h.GetTimeout())))

		src, err := sources.NewHTTPSource(h.URL, reg, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create http source: %w", err)
		}
		srcs = append(srcs, src)
		slog.Info("HTTP source configured", "url", h.URL)
	}

	return srcs, nil
}

func buildGitSource(g *config.GitSourceConfig, reg *inmemory.Registry) (*sources.GitSource, error) {
	cloneConfig := git.CloneConfig{
		URL:    g.Repository,
		Branch: g.Branch,
		Tag:    g.Tag,
		Commit: g.Commit,
	}
	if g.Auth != nil {
		password, err := g.Auth.GetPassword()
		if err != nil {
			return nil, err
		}
		cloneConfig.Auth = &git.AuthConfig{Username: g.Auth.Username, Password: password}
	}

	var opts []sources.PollOption
	if d := g.GetInterval(); d > 0 {
		opts = append(opts, sources.WithPollInterval(d))
	}
	return sources.NewGitSource(cloneConfig, g.Path, reg, opts...)
}

// buildSubscriptions opens every configured subscription against reg
func buildSubscriptions(ctx context.Context, b *trackerAppConfig, reg *inmemory.Registry) ([]*importer.Subscription, error) {
	slog.Info("Initializing subscriptions", "count", len(b.config.Subscriptions))

	var tracer trace.Tracer
	if b.tracerProvider != nil {
		tracer = b.tracerProvider.Tracer(importerTracerName)
	}

	subs := make([]*importer.Subscription, 0, len(b.config.Subscriptions))
	closeAll := func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}

	for i := range b.config.Subscriptions {
		sc := &b.config.Subscriptions[i]
		opts, err := subscriptionOptions(sc, b.config)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("subscription %s: %w", sc.Name, err)
		}
		opts = append(opts,
			importer.WithListeners(newLoggingListener(sc.Name)),
			importer.WithMeterProvider(b.meterProvider),
			importer.WithTracer(tracer))

		sub, err := importer.New(ctx, reg, opts...)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("subscription %s: %w", sc.Name, err)
		}
		subs = append(subs, sub)
	}

	return subs, nil
}

func subscriptionOptions(sc *config.SubscriptionConfig, cfg *config.Config) ([]importer.Option, error) {
	policy, err := sc.GetPolicy()
	if err != nil {
		return nil, err
	}
	memberType, err := sc.GetMemberType()
	if err != nil {
		return nil, err
	}
	timeout, err := sc.GetTimeout()
	if err != nil {
		return nil, err
	}

	opts := []importer.Option{
		importer.WithName(sc.Name),
		importer.WithCapabilities(sc.Capabilities...),
		importer.WithFilter(sc.Filter),
		importer.WithHierarchy(cfg.Hierarchy),
		importer.WithPolicy(policy),
		importer.WithMemberType(memberType),
		importer.WithTimeout(timeout),
	}
	if sc.VersionRange != "" {
		opts = append(opts, importer.WithVersionRange(sc.VersionRange))
	}
	return opts, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *trackerAppConfig, status api.StatusProvider) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Instrumentation goes first to observe every request
	httpMetrics, err := telemetry.NewHTTPMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	middlewares := append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(b.tracerProvider),
		httpMetrics.Middleware,
	}, b.middlewares...)

	router := api.NewServer(status,
		api.WithMiddlewares(middlewares...),
		api.WithMetricsHandler(b.metricsHandler))

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
