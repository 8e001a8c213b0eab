package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	trackerapp "github.com/stacklok/toolhive-service-tracker/internal/app"
	"github.com/stacklok/toolhive-service-tracker/internal/config"
	"github.com/stacklok/toolhive-service-tracker/internal/telemetry"
	"github.com/stacklok/toolhive-service-tracker/internal/versions"
)

const (
	flagAddress = "address"
	flagConfig  = "config"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the service tracker",
		Long: `Start the service tracker.

The tracker requires a configuration file (--config) that specifies:
- The service sources (a watched YAML file and/or Kubernetes Services)
- The subscriptions to keep, with their capabilities, filters and policies
- Optional telemetry settings`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, v)
		},
	}

	cmd.Flags().String(flagAddress, ":8080", "Address to listen on")
	cmd.Flags().String(flagConfig, "", "Path to configuration file (YAML format, required)")
	bindFlags(cmd, v, flagAddress, flagConfig)

	return cmd
}

func bindFlags(cmd *cobra.Command, v *viper.Viper, names ...string) {
	for _, name := range names {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString(flagConfig)
	if path == "" {
		return nil, fmt.Errorf("--%s is required", flagConfig)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	slog.Info("Loaded configuration",
		"path", v.GetString(flagConfig),
		"tracker", cfg.GetTrackerName(),
		"subscriptions", len(cfg.Subscriptions))

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	app, err := trackerapp.NewTrackerApp(ctx,
		trackerapp.WithConfig(cfg),
		trackerapp.WithAddress(v.GetString(flagAddress)),
		trackerapp.WithMeterProvider(tel.MeterProvider()),
		trackerapp.WithTracerProvider(tel.TracerProvider()),
		trackerapp.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		return fmt.Errorf("failed to build tracker: %w", err)
	}

	slog.Info("Starting service tracker", "version", versions.Version, "tracker", cfg.GetTrackerName())
	return app.Run(ctx)
}
