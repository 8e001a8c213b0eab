// Package main is the entry point for the ToolHive service tracker.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stacklok/toolhive-service-tracker/cmd/thv-tracker/app"
	"github.com/stacklok/toolhive-service-tracker/internal/config"
	"github.com/stacklok/toolhive-service-tracker/internal/logging"
)

// getLogLevel reads THV_TRACKER_LOG_LEVEL, falling back to LOG_LEVEL.
// Invalid values select Info.
func getLogLevel() (slog.Level, string) {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return level, levelStr
	}
	return level, ""
}

func main() {
	level, invalid := getLogLevel()

	// Logs go to stderr to keep stdout clean for `version --format json`
	logger, err := logging.New(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(logger.Slog())
	ctrl.SetLogger(logger.Logr())

	if invalid != "" {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", invalid)
	}

	err = app.NewRootCmd().Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
