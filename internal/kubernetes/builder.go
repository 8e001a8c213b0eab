package kubernetes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/stacklok/toolhive-service-tracker/internal/sources"
)

const (
	defaultExportAnnotation = "toolhive.stacklok.dev/capabilities"

	// maxNamespaceFileSize bounds the service account namespace file read
	maxNamespaceFileSize = 256
)

// serviceAccountNamespaceFile is a variable so tests can point it elsewhere
var serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

type sourceOptions struct {
	namespaces []string
	annotation string
	restConfig *rest.Config
}

// Option configures a Source
type Option func(*sourceOptions) error

// WithNamespaces restricts the watch to the given namespaces
func WithNamespaces(namespaces ...string) Option {
	return func(o *sourceOptions) error {
		o.namespaces = append(o.namespaces, namespaces...)
		return nil
	}
}

// WithCurrentNamespace restricts the watch to the namespace of the pod's service account
func WithCurrentNamespace() Option {
	return func(o *sourceOptions) error {
		namespace, err := readNamespaceFromFile(serviceAccountNamespaceFile)
		if err != nil {
			return fmt.Errorf("failed to determine current namespace: %w", err)
		}
		o.namespaces = append(o.namespaces, namespace)
		return nil
	}
}

// WithAnnotation overrides the export annotation
func WithAnnotation(annotation string) Option {
	return func(o *sourceOptions) error {
		if annotation == "" {
			return fmt.Errorf("annotation cannot be empty")
		}
		o.annotation = annotation
		return nil
	}
}

// WithRestConfig sets the cluster connection; defaults to ctrl.GetConfig
func WithRestConfig(cfg *rest.Config) Option {
	return func(o *sourceOptions) error {
		if cfg == nil {
			return fmt.Errorf("rest config cannot be nil")
		}
		o.restConfig = cfg
		return nil
	}
}

func readNamespaceFromFile(path string) (string, error) {
	//nolint:gosec // Path is the well-known service account mount
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxNamespaceFileSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxNamespaceFileSize {
		return "", fmt.Errorf("namespace file %s exceeds %d bytes", path, maxNamespaceFileSize)
	}
	return strings.TrimSpace(string(data)), nil
}

func validateNamespaces(namespaces []string) error {
	for _, ns := range namespaces {
		if errs := validation.IsDNS1123Label(ns); len(errs) > 0 {
			return fmt.Errorf("invalid namespace %q: %s", ns, strings.Join(errs, ", "))
		}
	}
	return nil
}

// Source runs the Service export controller
type Source struct {
	mirror     *sources.Mirror
	namespaces []string
	annotation string
	restConfig *rest.Config
}

// NewSource validates the options and resolves the cluster connection.
// The controller starts with Run.
func NewSource(reg sources.Registrar, opts ...Option) (*Source, error) {
	if reg == nil {
		return nil, fmt.Errorf("registrar is required")
	}

	o := &sourceOptions{annotation: defaultExportAnnotation}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if err := validateNamespaces(o.namespaces); err != nil {
		return nil, err
	}

	if o.restConfig == nil {
		cfg, err := ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes configuration: %w", err)
		}
		o.restConfig = cfg
	}

	return &Source{
		mirror:     sources.NewMirror("kubernetes", reg),
		namespaces: o.namespaces,
		annotation: o.annotation,
		restConfig: o.restConfig,
	}, nil
}

// Mirror returns the mirror holding this source's registrations
func (s *Source) Mirror() *sources.Mirror {
	return s.mirror
}

// Run starts the controller and blocks until ctx is cancelled. On return
// every Service registered by this source is unregistered.
func (s *Source) Run(ctx context.Context) error {
	defer func() {
		if err := s.mirror.Clear(); err != nil {
			slog.Warn("Failed to unregister kubernetes services", "error", err)
		}
	}()

	defaultNamespaces := map[string]cache.Config{}
	for _, namespace := range s.namespaces {
		defaultNamespaces[namespace] = cache.Config{}
	}

	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("failed to add core/v1 scheme: %w", err)
	}

	mgr, err := ctrl.NewManager(s.restConfig, ctrl.Options{
		Scheme: scheme,
		// Every tracker keeps its own registry, so no leader election
		LeaderElection: false,
		Metrics:        metricsserver.Options{BindAddress: "0"},
		Cache: cache.Options{
			// if empty, defaults to all namespaces
			DefaultNamespaces: defaultNamespaces,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	reconciler := &ServiceReconciler{mirror: s.mirror, annotation: s.annotation}
	if err := reconciler.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("failed to setup controller with manager: %w", err)
	}

	slog.Info("Starting kubernetes service export controller",
		"namespaces", s.namespaces,
		"annotation", s.annotation)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("kubernetes controller failed: %w", err)
	}
	return nil
}
