// Package config provides configuration loading and validation for the service tracker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-service-tracker/internal/telemetry"
	"github.com/stacklok/toolhive-service-tracker/internal/versions"
	"github.com/stacklok/toolhive-service-tracker/pkg/availability"
	"github.com/stacklok/toolhive-service-tracker/pkg/collection"
	"github.com/stacklok/toolhive-service-tracker/pkg/filtering"
)

const (
	// EnvPrefix is the prefix of environment variables read by the tracker
	EnvPrefix = "THV_TRACKER"

	// DefaultTrackerName is used when trackerName is not set
	DefaultTrackerName = "default"

	// DefaultExportAnnotation marks the Kubernetes Services exported into the registry.
	// Its value is the comma-separated list of capabilities the Service provides.
	DefaultExportAnnotation = "toolhive.stacklok.dev/capabilities"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// TrackerName identifies this tracker instance; defaults to "default"
	TrackerName string `yaml:"trackerName,omitempty"`

	// Source populates the in-process registry
	Source SourceConfig `yaml:"source"`

	// Hierarchy maps a capability to the capabilities it specializes
	Hierarchy filtering.Hierarchy `yaml:"hierarchy,omitempty"`

	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`

	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// SourceConfig selects where registered services come from.
// Several sources may be enabled; each owns the services it registered.
type SourceConfig struct {
	File       *FileSourceConfig       `yaml:"file,omitempty"`
	Kubernetes *KubernetesSourceConfig `yaml:"kubernetes,omitempty"`
	Git        *GitSourceConfig        `yaml:"git,omitempty"`
	HTTP       *HTTPSourceConfig       `yaml:"http,omitempty"`
}

func (s *SourceConfig) empty() bool {
	return s.File == nil && s.Kubernetes == nil && s.Git == nil && s.HTTP == nil
}

// FileSourceConfig reads services from a YAML file that is watched for changes
type FileSourceConfig struct {
	Path string `yaml:"path"`
}

// KubernetesSourceConfig exports annotated Services from the cluster
type KubernetesSourceConfig struct {
	// Namespace restricts the watch; empty watches all namespaces
	Namespace string `yaml:"namespace,omitempty"`

	// CurrentNamespace restricts the watch to the pod's own namespace
	CurrentNamespace bool `yaml:"currentNamespace,omitempty"`

	// Annotation overrides DefaultExportAnnotation
	Annotation string `yaml:"annotation,omitempty"`
}

// GitSourceConfig reads services from a file in a Git repository
type GitSourceConfig struct {
	// Repository is the Git repository URL (HTTP/HTTPS/SSH)
	Repository string `yaml:"repository"`

	// Branch, Tag and Commit are mutually exclusive
	Branch string `yaml:"branch,omitempty"`
	Tag    string `yaml:"tag,omitempty"`
	Commit string `yaml:"commit,omitempty"`

	// Path is the services file within the repository, "services.yaml" by default
	Path string `yaml:"path,omitempty"`

	// Interval is how often the repository is re-cloned, e.g. "5m"
	Interval string `yaml:"interval,omitempty"`

	Auth *GitAuthConfig `yaml:"auth,omitempty"`
}

// GitAuthConfig holds HTTP basic credentials for private repositories
type GitAuthConfig struct {
	Username string `yaml:"username"`

	// PasswordFile is the path to a file containing the password or token
	PasswordFile string `yaml:"passwordFile"`
}

// HTTPSourceConfig reads services from a document served over HTTP
type HTTPSourceConfig struct {
	URL string `yaml:"url"`

	// Interval is how often the document is fetched, e.g. "1m"
	Interval string `yaml:"interval,omitempty"`

	// Timeout bounds a single request, e.g. "10s"
	Timeout string `yaml:"timeout,omitempty"`
}

// SubscriptionConfig declares one live subscription
type SubscriptionConfig struct {
	Name         string   `yaml:"name"`
	Capabilities []string `yaml:"capabilities"`
	Filter       string   `yaml:"filter,omitempty"`
	VersionRange string   `yaml:"versionRange,omitempty"`

	// Availability is "optional" (default) or "mandatory"
	Availability string `yaml:"availability,omitempty"`

	// MemberType is "instance" (default) or "reference"
	MemberType string `yaml:"memberType,omitempty"`

	// Timeout bounds reads of a mandatory subscription, e.g. "30s"
	Timeout string `yaml:"timeout,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetTrackerName returns the tracker name, using "default" if not specified
func (c *Config) GetTrackerName() string {
	if c.TrackerName == "" {
		return DefaultTrackerName
	}
	return c.TrackerName
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Source.empty() {
		return fmt.Errorf("source: one of file, kubernetes, git or http must be specified")
	}
	if c.Source.File != nil && c.Source.File.Path == "" {
		return fmt.Errorf("source: file.path is required")
	}
	if k := c.Source.Kubernetes; k != nil && k.Namespace != "" && k.CurrentNamespace {
		return fmt.Errorf("source: kubernetes.namespace and kubernetes.currentNamespace are mutually exclusive")
	}
	if g := c.Source.Git; g != nil {
		if err := g.validate(); err != nil {
			return fmt.Errorf("source: git: %w", err)
		}
	}
	if h := c.Source.HTTP; h != nil {
		if err := h.validate(); err != nil {
			return fmt.Errorf("source: http: %w", err)
		}
	}

	for capability, parents := range c.Hierarchy {
		if capability == "" {
			return fmt.Errorf("hierarchy: capability name cannot be empty")
		}
		for _, p := range parents {
			if p == "" {
				return fmt.Errorf("hierarchy (%s): parent capability name cannot be empty", capability)
			}
		}
	}

	if len(c.Subscriptions) == 0 {
		return fmt.Errorf("at least one subscription must be configured")
	}

	names := make(map[string]bool, len(c.Subscriptions))
	for i := range c.Subscriptions {
		sub := &c.Subscriptions[i]
		if sub.Name == "" {
			return fmt.Errorf("subscription[%d]: name is required", i)
		}
		if names[sub.Name] {
			return fmt.Errorf("subscription[%d]: duplicate subscription name '%s'", i, sub.Name)
		}
		names[sub.Name] = true

		if err := sub.validate(); err != nil {
			return fmt.Errorf("subscription[%d] (%s): %w", i, sub.Name, err)
		}
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}

func (s *SubscriptionConfig) validate() error {
	if len(s.Capabilities) == 0 {
		return fmt.Errorf("at least one capability is required")
	}
	if _, err := filtering.ParsePredicate(s.Filter); err != nil {
		return err
	}
	if s.VersionRange != "" {
		if _, err := versions.ParseRange(s.VersionRange); err != nil {
			return err
		}
	}
	if _, err := s.GetPolicy(); err != nil {
		return err
	}
	if _, err := s.GetMemberType(); err != nil {
		return err
	}
	if _, err := s.GetTimeout(); err != nil {
		return err
	}
	return nil
}

// GetPolicy parses the availability policy
func (s *SubscriptionConfig) GetPolicy() (availability.Policy, error) {
	return availability.ParsePolicy(s.Availability)
}

// GetMemberType parses the member type
func (s *SubscriptionConfig) GetMemberType() (collection.MemberType, error) {
	return collection.ParseMemberType(s.MemberType)
}

// GetTimeout parses the timeout, returning availability.DefaultTimeout when unset
func (s *SubscriptionConfig) GetTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return availability.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("timeout must be a valid duration (e.g., '30s', '5m'): %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout cannot be negative, got %s", s.Timeout)
	}
	return d, nil
}

// GetAnnotation returns the export annotation, using the default if not specified
func (k *KubernetesSourceConfig) GetAnnotation() string {
	if k.Annotation == "" {
		return DefaultExportAnnotation
	}
	return k.Annotation
}

func (g *GitSourceConfig) validate() error {
	if g.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	refs := 0
	for _, ref := range []string{g.Branch, g.Tag, g.Commit} {
		if ref != "" {
			refs++
		}
	}
	if refs > 1 {
		return fmt.Errorf("only one of branch, tag, or commit may be specified")
	}
	if g.Auth != nil && (g.Auth.Username == "" || g.Auth.PasswordFile == "") {
		return fmt.Errorf("auth requires both username and passwordFile")
	}
	_, err := parseInterval(g.Interval)
	return err
}

// GetInterval returns the poll interval, or zero when the source default applies
func (g *GitSourceConfig) GetInterval() time.Duration {
	d, _ := parseInterval(g.Interval)
	return d
}

// GetPassword reads the password from PasswordFile.
// Leading and trailing whitespace is trimmed.
func (a *GitAuthConfig) GetPassword() (string, error) {
	cleanPath := filepath.Clean(a.PasswordFile)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to read password from file %s: %w", a.PasswordFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (h *HTTPSourceConfig) validate() error {
	if h.URL == "" {
		return fmt.Errorf("url is required")
	}
	if _, err := parseInterval(h.Interval); err != nil {
		return err
	}
	if _, err := parseInterval(h.Timeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	return nil
}

// GetInterval returns the poll interval, or zero when the source default applies
func (h *HTTPSourceConfig) GetInterval() time.Duration {
	d, _ := parseInterval(h.Interval)
	return d
}

// GetTimeout returns the request timeout, or zero when the client default applies
func (h *HTTPSourceConfig) GetTimeout() time.Duration {
	d, _ := parseInterval(h.Timeout)
	return d
}

func parseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("interval must be a valid duration (e.g., '30s', '5m'): %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be greater than 0, got %s", s)
	}
	return d, nil
}
