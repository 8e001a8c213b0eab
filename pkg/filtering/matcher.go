package filtering

import (
	"fmt"
	"strings"

	"github.com/stacklok/toolhive-service-tracker/internal/versions"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// Matcher selects the services belonging to a subscription.
// A Matcher is immutable after construction and safe for concurrent use.
type Matcher struct {
	capabilities []string
	hierarchy    Hierarchy
	predicate    *Predicate
	versionRange *versions.Range
}

var _ registry.Filter = (*Matcher)(nil)

// MatcherOption configures a Matcher
type MatcherOption func(*matcherConfig) error

type matcherConfig struct {
	hierarchy    Hierarchy
	predicate    string
	versionRange string
}

// WithHierarchy sets the capability subtype hierarchy used for reduction and matching
func WithHierarchy(h Hierarchy) MatcherOption {
	return func(c *matcherConfig) error {
		c.hierarchy = h
		return nil
	}
}

// WithPredicate sets the label-selector predicate expression
func WithPredicate(expr string) MatcherOption {
	return func(c *matcherConfig) error {
		c.predicate = expr
		return nil
	}
}

// WithVersionRange restricts matches to services whose "version" property
// satisfies the semver constraint
func WithVersionRange(expr string) MatcherOption {
	return func(c *matcherConfig) error {
		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("%w: version range must not be empty", registry.ErrInvalidConfiguration)
		}
		c.versionRange = expr
		return nil
	}
}

// NewMatcher builds a Matcher requiring every capability in capabilities.
// The capability list is reduced against the hierarchy; an empty result is
// a configuration error.
func NewMatcher(capabilities []string, opts ...MatcherOption) (*Matcher, error) {
	cfg := &matcherConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	reduced := cfg.hierarchy.Reduce(capabilities)
	if len(reduced) == 0 {
		return nil, fmt.Errorf("%w: at least one capability is required", registry.ErrInvalidConfiguration)
	}

	predicate, err := ParsePredicate(cfg.predicate)
	if err != nil {
		return nil, err
	}

	m := &Matcher{
		capabilities: reduced,
		hierarchy:    cfg.hierarchy,
		predicate:    predicate,
	}

	if cfg.versionRange != "" {
		r, err := versions.ParseRange(cfg.versionRange)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", registry.ErrInvalidConfiguration, err)
		}
		m.versionRange = r
	}

	return m, nil
}

// Capabilities returns a copy of the reduced required capabilities
func (m *Matcher) Capabilities() []string {
	return append([]string(nil), m.capabilities...)
}

// TypeName returns the primary capability used to scope registry queries.
// It is empty when the hierarchy knows a subtype of that capability, since
// services declaring only the subtype must still reach the matcher.
func (m *Matcher) TypeName() string {
	primary := m.capabilities[0]
	for sub := range m.hierarchy {
		if sub != primary && m.hierarchy.Implies(sub, primary) {
			return ""
		}
	}
	return primary
}

// Predicate returns the parsed predicate
func (m *Matcher) Predicate() *Predicate {
	return m.predicate
}

// Matches implements registry.Filter
func (m *Matcher) Matches(h *registry.Handle) bool {
	ok, _ := m.MatchWithReason(h)
	return ok
}

// MatchWithReason reports whether h belongs to the subscription and why
func (m *Matcher) MatchWithReason(h *registry.Handle) (bool, string) {
	if h == nil {
		return false, "no service"
	}

	declared := h.Capabilities()
	for _, required := range m.capabilities {
		if !m.hierarchy.Satisfies(declared, required) {
			return false, fmt.Sprintf("missing capability %q", required)
		}
	}

	if ok, reason := m.predicate.MatchWithReason(h); !ok {
		return false, reason
	}

	if m.versionRange != nil {
		version, _ := h.Property(registry.PropertyVersion)
		if !m.versionRange.Contains(version) {
			return false, fmt.Sprintf("version %q outside range %q", version, m.versionRange)
		}
	}

	return true, "matches capabilities and predicate"
}

// String implements registry.Filter
func (m *Matcher) String() string {
	var b strings.Builder
	b.WriteString("capabilities=[")
	b.WriteString(strings.Join(m.capabilities, ","))
	b.WriteString("]")
	if !m.predicate.IsEmpty() {
		fmt.Fprintf(&b, " predicate=%q", m.predicate.String())
	}
	if m.versionRange != nil {
		fmt.Fprintf(&b, " version=%q", m.versionRange.String())
	}
	return b.String()
}
