// Package versions holds semantic version helpers and build information.
package versions

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Range is a parsed semantic version constraint such as ">= 1.0.0, < 2.0.0"
type Range struct {
	expr       string
	constraint *semver.Constraints
}

// ParseRange parses a semver constraint expression
func ParseRange(expr string) (*Range, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("version range must not be empty")
	}
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid version range %q: %w", expr, err)
	}
	return &Range{expr: expr, constraint: c}, nil
}

// Contains reports whether version satisfies the range.
// Versions that are not valid semver never satisfy a range.
func (r *Range) Contains(version string) bool {
	if r == nil {
		return true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return r.constraint.Check(v)
}

func (r *Range) String() string {
	if r == nil {
		return ""
	}
	return r.expr
}

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// It uses semantic versioning for comparison when both strings are valid semver,
// and falls back to lexicographic string comparison otherwise.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)

	if errNew != nil || errOld != nil {
		return newVersion > oldVersion
	}

	return newSemver.GreaterThan(oldSemver)
}
