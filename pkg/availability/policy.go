// Package availability implements the cardinality gate of a subscription.
//
// A Mandatory subscription is Waiting while it has no members and Satisfied
// once it has at least one. Readers call Controller.Await before every
// access; it returns immediately when Satisfied and otherwise blocks until
// the first member arrives, the configured timeout elapses, the context is
// cancelled, or the controller is closed.
package availability

import (
	"fmt"
	"strings"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// Policy is the cardinality policy of a subscription
type Policy int

const (
	// Optional permits an empty membership set at all times
	Optional Policy = iota
	// Mandatory gates access until the membership set is non-empty
	Mandatory
)

// String implements fmt.Stringer
func (p Policy) String() string {
	switch p {
	case Optional:
		return "optional"
	case Mandatory:
		return "mandatory"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "optional" or "mandatory" (case-insensitive).
// The empty string yields Optional.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "optional":
		return Optional, nil
	case "mandatory":
		return Mandatory, nil
	default:
		return Optional, fmt.Errorf("%w: unknown availability policy %q", registry.ErrInvalidConfiguration, s)
	}
}

// State is the gate state of a controller
type State int

const (
	// Waiting means readers block until a member appears
	Waiting State = iota
	// Satisfied means readers pass the gate immediately
	Satisfied
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Satisfied:
		return "satisfied"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
