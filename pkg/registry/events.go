package registry

import (
	"fmt"
	"math/bits"
	"strings"
)

// EventKind is the type of change reported for a registered service.
// Kinds are single-bit codes so that a raw code can be mapped back to
// its name by the position of its lowest set bit.
type EventKind uint32

const (
	// EventRegistered is delivered when a service has been registered
	EventRegistered EventKind = 1 << iota
	// EventModified is delivered when the properties of a service changed
	EventModified
	// EventUnregistering is delivered before a service is unregistered,
	// while its instance is still usable
	EventUnregistering
)

// eventKindNames is indexed by the bit position of the kind
var eventKindNames = [...]string{
	"REGISTERED",
	"MODIFIED",
	"UNREGISTERING",
}

// EventKindName converts a raw event code to its name.
// The lowest set bit of the code selects the name.
func EventKindName(code uint32) (string, error) {
	if code == 0 {
		return "", fmt.Errorf("invalid event code: %d", code)
	}
	pos := bits.TrailingZeros32(code)
	if pos >= len(eventKindNames) {
		return "", fmt.Errorf("unknown event code: %#x", code)
	}
	return eventKindNames[pos], nil
}

// ParseEventKind returns the kind with the given name (case-insensitive)
func ParseEventKind(name string) (EventKind, error) {
	for i, n := range eventKindNames {
		if strings.EqualFold(n, name) {
			return EventKind(1) << i, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind: %q", name)
}

// String implements fmt.Stringer
func (k EventKind) String() string {
	name, err := EventKindName(uint32(k))
	if err != nil {
		return "UNKNOWN"
	}
	return name
}

// Event is a single change notification delivered by a Gateway
type Event struct {
	Kind   EventKind
	Handle *Handle
}

// EventHandler receives registry events for one subscription
type EventHandler func(Event)
