package registry

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

const (
	// PropertyServiceID is the property key under which a handle exposes its ID
	PropertyServiceID = "service.id"

	// PropertyVersion is the conventional property key holding a service version
	PropertyVersion = "version"
)

// ID is the registry-assigned identity of a registered service.
// IDs are never reused within one registry.
type ID uint64

// String returns the decimal representation of the ID
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Properties is the key/value metadata attached to a service
type Properties map[string]string

// Handle identifies one registry-held service and carries its metadata.
// A Handle is immutable once created.
type Handle struct {
	id           ID
	capabilities []string
	properties   Properties
}

// NewHandle creates a handle with copies of the given capabilities and properties.
// The service.id property is always set to the handle's ID.
func NewHandle(id ID, capabilities []string, properties map[string]string) *Handle {
	props := make(Properties, len(properties)+1)
	maps.Copy(props, properties)
	props[PropertyServiceID] = id.String()

	return &Handle{
		id:           id,
		capabilities: slices.Clone(capabilities),
		properties:   props,
	}
}

// ID returns the registry identity of the service
func (h *Handle) ID() ID {
	return h.id
}

// Capabilities returns a copy of the declared capability names, in declaration order
func (h *Handle) Capabilities() []string {
	return slices.Clone(h.capabilities)
}

// HasCapability reports whether the handle declares the named capability
func (h *Handle) HasCapability(name string) bool {
	return slices.Contains(h.capabilities, name)
}

// Properties returns a copy of the property set
func (h *Handle) Properties() Properties {
	return maps.Clone(h.properties)
}

// Property returns a single property value
func (h *Handle) Property(key string) (string, bool) {
	v, ok := h.properties[key]
	return v, ok
}

// WithProperties returns a new handle with the same identity and capabilities
// and the given property set.
func (h *Handle) WithProperties(properties map[string]string) *Handle {
	return NewHandle(h.id, h.capabilities, properties)
}

// String implements fmt.Stringer
func (h *Handle) String() string {
	if h == nil {
		return "<nil>"
	}
	return fmt.Sprintf("service{id=%d, capabilities=%v}", h.id, h.capabilities)
}
