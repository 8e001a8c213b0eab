package sources

import (
	"fmt"
	"maps"
	"slices"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// Endpoint is the service instance registered by a source
type Endpoint struct {
	// Key identifies the service within its source
	Key string `json:"key"`
	// Source names the source that registered the service
	Source string `json:"source"`
	// Address is where the service can be reached, if known
	Address string `json:"address,omitempty"`
}

// ServiceSpec describes one service a source wants registered
type ServiceSpec struct {
	Key          string            `yaml:"key"`
	Capabilities []string          `yaml:"capabilities"`
	Properties   map[string]string `yaml:"properties,omitempty"`
	Address      string            `yaml:"address,omitempty"`
}

// Validate checks the spec can be registered
func (s *ServiceSpec) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("service key is required")
	}
	if len(s.Capabilities) == 0 {
		return fmt.Errorf("service %s: at least one capability is required", s.Key)
	}
	if slices.Contains(s.Capabilities, "") {
		return fmt.Errorf("service %s: capability names cannot be empty", s.Key)
	}
	return nil
}

// sameRegistration reports whether other can be applied as a property update
func (s *ServiceSpec) sameRegistration(other *ServiceSpec) bool {
	return s.Address == other.Address && slices.Equal(s.Capabilities, other.Capabilities)
}

func (s *ServiceSpec) sameProperties(other *ServiceSpec) bool {
	return maps.Equal(s.Properties, other.Properties)
}

// Registrar is the write side of a registry
type Registrar interface {
	Register(capabilities []string, properties map[string]string, instance any) (*registry.Handle, error)
	Modify(id registry.ID, properties map[string]string) (*registry.Handle, error)
	Unregister(id registry.ID) error
}
