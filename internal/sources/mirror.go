package sources

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

type mirrorEntry struct {
	id   registry.ID
	spec ServiceSpec
}

// Mirror keeps the registrations of one source in line with its desired state
type Mirror struct {
	name string
	reg  Registrar

	mu      sync.Mutex
	entries map[string]*mirrorEntry
}

// NewMirror creates a mirror registering into reg on behalf of the named source
func NewMirror(name string, reg Registrar) *Mirror {
	return &Mirror{
		name:    name,
		reg:     reg,
		entries: make(map[string]*mirrorEntry),
	}
}

// Name returns the source name
func (m *Mirror) Name() string {
	return m.name
}

// Apply registers the service or brings its registration up to date
func (m *Mirror) Apply(spec ServiceSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(spec)
}

func (m *Mirror) applyLocked(spec ServiceSpec) error {
	spec.Capabilities = slices.Clone(spec.Capabilities)
	spec.Properties = maps.Clone(spec.Properties)

	existing, ok := m.entries[spec.Key]
	if ok && existing.spec.sameRegistration(&spec) {
		if existing.spec.sameProperties(&spec) {
			return nil
		}
		if _, err := m.reg.Modify(existing.id, spec.Properties); err != nil {
			return fmt.Errorf("failed to modify service %s: %w", spec.Key, err)
		}
		existing.spec = spec
		slog.Debug("Service properties updated", "source", m.name, "key", spec.Key, "service_id", existing.id)
		return nil
	}

	if ok {
		if err := m.removeLocked(spec.Key); err != nil {
			return err
		}
	}

	instance := &Endpoint{Key: spec.Key, Source: m.name, Address: spec.Address}
	h, err := m.reg.Register(spec.Capabilities, spec.Properties, instance)
	if err != nil {
		return fmt.Errorf("failed to register service %s: %w", spec.Key, err)
	}
	m.entries[spec.Key] = &mirrorEntry{id: h.ID(), spec: spec}
	slog.Debug("Service registered", "source", m.name, "key", spec.Key, "service_id", h.ID())
	return nil
}

// Remove unregisters the service; unknown keys are ignored
func (m *Mirror) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(key)
}

func (m *Mirror) removeLocked(key string) error {
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	delete(m.entries, key)
	if err := m.reg.Unregister(entry.id); err != nil && !errors.Is(err, registry.ErrServiceGone) {
		return fmt.Errorf("failed to unregister service %s: %w", key, err)
	}
	slog.Debug("Service unregistered", "source", m.name, "key", key, "service_id", entry.id)
	return nil
}

// Sync makes the registered set equal to specs. Invalid specs are skipped
// and reported in the returned error; valid ones are still applied.
func (m *Mirror) Sync(specs []ServiceSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	desired := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := desired[spec.Key]; dup {
			errs = append(errs, fmt.Errorf("duplicate service key %s", spec.Key))
			continue
		}
		desired[spec.Key] = struct{}{}
	}

	for _, key := range slices.Sorted(maps.Keys(m.entries)) {
		if _, keep := desired[key]; keep {
			continue
		}
		if err := m.removeLocked(key); err != nil {
			errs = append(errs, err)
		}
	}

	applied := make(map[string]struct{}, len(desired))
	for _, spec := range specs {
		if _, ok := desired[spec.Key]; !ok {
			continue
		}
		if _, done := applied[spec.Key]; done {
			continue
		}
		applied[spec.Key] = struct{}{}
		if err := m.applyLocked(spec); err != nil {
			errs = append(errs, err)
		}
	}

	slog.Info("Source synchronized", "source", m.name, "services", len(m.entries))
	return errors.Join(errs...)
}

// Clear unregisters every service this mirror registered
func (m *Mirror) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, key := range slices.Sorted(maps.Keys(m.entries)) {
		if err := m.removeLocked(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys returns the keys of the registered services, sorted
func (m *Mirror) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.entries))
}

// ID returns the registry ID of the service with the given key
func (m *Mirror) ID(key string) (registry.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return 0, false
	}
	return entry.id, true
}
