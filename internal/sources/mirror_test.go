package sources

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry/inmemory"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) handle(ev registry.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev.Kind.String()+" "+ev.Handle.ID().String())
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newObservedRegistry(t *testing.T) (*inmemory.Registry, *eventLog) {
	t.Helper()
	reg := inmemory.New()
	log := &eventLog{}
	_, err := reg.Subscribe("", nil, log.handle)
	require.NoError(t, err)
	return reg, log
}

func TestMirror_Apply(t *testing.T) {
	t.Parallel()

	reg, log := newObservedRegistry(t)
	m := NewMirror("test", reg)

	spec := ServiceSpec{
		Key:          "web-1",
		Capabilities: []string{"Runnable"},
		Properties:   map[string]string{"tier": "web"},
		Address:      "http://web-1:8080",
	}
	require.NoError(t, m.Apply(spec))

	id, ok := m.ID("web-1")
	require.True(t, ok)
	h, ok := reg.Get(id)
	require.True(t, ok)
	v, _ := h.Property("tier")
	assert.Equal(t, "web", v)

	instance, err := reg.Resolve(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, &Endpoint{Key: "web-1", Source: "test", Address: "http://web-1:8080"}, instance)
	require.NoError(t, reg.Release(h))

	// Unchanged spec is a no-op
	require.NoError(t, m.Apply(spec))

	// Property change is a modification under the same ID
	spec.Properties = map[string]string{"tier": "api"}
	require.NoError(t, m.Apply(spec))
	sameID, _ := m.ID("web-1")
	assert.Equal(t, id, sameID)

	// Capability change re-registers
	spec.Capabilities = []string{"Runnable", "Closer"}
	require.NoError(t, m.Apply(spec))
	newID, _ := m.ID("web-1")
	assert.NotEqual(t, id, newID)

	assert.Equal(t, []string{
		"REGISTERED 1",
		"MODIFIED 1",
		"UNREGISTERING 1",
		"REGISTERED 2",
	}, log.snapshot())
}

func TestMirror_ApplyInvalid(t *testing.T) {
	t.Parallel()

	m := NewMirror("test", inmemory.New())
	assert.ErrorContains(t, m.Apply(ServiceSpec{Capabilities: []string{"Runnable"}}), "key is required")
	assert.ErrorContains(t, m.Apply(ServiceSpec{Key: "a"}), "at least one capability")
	assert.ErrorContains(t, m.Apply(ServiceSpec{Key: "a", Capabilities: []string{""}}), "cannot be empty")
	assert.Empty(t, m.Keys())
}

func TestMirror_Sync(t *testing.T) {
	t.Parallel()

	reg, _ := newObservedRegistry(t)
	m := NewMirror("test", reg)

	require.NoError(t, m.Sync([]ServiceSpec{
		{Key: "a", Capabilities: []string{"Runnable"}},
		{Key: "b", Capabilities: []string{"Runnable"}},
	}))
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	assert.Equal(t, 2, reg.Len())

	err := m.Sync([]ServiceSpec{
		{Key: "b", Capabilities: []string{"Runnable"}, Properties: map[string]string{"tier": "web"}},
		{Key: "c", Capabilities: []string{"Closer"}},
		{Key: "c", Capabilities: []string{"Closer"}},
		{Key: "", Capabilities: []string{"Closer"}},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "duplicate service key c")
	assert.ErrorContains(t, err, "key is required")
	assert.Equal(t, []string{"b", "c"}, m.Keys())
	assert.Equal(t, 2, reg.Len())

	require.NoError(t, m.Clear())
	assert.Empty(t, m.Keys())
	assert.Zero(t, reg.Len())
}

func TestMirror_RemoveTolerant(t *testing.T) {
	t.Parallel()

	reg := inmemory.New()
	m := NewMirror("test", reg)
	require.NoError(t, m.Apply(ServiceSpec{Key: "a", Capabilities: []string{"Runnable"}}))

	require.NoError(t, m.Remove("unknown"))

	id, _ := m.ID("a")
	require.NoError(t, reg.Unregister(id))
	require.NoError(t, m.Remove("a"), "a service already gone is not an error")
	assert.Empty(t, m.Keys())
}

type failingRegistrar struct {
	Registrar
}

func (failingRegistrar) Register([]string, map[string]string, any) (*registry.Handle, error) {
	return nil, registry.ErrClosed
}

func TestMirror_RegisterError(t *testing.T) {
	t.Parallel()

	m := NewMirror("test", failingRegistrar{})
	err := m.Apply(ServiceSpec{Key: "a", Capabilities: []string{"Runnable"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrClosed))
	assert.Empty(t, m.Keys())
}
