package collection

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-service-tracker/pkg/availability"
	"github.com/stacklok/toolhive-service-tracker/pkg/filtering"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry/inmemory"
	"github.com/stacklok/toolhive-service-tracker/pkg/tracker"
)

type runnable struct {
	name string
}

type fixture struct {
	reg     *inmemory.Registry
	tracker *tracker.Tracker
	gate    *availability.Controller
}

func newFixture(t *testing.T, policy availability.Policy, timeout time.Duration) *fixture {
	t.Helper()

	m, err := filtering.NewMatcher([]string{"Runnable"})
	require.NoError(t, err)

	f := &fixture{
		reg:  inmemory.New(),
		gate: availability.NewController(policy, availability.WithTimeout(timeout), availability.WithFilterDescription(m.String())),
	}
	f.tracker = tracker.New(f.reg, m.TypeName(), m, tracker.WithChangeFunc(func(c tracker.Change) {
		f.gate.Update(c.Size)
	}))
	require.NoError(t, f.tracker.Open(context.Background()))
	t.Cleanup(func() {
		f.gate.Close()
		_ = f.tracker.Close()
	})
	return f
}

func (f *fixture) register(t *testing.T, name string) *registry.Handle {
	t.Helper()
	h, err := f.reg.Register([]string{"Runnable"}, map[string]string{"name": name}, &runnable{name: name})
	require.NoError(t, err)
	return h
}

func TestView_ReferenceHandleYieldsRegisteredHandle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, availability.Optional, time.Second)
	view := NewView(f.tracker, f.gate, ReferenceHandle)

	empty, err := view.IsEmpty(context.Background())
	require.NoError(t, err)
	assert.True(t, empty)

	h := f.register(t, "alpha")

	handles, err := Instances[*registry.Handle](context.Background(), view)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Same(t, h, handles[0])
	assert.Zero(t, f.reg.UseCount(h.ID()), "reference mode never resolves")
}

func TestView_ResolvedInstanceYieldsInstance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, availability.Optional, time.Second)
	view := NewView(f.tracker, f.gate, ResolvedInstance, WithName("runnables"))

	h := f.register(t, "alpha")
	f.register(t, "beta")

	instances, err := Instances[*runnable](context.Background(), view)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "alpha", instances[0].name)
	assert.Equal(t, "beta", instances[1].name)

	assert.Equal(t, 1, f.reg.UseCount(h.ID()))

	// Restarting the sequence reuses the cached instance
	again, err := Instances[*runnable](context.Background(), view)
	require.NoError(t, err)
	assert.Same(t, instances[0], again[0])
	assert.Equal(t, 1, f.reg.UseCount(h.ID()))
}

func TestView_IterationUsesSnapshotAtStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, availability.Optional, time.Second)
	view := NewView(f.tracker, f.gate, ResolvedInstance)

	f.register(t, "alpha")
	beta := f.register(t, "beta")
	f.register(t, "gamma")

	seq := view.All(context.Background())

	var names []string
	for item, err := range seq {
		require.NoError(t, err)
		r := item.(*runnable)
		names = append(names, r.name)
		if r.name == "alpha" {
			// Concurrent changes while iterating
			require.NoError(t, f.reg.Unregister(beta.ID()))
			f.register(t, "delta")
		}
	}
	assert.Equal(t, []string{"alpha", "gamma"}, names, "unbound unresolved member is skipped, new member not yet visible")

	names = names[:0]
	for item, err := range seq {
		require.NoError(t, err)
		names = append(names, item.(*runnable).name)
	}
	assert.Equal(t, []string{"alpha", "gamma", "delta"}, names)
}

func TestView_EarlyBreak(t *testing.T) {
	t.Parallel()

	f := newFixture(t, availability.Optional, time.Second)
	view := NewView(f.tracker, f.gate, ReferenceHandle)
	f.register(t, "alpha")
	f.register(t, "beta")

	count := 0
	for _, err := range view.All(context.Background()) {
		require.NoError(t, err)
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestView_MandatoryGate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, availability.Mandatory, 0)
	view := NewView(f.tracker, f.gate, ReferenceHandle)

	_, err := view.Size(context.Background())
	assert.ErrorIs(t, err, registry.ErrServiceUnavailable)
	_, err = view.IsEmpty(context.Background())
	assert.ErrorIs(t, err, registry.ErrServiceUnavailable)
	_, err = Instances[*registry.Handle](context.Background(), view)
	assert.ErrorIs(t, err, registry.ErrServiceUnavailable)
	_, err = view.Handles(context.Background())
	assert.ErrorIs(t, err, registry.ErrServiceUnavailable)

	h := f.register(t, "alpha")
	size, err := view.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	handles, err := view.Handles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []*registry.Handle{h}, handles)

	require.NoError(t, f.reg.Unregister(h.ID()))
	_, err = view.Size(context.Background())
	assert.ErrorIs(t, err, registry.ErrServiceUnavailable)
}

func TestView_RestartedRangePassesGateAgain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, availability.Mandatory, 100*time.Millisecond)
	view := NewView(f.tracker, f.gate, ReferenceHandle)
	h := f.register(t, "alpha")

	seq := view.All(context.Background())
	var items []any
	for item, err := range seq {
		require.NoError(t, err)
		items = append(items, item)
	}
	require.Len(t, items, 1)

	require.NoError(t, f.reg.Unregister(h.ID()))
	require.Equal(t, availability.Waiting, f.gate.State())

	start := time.Now()
	var errs []error
	items = items[:0]
	for item, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
	assert.Empty(t, items)
	require.Len(t, errs, 1, "the gate failure is yielded once")
	assert.ErrorIs(t, errs[0], registry.ErrServiceUnavailable)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "the restarted range waited for a member")

	// A member registered while the restarted range waits is returned
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, err := f.reg.Register([]string{"Runnable"}, map[string]string{"name": "beta"}, &runnable{name: "beta"})
		assert.NoError(t, err)
	}()
	handles, err := collectHandles(seq)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "beta", handles[0].Properties()["name"])
}

func TestView_InFlightMandatoryIterationCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, availability.Mandatory, 0)
	view := NewView(f.tracker, f.gate, ReferenceHandle)
	alpha := f.register(t, "alpha")
	beta := f.register(t, "beta")

	var names []string
	for item, err := range view.All(context.Background()) {
		require.NoError(t, err)
		h := item.(*registry.Handle)
		names = append(names, h.Properties()["name"])
		if len(names) == 1 {
			// Empty the collection mid-iteration
			require.NoError(t, f.reg.Unregister(alpha.ID()))
			require.NoError(t, f.reg.Unregister(beta.ID()))
			require.Equal(t, availability.Waiting, f.gate.State())
		}
	}
	assert.Equal(t, []string{"alpha", "beta"}, names, "an iteration in progress is not failed retroactively")

	_, err := view.Size(context.Background())
	assert.ErrorIs(t, err, registry.ErrServiceUnavailable)
}

func collectHandles(seq iter.Seq2[any, error]) ([]*registry.Handle, error) {
	var out []*registry.Handle
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item.(*registry.Handle))
	}
	return out, nil
}

func TestInstances_TypeMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, availability.Optional, time.Second)
	view := NewView(f.tracker, f.gate, ReferenceHandle)
	f.register(t, "alpha")

	_, err := Instances[*runnable](context.Background(), view)
	assert.Error(t, err)
}

func TestParseMemberType(t *testing.T) {
	t.Parallel()

	mt, err := ParseMemberType("")
	require.NoError(t, err)
	assert.Equal(t, ResolvedInstance, mt)

	mt, err = ParseMemberType("Reference")
	require.NoError(t, err)
	assert.Equal(t, ReferenceHandle, mt)

	_, err = ParseMemberType("proxy")
	assert.ErrorIs(t, err, registry.ErrInvalidConfiguration)

	assert.Equal(t, "instance", ResolvedInstance.String())
	assert.Equal(t, "reference", ReferenceHandle.String())
}
