package app

import (
	"maps"

	"github.com/stacklok/toolhive-service-tracker/internal/api"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

var _ api.StatusProvider = (*TrackerApp)(nil)

// TrackerName implements api.StatusProvider
func (app *TrackerApp) TrackerName() string {
	return app.config.GetTrackerName()
}

// Subscriptions implements api.StatusProvider
func (app *TrackerApp) Subscriptions() []api.SubscriptionStatus {
	out := make([]api.SubscriptionStatus, 0, len(app.subscriptions))
	for _, s := range app.subscriptions {
		snapshot := s.Snapshot()
		members := make([]api.MemberStatus, 0, len(snapshot))
		for _, h := range snapshot {
			members = append(members, memberStatus(h))
		}
		out = append(out, api.SubscriptionStatus{
			Name:    s.Name(),
			Filter:  s.Filter(),
			Policy:  s.Policy().String(),
			State:   s.State().String(),
			Members: members,
		})
	}
	return out
}

func memberStatus(h *registry.Handle) api.MemberStatus {
	props := maps.Clone(map[string]string(h.Properties()))
	delete(props, registry.PropertyServiceID)
	return api.MemberStatus{
		ID:           uint64(h.ID()),
		Capabilities: h.Capabilities(),
		Properties:   props,
	}
}
