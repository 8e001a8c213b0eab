package api

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}

// ReadinessResponse represents the readiness check response.
// Waiting lists the mandatory subscriptions that have no members yet.
type ReadinessResponse struct {
	Status  string   `json:"status" example:"ready"`
	Waiting []string `json:"waiting,omitempty"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubscriptionStatus describes one live subscription
type SubscriptionStatus struct {
	Name    string         `json:"name"`
	Filter  string         `json:"filter"`
	Policy  string         `json:"policy" example:"mandatory"`
	State   string         `json:"state" example:"satisfied"`
	Members []MemberStatus `json:"members"`
}

// MemberStatus describes one service bound to a subscription
type MemberStatus struct {
	ID           uint64            `json:"id"`
	Capabilities []string          `json:"capabilities"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// SubscriptionList is the response of GET /subscriptions
type SubscriptionList struct {
	Tracker       string               `json:"tracker"`
	Subscriptions []SubscriptionStatus `json:"subscriptions"`
}

// Waiting reports whether the subscription is mandatory and still has no members
func (s *SubscriptionStatus) Waiting() bool {
	return s.Policy == "mandatory" && s.State != "satisfied"
}
