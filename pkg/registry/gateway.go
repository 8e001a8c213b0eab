package registry

import "context"

// Filter selects services. Implementations must be safe for concurrent use.
type Filter interface {
	// Matches reports whether the handle is selected by the filter
	Matches(h *Handle) bool

	// String returns the textual form of the filter, used in errors and logs
	String() string
}

// SubscriptionID identifies an event subscription installed on a Gateway
type SubscriptionID uint64

//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks -source=gateway.go Gateway

// Gateway is the query-and-subscribe API of a service registry
type Gateway interface {
	// Query returns a snapshot of the services declaring typeName and matching filter.
	// An empty typeName selects every type; a nil filter selects every service.
	Query(ctx context.Context, typeName string, filter Filter) ([]*Handle, error)

	// Subscribe installs handler for changes of services declaring typeName and matching filter.
	// MODIFIED is delivered when the service matched the filter before or after the change.
	// Events for one subscription are delivered in order, at most once per change.
	Subscribe(typeName string, filter Filter, handler EventHandler) (SubscriptionID, error)

	// Unsubscribe removes a subscription. Unknown IDs are ignored.
	Unsubscribe(id SubscriptionID) error

	// Resolve returns the service instance behind the handle
	Resolve(ctx context.Context, h *Handle) (any, error)

	// Release gives back an instance previously obtained with Resolve
	Release(h *Handle) error
}
