// Package registry defines the narrow interface the service tracker consumes
// from a service registry, together with the value types that cross it.
//
// A registry holds named, typed, filterable resources ("services"). Each
// registered service is described by a Handle: a registry-assigned ID, an
// ordered list of declared capability names and a property set. Handles are
// immutable; when a service's properties change the registry delivers a new
// Handle value carrying the same ID.
//
// # Gateway
//
// The Gateway interface is the only dependency the tracking core has on a
// registry:
//
//   - Query returns a synchronous snapshot of services matching a type and filter
//   - Subscribe installs an event handler receiving REGISTERED, MODIFIED and
//     UNREGISTERING events
//   - Resolve and Release acquire and give back the service instance behind a handle
//
// The core never polls; after the initial population every change arrives
// as an Event.
//
// # Errors
//
// The sentinel errors in this package classify failures surfaced by the
// tracking core. Structured errors (UnavailableError, NoSuchServiceError,
// AmbiguousServiceError) carry the filter that could not be satisfied and
// match their sentinel with errors.Is.
package registry
