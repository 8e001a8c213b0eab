// Package sources mirrors external service inventories into the in-process
// registry.
//
// A Mirror owns the registrations one source made and turns a desired set of
// ServiceSpecs into Register, Modify and Unregister calls. Property-only
// changes become MODIFIED events; a change of capabilities or address
// re-registers the service under a new ID.
//
// Current implementations:
//   - FileSource: a YAML file of services, reloaded when it changes on disk
//   - GitSource: a services file in a Git repository, re-cloned every poll interval
//   - HTTPSource: a services document fetched over HTTP every poll interval
//   - the Kubernetes source in internal/kubernetes, which feeds a Mirror from
//     annotated Services
//
// Every services document is checked against an embedded JSON Schema before
// it is applied. A document whose content did not change is not re-applied.
package sources
