// Package tracker keeps the membership set of one subscription in sync with
// a registry.
//
// A Tracker seeds its set from a registry query, installs an event
// subscription and then re-queries to reconcile anything that changed in
// between. From then on every REGISTERED, MODIFIED and UNREGISTERING event
// is evaluated against the subscription's filter on a single serialized
// event path. Each membership delta is reported to the ChangeFunc after the
// set has been updated, so readers observing the set through Snapshot never
// see a member that was removed before their snapshot was taken.
//
// Members are kept in arrival order: the order in which they were first
// bound. A MODIFIED event keeps a member in place; a member that is removed
// and later bound again moves to the end.
package tracker
