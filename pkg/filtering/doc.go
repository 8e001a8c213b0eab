// Package filtering decides which registered services belong to a subscription.
//
// A service is selected when it passes all three checks of a Matcher
// (logical AND):
//
//  1. Capabilities: the service declares every required capability, either
//     directly or through a subtype known to the configured Hierarchy
//  2. Predicate: the service satisfies a label-selector style expression
//     over its capabilities and properties
//  3. Version range: the service's "version" property satisfies an optional
//     semantic version constraint
//
// # Predicates
//
// Predicates use Kubernetes label selector syntax. Requirements are joined
// with "," (conjunction) and support "=", "==", "!=", "in", "notin",
// existence ("key"), non-existence ("!key"), and integer ">" / "<":
//
//	tier in (web,api),region!=eu,canary
//
// The reserved key "capability" is evaluated against the declared capability
// names instead of the property set:
//
//	capability=Runnable              declares Runnable
//	capability in (Runnable,Closer)  declares at least one of them
//	capability notin (Deprecated)    declares none of them
//
// Invalid syntax is reported by ParsePredicate as an InvalidPredicateError,
// which matches registry.ErrInvalidConfiguration.
//
// # Capability reduction
//
// When a subscription requires several capabilities and one of them is a
// supertype of another, the supertype is redundant. Hierarchy.Reduce removes
// it so the narrowest required set is used:
//
//	h := Hierarchy{"Runnable": {"Task"}}
//	h.Reduce([]string{"Task", "Runnable"}) // []string{"Runnable"}
//
// # Detailed Logging
//
// Matcher.MatchWithReason returns the reason for each decision so bind and
// unbind decisions can be logged and debugged.
package filtering
