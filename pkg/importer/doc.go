// Package importer creates live subscriptions to registry services.
//
// A Subscription combines a filtering.Matcher, a tracker.Tracker, an
// availability.Controller and a listener.Dispatcher behind the
// collection.Collection interface:
//
//	sub, err := importer.New(ctx, gw,
//		importer.WithName("runnables"),
//		importer.WithCapabilities("Runnable"),
//		importer.WithFilter("tier in (web,api)"),
//		importer.WithPolicy(availability.Mandatory),
//		importer.WithTimeout(30*time.Second),
//	)
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
//
//	runnables, err := collection.Instances[Runnable](ctx, sub)
//
// Configuration errors are returned by New and match
// registry.ErrInvalidConfiguration. Reads on a Mandatory subscription
// block until a member is bound and fail with a *registry.UnavailableError
// after the timeout.
//
// FindOne and FindAll perform one-shot lookups with the same matching rules.
package importer
