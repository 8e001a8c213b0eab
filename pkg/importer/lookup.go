package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/stacklok/toolhive-service-tracker/pkg/filtering"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// FindAll returns every registered service matching the capability and
// filter options, ordered as returned by the gateway. No match yields an
// empty slice.
func FindAll(ctx context.Context, gw registry.Gateway, opts ...Option) ([]*registry.Handle, error) {
	matcher, err := lookupMatcher(gw, opts)
	if err != nil {
		return nil, err
	}

	handles, err := gw.Query(ctx, matcher.TypeName(), matcher)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}

	matched := make([]*registry.Handle, 0, len(handles))
	for _, h := range handles {
		if matcher.Matches(h) {
			matched = append(matched, h)
		}
	}
	return matched, nil
}

// FindOne returns the single registered service matching the options.
// It fails with *registry.NoSuchServiceError when nothing matches and with
// *registry.AmbiguousServiceError when more than one service matches.
func FindOne(ctx context.Context, gw registry.Gateway, opts ...Option) (*registry.Handle, error) {
	matcher, err := lookupMatcher(gw, opts)
	if err != nil {
		return nil, err
	}

	handles, err := FindAll(ctx, gw, opts...)
	if err != nil {
		return nil, err
	}

	typeName := strings.Join(matcher.Capabilities(), ",")
	switch len(handles) {
	case 0:
		return nil, &registry.NoSuchServiceError{TypeName: typeName, Filter: matcher.Predicate().String()}
	case 1:
		return handles[0], nil
	default:
		return nil, &registry.AmbiguousServiceError{
			TypeName: typeName,
			Filter:   matcher.Predicate().String(),
			Count:    len(handles),
		}
	}
}

func lookupMatcher(gw registry.Gateway, opts []Option) (*filtering.Matcher, error) {
	if gw == nil {
		return nil, fmt.Errorf("%w: registry gateway cannot be nil", registry.ErrInvalidConfiguration)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return filtering.NewMatcher(o.capabilities, o.matcherOptions()...)
}
