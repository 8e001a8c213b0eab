package registry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrServiceUnavailable is returned when a mandatory service did not become available in time
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrNoSuchService is returned when a single-service lookup finds no match
	ErrNoSuchService = errors.New("no such service")
	// ErrAmbiguousService is returned when a single-service lookup finds more than one match
	ErrAmbiguousService = errors.New("ambiguous service reference")
	// ErrInvalidConfiguration is returned when a subscription or lookup is misconfigured
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrClosed is returned when a subscription or registry is used after it was closed
	ErrClosed = errors.New("closed")
	// ErrServiceGone is returned when resolving a service that is no longer registered
	ErrServiceGone = errors.New("service is no longer registered")
)

// UnavailableError reports that no service matching Filter appeared within Timeout
type UnavailableError struct {
	Filter  string
	Timeout time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no service matching %q became available within %s", e.Filter, e.Timeout)
}

// Is reports whether target is ErrServiceUnavailable
func (*UnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// NoSuchServiceError reports that a lookup for TypeName and Filter found nothing
type NoSuchServiceError struct {
	TypeName string
	Filter   string
}

func (e *NoSuchServiceError) Error() string {
	return fmt.Sprintf("a service of type %q matching filter %q could not be found", e.TypeName, e.Filter)
}

// Is reports whether target is ErrNoSuchService
func (*NoSuchServiceError) Is(target error) bool {
	return target == ErrNoSuchService
}

// AmbiguousServiceError reports that a lookup expecting one service found Count
type AmbiguousServiceError struct {
	TypeName string
	Filter   string
	Count    int
}

func (e *AmbiguousServiceError) Error() string {
	return fmt.Sprintf("found %d services of type %q matching filter %q (expecting only one)",
		e.Count, e.TypeName, e.Filter)
}

// Is reports whether target is ErrAmbiguousService
func (*AmbiguousServiceError) Is(target error) bool {
	return target == ErrAmbiguousService
}
