package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError represents an HTTP error
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// Retryable reports whether err may succeed if the request is repeated.
// Client errors other than 408 and 429 are final.
func Retryable(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return true
	}
	switch {
	case httpErr.StatusCode == http.StatusRequestTimeout, httpErr.StatusCode == http.StatusTooManyRequests:
		return true
	case httpErr.StatusCode >= 400 && httpErr.StatusCode < 500:
		return false
	default:
		return true
	}
}
