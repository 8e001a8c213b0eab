package httpclient_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/toolhive-service-tracker/internal/httpclient"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	err := httpclient.NewHTTPError(404, "http://example.com", "Not Found")
	assert.Equal(t, "HTTP 404 for URL http://example.com: Not Found", err.Error())

	err = httpclient.NewHTTPError(500, "http://example.com", "")
	assert.Equal(t, "HTTP 500 for URL http://example.com: ", err.Error())
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "network error", err: errors.New("connection refused"), want: true},
		{name: "not found", err: httpclient.NewHTTPError(404, "u", ""), want: false},
		{name: "unauthorized", err: httpclient.NewHTTPError(401, "u", ""), want: false},
		{name: "request timeout", err: httpclient.NewHTTPError(408, "u", ""), want: true},
		{name: "too many requests", err: httpclient.NewHTTPError(429, "u", ""), want: true},
		{name: "server error", err: httpclient.NewHTTPError(503, "u", ""), want: true},
		{name: "wrapped", err: fmt.Errorf("fetch: %w", httpclient.NewHTTPError(403, "u", "")), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, httpclient.Retryable(tt.err))
		})
	}
}
