package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/stacklok/toolhive-service-tracker/internal/httpclient"
)

// HTTPSource registers the services listed in a document served over HTTP
type HTTPSource struct {
	*poller
	url    string
	client httpclient.Client
}

// NewHTTPSource creates a source polling rawURL
func NewHTTPSource(rawURL string, reg Registrar, opts ...PollOption) (*HTTPSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("URL %q must use http or https", rawURL)
	}
	if u.User != nil {
		return nil, fmt.Errorf("URL %q must not embed credentials", u.Redacted())
	}

	o, err := newPollOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.NewDefaultClient(0)
	}

	s := &HTTPSource{
		url:    rawURL,
		client: o.httpClient,
	}
	s.poller = newPoller(NewMirror("http:"+u.Host+u.Path, reg), s.fetch, o)
	s.retryable = httpclient.Retryable
	return s, nil
}

func (s *HTTPSource) fetch(ctx context.Context) ([]byte, string, error) {
	data, err := s.client.Get(ctx, s.url)
	return data, "", err
}
