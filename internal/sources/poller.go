package sources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-service-tracker/internal/git"
	"github.com/stacklok/toolhive-service-tracker/internal/httpclient"
)

const (
	// DefaultPollInterval is how often remote documents are fetched
	DefaultPollInterval = time.Minute

	defaultRetryTimeout = 30 * time.Second
)

// PollOption configures a polling source
type PollOption func(*pollOptions) error

type pollOptions struct {
	interval     time.Duration
	retryTimeout time.Duration
	clock        clock.WithTicker
	gitClient    git.Client
	httpClient   httpclient.Client
}

func newPollOptions(opts []PollOption) (*pollOptions, error) {
	o := &pollOptions{
		interval:     DefaultPollInterval,
		retryTimeout: defaultRetryTimeout,
		clock:        clock.RealClock{},
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithPollInterval sets how often the document is fetched
func WithPollInterval(d time.Duration) PollOption {
	return func(o *pollOptions) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be greater than 0")
		}
		o.interval = d
		return nil
	}
}

// WithRetryTimeout bounds the retries of one failing fetch
func WithRetryTimeout(d time.Duration) PollOption {
	return func(o *pollOptions) error {
		if d <= 0 {
			return fmt.Errorf("retry timeout must be greater than 0")
		}
		o.retryTimeout = d
		return nil
	}
}

// WithClock replaces the clock driving the poll ticker
func WithClock(c clock.WithTicker) PollOption {
	return func(o *pollOptions) error {
		o.clock = c
		return nil
	}
}

// WithGitClient replaces the Git client of a GitSource
func WithGitClient(c git.Client) PollOption {
	return func(o *pollOptions) error {
		o.gitClient = c
		return nil
	}
}

// WithHTTPClient replaces the HTTP client of an HTTPSource
func WithHTTPClient(c httpclient.Client) PollOption {
	return func(o *pollOptions) error {
		o.httpClient = c
		return nil
	}
}

// fetchFunc returns the current services document and a revision label
type fetchFunc func(ctx context.Context) (data []byte, revision string, err error)

// poller periodically fetches a services document and applies it
type poller struct {
	doc       *documentSync
	fetch     fetchFunc
	retryable func(error) bool
	opts      *pollOptions
}

func newPoller(m *Mirror, fetch fetchFunc, opts *pollOptions) *poller {
	return &poller{
		doc:       newDocumentSync(m),
		fetch:     fetch,
		retryable: func(error) bool { return true },
		opts:      opts,
	}
}

// Mirror returns the mirror holding this source's registrations
func (p *poller) Mirror() *Mirror {
	return p.doc.mirror
}

// Load fetches the document once and synchronizes the registry with it.
// Fetch failures are retried with exponential backoff; a document that
// does not parse is not retried.
func (p *poller) Load(ctx context.Context) error {
	name := p.doc.mirror.Name()

	op := func() (document, error) {
		data, revision, err := p.fetch(ctx)
		if err != nil {
			if !p.retryable(err) {
				return document{}, backoff.Permanent(err)
			}
			return document{}, err
		}
		doc, err := parseDocument(data, revision)
		if err != nil {
			return document{}, backoff.Permanent(err)
		}
		return doc, nil
	}

	doc, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(p.opts.retryTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Retrying service document fetch", "source", name, "error", err, "retry_in", next)
		}))
	if err != nil {
		return err
	}
	return p.doc.apply(doc)
}

// Run loads the document, then reloads it every poll interval until ctx is
// cancelled. A failed reload keeps the previous registrations. On return
// every service registered by this source is unregistered.
func (p *poller) Run(ctx context.Context) error {
	name := p.doc.mirror.Name()
	defer func() {
		if err := p.doc.mirror.Clear(); err != nil {
			slog.Warn("Failed to unregister services", "source", name, "error", err)
		}
	}()

	if err := p.Load(ctx); err != nil {
		return fmt.Errorf("failed to load services from %s: %w", name, err)
	}

	ticker := p.opts.clock.NewTicker(p.opts.interval)
	defer ticker.Stop()

	slog.Info("Started polling services", "source", name, "interval", p.opts.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping services poller", "source", name)
			return nil
		case <-ticker.C():
			if err := p.Load(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("Failed to reload services", "source", name, "error", err)
			}
		}
	}
}
