package sources

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"
)

const defaultReadTimeout = 2 * time.Second

// FileSourceOption configures a FileSource
type FileSourceOption func(*FileSource)

// WithReadTimeout bounds the retries of a failing read or parse
func WithReadTimeout(d time.Duration) FileSourceOption {
	return func(s *FileSource) {
		s.readTimeout = d
	}
}

// FileSource registers the services listed in a YAML file and keeps the
// registry in line with the file as it changes on disk.
type FileSource struct {
	path        string
	doc         *documentSync
	readTimeout time.Duration
}

// NewFileSource creates a source reading path and registering into reg
func NewFileSource(path string, reg Registrar, opts ...FileSourceOption) *FileSource {
	s := &FileSource{
		path:        filepath.Clean(path),
		doc:         newDocumentSync(NewMirror("file:"+filepath.Base(path), reg)),
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mirror returns the mirror holding this source's registrations
func (s *FileSource) Mirror() *Mirror {
	return s.doc.mirror
}

// Load reads the file and synchronizes the registry with it. Reads are
// retried with exponential backoff since editors and volume updates can
// expose a partially written file. Unchanged content is not re-applied.
func (s *FileSource) Load(ctx context.Context) error {
	read := func() (document, error) {
		//nolint:gosec // File path comes from user configuration, this is expected behavior
		data, err := os.ReadFile(s.path)
		if err != nil {
			return document{}, fmt.Errorf("failed to read %s: %w", s.path, err)
		}
		return parseDocument(data, "")
	}

	doc, err := backoff.Retry(ctx, read,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(s.readTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("Retrying service file read", "path", s.path, "error", err, "retry_in", next)
		}))
	if err != nil {
		return err
	}
	return s.doc.apply(doc)
}

// Run loads the file, then reloads it whenever it changes until ctx is
// cancelled. A failed reload keeps the previous registrations. On return
// every service registered by this source is unregistered.
func (s *FileSource) Run(ctx context.Context) error {
	defer func() {
		if err := s.doc.mirror.Clear(); err != nil {
			slog.Warn("Failed to unregister file services", "path", s.path, "error", err)
		}
	}()

	if err := s.Load(ctx); err != nil {
		return fmt.Errorf("failed to load service file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so atomic replacements are observed
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	slog.Info("Started watching service file", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping service file watcher", "path", s.path)
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			if !s.relevant(event) {
				continue
			}
			slog.Debug("Service file change detected", "path", s.path, "op", event.Op.String())
			if err := s.Load(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("Failed to reload service file", "path", s.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Error("File watcher error", "path", s.path, "error", err)
		}
	}
}

// relevant reports whether event may have changed the file's content.
// ConfigMap volumes publish updates by swapping a "..data" symlink.
func (s *FileSource) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == s.path || strings.HasPrefix(filepath.Base(name), "..")
}
