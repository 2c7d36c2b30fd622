package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/Lllllllleong/ocrworker/internal/paths"
)

// DefaultSignedURLTTL bounds how long a fetch reference stays usable.
const DefaultSignedURLTTL = 30 * time.Second

// Mirror resolves storage keys between the local media cache and the remote
// store.
type Mirror interface {
	// Enabled is false for the no-op mirror used when no remote is configured.
	Enabled() bool
	LocalPath(key string) string
	// EnsureLocal returns the local path of key, downloading it first if
	// only the remote has it. ErrObjectNotFound if neither has it.
	EnsureLocal(ctx context.Context, key string) (string, error)
	ExistsRemote(ctx context.Context, key string) (bool, error)
	// Publish uploads the local file at key. A missing or non-regular local
	// file is logged and skipped.
	Publish(ctx context.Context, key string) error
	// PublishDir publishes every regular file directly inside dirKey.
	PublishDir(ctx context.Context, dirKey string) error
	// FetchMany downloads the keys missing locally as one all-or-nothing batch.
	FetchMany(ctx context.Context, keys []string) error
	SignedURL(ctx context.Context, key string) (string, error)
}

// MirrorConfig configures NewMirror.
type MirrorConfig struct {
	Resolver         paths.Resolver
	SignedURLTTL     time.Duration
	FetchConcurrency int // 0 means no cap
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// NewMirror returns a mirror backed by remote, or a no-op mirror when remote
// is nil. The choice is made once here rather than on every call.
func NewMirror(remote Remote, cfg MirrorConfig) Mirror {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if remote == nil {
		logger.Info("remote storage not configured, running on local disk only")
		return &noopMirror{resolver: cfg.Resolver, logger: logger}
	}
	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	m := &mirror{
		remote:   remote,
		resolver: cfg.Resolver,
		ttl:      ttl,
		logger:   logger,
	}
	m.fetcher = NewFetcher(FetcherConfig{
		Remote:      remote,
		Resolver:    cfg.Resolver,
		TTL:         ttl,
		Concurrency: cfg.FetchConcurrency,
		HTTPClient:  cfg.HTTPClient,
		Logger:      logger,
	})
	return m
}

type mirror struct {
	remote   Remote
	resolver paths.Resolver
	ttl      time.Duration
	fetcher  *Fetcher
	logger   *slog.Logger
}

func (m *mirror) Enabled() bool { return true }

func (m *mirror) LocalPath(key string) string { return m.resolver.Abs(key) }

func (m *mirror) EnsureLocal(ctx context.Context, key string) (string, error) {
	local := m.resolver.Abs(key)
	if exists, regular := isRegularFile(local); exists && regular {
		return local, nil
	}

	remoteKey := m.resolver.RemoteKey(key)
	ok, err := m.remote.Exists(ctx, remoteKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("key %s: %w", remoteKey, ErrObjectNotFound)
	}

	m.logger.Debug("downloading object", "key", remoteKey, "path", local)
	if err := m.remote.Download(ctx, remoteKey, local); err != nil {
		return "", err
	}
	return local, nil
}

func (m *mirror) ExistsRemote(ctx context.Context, key string) (bool, error) {
	return m.remote.Exists(ctx, m.resolver.RemoteKey(key))
}

func (m *mirror) Publish(ctx context.Context, key string) error {
	local := m.resolver.Abs(key)
	exists, regular := isRegularFile(local)
	if !exists {
		m.logger.Error("target does not exist, upload canceled", "path", local)
		return nil
	}
	if !regular {
		m.logger.Error("target is not a file, upload canceled", "path", local)
		return nil
	}

	remoteKey := m.resolver.RemoteKey(key)
	m.logger.Debug("uploading object", "path", local, "key", remoteKey)
	return m.remote.Upload(ctx, local, remoteKey)
}

func (m *mirror) PublishDir(ctx context.Context, dirKey string) error {
	entries, err := os.ReadDir(m.resolver.Abs(dirKey))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dirKey, err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := m.Publish(ctx, path.Join(dirKey, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (m *mirror) FetchMany(ctx context.Context, keys []string) error {
	return m.fetcher.FetchMany(ctx, keys)
}

func (m *mirror) SignedURL(ctx context.Context, key string) (string, error) {
	return m.remote.SignedURL(ctx, m.resolver.RemoteKey(key), m.ttl)
}

// noopMirror is the pure local-disk mode.
type noopMirror struct {
	resolver paths.Resolver
	logger   *slog.Logger
}

func (n *noopMirror) Enabled() bool { return false }

func (n *noopMirror) LocalPath(key string) string { return n.resolver.Abs(key) }

func (n *noopMirror) EnsureLocal(_ context.Context, key string) (string, error) {
	return n.resolver.Abs(key), nil
}

func (n *noopMirror) ExistsRemote(context.Context, string) (bool, error) { return false, nil }

func (n *noopMirror) Publish(context.Context, string) error { return nil }

func (n *noopMirror) PublishDir(context.Context, string) error { return nil }

func (n *noopMirror) FetchMany(context.Context, []string) error { return nil }

func (n *noopMirror) SignedURL(context.Context, string) (string, error) { return "", nil }
