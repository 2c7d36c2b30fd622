package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Lllllllleong/ocrworker/internal/paths"
	"golang.org/x/sync/errgroup"
)

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Remote      Remote
	Resolver    paths.Resolver
	TTL         time.Duration
	Concurrency int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Fetcher downloads batches of objects over one shared HTTP client using
// short-lived signed URLs instead of per-request credentials.
type Fetcher struct {
	remote      Remote
	resolver    paths.Resolver
	ttl         time.Duration
	concurrency int
	client      *http.Client
	logger      *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &Fetcher{
		remote:      cfg.Remote,
		resolver:    cfg.Resolver,
		ttl:         ttl,
		concurrency: cfg.Concurrency,
		client:      client,
		logger:      logger,
	}
}

// Missing returns the keys with no local copy, preserving order.
func (f *Fetcher) Missing(keys []string) []string {
	var missing []string
	for _, key := range keys {
		if exists, regular := isRegularFile(f.resolver.Abs(key)); exists && regular {
			f.logger.Debug("found locally", "key", key)
			continue
		}
		missing = append(missing, key)
	}
	return missing
}

// FetchMany downloads every key that is not cached locally. The batch is
// all-or-nothing: it waits for every request to settle and returns the first
// error, if any. Objects already written stay in the cache.
func (f *Fetcher) FetchMany(ctx context.Context, keys []string) error {
	missing := f.Missing(keys)
	if len(missing) == 0 {
		return nil
	}
	f.logger.Debug("queued for download", "count", len(missing), "keys", missing)

	var g errgroup.Group
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}
	for _, key := range missing {
		g.Go(func() error {
			if err := f.fetchOne(ctx, key); err != nil {
				return fmt.Errorf("fetch %s: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		f.logger.Error("batch download failed", "count", len(missing), "error", err)
		return err
	}
	return nil
}

func (f *Fetcher) fetchOne(ctx context.Context, key string) error {
	url, err := f.remote.SignedURL(ctx, f.resolver.RemoteKey(key), f.ttl)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return transportErr("get", key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("key %s: %w", key, ErrObjectNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return transportErr("get", key, fmt.Errorf("unexpected status %s", resp.Status))
	}
	return writeFileAtomic(f.resolver.Abs(key), resp.Body)
}

// FetchPagePDFs makes every page PDF of pageIDs available locally.
func FetchPagePDFs(ctx context.Context, m Mirror, pageIDs []string) error {
	keys := make([]string, 0, len(pageIDs))
	for _, id := range pageIDs {
		keys = append(keys, paths.PagePDFPath(id))
	}
	return m.FetchMany(ctx, keys)
}

// EnsurePageText returns the OCR sidecar text of a page. A sidecar that
// exists nowhere yields an empty string.
func EnsurePageText(ctx context.Context, m Mirror, pageID string) (string, error) {
	local, err := m.EnsureLocal(ctx, paths.PageTxtPath(pageID))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return "", nil
		}
		return "", err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read sidecar %s: %w", local, err)
	}
	return string(data), nil
}
