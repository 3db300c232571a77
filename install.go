package offlinecache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"golang.org/x/sync/errgroup"
)

// Install caches the app shell into the generation named by the version.
// Every manifest path is fetched before anything is written;
// if any fetch fails, nothing is stored and ErrInstallFailed is returned.
// A successful install leaves the controller ready to be activated right away.
func (c *Controller) Install(ctx context.Context) error {
	c.log.Info().Int("assets", len(c.manifest)).Msg("Caching app shell")

	entries := make([]cache.Entry, len(c.manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.installConcurrency)
	for i, path := range c.manifest {
		g.Go(func() error {
			entry, err := c.fetchAsset(gctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		installs.WithLabelValues("failed").Inc()
		c.log.Error().Err(err).Msg("Could not cache app shell")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	if err := c.storage.PutAll(ctx, c.version, entries); err != nil {
		installs.WithLabelValues("failed").Inc()
		c.log.Error().Err(err).Msg("Could not write app shell to cache")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	c.mutex.Lock()
	if c.state == StateUninitialized {
		c.state = StateInstalled
	}
	c.mutex.Unlock()

	installs.WithLabelValues("ok").Inc()
	c.log.Info().Msg("App shell cached, ready to activate")
	return nil
}

// fetchAsset fetches a single manifest path and turns it into a cache entry.
// Only successful (2xx) responses are accepted.
func (c *Controller) fetchAsset(ctx context.Context, path string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keyer.Resolve(path), nil)
	if err != nil {
		return cache.Entry{}, err
	}
	res, err := c.network.fetch(ctx, req)
	if err != nil {
		return cache.Entry{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return cache.Entry{}, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	snap, err := serializer.Capture(res, nil)
	if err != nil {
		return cache.Entry{}, err
	}
	snap.Method = req.Method
	snap.URL = req.URL.String()
	bytes, err := serializer.Marshal(snap)
	if err != nil {
		return cache.Entry{}, err
	}
	c.log.Trace().Str("path", path).Int("bytes", len(snap.Body)).Msg("Fetched app shell asset")
	return cache.Entry{Key: c.keyer.PathKey(path), Bytes: bytes}, nil
}
