package offlinecache

import (
	"context"
	"net/http"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// Fetch answers a request the way the cache policy dictates:
//
//   - non-GET requests go to the origin untouched and are never cached
//   - a stored response is returned without contacting the origin
//   - navigations are fetched and stored, falling back to the offline page
//   - other resources are fetched and stored in the background if 200,
//     falling back to the offline page for HTML or an empty 408 otherwise
//
// The only error returned is a failed origin request for a non-GET request.
// The returned response carries a `Cache-Status` header.
func (c *Controller) Fetch(r *http.Request) (*http.Response, error) {
	var cs cachestatus.CacheStatus

	if state := c.State(); state == StateUninitialized || state == StateRedundant {
		cs.Forward(cachestatus.FwdBypass)
		return c.passThrough(r, cs)
	}
	if r.Method != http.MethodGet {
		cs.Forward(cachestatus.FwdMethod)
		return c.passThrough(r, cs)
	}

	res, reason := c.match(r.Context(), r)
	if res != nil {
		cacheHits.Inc()
		cs.Hit()
		return c.respond(r, res, cs), nil
	}
	cs.Forward(reason)

	if isNavigation(r) {
		cacheMisses.WithLabelValues("navigation").Inc()
		return c.fetchNavigation(r, cs), nil
	}
	cacheMisses.WithLabelValues("resource").Inc()
	return c.fetchResource(r, cs), nil
}

func (c *Controller) passThrough(r *http.Request, cs cachestatus.CacheStatus) (*http.Response, error) {
	res, err := c.network.fetch(r.Context(), r)
	if err != nil {
		return nil, err
	}
	return c.respond(r, res, cs), nil
}

// match looks up the request in the current generation.
// If there is no usable response, the reason for forwarding is returned instead.
func (c *Controller) match(ctx context.Context, r *http.Request) (*http.Response, cachestatus.FwdReason) {
	snap, ok := c.lookup(ctx, r)
	if !ok {
		return nil, cachestatus.FwdUriMiss
	}
	if !cachekey.VaryMatches(r, snap.Header, snap.RequestHeader) {
		return nil, cachestatus.FwdVaryMiss
	}
	return snap.Response(r), ""
}

func (c *Controller) lookup(ctx context.Context, r *http.Request) (serializer.Snapshot, bool) {
	key, err := c.keyer.GetKey(r)
	if err != nil {
		return serializer.Snapshot{}, false
	}
	return c.lookupKey(ctx, key)
}

func (c *Controller) lookupKey(ctx context.Context, key string) (serializer.Snapshot, bool) {
	bytes, ok, err := c.storage.Get(ctx, c.version, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Could not read from cache")
		return serializer.Snapshot{}, false
	}
	if !ok {
		c.log.Trace().Str("key", key).Msg("Cache miss")
		return serializer.Snapshot{}, false
	}
	snap, err := serializer.Unmarshal(bytes)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Could not decode cached response")
		return serializer.Snapshot{}, false
	}
	return snap, true
}

// fetchNavigation tries the network first and stores the response
// before returning it. Offline, the offline page is served.
func (c *Controller) fetchNavigation(r *http.Request, cs cachestatus.CacheStatus) *http.Response {
	res, err := c.network.fetch(r.Context(), r)
	if err != nil {
		c.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Navigation failed, serving offline page")
		return c.offline(r, cs)
	}
	if c.navigationPolicy.mayStore(res.StatusCode) {
		if key, snap, ok := c.capture(r, res); ok {
			cs.Stored = c.store(r.Context(), key, snap, "navigation")
		}
	}
	return c.respond(r, res, cs)
}

// fetchResource tries the network and stores 200 responses in the background.
// Offline, HTML requests get the offline page and anything else an empty 408.
func (c *Controller) fetchResource(r *http.Request, cs cachestatus.CacheStatus) *http.Response {
	res, err := c.network.fetch(r.Context(), r)
	if err != nil {
		c.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Resource request failed")
		if acceptsHTML(r) {
			return c.offline(r, cs)
		}
		networkFailures.WithLabelValues("timeout").Inc()
		return c.respond(r, requestTimeout(r), cs)
	}
	if res.StatusCode == http.StatusOK {
		if key, snap, ok := c.capture(r, res); ok {
			// the request context ends with the response, the write must outlive it
			ctx := context.WithoutCancel(r.Context())
			if c.track() {
				go func() {
					defer c.pending.Done()
					c.store(ctx, key, snap, "resource")
				}()
				cs.Stored = true
			}
		}
	}
	return c.respond(r, res, cs)
}

// offline serves the stored offline page.
// If even that is missing, the request ends with an empty 408.
func (c *Controller) offline(r *http.Request, cs cachestatus.CacheStatus) *http.Response {
	cs.Detail = "offline"
	if c.offlinePage != "" {
		if snap, ok := c.lookupKey(r.Context(), c.keyer.PathKey(c.offlinePage)); ok {
			networkFailures.WithLabelValues("offline_page").Inc()
			return c.respond(r, snap.Response(r), cs)
		}
		c.log.Warn().Str("path", c.offlinePage).Msg("Offline page not in cache")
	}
	networkFailures.WithLabelValues("timeout").Inc()
	return c.respond(r, requestTimeout(r), cs)
}

// capture snapshots the response, leaving its body readable for the client.
// It returns the key to store the snapshot under.
func (c *Controller) capture(r *http.Request, res *http.Response) (string, serializer.Snapshot, bool) {
	key, err := c.keyer.GetKey(r)
	if err != nil {
		return "", serializer.Snapshot{}, false
	}
	snap, err := serializer.Capture(res, cachekey.VaryHeaders(r, res.Header))
	if err != nil {
		c.log.Warn().Err(err).Str("url", r.URL.String()).Msg("Could not capture response")
		return "", snap, false
	}
	snap.Method = r.Method
	snap.URL = c.keyer.AbsoluteURL(r)
	return key, snap, true
}

// track registers a background write unless the controller is redundant.
// Once retired, no new writes are tracked, so Wait cannot race with them.
func (c *Controller) track() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.state == StateRedundant {
		return false
	}
	c.pending.Add(1)
	return true
}

func (c *Controller) store(ctx context.Context, key string, snap serializer.Snapshot, kind string) bool {
	bytes, err := serializer.Marshal(snap)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("Could not encode response")
		return false
	}
	// hold the state while writing, a redundant controller's generation
	// may already be deleted and must not be recreated
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.state == StateRedundant {
		c.log.Debug().Str("key", key).Msg("Controller redundant, not caching")
		return false
	}
	if err := c.storage.Put(ctx, c.version, key, bytes); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return false
	}
	cacheStores.WithLabelValues(kind).Inc()
	c.log.Trace().Str("key", key).Int("status", snap.StatusCode).Msg("Cache write")
	return true
}

// respond finalizes the response for the client and logs the decision.
func (c *Controller) respond(r *http.Request, res *http.Response, cs cachestatus.CacheStatus) *http.Response {
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Add("Cache-Status", cs.String())
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	c.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Int("code", res.StatusCode).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
	return res
}

// requestTimeout is the synthetic response for failed non-HTML requests.
// Callers can detect the failure by status without an error being raised.
func requestTimeout(r *http.Request) *http.Response {
	return &http.Response{
		Status:     "408 Network request failed",
		StatusCode: http.StatusRequestTimeout,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Length": {"0"}},
		Body:       http.NoBody,
		Request:    r,
	}
}
