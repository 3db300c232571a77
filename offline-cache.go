package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"

	"github.com/rs/zerolog"
)

var (
	// ErrInstallFailed is returned when the app shell could not be cached.
	// The previous generation, if any, is left untouched.
	ErrInstallFailed = errors.New("install failed")
	// ErrNotInstalled is returned when activating a controller that was never installed.
	ErrNotInstalled = errors.New("controller not installed")
	// ErrRedundant is returned when activating a controller that was already replaced.
	ErrRedundant = errors.New("controller redundant")
)

// NavigationPolicy decides which navigation responses are stored.
type NavigationPolicy string

const (
	// Store navigation responses regardless of status.
	// An error page may then be served from the cache until the next version bump.
	CacheAllNavigations NavigationPolicy = "all"
	// Store only 2xx navigation responses.
	CacheSuccessfulNavigations NavigationPolicy = "success"
)

func (p NavigationPolicy) mayStore(statusCode int) bool {
	// partial content and answers to conditional requests are only
	// meaningful to the client that asked
	if statusCode < 200 || statusCode == http.StatusPartialContent || statusCode == http.StatusNotModified {
		return false
	}
	if p == CacheSuccessfulNavigations {
		return statusCode >= 200 && statusCode < 300
	}
	return true
}

type Config struct {
	// Storage for cache generations.
	Storage cache.Storage
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Name of the cache generation. Bump it whenever cached assets change.
	Version string
	// Paths that must be cached on install (the app shell).
	Manifest []string
	// Path of the page served to navigations when both cache and network fail.
	// Must be part of the manifest.
	OfflinePage string
	// Which navigation responses to store. Defaults to CacheAllNavigations.
	NavigationPolicy NavigationPolicy
	// Maximum number of parallel manifest fetches during install.
	InstallConcurrency int
	// Transport used for origin requests. http.DefaultTransport is used if nil.
	Transport http.RoundTripper
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// State is the lifecycle state of a controller.
type State int

const (
	StateUninitialized State = iota
	StateInstalled
	StateActive
	// Replaced by a newer controller. It no longer writes to its generation.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "uninitialized"
	}
}

// Controller mediates every GET request to the origin through the current cache generation.
// It moves from uninitialized to installed (Install) to active (Activate), and finally
// to redundant once replaced. Uninitialized and redundant controllers pass all requests
// straight to the origin; an installed one already serves its complete generation.
type Controller struct {
	storage            cache.Storage
	keyer              cachekey.CacheKeyer
	network            network
	log                zerolog.Logger
	version            string
	manifest           []string
	offlinePage        string
	navigationPolicy   NavigationPolicy
	installConcurrency int

	mutex   sync.RWMutex
	state   State
	pending sync.WaitGroup
}

// CreateController validates the config and creates an uninitialized controller.
func CreateController(config Config) (*Controller, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("no storage configured")
	}
	if config.OriginURL.Scheme == "" || config.OriginURL.Host == "" {
		return nil, fmt.Errorf("origin URL must be absolute, got %q", config.OriginURL.String())
	}
	if config.Version == "" {
		return nil, fmt.Errorf("no cache version configured")
	}
	manifest := dedupe(config.Manifest)
	if config.OfflinePage != "" && !contains(manifest, config.OfflinePage) {
		return nil, fmt.Errorf("offline page %s is not part of the manifest", config.OfflinePage)
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Str("version", config.Version).
		Logger()

	policy := config.NavigationPolicy
	if policy == "" {
		policy = CacheAllNavigations
	}
	concurrency := config.InstallConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Controller{
		storage:            config.Storage,
		keyer:              cachekey.NewCacheKeyer(config.OriginURL),
		network:            newNetwork(config.OriginURL, config.OriginHost, config.Transport),
		log:                logger,
		version:            config.Version,
		manifest:           manifest,
		offlinePage:        config.OfflinePage,
		navigationPolicy:   policy,
		installConcurrency: concurrency,
	}, nil
}

func (c *Controller) Version() string {
	return c.version
}

func (c *Controller) State() State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.state = s
}

// retire makes the controller redundant. It returns once no cache write of this
// controller is in progress; later writes are dropped.
func (c *Controller) retire() {
	c.setState(StateRedundant)
	c.log.Debug().Msg("Controller redundant")
}

// Wait blocks until all background cache writes have completed.
func (c *Controller) Wait() {
	c.pending.Wait()
}

// Status is a point-in-time report of a controller and its storage.
type Status struct {
	Version     string   `json:"version"`
	State       string   `json:"state"`
	Generations []string `json:"generations"`
	Entries     int      `json:"entries"`
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	status := Status{Version: c.version, State: c.State().String()}
	generations, err := c.storage.Generations(ctx)
	if err != nil {
		return status, err
	}
	status.Generations = generations
	keys, err := c.storage.Keys(ctx, c.version)
	if err != nil && !errors.Is(err, cache.ErrGenerationNotFound) {
		return status, err
	}
	status.Entries = len(keys)
	return status, nil
}

// ServeHTTP implements the http.Handler interface.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer c.recover(w, r)
	res, err := c.Fetch(r)
	if err != nil {
		c.log.Error().Err(err).Str("url", r.URL.String()).Msg("Error connecting to origin")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	c.send(w, res)
}

// recover recovers from panics and sends the response to the escape hatch if needed.
func (c *Controller) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		c.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in cache handler")
		c.escapeHatch(w, r)
	}
}

// escapeHatch is a fallback handler that just proxies the request to the origin.
func (c *Controller) escapeHatch(w http.ResponseWriter, r *http.Request) {
	res, err := c.network.fetch(r.Context(), r)
	if err != nil {
		c.log.Error().Err(err).Msg("Error connecting to origin")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	c.send(w, res)
}

func (c *Controller) send(w http.ResponseWriter, res *http.Response) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return
	}
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		c.log.Error().Err(err).Msg("Could not write response body to client")
	}
	c.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}

// acceptsHTML reports whether the request asks for an HTML document.
func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// isNavigation reports whether the request loads a new top-level document.
func isNavigation(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "navigate"
}
