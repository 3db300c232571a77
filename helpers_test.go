package offlinecache

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
)

var testManifest = []string{
	"/",
	"/index.html",
	"/about.html",
	"/css/style.css",
	"/js/app.js",
	"/assets/Dct logo-01.jpg",
	"/manifest.json",
	"/offline.html",
}

// countingNetwork counts origin round trips and can simulate being offline.
type countingNetwork struct {
	mutex   sync.Mutex
	calls   int
	offline bool
	next    http.RoundTripper
}

func (n *countingNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mutex.Lock()
	n.calls++
	offline := n.offline
	n.mutex.Unlock()
	if offline {
		return nil, errors.New("network is down")
	}
	return n.next.RoundTrip(req)
}

func (n *countingNetwork) Calls() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.calls
}

func (n *countingNetwork) Reset() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.calls = 0
}

func (n *countingNetwork) SetOffline(offline bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.offline = offline
}

// testOrigin serves every path with a body naming the path.
// The paths in `statuses` are answered with the given status instead.
func testOrigin(t *testing.T, statuses map[string]int) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/offline.html":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("You are offline"))
			return
		case "/vary":
			w.Header().Set("Vary", "Accept-Language")
			w.Write([]byte("lang " + r.Header.Get("Accept-Language")))
			return
		case "/encoded.html":
			w.Header().Set("Vary", "Accept-Encoding")
			w.Write([]byte("encoded page"))
			return
		case "/encoding":
			w.Write([]byte("accept-encoding " + r.Header.Get("Accept-Encoding")))
			return
		case "/conditional.html":
			w.Header().Set("ETag", `"v1"`)
			if r.Header.Get("If-None-Match") != "" {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Write([]byte("full page"))
			return
		}
		if status, ok := statuses[r.URL.Path]; ok {
			w.WriteHeader(status)
			w.Write([]byte(fmt.Sprintf("status %d for %s", status, r.URL.Path)))
			return
		}
		w.Write([]byte(fmt.Sprintf("%s %s", r.Method, r.URL.Path)))
	}))
	t.Cleanup(server.Close)
	return server
}

type testSetup struct {
	storage cache.MemoryStorage
	network *countingNetwork
	origin  *httptest.Server
	config  Config
}

func newTestSetup(t *testing.T, statuses map[string]int) *testSetup {
	origin := testOrigin(t, statuses)
	originURL, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatal(err)
	}
	logger := zerolog.New(zerolog.NewTestWriter(t))
	network := &countingNetwork{next: http.DefaultTransport}
	storage := cache.NewMemoryStorage()
	return &testSetup{
		storage: storage,
		network: network,
		origin:  origin,
		config: Config{
			Storage:     storage,
			OriginURL:   *originURL,
			Version:     "site-v1",
			Manifest:    testManifest,
			OfflinePage: "/offline.html",
			Transport:   network,
			Logger:      &logger,
		},
	}
}

func (s *testSetup) controller(t *testing.T) *Controller {
	c, err := CreateController(s.config)
	if err != nil {
		t.Fatalf("Could not create controller: %v", err)
	}
	return c
}

// activeController returns an installed and activated controller,
// with the network call counter reset.
func (s *testSetup) activeController(t *testing.T) *Controller {
	c := s.controller(t)
	if err := c.Install(t.Context()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := c.Activate(t.Context()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	s.network.Reset()
	return c
}

func newRequest(method, target string, header map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	for name, value := range header {
		r.Header.Set(name, value)
	}
	return r
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Could not read body: %v", err)
	}
	return string(body)
}
