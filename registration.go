package offlinecache

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
)

// Registration owns the controller that currently handles requests.
// A newly registered controller takes over as soon as it is installed,
// without waiting for anything else; a controller that fails to install
// never replaces an active one.
type Registration struct {
	current atomic.Pointer[Controller]
	// serializes Register calls
	mutex sync.Mutex
}

func NewRegistration() *Registration {
	return &Registration{}
}

// Register creates a controller from the config, installs it, and activates it.
// On install failure the previously active controller (and its generation) keeps serving.
// If there is no active controller at all, the failed one is kept so that requests
// still pass through to the origin.
//
// The installed controller handles requests from its own generation while the
// previous one is retired and the stale generations are removed, so no request
// falls through to the origin during the switch.
func (reg *Registration) Register(ctx context.Context, config Config) (*Controller, error) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	c, err := CreateController(config)
	if err != nil {
		return nil, err
	}
	prev := reg.current.Load()
	if err := c.Install(ctx); err != nil {
		if prev == nil || prev.State() != StateActive {
			reg.current.Store(c)
		}
		return c, err
	}

	reg.current.Store(c)
	if prev != nil {
		// requests still running on the previous controller may not
		// write to its generation once it is deleted
		prev.retire()
		prev.Wait()
	}
	if err := c.Activate(ctx); err != nil {
		// c keeps serving its generation; stale ones are swept on the next activation
		return c, err
	}
	return c, nil
}

// Controller returns the controller currently handling requests, or nil.
func (reg *Registration) Controller() *Controller {
	return reg.current.Load()
}

// Wait blocks until the current controller has finished its background writes.
func (reg *Registration) Wait() {
	if c := reg.current.Load(); c != nil {
		c.Wait()
	}
}

// ServeHTTP implements the http.Handler interface.
func (reg *Registration) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := reg.current.Load()
	if c == nil {
		http.Error(w, "No cache controller registered", http.StatusServiceUnavailable)
		return
	}
	c.ServeHTTP(w, r)
}
