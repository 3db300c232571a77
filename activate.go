package offlinecache

import (
	"context"
	"fmt"
)

// Activate deletes every generation other than the current one
// and makes the controller take over request handling.
// Activating an already active controller sweeps stale generations again.
func (c *Controller) Activate(ctx context.Context) error {
	switch c.State() {
	case StateUninitialized:
		return ErrNotInstalled
	case StateRedundant:
		return ErrRedundant
	}
	deleted, err := c.storage.DeleteGenerations(ctx, func(name string) bool {
		return name != c.version
	})
	if err != nil {
		return fmt.Errorf("delete stale generations: %w", err)
	}
	for _, name := range deleted {
		c.log.Info().Str("generation", name).Msg("Removed old cache")
	}
	generationsDeleted.Add(float64(len(deleted)))
	c.setState(StateActive)
	c.log.Info().Msg("Controller active")
	return nil
}
