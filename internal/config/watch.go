package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// changes within this window are read once
const settleDelay = 100 * time.Millisecond

// Watch re-reads the config file whenever it changes and passes the result
// to onChange. The result is not validated; files that cannot be read or
// parsed are logged and skipped.
// It blocks until ctx is done.
func Watch(ctx context.Context, filename string, logger zerolog.Logger, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(filename)
	// watch the directory, editors often replace the file instead of writing to it
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			settle.Reset(settleDelay)
		case <-settle.C:
			config, err := Read(filename)
			if err != nil {
				logger.Warn().Err(err).Str("file", filename).Msg("Ignoring unreadable config")
				continue
			}
			logger.Debug().Str("file", filename).Msg("Config reloaded")
			onChange(config)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}
