package monitor

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
)

// ErrConfigChanged is returned by Run when the config file changes in a way
// that matters, so systemd restarts the service with the new config.
var ErrConfigChanged = errors.New("config changed")

// watchConfig compares the config from when first loaded to a new config
// each time the config file is modified. It returns ErrConfigChanged on the
// first difference.
func watchConfig(ctx context.Context, configFile string, current Config, parse func() (Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, editors and go-config replace the file.
	if err := watcher.Add(filepath.Dir(configFile)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Config watcher error: ", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(configFile) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			newConfig, err := parse()
			if err != nil {
				log.Error("Error reloading config: ", err)
				continue
			}
			diff := cmp.Diff(current, newConfig)
			log.Debug("Config diff: ", diff)
			if diff != "" {
				log.Info("Config changed. Exiting to allow systemctl to restart service.")
				return ErrConfigChanged
			}
			log.Info("No relevant changes detected in config file.")
		}
	}
}
