package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// reloadDelay absorbs the burst of events editors emit for one save.
const reloadDelay = 100 * time.Millisecond

// Watch reloads configPath whenever it is written or recreated and passes
// the result to onChange, until ctx is done. The parent directory is
// watched so atomic-rename saves are seen.
func Watch(ctx context.Context, configPath string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	name := filepath.Base(configPath)

	go func() {
		defer watcher.Close()
		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(reloadDelay, func() {
					cfg, err := LoadConfig(configPath)
					if err != nil {
						log.Warnf("Config reload from %s failed: %v", configPath, err)
						return
					}
					log.Debugf("Config %s changed, reloading", configPath)
					onChange(cfg)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("Config watcher error: %v", err)
			}
		}
	}()

	log.Debugf("Watching %s for changes", configPath)
	return nil
}
