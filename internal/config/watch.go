package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the merged HostConfig from userConfigDir/projectDir
// whenever either config.yaml changes, passing each new value to onChange
// from the watcher goroutine; cmd/beachhost forwards it to
// syncserver.Synchronizer.UpdateConfig (SPEC_FULL.md §4.14). Watch adds no
// locking around the reload itself.
//
// The returned stop function closes the underlying watcher; call it to
// release the fsnotify file descriptor.
func (m *Manager) Watch(userConfigDir, projectDir string, onChange func(*HostConfig), logger *slog.Logger) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	userPath := filepath.Join(userConfigDir, "config.yaml")
	projectPath := filepath.Join(projectDir, ".beach", "config.yaml")

	// Watch the containing directories rather than the files directly:
	// editors commonly replace a file (rename over it) rather than
	// writing in place, which an fsnotify watch on the file itself would
	// miss after the first replace.
	for _, dir := range []string{userConfigDir, filepath.Join(projectDir, ".beach")} {
		if err := watcher.Add(dir); err != nil {
			logger.Warn("config watch: failed to watch directory", "dir", dir, "error", err)
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != userPath && event.Name != projectPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := m.Load(userConfigDir, projectDir); err != nil {
					logger.Error("config watch: reload failed", "error", err)
					continue
				}
				logger.Info("config reloaded", "path", event.Name)
				onChange(m.Get())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("config watch: fsnotify error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
