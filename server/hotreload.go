package server

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// EnableHotReload watches the config file at path and swaps the active
// configuration whenever it changes. A file that fails to load keeps the
// previous configuration. Calling it again replaces the earlier watch.
func (s *Server) EnableHotReload(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	// editors replace files by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	s.watchMu.Lock()
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	s.watcher = watcher
	s.watchMu.Unlock()

	go s.watchConfig(watcher, abs)

	s.log.Infof("[config] hot reload enabled for %s", abs)
	return nil
}

func (s *Server) watchConfig(watcher *fsnotify.Watcher, path string) {
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			s.reload(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warnf("[config] watcher error: %v", err)
		}
	}
}

func (s *Server) reload(path string) {
	cfg, err := LoadConfig(path, s.log)
	if err != nil {
		s.log.Warnf("[config] reload failed, keeping previous config: %v", err)
		return
	}
	if err := s.SetConfig(cfg); err != nil {
		s.log.Warnf("[config] reload failed, keeping previous config: %v", err)
		return
	}
	s.log.Infof("[config] reloaded %s", path)
}
