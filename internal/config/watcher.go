// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// ReloadFunc receives the freshly parsed configuration after a file change.
type ReloadFunc func(*Config)

// Watcher hot-reloads the configuration file when it changes on disk.
// Parse or validation failures keep the previous configuration in effect.
type Watcher struct {
	path      string
	onReload  ReloadFunc
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewWatcher creates a watcher for the config file at path. The callback
// runs on the watcher goroutine; it must not block.
func NewWatcher(path string, onReload ReloadFunc) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching the config file's directory for changes.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	// Watch the directory rather than the file so editors that replace
	// the file via rename are still observed.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != w.path && filepath.Base(event.Name) != filepath.Base(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Infof("Config file changed (%s), reloading...", event.Name)
					time.Sleep(100 * time.Millisecond)
					cfg, err := LoadConfig(w.path)
					if err != nil {
						log.Errorf("Failed to reload config, keeping previous: %v", err)
						continue
					}
					w.onReload(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("Config watcher error: %v", err)
			case <-w.stopCh:
				return
			}
		}
	}()

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.closeOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}
