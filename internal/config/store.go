package config

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"termdock/internal/api"
	"termdock/internal/logging"
	"termdock/internal/pubsub"
)

// Store serves the settings document over the capability surface and pushes
// config.changed events when the document changes, whether through Set or
// through an external edit of the file.
type Store struct {
	path string
	bus  *pubsub.Publisher
	log  *zap.Logger

	mu       sync.RWMutex
	settings Settings

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore loads the settings file and returns a Store. Validation warnings
// are logged, not fatal.
func NewStore(path string, bus *pubsub.Publisher) (*Store, error) {
	settings, warnings, err := Load(path)
	if err != nil {
		return nil, err
	}
	log := logging.L().Named("config")
	for _, w := range warnings {
		log.Warn("settings warning", zap.String("warning", w))
	}
	return &Store{
		path:     path,
		bus:      bus,
		log:      log,
		settings: settings,
		done:     make(chan struct{}),
	}, nil
}

// Settings returns a copy of the current document.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Get implements api.ConfigStore.
func (s *Store) Get(ctx context.Context) (api.ConfigDocument, error) {
	s.mu.RLock()
	settings := s.settings
	s.mu.RUnlock()
	doc, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return doc, nil
}

// Set implements api.ConfigStore: validate, persist, publish.
func (s *Store) Set(ctx context.Context, doc api.ConfigDocument) error {
	next := Default()
	if err := json.Unmarshal(doc, &next); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	warnings, err := next.Validate()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		s.log.Warn("settings warning", zap.String("warning", w))
	}

	if err := Save(s.path, next); err != nil {
		return err
	}

	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()

	s.publishChanged(next)
	return nil
}

// Watch starts watching the settings file for external edits. Events are
// debounced only by fsnotify's own coalescing; a reload failure keeps the
// previous document.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch settings directory: %w", err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("settings watcher error", zap.Error(err))
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

func (s *Store) reload() {
	next, warnings, err := Load(s.path)
	if err != nil {
		s.log.Warn("settings reload failed, keeping previous", zap.Error(err))
		return
	}
	for _, w := range warnings {
		s.log.Warn("settings warning", zap.String("warning", w))
	}

	s.mu.Lock()
	same := settingsEqual(s.settings, next)
	if !same {
		s.settings = next
	}
	s.mu.Unlock()
	if same {
		return
	}

	s.log.Info("settings reloaded from disk")
	s.publishChanged(next)
}

func (s *Store) publishChanged(settings Settings) {
	doc, err := json.Marshal(settings)
	if err != nil {
		s.log.Warn("marshal changed settings", zap.Error(err))
		return
	}
	s.bus.PublishRaw(api.ChanConfigChanged, doc)
}

// Close stops the watcher.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func settingsEqual(a, b Settings) bool {
	ja, err1 := json.Marshal(a)
	jb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ja) == string(jb)
}

var _ api.ConfigStore = (*Store)(nil)
