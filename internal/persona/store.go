// Package persona loads system-prompt personas from a directory and
// selects one per agent invocation.
package persona

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses bursts of file events into one rescan.
const reloadDebounce = 200 * time.Millisecond

// Persona is one named system-prompt fragment.
type Persona struct {
	Name string
	Text string
}

// Store caches the persona files of one directory. A persona's name is
// its filename without the extension; only .txt and .md files count.
type Store struct {
	dir         string
	defaultName string
	random      bool
	enabled     bool
	logger      *slog.Logger

	mu       sync.RWMutex
	personas map[string]string

	rand *rand.Rand

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// Config selects the persona directory and pick behavior.
type Config struct {
	Directory       string
	DefaultPersona  string
	RandomSelection bool
	Enabled         bool
}

// Option customizes a Store.
type Option func(*Store)

// WithRand fixes the random source for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) {
		if r != nil {
			s.rand = r
		}
	}
}

// NewStore loads the directory once. A missing directory is not an
// error; the store just has no personas and Pick falls back to empty.
func NewStore(cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:         cfg.Directory,
		defaultName: cfg.DefaultPersona,
		random:      cfg.RandomSelection,
		enabled:     cfg.Enabled,
		logger:      logger.With("component", "persona"),
		personas:    make(map[string]string),
		//nolint:gosec // persona choice is not security sensitive
		rand: rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload rescans the directory and swaps the cache wholesale.
func (s *Store) reload() error {
	loaded := make(map[string]string)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.personas = loaded
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read persona directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("persona file skipped", "file", entry.Name(), "error", err)
			continue
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		loaded[name] = text
	}

	s.mu.Lock()
	s.personas = loaded
	s.mu.Unlock()

	s.logger.Debug("personas loaded", "count", len(loaded), "dir", s.dir)
	return nil
}

// Names lists the loaded personas, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.personas))
	for name := range s.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the text of a named persona.
func (s *Store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.personas[name]
	return text, ok
}

// Pick chooses the persona for a new invocation: a random one when
// random selection is on, else the default. Disabled stores and empty
// directories yield an empty persona.
func (s *Store) Pick() Persona {
	if !s.enabled {
		return Persona{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.personas) == 0 {
		return Persona{}
	}

	if s.random {
		names := make([]string, 0, len(s.personas))
		for name := range s.personas {
			names = append(names, name)
		}
		sort.Strings(names)
		name := names[s.rand.Intn(len(names))]
		return Persona{Name: name, Text: s.personas[name]}
	}

	if text, ok := s.personas[s.defaultName]; ok {
		return Persona{Name: s.defaultName, Text: text}
	}
	return Persona{}
}

// Watch reloads the store when persona files change, until the
// context is cancelled. Events are debounced so editors that write in
// several steps trigger one rescan.
func (s *Store) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create persona watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch persona directory: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.watchCancel = cancel

	s.watchWg.Add(1)
	go func() {
		defer s.watchWg.Done()
		defer watcher.Close()

		var timer *time.Timer
		var pending <-chan time.Time
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
					pending = timer.C
				} else {
					timer.Reset(reloadDebounce)
				}
			case <-pending:
				timer = nil
				pending = nil
				if err := s.reload(); err != nil {
					s.logger.Warn("persona reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("persona watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if one is running.
func (s *Store) Close() {
	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
		s.watcher = nil
	}
	s.watchMu.Unlock()
	s.watchWg.Wait()
}
