// Package schedule persists and fires time-based events such as user
// reminders. Events survive restarts through a versioned JSON file and
// fire at most once.
package schedule

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// storeVersion is the on-disk format version. Unknown versions are
// refused rather than guessed at.
const storeVersion = 1

// Status tracks an event through its lifecycle.
type Status string

const (
	// StatusPending means the event waits for its fire time.
	StatusPending Status = "pending"
	// StatusFiring marks an event claimed by the dispatch loop, so a
	// crash mid-delivery never fires it twice.
	StatusFiring Status = "firing"
	// StatusFailed means delivery exhausted its retries.
	StatusFailed Status = "failed"
)

// KindReminder is the only event kind currently scheduled. The field
// exists so new kinds can be added without a format version bump:
// loaders skip kinds they do not know.
const KindReminder = "reminder"

// Event is one scheduled firing.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Content    string    `json:"content"`
	FireAt     time.Time `json:"fire_at"`
	ChannelRef string    `json:"channel_ref"`
	UserRef    string    `json:"user_ref"`
	CreatedAt  time.Time `json:"created_at"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

type storeFile struct {
	Version int     `json:"version"`
	Events  []Event `json:"events"`
}

// FileStore reads and writes the event file. Writes go through a
// temporary file and a rename so a crash never leaves a torn file.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store at path, creating parent directories on
// first save.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger.With("component", "schedule.store")}
}

// Load reads all persisted events. A missing file yields an empty
// slice; a corrupt file is set aside and treated as empty so one bad
// write cannot wedge the scheduler forever.
func (s *FileStore) Load() ([]Event, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read event store: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.quarantine(err)
		return nil, nil
	}
	if file.Version != storeVersion {
		s.quarantine(fmt.Errorf("unsupported store version %d", file.Version))
		return nil, nil
	}

	events := file.Events[:0]
	for _, ev := range file.Events {
		if ev.Kind == "" {
			// Files written before the kind field carried reminders only.
			ev.Kind = KindReminder
		}
		if ev.Kind != KindReminder {
			s.logger.Warn("skipping event of unknown kind", "id", ev.ID, "kind", ev.Kind)
			continue
		}
		if ev.ID == "" || ev.FireAt.IsZero() || ev.ChannelRef == "" {
			s.logger.Warn("skipping event with missing required fields", "id", ev.ID)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Save writes the full event set atomically.
func (s *FileStore) Save(events []Event) error {
	if events == nil {
		events = []Event{}
	}
	data, err := json.MarshalIndent(storeFile{Version: storeVersion, Events: events}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode event store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create event store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp event store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write event store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close event store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace event store: %w", err)
	}
	return nil
}

// quarantine moves a bad store file out of the way with a warning.
func (s *FileStore) quarantine(cause error) {
	backup := s.path + ".corrupt"
	if err := os.Rename(s.path, backup); err != nil {
		s.logger.Error("event store unreadable and could not be set aside",
			"path", s.path, "cause", cause, "error", err)
		return
	}
	s.logger.Warn("event store unreadable, set aside and starting empty",
		"path", s.path, "backup", backup, "cause", cause)
}
