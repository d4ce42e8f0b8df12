package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prismbot/prism/internal/backoff"
	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func testReminderConfig(path string) config.ReminderConfig {
	return config.ReminderConfig{
		Enabled:             boolPtr(true),
		PersistenceFile:     path,
		MaxRemindersPerUser: 5,
		MaxRetries:          3,
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	err    error
	fired  chan struct{}
}

func newRecordingHandler(err error) *recordingHandler {
	return &recordingHandler{err: err, fired: make(chan struct{}, 16)}
}

func (h *recordingHandler) handle(_ context.Context, ev Event) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	select {
	case h.fired <- struct{}{}:
	default:
	}
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func storePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "events.json")
}

func details(user string, fireAt time.Time) models.ReminderDetails {
	return models.ReminderDetails{
		Content:    "倒垃圾",
		FireAt:     fireAt,
		ChannelRef: "chan-1",
		UserRef:    user,
		CreatedAt:  fireAt.Add(-time.Hour),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := storePath(t)
	store := NewFileStore(path, nil)

	events := []Event{{
		ID:         "e1",
		Content:    "hello",
		FireAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		ChannelRef: "c",
		UserRef:    "u",
		CreatedAt:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Status:     StatusPending,
	}}
	if err := store.Save(events); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["version"]) != "1" {
		t.Errorf("version = %s, want 1", raw["version"])
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "e1" {
		t.Fatalf("Load() = %+v", loaded)
	}
	// A pre-kind file defaults to reminder on load.
	if loaded[0].Kind != KindReminder {
		t.Errorf("Kind = %q, want %q", loaded[0].Kind, KindReminder)
	}
}

func TestFileStoreSkipsUnknownKinds(t *testing.T) {
	store := NewFileStore(storePath(t), nil)

	fireAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := store.Save([]Event{
		{ID: "e1", Kind: KindReminder, Content: "keep", FireAt: fireAt, ChannelRef: "c", UserRef: "u", Status: StatusPending},
		{ID: "e2", Kind: "digest", Content: "skip", FireAt: fireAt, ChannelRef: "c", UserRef: "u", Status: StatusPending},
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "e1" {
		t.Fatalf("Load() = %+v, want only the reminder", loaded)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(storePath(t), nil)
	loaded, err := store.Load()
	if err != nil || loaded != nil {
		t.Fatalf("Load() = %v, %v; want nil, nil", loaded, err)
	}
}

func TestFileStoreCorruptFileSetAside(t *testing.T) {
	path := storePath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(path, nil)

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want tolerant empty", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("Load() = %+v, want empty", loaded)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("corrupt file not set aside: %v", err)
	}
}

func TestScheduleEnforcesQuota(t *testing.T) {
	cfg := testReminderConfig(storePath(t))
	cfg.MaxRemindersPerUser = 2
	s, err := New(NewFileStore(cfg.PersistenceFile, nil), cfg, newRecordingHandler(nil).handle, nil)
	if err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(time.Hour)
	for i := 0; i < 2; i++ {
		ev, err := s.Schedule(details("u1", future))
		if err != nil {
			t.Fatalf("Schedule(%d) error = %v", i, err)
		}
		if ev.Kind != KindReminder {
			t.Errorf("Kind = %q, want %q", ev.Kind, KindReminder)
		}
	}
	if _, err := s.Schedule(details("u1", future)); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("third Schedule() error = %v, want ErrQuotaExceeded", err)
	}
	// Other users are unaffected.
	if _, err := s.Schedule(details("u2", future)); err != nil {
		t.Fatalf("Schedule(u2) error = %v", err)
	}
}

func TestSchedulerFiresDueEvent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base

	cfg := testReminderConfig(storePath(t))
	handler := newRecordingHandler(nil)
	s, err := New(NewFileStore(cfg.PersistenceFile, nil), cfg, handler.handle, nil,
		WithNow(func() time.Time { mu.Lock(); defer mu.Unlock(); return now }),
		WithTickInterval(5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Schedule(details("u1", base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// Not yet due.
	select {
	case <-handler.fired:
		t.Fatal("event fired before its time")
	case <-time.After(30 * time.Millisecond):
	}

	mu.Lock()
	now = base.Add(2 * time.Minute)
	mu.Unlock()

	select {
	case <-handler.fired:
	case <-time.After(time.Second):
		t.Fatal("event never fired")
	}
	s.Stop()

	if got := handler.count(); got != 1 {
		t.Errorf("handler invoked %d times, want 1", got)
	}
	if remaining := s.Pending(""); len(remaining) != 0 {
		t.Errorf("Pending() = %+v, want empty after delivery", remaining)
	}
}

func TestSchedulerRetriesThenFails(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testReminderConfig(storePath(t))
	cfg.MaxRetries = 2
	handler := newRecordingHandler(errors.New("channel gone"))

	s, err := New(NewFileStore(cfg.PersistenceFile, nil), cfg, handler.handle, nil,
		WithNow(func() time.Time { return base.Add(time.Hour) }),
		WithTickInterval(5*time.Millisecond),
		WithBackoffPolicy(backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule(details("u1", base)); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s.Start(ctx)

	deadline := time.After(time.Second)
	for handler.count() < 3 {
		select {
		case <-handler.fired:
		case <-deadline:
			t.Fatalf("handler invoked %d times, want 3", handler.count())
		}
	}
	s.Stop()

	loaded, err := NewFileStore(cfg.PersistenceFile, nil).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].Status != StatusFailed {
		t.Fatalf("persisted = %+v, want one failed event", loaded)
	}
	if loaded[0].LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestNewRequeuesInterruptedFiring(t *testing.T) {
	path := storePath(t)
	store := NewFileStore(path, nil)
	fireAt := time.Now().Add(time.Hour)
	if err := store.Save([]Event{{
		ID: "e1", Content: "c", FireAt: fireAt, ChannelRef: "c1", UserRef: "u1", Status: StatusFiring,
	}}); err != nil {
		t.Fatal(err)
	}

	s, err := New(store, testReminderConfig(path), newRecordingHandler(nil).handle, nil)
	if err != nil {
		t.Fatal(err)
	}
	pending := s.Pending("u1")
	if len(pending) != 1 || pending[0].Status != StatusPending {
		t.Fatalf("Pending() = %+v, want requeued pending event", pending)
	}
}

func TestNewDropsEventsPastGrace(t *testing.T) {
	path := storePath(t)
	store := NewFileStore(path, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Save([]Event{
		{ID: "stale", FireAt: now.Add(-2 * time.Hour), ChannelRef: "c1", UserRef: "u1", Status: StatusPending},
		{ID: "fresh", FireAt: now.Add(-time.Minute), ChannelRef: "c1", UserRef: "u1", Status: StatusPending},
	}); err != nil {
		t.Fatal(err)
	}

	cfg := testReminderConfig(path)
	cfg.GracePeriod = config.Duration(time.Hour)
	s, err := New(store, cfg, newRecordingHandler(nil).handle, nil,
		WithNow(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}

	pending := s.Pending("")
	if len(pending) != 1 || pending[0].ID != "fresh" {
		t.Fatalf("Pending() = %+v, want only fresh", pending)
	}
}

func TestNewDropsFailedEventsWhenCleanupEnabled(t *testing.T) {
	path := storePath(t)
	store := NewFileStore(path, nil)
	if err := store.Save([]Event{
		{ID: "dead", FireAt: time.Now(), ChannelRef: "c1", UserRef: "u1", Status: StatusFailed},
	}); err != nil {
		t.Fatal(err)
	}

	s, err := New(store, testReminderConfig(path), newRecordingHandler(nil).handle, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pending := s.Pending(""); len(pending) != 0 {
		t.Fatalf("Pending() = %+v, want empty", pending)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Errorf("persisted = %+v, want cleanup persisted", loaded)
	}
}

func TestCancelRemovesPendingEvent(t *testing.T) {
	cfg := testReminderConfig(storePath(t))
	s, err := New(NewFileStore(cfg.PersistenceFile, nil), cfg, newRecordingHandler(nil).handle, nil)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := s.Schedule(details("u1", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if !s.Cancel(ev.ID) {
		t.Fatal("Cancel() = false, want true")
	}
	if s.Cancel(ev.ID) {
		t.Error("second Cancel() = true, want false")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	cfg := testReminderConfig(storePath(t))
	cfg.Enabled = boolPtr(false)
	handler := newRecordingHandler(nil)
	s, err := New(NewFileStore(cfg.PersistenceFile, nil), cfg, handler.handle, nil,
		WithTickInterval(5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule(details("u1", time.Now().Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if got := handler.count(); got != 0 {
		t.Errorf("handler invoked %d times with scheduler disabled", got)
	}
}
