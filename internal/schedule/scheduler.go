package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prismbot/prism/internal/backoff"
	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/pkg/models"
)

// ErrQuotaExceeded rejects a new event when the user already holds the
// maximum number of pending events.
var ErrQuotaExceeded = errors.New("schedule: per-user event quota exceeded")

const defaultTickInterval = time.Second

// Handler delivers one due event. A nil error removes the event; an
// error triggers a retry up to the configured bound.
type Handler func(ctx context.Context, event Event) error

// Scheduler fires persisted events when they come due.
type Scheduler struct {
	store        *FileStore
	cfg          config.ReminderConfig
	handler      Handler
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration
	policy       backoff.Policy

	mu     sync.Mutex
	events map[string]*Event

	runMu   sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the due-check interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithBackoffPolicy overrides the delivery retry policy.
func WithBackoffPolicy(policy backoff.Policy) Option {
	return func(s *Scheduler) {
		s.policy = policy
	}
}

// New loads the persisted events and prepares the scheduler. Events
// claimed by a previous process are returned to pending; terminal and
// out-of-grace events are dropped per configuration.
func New(store *FileStore, cfg config.ReminderConfig, handler Handler, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("schedule: store is required")
	}
	if handler == nil {
		return nil, errors.New("schedule: handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		cfg:          cfg,
		handler:      handler,
		logger:       logger.With("component", "schedule"),
		now:          time.Now,
		tickInterval: defaultTickInterval,
		policy:       backoff.Quick(),
		events:       make(map[string]*Event),
	}
	for _, opt := range opts {
		opt(s)
	}

	loaded, err := store.Load()
	if err != nil {
		return nil, err
	}
	s.adopt(loaded)
	return s, nil
}

// adopt filters the persisted events into the live set.
func (s *Scheduler) adopt(loaded []Event) {
	now := s.now()
	grace := s.cfg.GracePeriod.Duration()
	cleanup := s.cfg.CleanupEnabled()

	kept := 0
	for _, ev := range loaded {
		switch ev.Status {
		case StatusFiring:
			// The previous process died mid-delivery; try again.
			ev.Status = StatusPending
		case StatusFailed:
			if cleanup {
				s.logger.Info("dropping failed event at load", "id", ev.ID)
				continue
			}
		}
		if ev.Status == StatusPending && grace > 0 && now.Sub(ev.FireAt) > grace {
			s.logger.Info("dropping event past grace period",
				"id", ev.ID, "fire_at", ev.FireAt, "grace", grace)
			continue
		}
		copied := ev
		s.events[ev.ID] = &copied
		kept++
	}
	if kept != len(loaded) {
		s.persistLocked()
	}
	s.logger.Info("events loaded", "kept", kept, "discarded", len(loaded)-kept)
}

// Schedule persists a new event from a reminder side effect.
func (s *Scheduler) Schedule(details models.ReminderDetails) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if max := s.cfg.MaxRemindersPerUser; max > 0 {
		pending := 0
		for _, ev := range s.events {
			if ev.UserRef == details.UserRef && ev.Status != StatusFailed {
				pending++
			}
		}
		if pending >= max {
			return Event{}, fmt.Errorf("%w: user %s already has %d", ErrQuotaExceeded, details.UserRef, pending)
		}
	}

	created := details.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	event := Event{
		ID:         uuid.NewString(),
		Kind:       KindReminder,
		Content:    details.Content,
		FireAt:     details.FireAt.UTC(),
		ChannelRef: details.ChannelRef,
		UserRef:    details.UserRef,
		CreatedAt:  created.UTC(),
		Status:     StatusPending,
	}
	s.events[event.ID] = &event
	if err := s.persistLocked(); err != nil {
		delete(s.events, event.ID)
		return Event{}, err
	}
	s.logger.Info("event scheduled", "id", event.ID, "fire_at", event.FireAt, "user", event.UserRef)
	return event, nil
}

// Cancel removes a pending event. It reports whether anything was
// removed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || ev.Status == StatusFiring {
		return false
	}
	delete(s.events, id)
	if err := s.persistLocked(); err != nil {
		s.logger.Error("persist after cancel failed", "id", id, "error", err)
	}
	return true
}

// Pending lists a user's live events ordered by fire time. An empty
// userRef lists everything.
func (s *Scheduler) Pending(userRef string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Status == StatusFailed {
			continue
		}
		if userRef != "" && ev.UserRef != userRef {
			continue
		}
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Start launches the due-check loop. It is a no-op when already
// running or when the feature is disabled.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.started || !s.cfg.IsEnabled() {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.fireDue(runCtx)
			}
		}
	}()
	s.logger.Info("scheduler started", "tick", s.tickInterval)
}

// Stop halts the loop and waits for in-flight deliveries.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.started {
		s.runMu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.runMu.Unlock()
	s.wg.Wait()
}

// fireDue claims every due pending event and dispatches each in its
// own goroutine.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []Event
	for _, ev := range s.events {
		if ev.Status == StatusPending && !ev.FireAt.After(now) {
			ev.Status = StatusFiring
			due = append(due, *ev)
		}
	}
	if len(due) > 0 {
		if err := s.persistLocked(); err != nil {
			s.logger.Error("persist firing marks failed", "error", err)
		}
	}
	s.mu.Unlock()

	for _, ev := range due {
		ev := ev
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deliver(ctx, ev)
		}()
	}
}

// deliver invokes the handler with retries and settles the event.
func (s *Scheduler) deliver(ctx context.Context, event Event) {
	attempts := s.cfg.MaxRetries + 1
	_, err := backoff.Retry(ctx, s.policy, attempts, nil,
		func(ctx context.Context, attempt int) (struct{}, error) {
			return struct{}{}, s.handler(ctx, event)
		})

	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.events[event.ID]
	if !ok {
		return
	}
	if err != nil {
		live.Status = StatusFailed
		live.Attempts = attempts
		live.LastError = err.Error()
		s.logger.Error("event delivery failed", "id", event.ID, "attempts", attempts, "error", err)
	} else {
		delete(s.events, event.ID)
		s.logger.Info("event delivered", "id", event.ID)
	}
	if err := s.persistLocked(); err != nil {
		s.logger.Error("persist after delivery failed", "id", event.ID, "error", err)
	}
}

// persistLocked snapshots the live set to disk. Callers hold s.mu.
func (s *Scheduler) persistLocked() error {
	events := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, *ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].FireAt.Before(events[j].FireAt) })
	return s.store.Save(events)
}
