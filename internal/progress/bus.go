package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prismbot/prism/pkg/models"
)

const (
	// emitBuffer absorbs producer bursts while the dispatcher routes.
	emitBuffer = 64

	// observerQueueDepth bounds each observer's backlog. When a queue
	// is full the oldest plain stage tick is evicted; chunks, stream
	// completion, and terminal outcomes are never discarded.
	observerQueueDepth = 32
)

// BlurbFunc generates a short in-character status line for a stage.
type BlurbFunc func(ctx context.Context, stage models.ProgressStage) (string, error)

type envelopeKind int

const (
	kindProgress envelopeKind = iota
	kindChunk
	kindStreamDone
	kindCompletion
	kindError
)

func (k envelopeKind) String() string {
	switch k {
	case kindProgress:
		return "progress"
	case kindChunk:
		return "streaming_chunk"
	case kindStreamDone:
		return "streaming_complete"
	case kindCompletion:
		return "completion"
	case kindError:
		return "error"
	}
	return "unknown"
}

// envelope is one routed bus item. Exactly one payload field is set,
// selected by kind.
type envelope struct {
	kind    envelopeKind
	event   models.ProgressEvent
	chunk   models.StreamingChunk
	final   string
	sources []models.Source
	err     error
}

// droppable reports whether a full queue may discard this envelope.
func (e envelope) droppable() bool {
	return e.kind == kindProgress && !e.event.Critical()
}

// Bus is the per-invocation progress fanout. Producers publish from
// any goroutine; a single dispatcher routes into per-observer queues
// drained by one goroutine each, so per-observer order matches emit
// order and a stalled observer never blocks the rest.
type Bus struct {
	mu       sync.Mutex
	subs     []*subscription
	emit     chan envelope
	started  bool
	closed   bool
	terminal bool

	wg     sync.WaitGroup
	logger *slog.Logger
	blurb  BlurbFunc
	now    func() time.Time
}

// BusOption customizes a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used for drop and observer failures.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBlurber enables model-generated stage messages for observers
// that opted in.
func WithBlurber(fn BlurbFunc) BusOption {
	return func(b *Bus) { b.blurb = fn }
}

// NewBus creates an idle bus. Register observers, then Start.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		emit:   make(chan envelope, emitBuffer),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "progress")
	return b
}

// Register adds an observer. Registrations after Start are ignored.
func (b *Bus) Register(obs Observer, cfg ObserverConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		b.logger.Warn("progress observer registered after start, ignoring", "observer", cfg.Name)
		return
	}
	b.subs = append(b.subs, &subscription{
		obs:  obs,
		cfg:  cfg,
		co:   newCoalescer(cfg, b.now),
		wake: make(chan struct{}, 1),
	})
}

// Observers reports how many observers are registered.
func (b *Bus) Observers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Start launches the dispatcher and one delivery goroutine per
// observer. Observer callbacks receive ctx.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	b.wg.Add(1)
	go b.dispatch(ctx)
	for _, s := range b.subs {
		b.wg.Add(1)
		go b.runObserver(ctx, s)
	}
}

// Publish emits a stage event. A zero timestamp is stamped with the
// current time.
func (b *Bus) Publish(event models.ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	b.send(envelope{kind: kindProgress, event: event})
}

// PublishChunk emits an incremental piece of the final answer.
func (b *Bus) PublishChunk(chunk models.StreamingChunk) {
	b.send(envelope{kind: kindChunk, chunk: chunk})
}

// PublishStreamingComplete marks the end of answer streaming. Pending
// coalesced content flushes ahead of the completion signal.
func (b *Bus) PublishStreamingComplete() {
	b.send(envelope{kind: kindStreamDone})
}

// PublishCompletion delivers the final answer. Only the first terminal
// publish wins; later completions and errors are discarded.
func (b *Bus) PublishCompletion(finalText string, sources []models.Source) {
	b.sendTerminal(envelope{kind: kindCompletion, final: finalText, sources: sources})
}

// PublishError delivers an unrecoverable failure. Only the first
// terminal publish wins; later completions and errors are discarded.
func (b *Bus) PublishError(err error) {
	b.sendTerminal(envelope{kind: kindError, err: err})
}

// Close stops intake, drains every queue, and joins all goroutines.
// Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if !b.started {
		b.mu.Unlock()
		return
	}
	close(b.emit)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) send(env envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.closed || b.terminal {
		return
	}
	b.emit <- env
}

func (b *Bus) sendTerminal(env envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.closed || b.terminal {
		return
	}
	b.terminal = true
	b.emit <- env
}

// dispatch drains the emit channel and routes each envelope. When the
// channel closes it flushes leftover coalesced content and closes the
// observer queues so workers drain and exit.
func (b *Bus) dispatch(ctx context.Context) {
	defer b.wg.Done()
	for env := range b.emit {
		b.route(ctx, env)
	}
	for _, s := range b.subs {
		if chunk, ok := s.co.drain(); ok {
			b.push(s, envelope{kind: kindChunk, chunk: chunk})
		}
		s.close()
	}
}

func (b *Bus) route(ctx context.Context, env envelope) {
	switch env.kind {
	case kindProgress:
		b.routeProgress(ctx, env)
	case kindChunk:
		for _, s := range b.subs {
			for _, flushed := range s.co.add(env.chunk) {
				b.push(s, envelope{kind: kindChunk, chunk: flushed})
			}
		}
	case kindStreamDone, kindCompletion, kindError:
		for _, s := range b.subs {
			if chunk, ok := s.co.drain(); ok {
				b.push(s, envelope{kind: kindChunk, chunk: chunk})
			}
			b.push(s, env)
		}
	}
}

// routeProgress fills empty stage messages before fanout: observers
// that opted into auto-generation share one blurb call per event, the
// rest get their stage template. High-frequency stages stay empty.
func (b *Bus) routeProgress(ctx context.Context, env envelope) {
	blurb := ""
	if env.event.Message == "" && blurbEligible(env.event.Stage) && b.blurb != nil {
		for _, s := range b.subs {
			if s.cfg.AutoGenerate {
				blurb = b.generateBlurb(ctx, env.event.Stage)
				break
			}
		}
	}
	for _, s := range b.subs {
		ev := env.event
		if ev.Message == "" && blurbEligible(ev.Stage) {
			if s.cfg.AutoGenerate && blurb != "" {
				ev.Message = blurb
			} else {
				ev.Message = s.cfg.template(ev.Stage)
			}
		}
		b.push(s, envelope{kind: kindProgress, event: ev})
	}
}

func (b *Bus) generateBlurb(ctx context.Context, stage models.ProgressStage) string {
	text, err := b.blurb(ctx, stage)
	if err != nil {
		b.logger.Debug("progress blurb generation failed", "stage", stage, "error", err)
		return ""
	}
	return text
}

// blurbEligible excludes the stages that fire too often to narrate.
func blurbEligible(stage models.ProgressStage) bool {
	return stage != models.StageToolStatus && stage != models.StageStreaming
}

func (b *Bus) push(s *subscription, env envelope) {
	if s.push(env, observerQueueDepth) {
		b.logger.Debug("progress queue full, dropped stage tick", "observer", s.cfg.Name)
	}
}

func (b *Bus) runObserver(ctx context.Context, s *subscription) {
	defer b.wg.Done()
	for {
		env, ok, done := s.pop()
		if done {
			return
		}
		if !ok {
			<-s.wake
			continue
		}
		b.deliver(ctx, s, env)
	}
}

func (b *Bus) deliver(ctx context.Context, s *subscription, env envelope) {
	var err error
	switch env.kind {
	case kindProgress:
		err = s.obs.OnProgress(ctx, env.event)
	case kindChunk:
		err = s.obs.OnStreamingChunk(ctx, env.chunk)
	case kindStreamDone:
		err = s.obs.OnStreamingComplete(ctx)
	case kindCompletion:
		err = s.obs.OnCompletion(ctx, env.final, env.sources)
	case kindError:
		err = s.obs.OnError(ctx, env.err)
	}
	if err != nil {
		b.logger.Warn("progress observer failed",
			"observer", s.cfg.Name, "kind", env.kind.String(), "error", err)
	}
}

// subscription pairs an observer with its bounded queue. The queue is
// pushed by the dispatcher and popped by the observer's worker.
type subscription struct {
	obs Observer
	cfg ObserverConfig
	co  *coalescer

	mu     sync.Mutex
	queue  []envelope
	wake   chan struct{}
	closed bool
}

// push appends an envelope, evicting the oldest droppable entry when
// the queue is full. A droppable envelope arriving at a queue full of
// protected entries is itself discarded. Reports whether anything was
// discarded.
func (s *subscription) push(env envelope, depth int) bool {
	dropped := false
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= depth {
		if i := oldestDroppable(s.queue); i >= 0 {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			dropped = true
		} else if env.droppable() {
			s.mu.Unlock()
			return true
		}
	}
	s.queue = append(s.queue, env)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return dropped
}

// pop returns the next envelope. done is set once the queue is empty
// and closed.
func (s *subscription) pop() (env envelope, ok, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		env = s.queue[0]
		s.queue = s.queue[1:]
		return env, true, false
	}
	if s.closed {
		return envelope{}, false, true
	}
	return envelope{}, false, false
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func oldestDroppable(queue []envelope) int {
	for i, env := range queue {
		if env.droppable() {
			return i
		}
	}
	return -1
}
