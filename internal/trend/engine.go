// Package trend makes the bot join obvious channel momentum: piling
// onto popular reactions, echoing repeated content, and answering
// emoji chains with an emoji of its own. It runs beside the agent
// graph on its own event stream.
package trend

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/prismbot/prism/internal/config"
)

// lockTimeout bounds the wait for a channel's trend lock; a busy
// channel is skipped rather than queued.
const lockTimeout = 100 * time.Millisecond

// fallbackEmojis answer an emoji trend when no generator is wired or
// the generated reply carries no usable emoji.
var fallbackEmojis = []string{
	"😄", "👍", "❤️", "😊", "🎉", "😂", "🔥", "💯",
	"👌", "😍", "🤔", "😅", "🙌", "💪", "🚀", "✨",
}

// activity distinguishes the message-based trend kinds sharing the
// message lock.
type activity int

const (
	activityContent activity = iota
	activityEmoji
)

// Snapshot is one cached channel message as the session layer saw it.
type Snapshot struct {
	Kind       string // informational; identity derives from the fields below
	Text       string
	StickerID  string
	AuthorName string
	FromBot    bool
}

// MessageEvent offers a new channel message to the engine. History is
// the channel cache oldest-first, excluding Current.
type MessageEvent struct {
	ChannelID string
	GuildID   string
	Current   Snapshot
	History   []Snapshot
}

// ReactionEvent offers a reaction-count change to the engine.
type ReactionEvent struct {
	ChannelID string
	MessageID string
	// Emoji is the reaction in send form (Unicode or custom token).
	Emoji string
	// Count is the reaction's total after this event.
	Count int
	// ActorIsBot suppresses self-triggering.
	ActorIsBot bool
	// BotAlreadyReacted suppresses double piling-on.
	BotAlreadyReacted bool
}

// Emitter performs the transport sends the engine decides on.
type Emitter interface {
	SendText(ctx context.Context, channelID, text string) error
	SendSticker(ctx context.Context, channelID, stickerID string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
}

// Generator produces the reply for an emoji trend. A nil generator
// falls back to a fixed emoji list.
type Generator interface {
	EmojiReply(ctx context.Context, guildID string, conversation []string) (string, error)
}

// Engine evaluates trend events and emits follows.
type Engine struct {
	cfg       config.TrendConfig
	emitter   Emitter
	generator Generator
	logger    *slog.Logger

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64

	mu            sync.Mutex
	cooldowns     map[string]time.Time
	messageLocks  map[string]chan struct{}
	reactionLocks map[string]chan struct{}
	pendingMsg    map[string]map[activity]bool
	pendingReact  map[string]bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNow overrides the cooldown clock for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRand fixes the probability and delay randomness.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		if r != nil {
			e.randFloat = r.Float64
		}
	}
}

// WithSleep overrides the delay sleeper for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New creates an Engine. generator may be nil.
func New(cfg config.TrendConfig, emitter Emitter, generator Generator, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:       cfg,
		emitter:   emitter,
		generator: generator,
		logger:    logger.With("component", "trend"),
		now:       time.Now,
		randFloat: rand.Float64, // #nosec G404 -- trend chance is not security sensitive
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
		cooldowns:     make(map[string]time.Time),
		messageLocks:  make(map[string]chan struct{}),
		reactionLocks: make(map[string]chan struct{}),
		pendingMsg:    make(map[string]map[activity]bool),
		pendingReact:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage offers a message event and reports whether the engine
// claimed it (content trend beats emoji trend).
func (e *Engine) HandleMessage(ctx context.Context, ev MessageEvent) bool {
	if !e.active(ev.ChannelID) || ev.Current.FromBot {
		return false
	}

	lock := e.lockFor(e.messageLocks, ev.ChannelID)
	if !tryAcquire(ctx, lock) {
		e.logger.Debug("message trend skipped, channel busy", "channel", ev.ChannelID)
		return false
	}
	defer func() { <-lock }()

	// Another decision may have emitted while this one waited for the
	// lock; the cooldown gate has to hold after the wait too.
	if e.coolingDown(ev.ChannelID) {
		return false
	}

	if e.hasPendingMessage(ev.ChannelID) {
		return false
	}

	if e.tryContentTrend(ctx, ev) {
		return true
	}
	return e.tryEmojiTrend(ctx, ev)
}

// HandleReaction offers a reaction event. Reaction trends run on their
// own lock so they never wait on message trends.
func (e *Engine) HandleReaction(ctx context.Context, ev ReactionEvent) bool {
	if !e.active(ev.ChannelID) || ev.ActorIsBot || ev.BotAlreadyReacted {
		return false
	}

	lock := e.lockFor(e.reactionLocks, ev.ChannelID)
	if !tryAcquire(ctx, lock) {
		e.logger.Debug("reaction trend skipped, channel busy", "channel", ev.ChannelID)
		return false
	}
	defer func() { <-lock }()

	if e.coolingDown(ev.ChannelID) {
		return false
	}

	e.mu.Lock()
	pending := e.pendingReact[ev.ChannelID]
	e.mu.Unlock()
	if pending {
		return false
	}

	if !e.shouldFollow(ev.Count, e.cfg.ReactionThreshold) {
		return false
	}

	e.setPendingReaction(ev.ChannelID, true)
	defer e.setPendingReaction(ev.ChannelID, false)

	if e.cfg.RandomDelayEnabled() {
		if err := e.sleep(ctx, e.reactionDelay()); err != nil {
			return false
		}
	}
	release, ok := e.claimCooldown(ev.ChannelID)
	if !ok {
		return false
	}
	if err := e.emitter.React(ctx, ev.ChannelID, ev.MessageID, ev.Emoji); err != nil {
		release()
		e.logger.Warn("reaction follow failed", "channel", ev.ChannelID, "error", err)
		return false
	}
	e.logger.Info("reaction trend followed", "channel", ev.ChannelID, "emoji", ev.Emoji)
	return true
}

// tryContentTrend repeats a run of identical messages.
func (e *Engine) tryContentTrend(ctx context.Context, ev MessageEvent) bool {
	target := identityOf(ev.Current)
	if target.zero() {
		return false
	}

	count, botInStreak := streak(ev.History, func(s Snapshot) bool {
		return identityOf(s) == target
	})
	if botInStreak {
		e.logger.Debug("content trend suppressed, already participated", "channel", ev.ChannelID)
		return false
	}
	if !e.shouldFollow(count+1, e.cfg.ContentThreshold) {
		return false
	}

	e.setPendingMessage(ev.ChannelID, activityContent, true)
	defer e.setPendingMessage(ev.ChannelID, activityContent, false)

	if e.cfg.RandomDelayEnabled() {
		if err := e.sleep(ctx, e.messageDelay()); err != nil {
			return false
		}
	}

	release, ok := e.claimCooldown(ev.ChannelID)
	if !ok {
		return false
	}
	var err error
	if target.sticker != "" {
		err = e.emitter.SendSticker(ctx, ev.ChannelID, target.sticker)
	} else {
		err = e.emitter.SendText(ctx, ev.ChannelID, target.text)
	}
	if err != nil {
		release()
		e.logger.Warn("content follow failed", "channel", ev.ChannelID, "error", err)
		return false
	}
	e.logger.Info("content trend followed", "channel", ev.ChannelID)
	return true
}

// tryEmojiTrend answers a run of emoji-only messages with a generated
// emoji. The reply is produced before the delay so the wait stays
// uniform.
func (e *Engine) tryEmojiTrend(ctx context.Context, ev MessageEvent) bool {
	if ev.Current.StickerID != "" || !isEmojiOnly(ev.Current.Text) {
		return false
	}

	count, botInStreak := streak(ev.History, func(s Snapshot) bool {
		return s.StickerID == "" && isEmojiOnly(s.Text)
	})
	if botInStreak {
		e.logger.Debug("emoji trend suppressed, already participated", "channel", ev.ChannelID)
		return false
	}
	if !e.shouldFollow(count+1, e.cfg.EmojiThreshold) {
		return false
	}

	e.setPendingMessage(ev.ChannelID, activityEmoji, true)
	defer e.setPendingMessage(ev.ChannelID, activityEmoji, false)

	reply := e.generateEmoji(ctx, ev)

	if e.cfg.RandomDelayEnabled() {
		if err := e.sleep(ctx, e.messageDelay()); err != nil {
			return false
		}
	}
	release, ok := e.claimCooldown(ev.ChannelID)
	if !ok {
		return false
	}
	if err := e.emitter.SendText(ctx, ev.ChannelID, reply); err != nil {
		release()
		e.logger.Warn("emoji follow failed", "channel", ev.ChannelID, "error", err)
		return false
	}
	e.logger.Info("emoji trend followed", "channel", ev.ChannelID, "emoji", reply)
	return true
}

// generateEmoji asks the generator for a reply and validates that it
// actually contains an emoji, falling back to the fixed list.
func (e *Engine) generateEmoji(ctx context.Context, ev MessageEvent) string {
	fallback := fallbackEmojis[int(e.randFloat()*float64(len(fallbackEmojis)))%len(fallbackEmojis)]
	if e.generator == nil {
		return fallback
	}

	conversation := conversationContext(ev.History, 5)
	reply, err := e.generator.EmojiReply(ctx, ev.GuildID, conversation)
	if err != nil {
		e.logger.Warn("emoji generation failed, using fallback", "error", err)
		return fallback
	}
	if match := firstEmoji(reply); match != "" {
		return match
	}
	return fallback
}

// conversationContext renders the newest text messages as prompt
// lines, author-prefixed for human messages.
func conversationContext(history []Snapshot, limit int) []string {
	var lines []string
	for i := len(history) - 1; i >= 0 && len(lines) < limit; i-- {
		s := history[i]
		if s.Text == "" || s.StickerID != "" {
			continue
		}
		line := s.Text
		if !s.FromBot && s.AuthorName != "" {
			line = s.AuthorName + ": " + line
		}
		lines = append(lines, line)
	}
	// Reverse back to chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// active checks the channel gate and cooldown.
func (e *Engine) active(channelID string) bool {
	if !e.cfg.Enabled || !e.cfg.ChannelAllowed(channelID) {
		return false
	}
	return !e.coolingDown(channelID)
}

func (e *Engine) cooldown() time.Duration {
	return time.Duration(e.cfg.CooldownSeconds) * time.Second
}

func (e *Engine) coolingDown(channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.cooldowns[channelID]
	return ok && e.now().Sub(last) < e.cooldown()
}

// claimCooldown re-checks the window under the lock and, when clear,
// claims it so no concurrent decision can emit inside it. release
// restores the previous state when the send fails after the claim.
func (e *Engine) claimCooldown(channelID string) (release func(), ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, had := e.cooldowns[channelID]
	if had && e.now().Sub(prev) < e.cooldown() {
		return nil, false
	}
	e.cooldowns[channelID] = e.now()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if had {
			e.cooldowns[channelID] = prev
			return
		}
		delete(e.cooldowns, channelID)
	}, true
}

// shouldFollow is the probability gate:
// p = min(max, base + excess·boost), rolled once.
func (e *Engine) shouldFollow(count, threshold int) bool {
	if !e.cfg.ProbabilisticEnabled() {
		return count >= threshold
	}
	if count < threshold {
		return false
	}
	p := e.cfg.BaseProbability + float64(count-threshold)*e.cfg.ProbabilityBoostFactor
	if p > e.cfg.MaxProbability {
		p = e.cfg.MaxProbability
	}
	return e.randFloat() < p
}

// messageDelay is uniform over [min_delay, max_delay].
func (e *Engine) messageDelay() time.Duration {
	min := e.cfg.MinDelay.Duration()
	max := e.cfg.MaxDelay.Duration()
	if max <= min {
		return min
	}
	return min + time.Duration(e.randFloat()*float64(max-min))
}

// reactionDelay is shorter: uniform over [200ms, min(1s, max_delay)].
func (e *Engine) reactionDelay() time.Duration {
	lo := 200 * time.Millisecond
	hi := time.Second
	if max := e.cfg.MaxDelay.Duration(); max < hi {
		hi = max
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.randFloat()*float64(hi-lo))
}

func (e *Engine) lockFor(locks map[string]chan struct{}, channelID string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := locks[channelID]
	if !ok {
		lock = make(chan struct{}, 1)
		locks[channelID] = lock
	}
	return lock
}

// tryAcquire takes the lock within the timeout or gives up.
func tryAcquire(ctx context.Context, lock chan struct{}) bool {
	select {
	case lock <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(lockTimeout)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) hasPendingMessage(channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pendingMsg[channelID]) > 0
}

func (e *Engine) setPendingMessage(channelID string, act activity, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on {
		if e.pendingMsg[channelID] == nil {
			e.pendingMsg[channelID] = make(map[activity]bool)
		}
		e.pendingMsg[channelID][act] = true
		return
	}
	delete(e.pendingMsg[channelID], act)
	if len(e.pendingMsg[channelID]) == 0 {
		delete(e.pendingMsg, channelID)
	}
}

func (e *Engine) setPendingReaction(channelID string, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on {
		e.pendingReact[channelID] = true
		return
	}
	delete(e.pendingReact, channelID)
}
