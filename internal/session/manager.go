// Package session glues the transport to the agent core: permission
// gating, trend offers, input collection, graph invocation, reminder
// scheduling, and the per-channel message cache.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prismbot/prism/internal/collect"
	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/internal/graph"
	"github.com/prismbot/prism/internal/llm"
	"github.com/prismbot/prism/internal/progress"
	"github.com/prismbot/prism/internal/schedule"
	"github.com/prismbot/prism/internal/trend"
	"github.com/prismbot/prism/pkg/models"
)

// User-visible notices. The maintenance text yields to the configured
// message when one is set.
const (
	defaultMaintenanceNotice = "維護中..."
	dmRejectedNotice         = "目前不開放私訊對話喔。"
	inputTooLargeNotice      = "抱歉，這次的內容太長了，沒辦法一次處理完，請拆成小一點的訊息再試試。"
	reminderQuotaNotice      = "提醒數量已經達到上限了，請先取消一些舊的提醒再試。"
)

// reminderPromptPrefix synthesizes the user prompt when a scheduled
// reminder fires.
const reminderPromptPrefix = "提醒："

// Responder sends plain text outside the progress observer path, for
// gate rejections and quota notices.
type Responder interface {
	SendText(ctx context.Context, channelRef, text string) error
}

// MetricsRecorder receives message counts and invocation outcomes.
type MetricsRecorder interface {
	RecordMessage(kind string)
	RecordInvocation(outcome string, elapsed time.Duration)
}

// ObserverRegistration pairs an observer with its bus delivery tuning.
type ObserverRegistration struct {
	Observer progress.Observer
	Config   progress.ObserverConfig
}

// ObserverFactory builds the observers of one invocation. The request
// carries the origin message metadata transports thread replies on;
// reminder re-entries carry a synthesized request without one.
type ObserverFactory func(req *Request) []ObserverRegistration

// Request is one inbound transport event offered to the manager.
type Request struct {
	ChannelRef string
	UserRef    string
	GuildID    string

	// IsDM marks direct messages for the DM gate.
	IsDM bool

	// RoleRefs are the author's role ids, for role gates. Empty in DMs.
	RoleRefs []string

	// Invocation marks messages addressed to the assistant. Other
	// messages only feed the channel cache and trend following.
	Invocation bool

	// Message is the triggering message, meta populated.
	Message models.Message

	Attachments []collect.Attachment

	// StickerID feeds content-trend identity for sticker messages.
	StickerID string
}

func (r *Request) snapshot() trend.Snapshot {
	return trend.Snapshot{
		Text:       r.Message.Text(),
		StickerID:  r.StickerID,
		AuthorName: r.Message.Meta.AuthorName,
		FromBot:    r.Message.Meta.FromBot,
	}
}

// Deps are the collaborators a Manager drives. Collector and Engine
// are required; Scheduler, Trend, Gateway, and Responder degrade to
// no-ops when nil.
type Deps struct {
	Collector *collect.Collector
	Engine    *graph.Engine
	Scheduler *schedule.Scheduler
	Trend     *trend.Engine
	Gateway   *llm.Gateway
	Responder Responder
	Observers ObserverFactory
	Metrics   MetricsRecorder
	Logger    *slog.Logger
}

// Config is the slice of the application configuration the manager
// consumes.
type Config struct {
	Permissions config.PermissionsConfig
	Maintenance config.MaintenanceConfig
	Trend       config.TrendConfig
}

// Manager routes transport events into the agent core.
type Manager struct {
	deps   Deps
	cfg    Config
	cache  *messageCache
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithNow fixes the clock for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a manager.
func New(deps Deps, cfg Config, opts ...Option) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	m := &Manager{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With("component", "session"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = newMessageCache(cfg.Trend.MessageHistoryLimit, m.now)
	return m
}

// HandleMessage processes one inbound message: cache it, gate it,
// offer it to trend following, and run the agent when it is an
// invocation the gate admits.
func (m *Manager) HandleMessage(ctx context.Context, req *Request) error {
	history := m.cache.Snapshots(req.ChannelRef)
	m.cache.Add(req.ChannelRef, req.snapshot())

	if !req.Invocation {
		m.countMessage("chatter")
		m.offerTrend(ctx, req, history)
		return nil
	}
	m.countMessage("invocation")

	switch verdict, notice := m.gate(req); verdict {
	case gateDenySilent:
		m.logger.Debug("request denied", "channel", req.ChannelRef, "user", req.UserRef)
		m.countInvocation("rejected", 0)
		return nil
	case gateDenyNotify:
		m.notify(ctx, req.ChannelRef, notice)
		m.countInvocation("rejected", 0)
		return nil
	}

	if m.offerTrend(ctx, req, history) {
		return nil
	}

	return m.runAgent(ctx, req)
}

// HandleReaction offers a reaction-count change to trend following.
func (m *Manager) HandleReaction(ctx context.Context, ev trend.ReactionEvent) bool {
	if m.deps.Trend == nil {
		return false
	}
	return m.deps.Trend.HandleReaction(ctx, ev)
}

// HandleReminder is the scheduler callback: it re-enters the agent
// with a synthesized prompt addressed to the stored channel. Wire it
// as the schedule.Handler.
func (m *Manager) HandleReminder(ctx context.Context, ev schedule.Event) error {
	m.countMessage("reminder")
	req := &Request{
		ChannelRef: ev.ChannelRef,
		UserRef:    ev.UserRef,
		Invocation: true,
		Message: models.Message{
			Role:    models.RoleUser,
			Content: reminderPromptPrefix + ev.Content,
			Meta: models.MessageMeta{
				AuthorID:  ev.UserRef,
				Timestamp: m.now(),
			},
		},
	}
	return m.runAgent(ctx, req)
}

func (m *Manager) offerTrend(ctx context.Context, req *Request, history []trend.Snapshot) bool {
	if m.deps.Trend == nil || req.Message.Meta.FromBot {
		return false
	}
	return m.deps.Trend.HandleMessage(ctx, trend.MessageEvent{
		ChannelID: req.ChannelRef,
		GuildID:   req.GuildID,
		Current:   req.snapshot(),
		History:   history,
	})
}

type gateVerdict int

const (
	gateAllow gateVerdict = iota
	gateDenySilent
	gateDenyNotify
)

// gate applies maintenance mode, block lists, allow lists, and the DM
// gate, in that order. Blocked requests are denied silently; only
// maintenance mode and the DM gate answer with a notice.
func (m *Manager) gate(req *Request) (gateVerdict, string) {
	if m.cfg.Maintenance.Enabled {
		notice := m.cfg.Maintenance.Message
		if notice == "" {
			notice = defaultMaintenanceNotice
		}
		return gateDenyNotify, notice
	}

	perms := m.cfg.Permissions
	if contains(perms.BlockedUsers, req.UserRef) {
		return gateDenySilent, ""
	}
	if containsAny(perms.BlockedRoles, req.RoleRefs) {
		return gateDenySilent, ""
	}
	if !req.IsDM && contains(perms.BlockedChannels, req.ChannelRef) {
		return gateDenySilent, ""
	}

	if !req.IsDM && len(perms.AllowedChannels) > 0 && !contains(perms.AllowedChannels, req.ChannelRef) {
		return gateDenySilent, ""
	}
	if len(perms.AllowedUsers) > 0 && !contains(perms.AllowedUsers, req.UserRef) &&
		!containsAny(perms.AllowedRoles, req.RoleRefs) {
		return gateDenySilent, ""
	}

	if req.IsDM && !perms.AllowDMs {
		return gateDenyNotify, dmRejectedNotice
	}
	return gateAllow, ""
}

func (m *Manager) countMessage(kind string) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordMessage(kind)
	}
}

func (m *Manager) countInvocation(outcome string, elapsed time.Duration) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordInvocation(outcome, elapsed)
	}
}

// runAgent collects input, runs the graph with a per-invocation bus,
// and schedules any reminder side effects.
func (m *Manager) runAgent(ctx context.Context, req *Request) error {
	started := m.now()

	collected, err := m.deps.Collector.Collect(ctx, collect.Request{
		ChannelRef:  req.ChannelRef,
		Current:     req.Message,
		Attachments: req.Attachments,
	})
	if err != nil {
		if errors.Is(err, collect.ErrInputTooLarge) {
			m.notify(ctx, req.ChannelRef, inputTooLargeNotice)
			m.countInvocation("rejected", m.now().Sub(started))
			return nil
		}
		m.countInvocation("error", m.now().Sub(started))
		return err
	}

	busOpts := []progress.BusOption{progress.WithLogger(m.logger)}
	if m.deps.Gateway != nil {
		blurber := progress.NewBlurber(m.deps.Gateway, collected.Messages)
		busOpts = append(busOpts, progress.WithBlurber(blurber.Blurb))
	}
	bus := progress.NewBus(busOpts...)
	if m.deps.Observers != nil {
		for _, reg := range m.deps.Observers(req) {
			bus.Register(reg.Observer, reg.Config)
		}
	}
	bus.Start(ctx)
	defer bus.Close()

	st := &graph.State{
		Messages:   collected.Messages,
		ChannelRef: req.ChannelRef,
		UserRef:    req.UserRef,
		GuildID:    req.GuildID,
		Bus:        bus,
	}
	if err := m.deps.Engine.Run(ctx, st); err != nil {
		// The bus has already delivered the user-visible error.
		m.logger.Error("agent run failed",
			"channel", req.ChannelRef,
			"user", req.UserRef,
			"kind", llm.KindOf(err),
			"error", err)
		m.countInvocation("error", m.now().Sub(started))
		return err
	}
	m.countInvocation("completed", m.now().Sub(started))

	if st.FinalAnswer != "" {
		m.cache.Add(req.ChannelRef, trend.Snapshot{Text: st.FinalAnswer, FromBot: true})
	}
	m.scheduleReminders(ctx, req, st.Reminders)
	return nil
}

func (m *Manager) scheduleReminders(ctx context.Context, req *Request, reminders []models.ReminderDetails) {
	if m.deps.Scheduler == nil || len(reminders) == 0 {
		return
	}
	for _, details := range reminders {
		if _, err := m.deps.Scheduler.Schedule(details); err != nil {
			if errors.Is(err, schedule.ErrQuotaExceeded) {
				m.notify(ctx, req.ChannelRef, reminderQuotaNotice)
				continue
			}
			m.logger.Error("reminder scheduling failed",
				"channel", req.ChannelRef, "user", req.UserRef, "error", err)
		}
	}
}

func (m *Manager) notify(ctx context.Context, channelRef, text string) {
	if m.deps.Responder == nil || text == "" {
		return
	}
	if err := m.deps.Responder.SendText(ctx, channelRef, text); err != nil {
		m.logger.Warn("notice delivery failed", "channel", channelRef, "error", err)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsAny(list, values []string) bool {
	for _, v := range values {
		if contains(list, v) {
			return true
		}
	}
	return false
}
