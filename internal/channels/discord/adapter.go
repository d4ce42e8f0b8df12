// Package discord adapts the Discord gateway to the session manager:
// it fans message and reaction events into the manager, serves channel
// history to the collector, loads the emoji registry, and renders the
// per-invocation progress message.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/prismbot/prism/internal/collect"
	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/internal/emoji"
	"github.com/prismbot/prism/internal/progress"
	"github.com/prismbot/prism/internal/session"
	"github.com/prismbot/prism/internal/trend"
	"github.com/prismbot/prism/pkg/models"
)

// messageLimit is the Discord message content ceiling in characters.
const messageLimit = 2000

// embedDescriptionLimit is the Discord embed description ceiling.
const embedDescriptionLimit = 4096

// discordSession is the slice of discordgo.Session the adapter uses,
// extracted so tests can substitute a fake.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	UpdateCustomStatus(state string) error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	ApplicationEmojis(appID string, options ...discordgo.RequestOption) ([]*discordgo.Emoji, error)
}

// Config carries the adapter's slice of the application configuration.
type Config struct {
	Discord  config.DiscordConfig
	Progress config.DiscordProgressConfig

	// Media allow-lists the emoji exposed to the model. Transport
	// emoji the list omits never reach the registry.
	Media config.OutputMediaConfig

	Logger *slog.Logger
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Discord.BotToken == "" {
		return fmt.Errorf("discord: bot_token is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter is the Discord front end. It implements collect.HistorySource,
// session.Responder, and trend.Emitter over one gateway session.
type Adapter struct {
	cfg     Config
	session discordSession
	emoji   *emoji.Registry
	manager *session.Manager
	logger  *slog.Logger
	fetch   *attachmentFetcher

	mu     sync.RWMutex
	botID  string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	opened bool
}

var (
	_ collect.HistorySource = (*Adapter)(nil)
	_ session.Responder     = (*Adapter)(nil)
	_ trend.Emitter         = (*Adapter)(nil)
)

// New creates an adapter. Bind the session manager before Start; the
// manager is constructed after the adapter because it consumes the
// adapter's history source and responder.
func New(cfg Config, registry *emoji.Registry) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = emoji.NewRegistry()
	}
	return &Adapter{
		cfg:    cfg,
		emoji:  registry,
		logger: cfg.Logger.With("component", "discord"),
		fetch:  newAttachmentFetcher(cfg.Discord.InputMedia),
	}, nil
}

// Bind wires the session manager the adapter dispatches into.
func (a *Adapter) Bind(m *session.Manager) { a.manager = m }

// Start opens the gateway connection and registers event handlers.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opened {
		return fmt.Errorf("discord: adapter already started")
	}
	if a.manager == nil {
		return fmt.Errorf("discord: no session manager bound")
	}

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.cfg.Discord.BotToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentGuilds |
			discordgo.IntentGuildEmojis |
			discordgo.IntentGuildMessages |
			discordgo.IntentGuildMessageReactions |
			discordgo.IntentDirectMessages |
			discordgo.IntentDirectMessageReactions |
			discordgo.IntentMessageContent
		a.session = dg
	}

	a.session.AddHandler(a.handleReady)
	a.session.AddHandler(a.handleGuildCreate)
	a.session.AddHandler(a.handleGuildEmojisUpdate)
	a.session.AddHandler(a.handleGuildDelete)
	a.session.AddHandler(a.handleMessageCreate)
	a.session.AddHandler(a.handleReactionAdd)

	// Handlers can fire as soon as the gateway opens, so the run
	// context must exist first.
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.opened = true

	if err := a.session.Open(); err != nil {
		a.cancel()
		a.opened = false
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the gateway and waits for in-flight invocations, up to
// the deadline of ctx.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.opened {
		a.mu.Unlock()
		return nil
	}
	a.opened = false
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("stop deadline reached with invocations still running")
	}

	if err := a.session.Close(); err != nil {
		return fmt.Errorf("discord: close gateway: %w", err)
	}
	a.logger.Info("discord adapter stopped")
	return nil
}

// Observers is the session.ObserverFactory for Discord invocations:
// one progress observer per request, replying to the origin message.
func (a *Adapter) Observers(req *session.Request) []session.ObserverRegistration {
	obs := newProgressObserver(a.session, a.cfg.Progress, req.ChannelRef, req.Message.Meta.OriginID, a.logger)
	return []session.ObserverRegistration{{
		Observer: obs,
		Config: progress.ObserverConfig{
			Name:         "discord",
			MinInterval:  a.cfg.Progress.UpdateInterval.Duration(),
			AutoGenerate: a.cfg.Progress.AutoGenerateMessages,
			Templates:    a.cfg.Progress.Messages,
			Boundary:     emoji.PartialTokenIndex,
		},
	}}
}

// History implements collect.HistorySource: the most recent channel
// messages before now, oldest first.
func (a *Adapter) History(ctx context.Context, channelRef string, limit int) ([]models.Message, error) {
	fetched, err := a.session.ChannelMessages(channelRef, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetch history: %w", err)
	}
	out := make([]models.Message, 0, len(fetched))
	for i := len(fetched) - 1; i >= 0; i-- {
		m := fetched[i]
		if m == nil || m.Author == nil {
			continue
		}
		converted := a.convertMessage(m)
		if converted.Text() == "" {
			continue
		}
		out = append(out, converted)
	}
	return out, nil
}

// SendText delivers plain text, split at the transport message limit.
// It serves both the session responder and the trend emitter.
func (a *Adapter) SendText(ctx context.Context, channelRef, text string) error {
	for _, chunk := range splitMessage(text, messageLimit) {
		_, err := a.session.ChannelMessageSendComplex(channelRef, &discordgo.MessageSend{
			Content: chunk,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord: send text: %w", err)
		}
	}
	return nil
}

// SendSticker implements trend.Emitter.
func (a *Adapter) SendSticker(ctx context.Context, channelRef, stickerID string) error {
	_, err := a.session.ChannelMessageSendComplex(channelRef, &discordgo.MessageSend{
		StickerIDs: []string{stickerID},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send sticker: %w", err)
	}
	return nil
}

// React implements trend.Emitter. The emoji arrives in send form; the
// reaction endpoint wants name:id for custom emoji.
func (a *Adapter) React(ctx context.Context, channelRef, messageID, emojiToken string) error {
	if err := a.session.MessageReactionAdd(channelRef, messageID, reactionAPIName(emojiToken), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: add reaction: %w", err)
	}
	return nil
}

// Event handlers.

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	if r.User != nil {
		a.botID = r.User.ID
	}
	a.mu.Unlock()

	if status := a.cfg.Discord.StatusMessage; status != "" {
		if err := a.session.UpdateCustomStatus(status); err != nil {
			a.logger.Warn("presence update failed", "error", err)
		}
	}

	a.loadApplicationEmojis(r)

	stats := a.emoji.Stats()
	a.logger.Info("discord gateway ready",
		"guilds", len(r.Guilds),
		"application_emojis", stats.Application)
}

func (a *Adapter) loadApplicationEmojis(r *discordgo.Ready) {
	appID := ""
	if r.Application != nil {
		appID = r.Application.ID
	}
	if appID == "" {
		appID = a.selfID()
	}
	emojis, err := a.session.ApplicationEmojis(appID)
	if err != nil {
		a.logger.Warn("application emoji load failed", "error", err)
		return
	}
	a.emoji.SetApplication(convertEmojis(emojis, a.cfg.Media.Emoji.Application))
}

func (a *Adapter) handleGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}
	a.emoji.SetGuild(g.ID, convertEmojis(g.Emojis, a.cfg.Media.Emoji.Guilds[g.ID]))
	a.logger.Debug("guild emoji snapshot loaded", "guild", g.ID, "count", len(g.Emojis))
}

func (a *Adapter) handleGuildEmojisUpdate(_ *discordgo.Session, e *discordgo.GuildEmojisUpdate) {
	a.emoji.SetGuild(e.GuildID, convertEmojis(e.Emojis, a.cfg.Media.Emoji.Guilds[e.GuildID]))
	a.logger.Debug("guild emoji snapshot refreshed", "guild", e.GuildID, "count", len(e.Emojis))
}

func (a *Adapter) handleGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Guild == nil {
		return
	}
	a.emoji.RemoveGuild(g.ID)
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.selfID() {
		return
	}

	ctx := a.runCtx()
	if ctx == nil {
		return
	}

	req := a.buildRequest(ctx, m.Message)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.manager.HandleMessage(ctx, req); err != nil {
			a.logger.Error("message handling failed",
				"channel", req.ChannelRef, "user", req.UserRef, "error", err)
		}
	}()
}

func (a *Adapter) handleReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.UserID == a.selfID() {
		return
	}
	ctx := a.runCtx()
	if ctx == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ev, ok := a.reactionEvent(ctx, r)
		if !ok {
			return
		}
		a.manager.HandleReaction(ctx, ev)
	}()
}

// reactionEvent resolves the reaction's running count by fetching the
// message; gateway reaction events carry no totals.
func (a *Adapter) reactionEvent(ctx context.Context, r *discordgo.MessageReactionAdd) (trend.ReactionEvent, bool) {
	msg, err := a.session.ChannelMessage(r.ChannelID, r.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		a.logger.Debug("reaction message fetch failed", "error", err)
		return trend.ReactionEvent{}, false
	}

	count := 0
	botReacted := false
	want := r.Emoji.APIName()
	for _, reaction := range msg.Reactions {
		if reaction.Emoji != nil && reaction.Emoji.APIName() == want {
			count = reaction.Count
			botReacted = reaction.Me
			break
		}
	}
	if count == 0 {
		return trend.ReactionEvent{}, false
	}

	actorIsBot := false
	if r.Member != nil && r.Member.User != nil {
		actorIsBot = r.Member.User.Bot
	}

	return trend.ReactionEvent{
		ChannelID:         r.ChannelID,
		MessageID:         r.MessageID,
		Emoji:             r.Emoji.MessageFormat(),
		Count:             count,
		ActorIsBot:        actorIsBot,
		BotAlreadyReacted: botReacted,
	}, true
}

func (a *Adapter) selfID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.botID
}

func (a *Adapter) runCtx() context.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.opened {
		return nil
	}
	return a.ctx
}
