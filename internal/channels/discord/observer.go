package discord

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/pkg/models"
)

// errorNotice is the user-facing reply when an invocation fails.
const errorNotice = "抱歉，處理您的請求時發生錯誤。請稍後再試。"

// streamingFooter marks a progress message still receiving the answer.
const streamingFooter = "🔄 正在回答..."

// progressObserver renders one invocation onto a Discord status
// message: created on the first stage event, edited in place at most
// once per update interval, and deleted after the cleanup delay once
// the final answer has been posted. The bus calls each method from a
// single goroutine, so no locking is needed around message state.
type progressObserver struct {
	session   discordSession
	cfg       config.DiscordProgressConfig
	channelID string
	replyToID string
	logger    *slog.Logger
	now       func() time.Time
	after     func(d time.Duration, f func())

	progressID string
	lastEdit   time.Time
	stream     strings.Builder
}

func newProgressObserver(s discordSession, cfg config.DiscordProgressConfig, channelID, replyToID string, logger *slog.Logger) *progressObserver {
	return &progressObserver{
		session:   s,
		cfg:       cfg,
		channelID: channelID,
		replyToID: replyToID,
		logger:    logger.With("observer", "discord"),
		now:       time.Now,
		after:     func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// OnProgress updates the status message. Plain stage ticks are
// throttled to the configured interval; terminal stages always land.
func (o *progressObserver) OnProgress(ctx context.Context, event models.ProgressEvent) error {
	if !o.cfg.IsEnabled() {
		return nil
	}
	now := o.now()
	if !event.Stage.Terminal() && now.Sub(o.lastEdit) < o.cfg.UpdateInterval.Duration() {
		return nil
	}

	if o.cfg.EmbedsEnabled() {
		o.upsert(ctx, "", renderProgressEmbed(event))
	} else {
		o.upsert(ctx, renderProgressText(event), nil)
	}
	o.lastEdit = now
	return nil
}

// OnStreamingChunk mirrors the partial answer into the status message.
// Chunk pacing is handled by the bus coalescer, so every delivery is
// rendered.
func (o *progressObserver) OnStreamingChunk(ctx context.Context, chunk models.StreamingChunk) error {
	if !o.cfg.IsEnabled() {
		return nil
	}
	o.stream.WriteString(chunk.Content)

	if o.cfg.EmbedsEnabled() {
		embed := &discordgo.MessageEmbed{
			Color:       colorWorking,
			Description: truncateChars(o.stream.String(), embedDescriptionLimit),
			Footer:      &discordgo.MessageEmbedFooter{Text: streamingFooter},
		}
		o.upsert(ctx, "", embed)
	} else {
		o.upsert(ctx, truncateChars(o.stream.String(), messageLimit), nil)
	}
	o.lastEdit = o.now()
	return nil
}

func (o *progressObserver) OnStreamingComplete(context.Context) error { return nil }

// OnCompletion posts the final answer as reply messages, chunked to
// the transport limits, then schedules the status message cleanup.
func (o *progressObserver) OnCompletion(ctx context.Context, finalText string, sources []models.Source) error {
	defer o.cleanup()

	if strings.TrimSpace(finalText) == "" {
		return nil
	}

	if o.cfg.EmbedsEnabled() {
		chunks := splitMessage(finalText, embedDescriptionLimit)
		for i, chunk := range chunks {
			embed := &discordgo.MessageEmbed{
				Color:       colorComplete,
				Description: chunk,
			}
			if i == len(chunks)-1 {
				if field := sourcesField(sources); field != nil {
					embed.Fields = append(embed.Fields, field)
				}
			}
			if err := o.reply(ctx, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}); err != nil {
				return err
			}
		}
		return nil
	}

	for _, chunk := range splitMessage(finalText, messageLimit) {
		if err := o.reply(ctx, &discordgo.MessageSend{Content: chunk}); err != nil {
			return err
		}
	}
	if text := sourcesText(sources); text != "" {
		return o.reply(ctx, &discordgo.MessageSend{Content: text})
	}
	return nil
}

// OnError marks the status message failed and posts the apology.
func (o *progressObserver) OnError(ctx context.Context, _ error) error {
	defer o.cleanup()

	if o.cfg.IsEnabled() {
		event := models.ProgressEvent{
			Stage:    models.StageError,
			Message:  "❌ 處理時發生錯誤",
			Progress: -1,
		}
		if o.cfg.EmbedsEnabled() {
			o.upsert(ctx, "", renderProgressEmbed(event))
		} else {
			o.upsert(ctx, renderProgressText(event), nil)
		}
	}
	return o.reply(ctx, &discordgo.MessageSend{Content: errorNotice})
}

// upsert edits the status message in place, creating it on first use.
// A failed edit (message deleted by a moderator) falls back to a fresh
// send.
func (o *progressObserver) upsert(ctx context.Context, content string, embed *discordgo.MessageEmbed) {
	if o.progressID != "" {
		edit := discordgo.NewMessageEdit(o.channelID, o.progressID)
		if embed != nil {
			edit.SetEmbeds([]*discordgo.MessageEmbed{embed})
		} else {
			edit.SetContent(content)
		}
		if _, err := o.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err == nil {
			return
		}
		o.progressID = ""
	}

	send := &discordgo.MessageSend{
		Content: content,
		Flags:   discordgo.MessageFlagsSuppressNotifications,
	}
	if embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{embed}
	}
	send.Reference = o.reference()
	msg, err := o.session.ChannelMessageSendComplex(o.channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		o.logger.Warn("progress message send failed", "error", err)
		return
	}
	o.progressID = msg.ID
}

func (o *progressObserver) reply(ctx context.Context, send *discordgo.MessageSend) error {
	send.Reference = o.reference()
	if _, err := o.session.ChannelMessageSendComplex(o.channelID, send, discordgo.WithContext(ctx)); err != nil {
		o.logger.Error("reply send failed", "error", err)
		return err
	}
	return nil
}

func (o *progressObserver) reference() *discordgo.MessageReference {
	if o.replyToID == "" {
		return nil
	}
	return &discordgo.MessageReference{ChannelID: o.channelID, MessageID: o.replyToID}
}

// cleanup deletes the status message after the configured delay. The
// invocation context is likely gone by then, so deletion runs against
// the background context.
func (o *progressObserver) cleanup() {
	if o.progressID == "" {
		return
	}
	id := o.progressID
	o.progressID = ""

	remove := func() {
		if err := o.session.ChannelMessageDelete(o.channelID, id); err != nil {
			o.logger.Debug("progress message delete failed", "error", err)
		}
	}
	if delay := o.cfg.CleanupDelay.Duration(); delay > 0 {
		o.after(delay, remove)
		return
	}
	remove()
}
