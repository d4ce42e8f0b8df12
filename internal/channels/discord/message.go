package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/prismbot/prism/internal/collect"
	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/internal/emoji"
	"github.com/prismbot/prism/internal/session"
	"github.com/prismbot/prism/pkg/models"
)

// buildRequest translates a gateway message into a session request.
// Mentioning the bot or writing in a DM makes it an invocation.
func (a *Adapter) buildRequest(ctx context.Context, m *discordgo.Message) *session.Request {
	botID := a.selfID()
	isDM := m.GuildID == ""

	req := &session.Request{
		ChannelRef: m.ChannelID,
		UserRef:    m.Author.ID,
		GuildID:    m.GuildID,
		IsDM:       isDM,
		Invocation: isDM || mentionsUser(m, botID),
		Message:    a.convertMessage(m),
	}
	if m.Member != nil {
		req.RoleRefs = m.Member.Roles
	}
	if len(m.StickerItems) > 0 {
		req.StickerID = m.StickerItems[0].ID
	}
	if req.Invocation {
		req.Attachments = a.fetch.fetchAll(ctx, m.Attachments, a.logger)
	}
	return req
}

// convertMessage maps a gateway message onto the model type. The bot
// mention is stripped from invocation text so the model never sees the
// raw mention token.
func (a *Adapter) convertMessage(m *discordgo.Message) models.Message {
	role := models.RoleUser
	fromBot := m.Author != nil && m.Author.Bot
	if m.Author != nil && m.Author.ID == a.selfID() {
		role = models.RoleAssistant
	}

	return models.Message{
		Role:    role,
		Content: stripMention(m.Content, a.selfID()),
		Meta: models.MessageMeta{
			OriginID:   m.ID,
			Timestamp:  m.Timestamp,
			AuthorID:   authorID(m),
			AuthorName: displayName(m),
			FromBot:    fromBot,
		},
	}
}

func authorID(m *discordgo.Message) string {
	if m.Author == nil {
		return ""
	}
	return m.Author.ID
}

// displayName prefers the guild nickname, then the global display
// name, then the account username.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author == nil {
		return ""
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func mentionsUser(m *discordgo.Message, userID string) bool {
	if userID == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

// stripMention removes <@id> and <@!id> tokens for the given user.
func stripMention(content, userID string) string {
	if userID == "" {
		return strings.TrimSpace(content)
	}
	content = strings.ReplaceAll(content, "<@"+userID+">", "")
	content = strings.ReplaceAll(content, "<@!"+userID+">", "")
	return strings.TrimSpace(content)
}

// reactionAPIName converts a send-form emoji to the reaction endpoint
// form: custom tokens <a:name:id> become name:id, Unicode passes
// through unchanged.
func reactionAPIName(token string) string {
	if !strings.HasPrefix(token, "<") || !strings.HasSuffix(token, ">") {
		return token
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(token, "<"), ">")
	inner = strings.TrimPrefix(inner, "a")
	return strings.TrimPrefix(inner, ":")
}

// convertEmojis maps gateway emoji onto registry entries. Unavailable
// emoji (lost boosts) are skipped, and only emoji the allow-list
// names are kept; the listed description replaces the bare name so
// the prompt context tells the model when each emoji fits.
func convertEmojis(in []*discordgo.Emoji, allowed map[string]string) []emoji.Emoji {
	out := make([]emoji.Emoji, 0, len(in))
	for _, e := range in {
		if e == nil || e.ID == "" || !e.Available {
			continue
		}
		desc, ok := allowed[e.ID]
		if !ok {
			continue
		}
		if desc == "" {
			desc = e.Name
		}
		out = append(out, emoji.Emoji{
			ID:          e.ID,
			Name:        e.Name,
			Animated:    e.Animated,
			Description: desc,
		})
	}
	return out
}

// attachmentFetcher downloads inbound image attachments within the
// configured size bound. Oversized or non-image attachments are
// skipped; the collector enforces the per-invocation image budget.
type attachmentFetcher struct {
	client   *http.Client
	maxBytes int
}

func newAttachmentFetcher(media config.InputMediaConfig) *attachmentFetcher {
	max := media.MaxImageBytes
	if max <= 0 {
		max = 4 << 20
	}
	return &attachmentFetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: max,
	}
}

func (f *attachmentFetcher) fetchAll(ctx context.Context, atts []*discordgo.MessageAttachment, logger *slog.Logger) []collect.Attachment {
	var out []collect.Attachment
	for _, att := range atts {
		if att == nil || !strings.HasPrefix(att.ContentType, "image/") {
			continue
		}
		if att.Size > f.maxBytes {
			logger.Debug("attachment skipped, too large", "filename", att.Filename, "size", att.Size)
			continue
		}
		data, err := f.fetch(ctx, att.URL)
		if err != nil {
			logger.Warn("attachment download failed", "filename", att.Filename, "error", err)
			continue
		}
		out = append(out, collect.Attachment{
			Filename: att.Filename,
			MIME:     att.ContentType,
			Data:     data,
		})
	}
	return out
}

func (f *attachmentFetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxBytes)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > f.maxBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", f.maxBytes)
	}
	return data, nil
}
