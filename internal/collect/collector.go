// Package collect assembles the conversation handed to the agent: it
// merges the triggering message with channel history, normalizes
// attachments into multimodal parts, and enforces the input limits.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/pkg/models"
)

// ErrInputTooLarge rejects a request whose text still exceeds the hard
// cap after truncation.
var ErrInputTooLarge = errors.New("collect: input too large")

// HistorySource fetches prior channel messages, newest last. The
// Discord adapter implements it over the transport API; the CLI keeps
// an in-memory transcript.
type HistorySource interface {
	History(ctx context.Context, channelRef string, limit int) ([]models.Message, error)
}

// Attachment is one raw inbound file before normalization.
type Attachment struct {
	Filename string
	MIME     string
	Data     []byte
}

// Request describes one collection run.
type Request struct {
	ChannelRef string

	// Current is the triggering message; it always survives
	// truncation and carries the media marker.
	Current models.Message

	Attachments []Attachment

	// HistoryLimit overrides the configured max_messages window when
	// positive.
	HistoryLimit int
}

// Result is the assembled conversation.
type Result struct {
	Messages []models.Message

	// Summary is a short human-visible description of what was
	// included or dropped, empty when nothing noteworthy happened.
	Summary string
}

// Collector applies the configured input shaping.
type Collector struct {
	source HistorySource
	limits config.LimitsConfig
	media  config.InputMediaConfig
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Collector.
type Option func(*Collector)

// WithNow fixes the clock used for receive-order timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Collector. source may be nil for transports without
// history.
func New(source HistorySource, limits config.LimitsConfig, media config.InputMediaConfig, logger *slog.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		source: source,
		limits: limits,
		media:  media,
		logger: logger.With("component", "collect"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect assembles the conversation for one invocation.
func (c *Collector) Collect(ctx context.Context, req Request) (*Result, error) {
	limit := c.limits.MaxMessages
	if req.HistoryLimit > 0 && req.HistoryLimit < limit {
		limit = req.HistoryLimit
	}

	var history []models.Message
	if c.source != nil && limit > 0 {
		fetched, err := c.source.History(ctx, req.ChannelRef, limit)
		if err != nil {
			c.logger.Warn("history fetch failed, continuing with current message only", "error", err)
		} else {
			history = fetched
		}
	}

	current := req.Current
	counts, warnings := c.attachImages(&current, req.Attachments)

	messages := dedupe(append(history, current))
	assignTimestamps(messages, c.now())
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Meta.Timestamp.Before(messages[j].Meta.Timestamp)
	})

	messages, dropped := c.truncate(messages)
	if dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("已省略 %d 則較舊訊息", dropped))
	}

	if total := totalTextRunes(messages); total > c.limits.HardTextCap {
		return nil, fmt.Errorf("%w: %d code points after truncation (cap %d)",
			ErrInputTooLarge, total, c.limits.HardTextCap)
	}

	appendMediaMarker(messages, counts)

	return &Result{
		Messages: messages,
		Summary:  strings.Join(warnings, "；"),
	}, nil
}

// dedupe drops later duplicates of an originator-assigned id. Empty
// ids never collide.
func dedupe(messages []models.Message) []models.Message {
	seen := make(map[string]bool, len(messages))
	out := messages[:0]
	for _, msg := range messages {
		id := msg.Meta.OriginID
		if id != "" {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		out = append(out, msg)
	}
	return out
}

// assignTimestamps gives messages without a timestamp a receive-order
// instant one nanosecond after the latest known one, preserving
// stability under the later sort.
func assignTimestamps(messages []models.Message, now time.Time) {
	last := time.Time{}
	for _, msg := range messages {
		if ts := msg.Meta.Timestamp; !ts.IsZero() && ts.After(last) {
			last = ts
		}
	}
	if last.IsZero() {
		last = now
	}
	for i := range messages {
		if messages[i].Meta.Timestamp.IsZero() {
			last = last.Add(time.Nanosecond)
			messages[i].Meta.Timestamp = last
		}
	}
}

// truncate enforces the message, text, and image budgets, dropping
// oldest first. The final message always survives.
func (c *Collector) truncate(messages []models.Message) ([]models.Message, int) {
	dropped := 0

	if max := c.limits.MaxMessages; max > 0 && len(messages) > max {
		dropped += len(messages) - max
		messages = messages[len(messages)-max:]
	}

	// Oldest messages go first when the text budget is exceeded.
	for len(messages) > 1 && totalTextRunes(messages) > c.limits.MaxText {
		messages = messages[1:]
		dropped++
	}

	// Image budget keeps the newest images.
	if max := c.limits.MaxImages; max >= 0 {
		kept := 0
		for i := len(messages) - 1; i >= 0; i-- {
			msg := &messages[i]
			if len(msg.Parts) == 0 {
				continue
			}
			parts := msg.Parts[:0]
			// Walk parts backwards so the newest images win.
			removeFrom := make(map[int]bool)
			for j := len(msg.Parts) - 1; j >= 0; j-- {
				if msg.Parts[j].IsImage() {
					if kept >= max {
						removeFrom[j] = true
						continue
					}
					kept++
				}
			}
			for j, part := range msg.Parts {
				if !removeFrom[j] {
					parts = append(parts, part)
				}
			}
			msg.Parts = parts
		}
	}

	return messages, dropped
}

func totalTextRunes(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += utf8.RuneCountInString(msg.Text())
	}
	return total
}

// mediaCounts tallies what the attachments contributed.
type mediaCounts struct {
	images     int
	animations int
}

func (m mediaCounts) empty() bool { return m.images == 0 && m.animations == 0 }

// marker renders the trailing human-visible media note, e.g.
// "[包含: 2圖片, 1動畫]".
func (m mediaCounts) marker() string {
	var parts []string
	if m.images > 0 {
		parts = append(parts, fmt.Sprintf("%d圖片", m.images))
	}
	if m.animations > 0 {
		parts = append(parts, fmt.Sprintf("%d動畫", m.animations))
	}
	return "[包含: " + strings.Join(parts, ", ") + "]"
}

// appendMediaMarker annotates the final user message with the media
// summary so the model knows what it received.
func appendMediaMarker(messages []models.Message, counts mediaCounts) {
	if counts.empty() {
		return
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleUser {
			continue
		}
		msg := &messages[i]
		marker := counts.marker()
		if len(msg.Parts) > 0 {
			msg.Parts = append(msg.Parts, models.Part{Type: models.PartText, Text: marker})
		} else if msg.Content == "" {
			msg.Content = marker
		} else {
			msg.Content += "\n" + marker
		}
		return
	}
}
