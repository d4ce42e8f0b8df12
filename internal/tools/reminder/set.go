// Package reminder implements the set_reminder tool. The tool only
// validates and describes the reminder; persisting and firing it is
// the scheduler's job.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prismbot/prism/internal/tools"
	"github.com/prismbot/prism/pkg/models"
)

// localTimeLayout accepts timezone-naive timestamps, interpreted in
// the configured system timezone.
const localTimeLayout = "2006-01-02T15:04:05"

// Config wires the tool to the agent tool settings.
type Config struct {
	// Timezone interprets timezone-naive target times.
	Timezone *time.Location
	Priority int
	Enabled  bool
}

// SetTool creates reminder side effects from planner calls.
type SetTool struct {
	timezone *time.Location
	priority int
	enabled  bool
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes the tool.
type Option func(*SetTool)

// WithNow overrides the clock used for the future check.
func WithNow(now func() time.Time) Option {
	return func(t *SetTool) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates the set_reminder tool.
func New(cfg Config, logger *slog.Logger, opts ...Option) *SetTool {
	if logger == nil {
		logger = slog.Default()
	}
	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}
	t := &SetTool{
		timezone: tz,
		priority: cfg.Priority,
		enabled:  cfg.Enabled,
		now:      time.Now,
		logger:   logger.With("component", "reminder"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *SetTool) Name() string { return "set_reminder" }

func (t *SetTool) Description() string {
	return "根據使用者提供的訊息和時間，設定提醒。時間請使用 ISO 8601 格式。"
}

type setArgs struct {
	Message    string `json:"message" jsonschema:"description=The reminder message content"`
	TargetTime string `json:"target_time" jsonschema:"description=Target time in ISO 8601 format such as 2024-07-26T10:00:00"`
}

var setSchema = tools.MustSchema(&setArgs{})

func (t *SetTool) Schema() json.RawMessage { return setSchema }
func (t *SetTool) Priority() int           { return t.priority }
func (t *SetTool) Enabled() bool           { return t.enabled }

// Execute validates the reminder and returns it as a side effect. The
// channel and user references come from the invocation context when
// present; the session layer fills any that remain empty.
func (t *SetTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
	var parsed setArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}

	t.logger.Info("setting reminder", "message", parsed.Message, "target_time", parsed.TargetTime)

	fireAt, err := t.parseTargetTime(parsed.TargetTime)
	if err != nil {
		return &models.ToolExecutionResult{
			Success:   false,
			Content:   fmt.Sprintf("無效的時間格式。請使用 ISO 8601 格式 (YYYY-MM-DDTHH:MM:SS)。錯誤: %v", err),
			ErrorKind: models.ErrKindInvalidArguments,
		}, nil
	}

	now := t.now()
	if !fireAt.After(now) {
		return &models.ToolExecutionResult{
			Success:   false,
			Content:   "提醒時間必須為未來時間。請提供一個晚於現在的時間。",
			ErrorKind: models.ErrKindInvalidArguments,
		}, nil
	}

	details := &models.ReminderDetails{
		Content:   parsed.Message,
		FireAt:    fireAt.UTC(),
		CreatedAt: now.UTC(),
	}
	if inv, ok := tools.InvocationFromContext(ctx); ok {
		details.ChannelRef = inv.ChannelRef
		details.UserRef = inv.UserRef
	}

	return &models.ToolExecutionResult{
		Success: true,
		Content: fmt.Sprintf("提醒已成功設定：%s，時間：%s, 跟使用者講你設定好了!",
			parsed.Message, fireAt.In(t.timezone).Format("2006年01月02日 15:04:05")),
		SideEffect: details,
	}, nil
}

// parseTargetTime accepts RFC 3339 or a timezone-naive local time.
func (t *SetTool) parseTargetTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.ParseInLocation(localTimeLayout, s, t.timezone)
}
