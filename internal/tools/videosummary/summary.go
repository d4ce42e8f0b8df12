// Package videosummary implements the youtube_summary tool: Gemini
// video understanding with a per-process TTL cache.
package videosummary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"google.golang.org/genai"

	"github.com/prismbot/prism/internal/tools"
	"github.com/prismbot/prism/pkg/models"
)

const summaryPrompt = "請幫我總結這部影片，並詳細描述整段影片的內容。"

const (
	defaultTTL             = 24 * time.Hour
	defaultTemperature     = 0.7
	defaultMaxOutputTokens = 32768
)

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config wires the tool to Gemini and the agent tool settings.
type Config struct {
	APIKey  string
	BaseURL string
	// Model is the bare Gemini model name used for video analysis.
	Model           string
	Temperature     float64
	MaxOutputTokens int
	// TTL bounds how long a summary is reused. Default: 24 hours.
	TTL      time.Duration
	Priority int
	Enabled  bool
}

// Tool summarizes YouTube videos through Gemini.
type Tool struct {
	client          generator
	model           string
	temperature     float64
	maxOutputTokens int
	priority        int
	enabled         bool
	cache           *summaryCache
	logger          *slog.Logger
}

// Option customizes the tool.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithNow overrides the cache clock.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates the youtube_summary tool with its own Gemini client.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*Tool, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("videosummary: API key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("videosummary: create client: %w", err)
	}
	return newWithGenerator(client.Models, cfg, logger, opts...), nil
}

func newWithGenerator(client generator, cfg Config, logger *slog.Logger, opts ...Option) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaultMaxOutputTokens
	}
	return &Tool{
		client:          client,
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		priority:        cfg.Priority,
		enabled:         cfg.Enabled,
		cache:           newSummaryCache(cfg.TTL, o.now),
		logger:          logger.With("component", "videosummary"),
	}
}

func (t *Tool) Name() string { return "youtube_summary" }

func (t *Tool) Description() string {
	return "為給定的 YouTube 影片 URL 生成摘要。此工具僅接受一個 URL。"
}

type summaryArgs struct {
	URL string `json:"url" jsonschema:"description=要生成摘要的 YouTube 影片 URL。"`
}

var summarySchema = tools.MustSchema(&summaryArgs{})

func (t *Tool) Schema() json.RawMessage { return summarySchema }
func (t *Tool) Priority() int           { return t.priority }
func (t *Tool) Enabled() bool           { return t.enabled }

// Execute summarizes one video. Successful summaries are cached per
// video id for the configured TTL.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
	var parsed summaryArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}

	videoID, ok := VideoID(parsed.URL)
	if !ok {
		return &models.ToolExecutionResult{
			Success:   false,
			Content:   "無效的 YouTube URL",
			ErrorKind: models.ErrKindInvalidArguments,
		}, nil
	}

	if cached, ok := t.cache.get(videoID); ok {
		t.logger.Info("summary cache hit", "video_id", videoID)
		return cached, nil
	}

	t.logger.Info("summarizing video", "video_id", videoID, "url", parsed.URL)
	result := t.summarize(ctx, parsed.URL)
	if result.Success {
		t.cache.put(videoID, result)
	}
	return result, nil
}

func (t *Tool) summarize(ctx context.Context, url string) *models.ToolExecutionResult {
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromURI(url, "video/*"),
			genai.NewPartFromText(summaryPrompt),
		},
	}}

	maxTokens := min(t.maxOutputTokens, math.MaxInt32)
	config := &genai.GenerateContentConfig{
		Temperature:        genai.Ptr(float32(t.temperature)),
		MaxOutputTokens:    int32(maxTokens), // #nosec G115 -- clamped above
		ResponseModalities: []string{"TEXT"},
		MediaResolution:    genai.MediaResolutionLow,
	}

	resp, err := t.client.GenerateContent(ctx, t.model, contents, config)
	if err != nil {
		t.logger.Error("video summary failed", "url", url, "error", err)
		return &models.ToolExecutionResult{
			Success:   false,
			Content:   fmt.Sprintf("摘要執行失敗: %v", err),
			ErrorKind: models.ErrKindExecution,
		}
	}

	text := resp.Text()
	if text == "" {
		return &models.ToolExecutionResult{
			Success:   false,
			Content:   "API 回應為空。",
			ErrorKind: models.ErrKindExecution,
		}
	}

	return &models.ToolExecutionResult{Success: true, Content: text}
}
