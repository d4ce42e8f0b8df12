package progress

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prismbot/prism/internal/llm"
	"github.com/prismbot/prism/pkg/models"
)

const (
	// defaultBlurbTimeout bounds each generation call. Slow calls fall
	// back to the static stage templates.
	defaultBlurbTimeout = 2 * time.Second

	// blurbRuneLimit caps a displayed blurb in code points.
	blurbRuneLimit = 16

	// blurbHistoryLimit is how many trailing conversation messages the
	// blurb model sees.
	blurbHistoryLimit = 4
)

const blurbSystemPrompt = "你是進度播報員。用一句非常簡短的話（16 個字以內）描述你目前的工作狀態，語氣自然，不要加引號，不要解釋。"

// stageInstructions tell the blurb model what is happening right now.
var stageInstructions = map[models.ProgressStage]string{
	models.StageStarting:       "你剛收到訊息，正要開始處理。",
	models.StageGenerateQuery:  "你正在分析問題並規劃要用哪些工具。",
	models.StageToolList:       "你已經決定好要執行的工具。",
	models.StageToolExecution:  "你正在執行工具並等待結果。",
	models.StageSearching:      "你正在搜尋相關資料。",
	models.StageAnalyzing:      "你正在整理剛拿到的資料。",
	models.StageReflection:     "你正在評估目前的資訊是否足夠回答。",
	models.StageFinalizeAnswer: "你正在撰寫最終回覆。",
	models.StageCompleting:     "你正在撰寫最終回覆。",
}

// Blurber generates short in-character stage messages through the
// progress_blurb model role. Its Blurb method satisfies BlurbFunc.
type Blurber struct {
	gateway *llm.Gateway
	history []models.Message
	persona string
	timeout time.Duration
}

// BlurberOption customizes a Blurber.
type BlurberOption func(*Blurber)

// WithBlurbPersona prepends the active persona so blurbs keep its voice.
func WithBlurbPersona(persona string) BlurberOption {
	return func(b *Blurber) { b.persona = persona }
}

// WithBlurbTimeout overrides the per-call deadline.
func WithBlurbTimeout(d time.Duration) BlurberOption {
	return func(b *Blurber) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBlurber creates a Blurber over the recent conversation history.
func NewBlurber(gateway *llm.Gateway, history []models.Message, opts ...BlurberOption) *Blurber {
	b := &Blurber{
		gateway: gateway,
		history: history,
		timeout: defaultBlurbTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Blurb asks the model for a stage message, trimmed to the display
// budget. Failures and empty replies return an error so the caller
// falls back to templates.
func (b *Blurber) Blurb(ctx context.Context, stage models.ProgressStage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	reply, err := b.gateway.Generate(ctx, llm.RoleProgressBlurb, &llm.Request{
		System:   b.systemPrompt(),
		Messages: b.contextMessages(stage),
	})
	if err != nil {
		return "", err
	}
	text := sanitizeBlurb(reply.Text)
	if text == "" {
		return "", errors.New("progress: empty blurb reply")
	}
	return truncateRunes(text, blurbRuneLimit), nil
}

func (b *Blurber) systemPrompt() string {
	if b.persona == "" {
		return blurbSystemPrompt
	}
	return b.persona + "\n\n" + blurbSystemPrompt
}

func (b *Blurber) contextMessages(stage models.ProgressStage) []models.Message {
	history := b.history
	if len(history) > blurbHistoryLimit {
		history = history[len(history)-blurbHistoryLimit:]
	}
	msgs := make([]models.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, models.Message{
		Role:    models.RoleUser,
		Content: stageInstruction(stage),
	})
	return msgs
}

func stageInstruction(stage models.ProgressStage) string {
	if hint, ok := stageInstructions[stage]; ok {
		return "用你的語氣描述現在的狀態：" + hint
	}
	return "用你的語氣簡短說明你正在處理中。"
}

// sanitizeBlurb keeps the first line and strips wrapping quotes.
func sanitizeBlurb(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'「」『』")
	return strings.TrimSpace(s)
}

// truncateRunes caps s at limit code points, appending an ellipsis
// when anything was cut.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}
