package trend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prismbot/prism/internal/emoji"
	"github.com/prismbot/prism/internal/llm"
	"github.com/prismbot/prism/pkg/models"
)

// errNoContext means neither emoji inventory nor conversation text is
// available, so a model call would have nothing to work with.
var errNoContext = errors.New("trend: no context for emoji generation")

// LLMGenerator produces emoji-trend replies through the short-output
// model role, with the channel's custom emoji offered in the prompt.
type LLMGenerator struct {
	gateway  *llm.Gateway
	registry *emoji.Registry
}

// NewLLMGenerator creates a generator. registry may be nil.
func NewLLMGenerator(gateway *llm.Gateway, registry *emoji.Registry) *LLMGenerator {
	return &LLMGenerator{gateway: gateway, registry: registry}
}

// EmojiReply implements Generator.
func (g *LLMGenerator) EmojiReply(ctx context.Context, guildID string, conversation []string) (string, error) {
	emojiContext := ""
	if g.registry != nil {
		emojiContext = g.registry.PromptContext(guildID)
	}
	if emojiContext == "" && len(conversation) == 0 {
		return "", errNoContext
	}

	var prompt strings.Builder
	prompt.WriteString("你正在參與一個 Discord 頻道的 emoji 跟風活動。最近有多條訊息都只包含 emoji，現在需要你根據對話上下文選擇一個適合的 emoji 來回應。\n")
	if len(conversation) > 0 {
		prompt.WriteString("最近的對話內容：\n")
		prompt.WriteString(strings.Join(conversation, "\n"))
		prompt.WriteString("\n")
	}
	prompt.WriteString("\n請根據對話內容和氣氛選擇一個最適合的 emoji 回應。你可以使用：\n")
	prompt.WriteString("1. Discord 自定義 emoji（格式：<:emoji_name:emoji_id> 或 <a:animated_emoji:emoji_id>）\n")
	if emojiContext != "" {
		prompt.WriteString(emojiContext)
		prompt.WriteString("\n")
	}
	prompt.WriteString("\n2. Unicode emoji（如：😄👍❤️😊🎉😂🔥💯等等）\n\n")
	prompt.WriteString("只需要回傳一個 emoji，不要其他文字。\n")
	prompt.WriteString("範例回應: <:thinking:123456789012345678> 或 😄\n")

	reply, err := g.gateway.Generate(ctx, llm.RoleProgressBlurb, &llm.Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: prompt.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("generate emoji reply: %w", err)
	}
	return strings.TrimSpace(reply.Text), nil
}
