package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/prismbot/prism/pkg/models"
)

// AnthropicProvider implements Provider on the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(options...)}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

const defaultAnthropicMaxTokens = 4096

// maxEmptyStreamEvents bounds consecutive events that carry nothing,
// terminating malformed streams instead of spinning on them.
const maxEmptyStreamEvents = 300

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  p.convertMessages(req.Messages),
		MaxTokens: int64(defaultAnthropicMaxTokens),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = int64(req.MaxOutputTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	system := req.System
	if req.JSONMode {
		// The Messages API has no JSON response mode.
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single valid JSON object and nothing else."
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return nil, WrapError(p.Name(), req.Model, err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan *Chunk)
	go p.processStream(stream, chunks, req.Model)
	return chunks, nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk, model string) {
	defer close(chunks)

	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{
					TaskID: toolUse.ID,
					Name:   toolUse.Name,
				}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &Chunk{Text: delta.Text}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Arguments = json.RawMessage(input)
				chunks <- &Chunk{ToolCall: currentToolCall}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			eventProcessed = true

		case "message_stop":
			chunks <- &Chunk{Done: true}
			return

		case "error":
			chunks <- &Chunk{Err: WrapError(p.Name(), model, errors.New("anthropic stream error"))}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &Chunk{Err: WrapError(p.Name(), model,
					fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEventCount))}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Err: WrapError(p.Name(), model, err)}
		return
	}
	chunks <- &Chunk{Done: true}
}

// convertMessages maps conversation history onto Messages API turns.
// Consecutive same-role messages are merged because the API requires
// alternating roles.
func (p *AnthropicProvider) convertMessages(messages []models.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if len(msg.Parts) == 0 {
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
		}
		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Text != "" {
					content = append(content, anthropic.NewTextBlock(part.Text))
				}
			case models.PartImage:
				if mt, ok := anthropicMediaType(part.MIME); ok {
					content = append(content, anthropic.NewImageBlockBase64(mt, part.Data))
				}
			}
		}
		if len(content) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == models.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, content...)
			continue
		}
		result = append(result, anthropic.MessageParam{Role: role, Content: content})
	}

	return result
}

func anthropicMediaType(mime string) (string, bool) {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", true
	case "image/png":
		return "image/png", true
	case "image/gif":
		return "image/gif", true
	case "image/webp":
		return "image/webp", true
	default:
		return "", false
	}
}

func toAnthropicTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}
