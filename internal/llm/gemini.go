package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/prismbot/prism/pkg/models"
)

// GeminiProvider implements Provider on the Google Gen AI SDK.
type GeminiProvider struct {
	client *genai.Client
}

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	// APIKey is required.
	APIKey string
	// BaseURL overrides the API endpoint, for proxies.
	BaseURL string
}

// NewGeminiProvider creates a Gemini-backed provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
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
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Complete implements Provider.
func (p *GeminiProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	contents := p.convertMessages(req.Messages)
	config := p.buildConfig(req)

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)

		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if ctx.Err() != nil {
				chunks <- &Chunk{Err: WrapError(p.Name(), req.Model, ctx.Err())}
				return
			}
			if err != nil {
				chunks <- &Chunk{Err: WrapError(p.Name(), req.Model, err)}
				return
			}
			if resp == nil {
				continue
			}

			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						chunks <- &Chunk{Text: part.Text}
					}
					if part.FunctionCall != nil {
						args, jsonErr := json.Marshal(part.FunctionCall.Args)
						if jsonErr != nil {
							args = []byte("{}")
						}
						chunks <- &Chunk{ToolCall: &models.ToolCall{
							TaskID:    uuid.NewString(),
							Name:      part.FunctionCall.Name,
							Arguments: args,
						}}
					}
				}
			}
		}

		chunks <- &Chunk{Done: true}
	}()

	return chunks, nil
}

func (p *GeminiProvider) convertMessages(messages []models.Message) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		// System text travels via SystemInstruction.
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		if len(msg.Parts) == 0 {
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
		}
		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
				}
			case models.PartImage:
				data, err := base64.StdEncoding.DecodeString(part.Data)
				if err != nil {
					continue
				}
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{Data: data, MIMEType: part.MIME},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func (p *GeminiProvider) buildConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxOutputTokens > 0 {
		maxTokens := min(req.MaxOutputTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		config.Tools = toGeminiTools(req.Tools)
	}

	return config
}

func toGeminiTools(tools []ToolDef) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}

	return schema
}
