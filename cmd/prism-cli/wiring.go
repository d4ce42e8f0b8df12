package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/internal/llm"
	"github.com/prismbot/prism/internal/tools"
	"github.com/prismbot/prism/internal/tools/reminder"
	"github.com/prismbot/prism/internal/tools/videosummary"
	"github.com/prismbot/prism/internal/tools/websearch"
)

// buildProviders registers every provider whose API key is present.
func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	if key := os.Getenv(cfg.LLM.KeyEnv("gemini")); key != "" {
		p, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			APIKey:  key,
			BaseURL: cfg.LLM.BaseURL("gemini"),
		})
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		registry.Register(p)
	}
	if key := os.Getenv(cfg.LLM.KeyEnv("openai")); key != "" {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:  key,
			BaseURL: cfg.LLM.BaseURL("openai"),
		})
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		registry.Register(p)
	}
	if key := os.Getenv(cfg.LLM.KeyEnv("anthropic")); key != "" {
		p, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  key,
			BaseURL: cfg.LLM.BaseURL("anthropic"),
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		registry.Register(p)
	}

	names := registry.Names()
	if len(names) == 0 {
		return nil, &configError{err: errors.New("no provider API key set, need at least one of GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY")}
	}
	logger.Info("providers registered", "providers", names)
	return registry, nil
}

// buildTools constructs and registers the enabled tools.
func buildTools(ctx context.Context, cfg *config.Config, tz *time.Location, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	geminiKey := os.Getenv(cfg.LLM.KeyEnv("gemini"))
	geminiModel := geminiToolModel(cfg.LLM.Models.Finalizer.Model)

	if tc, ok := cfg.Agent.Tools["google_search"]; ok && tc.Enabled {
		t, err := websearch.New(ctx, websearch.Config{
			APIKey:   geminiKey,
			BaseURL:  cfg.LLM.BaseURL("gemini"),
			Model:    geminiModel,
			Timezone: tz,
			Priority: tc.Priority,
			Enabled:  true,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("google_search: %w", err)
		}
		registry.Register(t)
	}

	if tc, ok := cfg.Agent.Tools["youtube_summary"]; ok && tc.Enabled {
		t, err := videosummary.New(ctx, videosummary.Config{
			APIKey:   geminiKey,
			BaseURL:  cfg.LLM.BaseURL("gemini"),
			Model:    geminiModel,
			Priority: tc.Priority,
			Enabled:  true,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("youtube_summary: %w", err)
		}
		registry.Register(t)
	}

	if tc, ok := cfg.Agent.Tools["set_reminder"]; ok && tc.Enabled {
		registry.Register(reminder.New(reminder.Config{
			Timezone: tz,
			Priority: tc.Priority,
			Enabled:  true,
		}, logger))
	}

	return registry, nil
}

// geminiToolModel picks the bare Gemini model the search and video
// tools call with.
func geminiToolModel(roleModel string) string {
	provider, model := llm.SplitModel(roleModel)
	if (provider == "" || provider == "gemini") && model != "" {
		return model
	}
	return "gemini-2.0-flash"
}
