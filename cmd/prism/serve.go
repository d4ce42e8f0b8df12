package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prismbot/prism/internal/channels/discord"
	"github.com/prismbot/prism/internal/collect"
	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/internal/emoji"
	"github.com/prismbot/prism/internal/graph"
	"github.com/prismbot/prism/internal/llm"
	"github.com/prismbot/prism/internal/observability"
	"github.com/prismbot/prism/internal/persona"
	"github.com/prismbot/prism/internal/schedule"
	"github.com/prismbot/prism/internal/session"
	"github.com/prismbot/prism/internal/tools"
	"github.com/prismbot/prism/internal/tools/reminder"
	"github.com/prismbot/prism/internal/tools/videosummary"
	"github.com/prismbot/prism/internal/tools/websearch"
	"github.com/prismbot/prism/internal/trend"
)

// stopTimeout bounds the transport drain during shutdown.
const stopTimeout = 10 * time.Second

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &configError{err: err}
	}

	level := cfg.System.LogLevel
	if debug || cfg.System.DebugMode {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tz, err := time.LoadLocation(cfg.System.Timezone)
	if err != nil {
		return &configError{err: fmt.Errorf("system.timezone: %w", err)}
	}

	metrics := observability.NewMetrics()
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		logger.Info("metrics exposed", "addr", addr)
	}

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TraceConfig{
		Endpoint:       cfg.Observability.TraceEndpoint,
		ServiceName:    "prism",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}
	gateway := llm.NewGateway(providers, cfg.LLM,
		llm.WithLogger(logger), llm.WithMetrics(metrics))

	toolReg, err := buildTools(ctx, cfg, tz, logger)
	if err != nil {
		return err
	}
	dispatcher := tools.NewDispatcher(toolReg, tools.DispatchConfig{
		RoundTimeout: cfg.Agent.Behavior.TimeoutPerRound.Duration(),
	}, tools.WithLogger(logger), tools.WithMetrics(metrics))

	personas, err := persona.NewStore(persona.Config{
		Directory:       cfg.PromptSystem.Persona.Directory,
		DefaultPersona:  cfg.PromptSystem.Persona.DefaultPersona,
		RandomSelection: cfg.PromptSystem.Persona.RandomEnabled(),
		Enabled:         cfg.PromptSystem.Persona.IsEnabled(),
	}, logger)
	if err != nil {
		return fmt.Errorf("persona store: %w", err)
	}
	go func() {
		if err := personas.Watch(ctx); err != nil {
			logger.Warn("persona watch unavailable", "error", err)
		}
	}()
	defer personas.Close()

	emojiReg := emoji.NewRegistry()

	adapter, err := discord.New(discord.Config{
		Discord:  cfg.Discord,
		Progress: cfg.Progress.Discord,
		Media:    cfg.OutputMedia,
		Logger:   logger,
	}, emojiReg)
	if err != nil {
		return &configError{err: err}
	}

	collector := collect.New(adapter, cfg.Discord.Limits, cfg.Discord.InputMedia, logger)

	trendEngine := trend.New(cfg.TrendFollowing,
		&countingEmitter{next: adapter, metrics: metrics},
		trend.NewLLMGenerator(gateway, emojiReg),
		logger)

	// The scheduler handler re-enters the manager, which is built
	// afterwards; the indirection closes over the late binding.
	var manager *session.Manager
	var scheduler *schedule.Scheduler
	if cfg.Reminder.IsEnabled() {
		store := schedule.NewFileStore(cfg.Reminder.PersistenceFile, logger)
		handler := func(ctx context.Context, ev schedule.Event) error {
			err := manager.HandleReminder(ctx, ev)
			if err != nil {
				metrics.RecordSchedulerFire("failed")
			} else {
				metrics.RecordSchedulerFire("delivered")
			}
			return err
		}
		scheduler, err = schedule.New(store, cfg.Reminder, handler, logger)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	engine := graph.New(graph.Deps{
		Gateway:    gateway,
		Planner:    toolReg.Bind(gateway),
		Dispatcher: dispatcher,
		Registry:   toolReg,
		Personas:   personas,
		Emoji:      emojiReg,
		Metrics:    metrics,
		Logger:     logger,
	}, graph.Config{
		Behavior:  cfg.Agent.Behavior,
		Streaming: cfg.Streaming,
		Prompt:    cfg.PromptSystem,
		Timezone:  tz,
	})

	manager = session.New(session.Deps{
		Collector: collector,
		Engine:    engine,
		Scheduler: scheduler,
		Trend:     trendEngine,
		Gateway:   gateway,
		Responder: adapter,
		Observers: adapter.Observers,
		Metrics:   metrics,
		Logger:    logger,
	}, session.Config{
		Permissions: cfg.Discord.Permissions,
		Maintenance: cfg.Discord.Maintenance,
		Trend:       cfg.TrendFollowing,
	})
	adapter.Bind(manager)

	if scheduler != nil {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("discord start: %w", err)
	}
	logger.Info("prism started", "version", version)

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := adapter.Stop(stopCtx); err != nil {
		logger.Warn("transport stop failed", "error", err)
	}
	return nil
}

// buildProviders registers every provider whose API key is present.
// Roles routed to an unregistered provider fail at call time, which
// keeps a partially keyed environment usable.
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

// buildTools constructs and registers the enabled tools. The Gemini
// backed tools run on the finalizer's model when it is a Gemini model,
// otherwise on the stock default.
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

// countingEmitter counts trend emissions on their way to the transport.
type countingEmitter struct {
	next    trend.Emitter
	metrics *observability.Metrics
}

func (e *countingEmitter) SendText(ctx context.Context, channelID, text string) error {
	err := e.next.SendText(ctx, channelID, text)
	if err == nil {
		e.metrics.RecordTrendFollow("text")
	}
	return err
}

func (e *countingEmitter) SendSticker(ctx context.Context, channelID, stickerID string) error {
	err := e.next.SendSticker(ctx, channelID, stickerID)
	if err == nil {
		e.metrics.RecordTrendFollow("sticker")
	}
	return err
}

func (e *countingEmitter) React(ctx context.Context, channelID, messageID, emoji string) error {
	err := e.next.React(ctx, channelID, messageID, emoji)
	if err == nil {
		e.metrics.RecordTrendFollow("reaction")
	}
	return err
}
