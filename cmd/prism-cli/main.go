// Package main is the prism-cli interactive tester.
//
// It runs the same agent core as the daemon against a line-based REPL
// instead of Discord: each input line is one invocation, with progress
// lines and streamed answer chunks printed to the terminal. It reads
// the same configuration file as the daemon.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/internal/emoji"
	"github.com/prismbot/prism/internal/graph"
	"github.com/prismbot/prism/internal/llm"
	"github.com/prismbot/prism/internal/observability"
	"github.com/prismbot/prism/internal/persona"
	"github.com/prismbot/prism/internal/progress"
	"github.com/prismbot/prism/internal/tools"
	"github.com/prismbot/prism/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "prism.yaml"

// historyLimit bounds the in-memory REPL conversation.
const historyLimit = 50

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		var ce *configError
		if errors.As(err, &ce) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:          "prism-cli",
		Short:        "Interactive console for the prism agent",
		Long:         "Run agent invocations from a terminal REPL. Type /quit to exit.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), configPath, debug)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	root.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return root
}

func runREPL(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &configError{err: err}
	}

	// Logs go to stderr at warn level so they do not interleave with
	// the conversation on stdout.
	level := "warn"
	if debug || cfg.System.DebugMode {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: "text",
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tz, err := time.LoadLocation(cfg.System.Timezone)
	if err != nil {
		return &configError{err: fmt.Errorf("system.timezone: %w", err)}
	}

	engine, gateway, err := buildEngine(ctx, cfg, tz, logger)
	if err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println("prism-cli — 輸入訊息開始對話，/quit 離開")
	}

	var history []models.Message
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if ctx.Err() != nil {
			break
		}

		history = append(history, models.Message{
			Role:    models.RoleUser,
			Content: line,
			Meta:    models.MessageMeta{AuthorName: "user", Timestamp: time.Now()},
		})
		if len(history) > historyLimit {
			history = history[len(history)-historyLimit:]
		}

		answer := runOnce(ctx, engine, gateway, cfg, logger, history)
		if answer != "" {
			history = append(history, models.Message{Role: models.RoleAssistant, Content: answer})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if interactive {
		fmt.Println("再見！")
	}
	return nil
}

// runOnce drives one invocation and returns the final answer, empty on
// failure. Errors are already printed by the observer.
func runOnce(ctx context.Context, engine *graph.Engine, gateway *llm.Gateway, cfg *config.Config, logger *slog.Logger, history []models.Message) string {
	busOpts := []progress.BusOption{progress.WithLogger(logger)}
	if gateway != nil {
		blurber := progress.NewBlurber(gateway, history)
		busOpts = append(busOpts, progress.WithBlurber(blurber.Blurb))
	}
	bus := progress.NewBus(busOpts...)

	obs := newConsoleObserver(os.Stdout, cfg.Progress.CLI)
	bus.Register(obs, progress.ObserverConfig{Name: "console"})
	bus.Start(ctx)
	defer bus.Close()

	st := &graph.State{
		Messages:   append([]models.Message{}, history...),
		ChannelRef: "cli",
		UserRef:    "cli",
		Bus:        bus,
	}
	err := engine.Run(ctx, st)
	// Drain the observer before printing anything else, so the
	// answer lands ahead of the reminder notes and the next prompt.
	bus.Close()
	if err != nil {
		logger.Error("invocation failed", "error", err)
		return ""
	}
	for _, r := range st.Reminders {
		fmt.Printf("⏰ 已記下提醒（%s）：%s\n", r.FireAt.Format("2006-01-02 15:04"), r.Content)
	}
	return st.FinalAnswer
}

// buildEngine wires the agent core the way the daemon does, minus the
// transport: providers, gateway, tools, personas, graph.
func buildEngine(ctx context.Context, cfg *config.Config, tz *time.Location, logger *slog.Logger) (*graph.Engine, *llm.Gateway, error) {
	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	gateway := llm.NewGateway(providers, cfg.LLM, llm.WithLogger(logger))

	toolReg, err := buildTools(ctx, cfg, tz, logger)
	if err != nil {
		return nil, nil, err
	}
	dispatcher := tools.NewDispatcher(toolReg, tools.DispatchConfig{
		RoundTimeout: cfg.Agent.Behavior.TimeoutPerRound.Duration(),
	}, tools.WithLogger(logger))

	personas, err := persona.NewStore(persona.Config{
		Directory:       cfg.PromptSystem.Persona.Directory,
		DefaultPersona:  cfg.PromptSystem.Persona.DefaultPersona,
		RandomSelection: cfg.PromptSystem.Persona.RandomEnabled(),
		Enabled:         cfg.PromptSystem.Persona.IsEnabled(),
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("persona store: %w", err)
	}

	engine := graph.New(graph.Deps{
		Gateway:    gateway,
		Planner:    toolReg.Bind(gateway),
		Dispatcher: dispatcher,
		Registry:   toolReg,
		Personas:   personas,
		Emoji:      emoji.NewRegistry(),
		Logger:     logger,
	}, graph.Config{
		Behavior:  cfg.Agent.Behavior,
		Streaming: cfg.Streaming,
		Prompt:    cfg.PromptSystem,
		Timezone:  tz,
	})
	return engine, gateway, nil
}
