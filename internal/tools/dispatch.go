package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prismbot/prism/pkg/models"
)

var tracer = otel.Tracer("github.com/prismbot/prism/internal/tools")

// DispatchConfig bounds a round of concurrent tool execution.
type DispatchConfig struct {
	// Concurrency caps simultaneous executions. Default: 4.
	Concurrency int

	// RoundTimeout is the budget for the whole round, divided evenly
	// across the calls. Default: 30 seconds.
	RoundTimeout time.Duration
}

const (
	defaultConcurrency  = 4
	defaultRoundTimeout = 30 * time.Second

	// minPerCallTimeout is the floor each call keeps no matter how
	// many calls share the round.
	minPerCallTimeout = 5 * time.Second
)

// StatusFunc receives tool state transitions during a dispatch round.
// It must not block.
type StatusFunc func(models.ToolStatus)

// Dispatcher runs planner tool calls concurrently with per-call
// timeouts, argument validation, and panic containment.
type Dispatcher struct {
	registry *Registry
	config   DispatchConfig
	logger   *slog.Logger
	metrics  ExecutionRecorder
}

// ExecutionRecorder receives the outcome of every executed call.
type ExecutionRecorder interface {
	RecordToolExecution(tool, status string, elapsed time.Duration)
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the recorder notified about every executed call.
func WithMetrics(rec ExecutionRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = rec }
}

// NewDispatcher creates a dispatcher over the registry. Zero config
// fields take defaults.
func NewDispatcher(registry *Registry, config DispatchConfig, opts ...DispatcherOption) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}
	if config.RoundTimeout <= 0 {
		config.RoundTimeout = defaultRoundTimeout
	}
	d := &Dispatcher{
		registry: registry,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "tools")
	return d
}

// perCallTimeout divides the round budget across the calls.
func (d *Dispatcher) perCallTimeout(calls int) time.Duration {
	if calls <= 0 {
		return d.config.RoundTimeout
	}
	per := d.config.RoundTimeout / time.Duration(calls)
	if per < minPerCallTimeout {
		per = minPerCallTimeout
	}
	return per
}

// Dispatch executes the calls concurrently and returns one result per
// call in input order. Failures never surface as errors; they become
// results with Success=false and a populated ErrorKind. notify, when
// non-nil, observes running and terminal transitions per call.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []models.ToolCall, notify StatusFunc) []*models.ToolExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*models.ToolExecutionResult, len(calls))
	perCall := d.perCallTimeout(len(calls))

	sem := make(chan struct{}, d.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = failed(call, models.ErrKindCancelled, "dispatch cancelled")
				d.transition(notify, call, models.ToolStateFailed, "cancelled")
				return
			}

			d.transition(notify, call, models.ToolStateRunning, "")
			result := d.runOne(ctx, call, perCall)
			results[idx] = result

			if result.Success {
				d.transition(notify, call, models.ToolStateCompleted, "")
			} else {
				d.transition(notify, call, models.ToolStateFailed, string(result.ErrorKind))
			}
		}(i, call)
	}

	wg.Wait()
	return results
}

func (d *Dispatcher) transition(notify StatusFunc, call models.ToolCall, state models.ToolState, message string) {
	if notify == nil {
		return
	}
	notify(models.ToolStatus{
		TaskID:   call.TaskID,
		ToolName: call.Name,
		State:    state,
		Message:  message,
	})
}

func (d *Dispatcher) runOne(ctx context.Context, call models.ToolCall, timeout time.Duration) *models.ToolExecutionResult {
	ctx, span := tracer.Start(ctx, "tools.execute", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.task_id", call.TaskID),
	))
	start := time.Now()
	result := d.lookupAndRun(ctx, call, timeout)
	elapsed := time.Since(start)

	if !result.Success {
		span.SetStatus(codes.Error, result.Content)
	}
	span.SetAttributes(attribute.Bool("tool.success", result.Success))
	span.End()

	if d.metrics != nil {
		status := "succeeded"
		if !result.Success {
			status = string(result.ErrorKind)
		}
		d.metrics.RecordToolExecution(call.Name, status, elapsed)
	}
	return result
}

func (d *Dispatcher) lookupAndRun(ctx context.Context, call models.ToolCall, timeout time.Duration) *models.ToolExecutionResult {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return failed(call, models.ErrKindUnknownTool, "tool not found: "+call.Name)
	}
	if !tool.Enabled() {
		return failed(call, models.ErrKindUnknownTool, "tool disabled: "+call.Name)
	}

	priority := tool.Priority()
	if err := ValidateArgs(tool.Schema(), call.Arguments); err != nil {
		result := failed(call, models.ErrKindInvalidArguments, err.Error())
		result.Priority = priority
		return result
	}

	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := d.executeGuarded(toolCtx, tool, call, timeout)
	result.TaskID = call.TaskID
	result.ToolName = call.Name
	result.Priority = priority
	return result
}

// executeGuarded runs the tool on its own goroutine so a stuck tool
// cannot outlive its deadline, and a panicking one becomes a failure.
func (d *Dispatcher) executeGuarded(ctx context.Context, tool Tool, call models.ToolCall, timeout time.Duration) *models.ToolExecutionResult {
	type execResult struct {
		result *models.ToolExecutionResult
		err    error
	}
	resultChan := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool panicked",
					"tool", call.Name,
					"task_id", call.TaskID,
					"panic", r,
					"stack", string(debug.Stack()))
				resultChan <- execResult{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Execute(ctx, call.Arguments)
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			d.logger.Warn("tool finished after deadline, result discarded",
				"tool", call.Name,
				"task_id", call.TaskID)
		}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failed(call, models.ErrKindTimeout,
				fmt.Sprintf("tool execution timed out after %v", timeout))
		}
		return failed(call, models.ErrKindCancelled, "tool execution cancelled")
	case res := <-resultChan:
		if res.err != nil {
			switch {
			case errors.Is(res.err, context.DeadlineExceeded):
				return failed(call, models.ErrKindTimeout,
					fmt.Sprintf("tool execution timed out after %v", timeout))
			case errors.Is(res.err, context.Canceled):
				return failed(call, models.ErrKindCancelled, "tool execution cancelled")
			}
			return failed(call, models.ErrKindExecution, res.err.Error())
		}
		if res.result == nil {
			return failed(call, models.ErrKindExecution, "tool returned no result")
		}
		return res.result
	}
}

func failed(call models.ToolCall, kind models.ErrorKind, content string) *models.ToolExecutionResult {
	return &models.ToolExecutionResult{
		TaskID:    call.TaskID,
		ToolName:  call.Name,
		Success:   false,
		Content:   content,
		ErrorKind: kind,
		Priority:  call.Priority,
	}
}
