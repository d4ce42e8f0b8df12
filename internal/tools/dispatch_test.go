package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prismbot/prism/pkg/models"
)

type stubTool struct {
	name     string
	priority int
	enabled  bool
	schema   json.RawMessage
	execute  func(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error)
}

func (s *stubTool) Name() string            { return s.name }
func (s *stubTool) Description() string     { return "stub tool " + s.name }
func (s *stubTool) Priority() int           { return s.priority }
func (s *stubTool) Enabled() bool           { return s.enabled }
func (s *stubTool) Schema() json.RawMessage { return s.schema }

func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
	return s.execute(ctx, args)
}

var openSchema = json.RawMessage(`{"type": "object"}`)

func okTool(name string, priority int) *stubTool {
	return &stubTool{
		name:     name,
		priority: priority,
		enabled:  true,
		schema:   openSchema,
		execute: func(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
			return &models.ToolExecutionResult{Success: true, Content: "ok from " + name}, nil
		},
	}
}

func newDispatcher(t *testing.T, tools ...Tool) *Dispatcher {
	t.Helper()
	registry := NewRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	return NewDispatcher(registry, DispatchConfig{})
}

func call(name string) models.ToolCall {
	return models.ToolCall{TaskID: "task-" + name, Name: name, Arguments: json.RawMessage("{}")}
}

func TestDispatchResultsInInputOrder(t *testing.T) {
	d := newDispatcher(t, okTool("alpha", 1), okTool("beta", 2), okTool("gamma", 3))

	calls := []models.ToolCall{call("gamma"), call("alpha"), call("beta")}
	results := d.Dispatch(context.Background(), calls, nil)

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, want := range []string{"gamma", "alpha", "beta"} {
		if results[i].ToolName != want {
			t.Errorf("results[%d].ToolName = %q, want %q", i, results[i].ToolName, want)
		}
		if !results[i].Success {
			t.Errorf("results[%d].Success = false, want true", i)
		}
		if results[i].TaskID != "task-"+want {
			t.Errorf("results[%d].TaskID = %q, want %q", i, results[i].TaskID, "task-"+want)
		}
	}
	if results[1].Priority != 1 {
		t.Errorf("alpha priority = %d, want 1", results[1].Priority)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newDispatcher(t)

	results := d.Dispatch(context.Background(), []models.ToolCall{call("ghost")}, nil)
	if results[0].Success {
		t.Error("unknown tool reported success")
	}
	if results[0].ErrorKind != models.ErrKindUnknownTool {
		t.Errorf("ErrorKind = %q, want %q", results[0].ErrorKind, models.ErrKindUnknownTool)
	}
}

func TestDispatchDisabledTool(t *testing.T) {
	tool := okTool("dormant", 1)
	tool.enabled = false
	d := newDispatcher(t, tool)

	results := d.Dispatch(context.Background(), []models.ToolCall{call("dormant")}, nil)
	if results[0].ErrorKind != models.ErrKindUnknownTool {
		t.Errorf("ErrorKind = %q, want %q", results[0].ErrorKind, models.ErrKindUnknownTool)
	}
}

func TestDispatchInvalidArguments(t *testing.T) {
	var called atomic.Bool
	tool := &stubTool{
		name:    "strict",
		enabled: true,
		schema:  json.RawMessage(`{"type": "object", "properties": {"n": {"type": "integer"}}, "required": ["n"]}`),
		execute: func(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
			called.Store(true)
			return &models.ToolExecutionResult{Success: true}, nil
		},
	}
	d := newDispatcher(t, tool)

	results := d.Dispatch(context.Background(), []models.ToolCall{
		{TaskID: "t1", Name: "strict", Arguments: json.RawMessage(`{"n": "not a number"}`)},
	}, nil)

	if results[0].ErrorKind != models.ErrKindInvalidArguments {
		t.Errorf("ErrorKind = %q, want %q", results[0].ErrorKind, models.ErrKindInvalidArguments)
	}
	if called.Load() {
		t.Error("tool was executed despite invalid arguments")
	}
}

func TestDispatchExecutionError(t *testing.T) {
	tool := &stubTool{
		name:    "flaky",
		enabled: true,
		schema:  openSchema,
		execute: func(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
			return nil, errors.New("upstream exploded")
		},
	}
	d := newDispatcher(t, tool)

	results := d.Dispatch(context.Background(), []models.ToolCall{call("flaky")}, nil)
	if results[0].ErrorKind != models.ErrKindExecution {
		t.Errorf("ErrorKind = %q, want %q", results[0].ErrorKind, models.ErrKindExecution)
	}
	if !strings.Contains(results[0].Content, "upstream exploded") {
		t.Errorf("Content = %q, want the execution error", results[0].Content)
	}
}

func TestDispatchPanicRecovered(t *testing.T) {
	tool := &stubTool{
		name:    "bomb",
		enabled: true,
		schema:  openSchema,
		execute: func(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
			panic("boom")
		},
	}
	d := newDispatcher(t, tool)

	results := d.Dispatch(context.Background(), []models.ToolCall{call("bomb")}, nil)
	if results[0].Success {
		t.Error("panicking tool reported success")
	}
	if results[0].ErrorKind != models.ErrKindExecution {
		t.Errorf("ErrorKind = %q, want %q", results[0].ErrorKind, models.ErrKindExecution)
	}
	if !strings.Contains(results[0].Content, "panicked") {
		t.Errorf("Content = %q, want panic note", results[0].Content)
	}
}

func TestDispatchTimeout(t *testing.T) {
	tool := &stubTool{
		name:    "slow",
		enabled: true,
		schema:  openSchema,
		execute: func(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d := newDispatcher(t, tool)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	results := d.Dispatch(ctx, []models.ToolCall{call("slow")}, nil)
	if results[0].ErrorKind != models.ErrKindTimeout {
		t.Errorf("ErrorKind = %q, want %q", results[0].ErrorKind, models.ErrKindTimeout)
	}
}

func TestDispatchCancelled(t *testing.T) {
	tool := &stubTool{
		name:    "patient",
		enabled: true,
		schema:  openSchema,
		execute: func(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d := newDispatcher(t, tool)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results := d.Dispatch(ctx, []models.ToolCall{call("patient")}, nil)
	if results[0].ErrorKind != models.ErrKindCancelled {
		t.Errorf("ErrorKind = %q, want %q", results[0].ErrorKind, models.ErrKindCancelled)
	}
}

func TestDispatchStatusTransitions(t *testing.T) {
	d := newDispatcher(t, okTool("alpha", 1))

	var mu sync.Mutex
	var seen []models.ToolStatus
	notify := func(s models.ToolStatus) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}

	d.Dispatch(context.Background(), []models.ToolCall{call("alpha")}, notify)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("transitions = %d, want 2 (running, completed)", len(seen))
	}
	if seen[0].State != models.ToolStateRunning {
		t.Errorf("first transition = %q, want running", seen[0].State)
	}
	if seen[1].State != models.ToolStateCompleted {
		t.Errorf("second transition = %q, want completed", seen[1].State)
	}
}

func TestDispatchConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	track := func(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return &models.ToolExecutionResult{Success: true}, nil
	}

	registry := NewRegistry()
	for _, name := range []string{"a", "b", "c", "d"} {
		registry.Register(&stubTool{name: name, enabled: true, schema: openSchema, execute: track})
	}
	d := NewDispatcher(registry, DispatchConfig{Concurrency: 2})

	d.Dispatch(context.Background(), []models.ToolCall{call("a"), call("b"), call("c"), call("d")}, nil)

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", got)
	}
}

func TestPerCallTimeout(t *testing.T) {
	tests := []struct {
		name  string
		round time.Duration
		calls int
		want  time.Duration
	}{
		{"single call keeps the round", 30 * time.Second, 1, 30 * time.Second},
		{"split across three", 30 * time.Second, 3, 10 * time.Second},
		{"floored for many calls", 30 * time.Second, 10, 5 * time.Second},
		{"short round still floored", 8 * time.Second, 4, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(NewRegistry(), DispatchConfig{RoundTimeout: tt.round})
			if got := d.perCallTimeout(tt.calls); got != tt.want {
				t.Errorf("perCallTimeout(%d) = %v, want %v", tt.calls, got, tt.want)
			}
		})
	}
}
