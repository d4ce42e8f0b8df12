package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/internal/emoji"
	"github.com/prismbot/prism/internal/llm"
	"github.com/prismbot/prism/internal/persona"
	"github.com/prismbot/prism/internal/progress"
	"github.com/prismbot/prism/internal/tools"
	"github.com/prismbot/prism/internal/tools/videosummary"
	"github.com/prismbot/prism/pkg/models"
)

// Node progress percentages, matched by the console and Discord
// observers when they render a bar.
const (
	progressPlan     = 20
	progressExecute  = 40
	progressSearch   = 50
	progressAnalyze  = 60
	progressReflect  = 70
	progressFinalize = 90
	progressDone     = 100
)

// searchTool marks the round as a search for progress reporting.
const searchTool = "google_search"

// researchTopicRunes bounds the topic handle cut from the latest user
// message.
const researchTopicRunes = 200

// predetectTool is the tool invoked for deterministic URL matches
// ahead of the planner.
const predetectTool = "youtube_summary"

var tracer = otel.Tracer("github.com/prismbot/prism/internal/graph")

// NodeObserver receives the duration of every finished node.
type NodeObserver interface {
	ObserveNode(node string, elapsed time.Duration)
}

// Deps are the collaborators one engine drives. Gateway, Planner and
// Dispatcher are required; the rest degrade to no-ops when nil.
type Deps struct {
	Gateway    *llm.Gateway
	Planner    *llm.BoundGateway
	Dispatcher *tools.Dispatcher
	Registry   *tools.Registry
	Personas   *persona.Store
	Emoji      *emoji.Registry
	Metrics    NodeObserver
	Logger     *slog.Logger
}

// Config is the slice of the application configuration the graph
// consumes.
type Config struct {
	Behavior  config.BehaviorConfig
	Streaming config.StreamingConfig
	Prompt    config.PromptSystemConfig

	// Timezone renders timestamp and date lines. Nil means UTC.
	Timezone *time.Location
}

// Engine runs invocations through plan, execute, reflect, finalize.
// Safe for concurrent use; all per-invocation data lives on the State.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNow fixes the clock for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an engine over the given collaborators.
func New(deps Deps, cfg Config, opts ...Option) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Emoji == nil {
		deps.Emoji = emoji.NewRegistry()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	e := &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With("component", "graph"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives one invocation to completion. On success st.FinalAnswer
// is set and the bus has received the completion; on failure the bus
// receives the error and the returned error carries the failing node.
func (e *Engine) Run(ctx context.Context, st *State) error {
	if st.Bus == nil {
		st.Bus = progress.NewBus()
	}

	if err := e.runNode(ctx, st, "plan", e.plan); err != nil {
		return e.fail(st, "plan", err)
	}

	maxRounds := e.cfg.Behavior.ToolRounds()
	for st.Plan.NeedsTools && st.ToolRound < maxRounds {
		if err := e.runNode(ctx, st, "execute", e.execute); err != nil {
			return e.fail(st, "execute", err)
		}
		if err := e.runNode(ctx, st, "reflect", e.reflect); err != nil {
			return e.fail(st, "reflect", err)
		}
		if st.IsSufficient || st.ToolRound >= maxRounds {
			break
		}
		if err := e.runNode(ctx, st, "plan", e.plan); err != nil {
			return e.fail(st, "plan", err)
		}
	}

	if err := e.runNode(ctx, st, "finalize", e.finalize); err != nil {
		return e.fail(st, "finalize", err)
	}
	return nil
}

// runNode wraps one node in a span and duration observation.
func (e *Engine) runNode(ctx context.Context, st *State, name string, fn func(context.Context, *State) error) error {
	ctx, span := tracer.Start(ctx, "graph."+name)
	start := time.Now()
	err := fn(ctx, st)
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveNode(name, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return err
}

func (e *Engine) fail(st *State, node string, err error) error {
	st.Bus.PublishError(err)
	return &NodeError{Node: node, Round: st.ToolRound, Err: err}
}

// plan picks the persona on first entry, applies the pre-detection
// hook, and asks the planner for tool calls. With tools disabled it
// short-circuits to a no-tools plan.
func (e *Engine) plan(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.pickPersona(st)
	if st.ResearchTopic == "" {
		st.ResearchTopic = truncateRunes(strings.TrimSpace(st.lastUserText()), researchTopicRunes)
	}
	st.Bus.Publish(models.ProgressEvent{Stage: models.StageGenerateQuery, Progress: progressPlan})

	if e.cfg.Behavior.ToolRounds() == 0 {
		st.Plan = &models.AgentPlan{}
		return nil
	}

	pre := e.predetect(st)

	planReq := &llm.Request{
		System:   plannerSystem(e.now().In(e.cfg.Timezone)),
		Messages: st.Messages,
	}
	planned, err := e.deps.Planner.Plan(ctx, planReq)
	if err != nil && llm.KindOf(err) == llm.KindContextOverflow && len(st.Messages) > 1 {
		e.logger.Warn("planner context overflow, dropping oldest history", "messages", len(st.Messages))
		planReq.Messages = dropOldest(st.Messages)
		planned, err = e.deps.Planner.Plan(ctx, planReq)
	}
	if err != nil {
		if llm.KindOf(err) == llm.KindInvalidStructuredOutput {
			// A planner that cannot produce parseable tool calls still
			// leaves an answerable conversation.
			e.logger.Warn("planner output unusable, continuing without tools", "error", err)
			st.Plan = &models.AgentPlan{}
			return nil
		}
		return fmt.Errorf("planner: %w", err)
	}

	calls := append([]models.ToolCall{}, pre...)
	for _, call := range planned.ToolCalls {
		// The pre-detected call already covers the URL; a planner
		// duplicate of the same tool is dropped.
		if len(pre) > 0 && call.Name == predetectTool {
			continue
		}
		calls = append(calls, call)
	}

	st.Plan = &models.AgentPlan{
		NeedsTools: len(calls) > 0,
		ToolCalls:  calls,
		Reasoning:  planned.Reasoning,
	}
	return nil
}

func (e *Engine) pickPersona(st *State) {
	if st.Persona != "" || e.deps.Personas == nil || !e.cfg.Prompt.Persona.IsEnabled() {
		return
	}
	st.Persona = e.deps.Personas.Pick().Text
}

// predetect synthesizes the video-summary call when the latest user
// message carries a recognized URL, so those requests never depend on
// the planner noticing. First round only.
func (e *Engine) predetect(st *State) []models.ToolCall {
	if st.ToolRound > 0 || e.deps.Registry == nil {
		return nil
	}
	tool, ok := e.deps.Registry.Get(predetectTool)
	if !ok || !tool.Enabled() {
		return nil
	}
	url, ok := videosummary.ExtractFirstURL(st.lastUserText())
	if !ok {
		return nil
	}
	args, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return nil
	}
	return []models.ToolCall{{
		TaskID:    "predetect-" + uuid.NewString(),
		Name:      tool.Name(),
		Arguments: args,
		Priority:  tool.Priority(),
	}}
}

// execute dispatches the planned calls in parallel and merges the
// round's results into the accumulated state.
func (e *Engine) execute(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	calls := st.Plan.ToolCalls
	tracker := newStatusTracker(calls)
	st.Bus.Publish(models.ProgressEvent{
		Stage:    models.StageToolExecution,
		Progress: progressExecute,
		Tools:    tracker.snapshot(),
	})
	if callsTool(calls, searchTool) {
		st.Bus.Publish(models.ProgressEvent{Stage: models.StageSearching, Progress: progressSearch})
	}

	execCtx := tools.WithInvocation(ctx, tools.Invocation{
		ChannelRef: st.ChannelRef,
		UserRef:    st.UserRef,
	})
	results := e.deps.Dispatcher.Dispatch(execCtx, calls, func(status models.ToolStatus) {
		snap := tracker.update(status)
		st.Bus.Publish(models.ProgressEvent{
			Stage:    models.StageToolStatus,
			Message:  statusLines(snap),
			Progress: progressExecute,
			Tools:    snap,
		})
	})

	st.Bus.Publish(models.ProgressEvent{Stage: models.StageAnalyzing, Progress: progressAnalyze})
	st.ToolResults = results
	e.aggregate(st, results)
	st.ToolRound++

	return ctx.Err()
}

func callsTool(calls []models.ToolCall, name string) bool {
	for _, call := range calls {
		if call.Name == name {
			return true
		}
	}
	return false
}

// aggregate merges one round into the accumulated results, sources and
// reminder side effects. Result order is priority ascending, insertion
// order within a priority; duplicate content is kept once.
func (e *Engine) aggregate(st *State, results []*models.ToolExecutionResult) {
	seen := make(map[string]bool, len(st.Aggregated))
	for _, r := range st.Aggregated {
		seen[strings.TrimSpace(r.Content)] = true
	}
	urls := make(map[string]bool, len(st.Sources))
	for _, s := range st.Sources {
		urls[s.URL] = true
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.SideEffect != nil {
			st.Reminders = append(st.Reminders, *r.SideEffect)
		}
		if !r.Success {
			e.logger.Warn("tool call failed",
				"tool", r.ToolName, "task_id", r.TaskID, "kind", r.ErrorKind)
			continue
		}
		for _, src := range r.Sources {
			if src.URL == "" || urls[src.URL] {
				continue
			}
			urls[src.URL] = true
			st.Sources = append(st.Sources, src)
		}
		content := strings.TrimSpace(r.Content)
		if content == "" || seen[content] {
			continue
		}
		seen[content] = true
		st.Aggregated = append(st.Aggregated, r)
	}

	sort.SliceStable(st.Aggregated, func(i, j int) bool {
		return st.Aggregated[i].Priority < st.Aggregated[j].Priority
	})
}

// reflect decides whether another round is needed. Skipped and treated
// as sufficient when reflection is disabled or the round budget is
// spent; a round in which every call failed is insufficient without
// consulting the model.
func (e *Engine) reflect(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !e.cfg.Behavior.ReflectionEnabled() || st.ToolRound >= e.cfg.Behavior.ToolRounds() {
		st.IsSufficient = true
		return nil
	}

	st.Bus.Publish(models.ProgressEvent{Stage: models.StageReflection, Progress: progressReflect})

	if allFailed(st.ToolResults) {
		st.IsSufficient = false
		st.ReflectionReasoning = "本輪工具呼叫全部失敗，尚未取得可用的資料"
		return nil
	}

	var verdict reflectionVerdict
	err := e.deps.Gateway.GenerateJSON(ctx, llm.RoleReflector, &llm.Request{
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: reflectionPrompt(st.ResearchTopic, st.Aggregated),
		}},
	}, &verdict)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A broken reflector should not strand the answer.
		e.logger.Warn("reflection failed, finalizing with gathered results", "error", err)
		st.IsSufficient = true
		return nil
	}

	st.IsSufficient = verdict.IsSufficient
	st.ReflectionReasoning = verdict.Reasoning
	return nil
}

func allFailed(results []*models.ToolExecutionResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r != nil && r.Success {
			return false
		}
	}
	return true
}

// finalize produces the answer and delivers it through the bus,
// streaming when the configuration and registered observers allow it.
func (e *Engine) finalize(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st.Bus.Publish(models.ProgressEvent{Stage: models.StageFinalizeAnswer, Progress: progressFinalize})

	now := e.now().In(e.cfg.Timezone)
	sys := finalSystem{
		Persona:      st.Persona,
		Results:      st.Aggregated,
		EmojiContext: e.deps.Emoji.PromptContext(st.GuildID),
		Date:         now.Format(dateLayout),
	}
	if e.cfg.Prompt.DiscordIntegration.TimestampEnabled() {
		sys.Timestamp = now.Format("2006年01月02日 15:04 (MST)")
	}
	req := &llm.Request{System: sys.render(), Messages: st.Messages}

	answer := e.generateAnswer
	if e.cfg.Streaming.IsEnabled() && st.Bus.Observers() > 0 {
		answer = e.streamAnswer
	}
	final, err := answer(ctx, st, req)
	if err != nil && llm.KindOf(err) == llm.KindContextOverflow && len(st.Messages) > 1 {
		e.logger.Warn("finalizer context overflow, dropping oldest history", "messages", len(st.Messages))
		shorter := *req
		shorter.Messages = dropOldest(st.Messages)
		final, err = answer(ctx, st, &shorter)
	}
	if err != nil {
		return err
	}

	st.FinalAnswer = final
	st.Bus.Publish(models.ProgressEvent{Stage: models.StageCompleted, Progress: progressDone})
	st.Bus.PublishCompletion(final, st.Sources)
	return nil
}

func (e *Engine) generateAnswer(ctx context.Context, st *State, req *llm.Request) (string, error) {
	reply, err := e.deps.Gateway.Generate(ctx, llm.RoleFinalizer, req)
	if err != nil {
		return "", fmt.Errorf("finalizer: %w", err)
	}
	return e.deps.Emoji.Repair(reply.Text, st.GuildID), nil
}

// streamAnswer relays the finalizer stream through the emoji repairer.
// Chunk emission is withheld until min_content_length is reached; an
// answer that ends below the threshold is delivered whole through the
// completion instead of as a stream.
func (e *Engine) streamAnswer(ctx context.Context, st *State, req *llm.Request) (string, error) {
	streamCtx := ctx
	if d := e.cfg.Streaming.Timeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	chunks, err := e.deps.Gateway.Stream(streamCtx, llm.RoleFinalizer, req)
	if err != nil {
		return "", fmt.Errorf("finalizer: %w", err)
	}

	repairer := emoji.NewStreamRepairer(e.deps.Emoji, st.GuildID)
	var full strings.Builder
	var held strings.Builder
	emitting := e.cfg.Streaming.MinContentLength <= 0

	for chunk := range chunks {
		if chunk.Err != nil {
			if full.Len() == 0 {
				return "", fmt.Errorf("finalizer: %w", chunk.Err)
			}
			if streamCtx.Err() != nil {
				return "", fmt.Errorf("finalizer: %w", chunk.Err)
			}
			// Keep the partial answer; losing delivered text is worse
			// than losing the tail.
			e.logger.Warn("finalizer stream ended early, keeping partial answer", "error", chunk.Err)
			break
		}
		if chunk.Text == "" {
			continue
		}
		out := repairer.Feed(chunk.Text)
		if out == "" {
			continue
		}
		full.WriteString(out)
		if emitting {
			st.Bus.PublishChunk(models.StreamingChunk{Content: out})
			continue
		}
		held.WriteString(out)
		if utf8.RuneCountInString(full.String()) >= e.cfg.Streaming.MinContentLength {
			emitting = true
			st.Bus.PublishChunk(models.StreamingChunk{Content: held.String()})
			held.Reset()
		}
	}

	tail := repairer.Flush()
	full.WriteString(tail)

	if !emitting {
		// Short answer: delivered whole via the completion.
		return full.String(), nil
	}
	st.Bus.PublishChunk(models.StreamingChunk{Content: tail, IsFinal: true})
	st.Bus.PublishStreamingComplete()
	return full.String(), nil
}

// statusTracker keeps the per-call status of one execute round in call
// order for compact progress rendering.
type statusTracker struct {
	mu    sync.Mutex
	order []string
	byID  map[string]models.ToolStatus
}

func newStatusTracker(calls []models.ToolCall) *statusTracker {
	t := &statusTracker{
		order: make([]string, 0, len(calls)),
		byID:  make(map[string]models.ToolStatus, len(calls)),
	}
	for _, call := range calls {
		t.order = append(t.order, call.TaskID)
		t.byID[call.TaskID] = models.ToolStatus{
			TaskID:   call.TaskID,
			ToolName: call.Name,
			State:    models.ToolStatePending,
		}
	}
	return t
}

func (t *statusTracker) update(status models.ToolStatus) []models.ToolStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[status.TaskID]; !ok {
		t.order = append(t.order, status.TaskID)
	}
	t.byID[status.TaskID] = status
	return t.snapshotLocked()
}

func (t *statusTracker) snapshot() []models.ToolStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *statusTracker) snapshotLocked() []models.ToolStatus {
	out := make([]models.ToolStatus, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// statusLines renders one symbol line per call.
func statusLines(statuses []models.ToolStatus) string {
	lines := make([]string, 0, len(statuses))
	for _, s := range statuses {
		lines = append(lines, s.State.Symbol()+" "+s.ToolName)
	}
	return strings.Join(lines, "\n")
}

// dropOldest halves the history, keeping the newest messages.
func dropOldest(msgs []models.Message) []models.Message {
	return msgs[len(msgs)/2:]
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
