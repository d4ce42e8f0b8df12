package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prismbot/prism/internal/backoff"
	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/pkg/models"
)

var tracer = otel.Tracer("github.com/prismbot/prism/internal/llm")

// Role selects which configured model handles a request.
type Role string

const (
	RolePlanner       Role = "planner"
	RoleFinalizer     Role = "finalizer"
	RoleReflector     Role = "reflector"
	RoleProgressBlurb Role = "progress_blurb"
)

// Gateway routes role-addressed requests to the configured provider and
// model, retrying transient failures with exponential backoff.
type Gateway struct {
	registry        *Registry
	roles           config.RoleModels
	defaultProvider string
	maxRetries      int
	policy          backoff.Policy
	logger          *slog.Logger
	metrics         RequestRecorder
}

// RequestRecorder receives the outcome of every gateway call.
type RequestRecorder interface {
	RecordLLMRequest(role, provider, status string, elapsed time.Duration)
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the logger used by the gateway.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithBackoffPolicy overrides the retry backoff policy.
func WithBackoffPolicy(policy backoff.Policy) GatewayOption {
	return func(g *Gateway) { g.policy = policy }
}

// WithMetrics sets the recorder notified about every finished call.
func WithMetrics(rec RequestRecorder) GatewayOption {
	return func(g *Gateway) { g.metrics = rec }
}

// NewGateway creates a Gateway over the registered providers.
func NewGateway(registry *Registry, cfg config.LLMConfig, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		registry:        registry,
		roles:           cfg.Models,
		defaultProvider: cfg.DefaultProvider,
		maxRetries:      cfg.MaxRetries,
		policy:          backoff.Default(),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "llm")
	return g
}

func (g *Gateway) modelFor(role Role) (config.ModelConfig, error) {
	var mc config.ModelConfig
	switch role {
	case RolePlanner:
		mc = g.roles.Planner
	case RoleFinalizer:
		mc = g.roles.Finalizer
	case RoleReflector:
		mc = g.roles.Reflector
	case RoleProgressBlurb:
		mc = g.roles.ProgressBlurb
	default:
		return mc, fmt.Errorf("llm: unknown role %q", role)
	}
	if mc.Model == "" {
		return mc, fmt.Errorf("llm: no model configured for role %q", role)
	}
	return mc, nil
}

// resolve maps a role onto a provider and a bare model name, filling
// temperature and token defaults the request leaves unset.
func (g *Gateway) resolve(role Role, req *Request) (Provider, *Request, error) {
	mc, err := g.modelFor(role)
	if err != nil {
		return nil, nil, err
	}

	providerName, model := SplitModel(mc.Model)
	if providerName == "" {
		providerName = g.defaultProvider
	}
	provider, err := g.registry.Get(providerName)
	if err != nil {
		return nil, nil, err
	}

	resolved := *req
	resolved.Model = model
	if resolved.Temperature == 0 {
		resolved.Temperature = mc.Temperature
	}
	if resolved.MaxOutputTokens == 0 {
		resolved.MaxOutputTokens = mc.MaxOutputTokens
	}
	return provider, &resolved, nil
}

// Generate runs a request to completion and collects the full reply.
// TransientNetwork and RateLimited failures are retried up to the
// configured limit; all other failures return immediately so callers
// can apply their own recovery, such as dropping history on overflow.
func (g *Gateway) Generate(ctx context.Context, role Role, req *Request) (*Reply, error) {
	provider, resolved, err := g.resolve(role, req)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.role", string(role)),
		attribute.String("llm.provider", provider.Name()),
		attribute.String("llm.model", resolved.Model),
	))
	start := time.Now()

	reply, err := backoff.Retry(ctx, g.policy, g.maxRetries+1, Retryable,
		func(ctx context.Context, attempt int) (*Reply, error) {
			if attempt > 1 {
				g.logger.Warn("retrying model call",
					"role", role,
					"provider", provider.Name(),
					"model", resolved.Model,
					"attempt", attempt)
			}
			return g.collect(ctx, provider, resolved)
		})

	g.record(role, provider.Name(), err, time.Since(start))
	endSpan(span, err)
	return reply, err
}

// record reports one finished call to the recorder, when configured.
func (g *Gateway) record(role Role, provider string, err error, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordLLMRequest(string(role), provider, callStatus(err), elapsed)
}

func callStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var le *Error
	if errors.As(err, &le) {
		return string(le.Kind)
	}
	return "error"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (g *Gateway) collect(ctx context.Context, provider Provider, req *Request) (*Reply, error) {
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, WrapError(provider.Name(), req.Model, err)
	}

	var text strings.Builder
	reply := &Reply{}
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return nil, WrapError(provider.Name(), req.Model, chunk.Err)
		case chunk.ToolCall != nil:
			reply.ToolCalls = append(reply.ToolCalls, *chunk.ToolCall)
		case chunk.Text != "":
			text.WriteString(chunk.Text)
		}
	}
	reply.Text = text.String()
	return reply, nil
}

// Stream runs a request and forwards chunks as they arrive. Failures
// before the first chunk is delivered are retried like Generate; once
// anything has been forwarded, a failure is delivered as a final chunk
// carrying Err so callers can keep the partial output.
func (g *Gateway) Stream(ctx context.Context, role Role, req *Request) (<-chan *Chunk, error) {
	provider, resolved, err := g.resolve(role, req)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "llm.stream", trace.WithAttributes(
		attribute.String("llm.role", string(role)),
		attribute.String("llm.provider", provider.Name()),
		attribute.String("llm.model", resolved.Model),
	))
	start := time.Now()
	finish := func(err error) {
		g.record(role, provider.Name(), err, time.Since(start))
		endSpan(span, err)
	}

	out := make(chan *Chunk)
	go func() {
		defer close(out)
		maxAttempts := g.maxRetries + 1
		for attempt := 1; ; attempt++ {
			delivered, err := g.relay(ctx, provider, resolved, out)
			if err == nil {
				finish(nil)
				return
			}
			if delivered || attempt >= maxAttempts || !Retryable(err) {
				finish(err)
				out <- &Chunk{Err: err, Done: true}
				return
			}
			g.logger.Warn("retrying model stream",
				"role", role,
				"provider", provider.Name(),
				"model", resolved.Model,
				"attempt", attempt+1)
			if err := backoff.SleepAttempt(ctx, g.policy, attempt); err != nil {
				wrapped := WrapError(provider.Name(), resolved.Model, err)
				finish(wrapped)
				out <- &Chunk{Err: wrapped, Done: true}
				return
			}
		}
	}()
	return out, nil
}

// relay forwards one provider stream. It reports whether any chunk was
// delivered downstream before the stream ended.
func (g *Gateway) relay(ctx context.Context, provider Provider, req *Request, out chan<- *Chunk) (bool, error) {
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return false, WrapError(provider.Name(), req.Model, err)
	}

	delivered := false
	for chunk := range chunks {
		if chunk.Err != nil {
			return delivered, WrapError(provider.Name(), req.Model, chunk.Err)
		}
		if chunk.Done {
			out <- chunk
			return true, nil
		}
		select {
		case out <- chunk:
			delivered = true
		case <-ctx.Done():
			return delivered, WrapError(provider.Name(), req.Model, ctx.Err())
		}
	}
	return delivered, nil
}

// GenerateJSON runs a JSON-mode request and decodes the reply into out.
// A reply that fails to parse triggers a single repair round that feeds
// the parse error back to the model; a second failure surfaces as
// KindInvalidStructuredOutput.
func (g *Gateway) GenerateJSON(ctx context.Context, role Role, req *Request, out any) error {
	jsonReq := *req
	jsonReq.JSONMode = true

	reply, err := g.Generate(ctx, role, &jsonReq)
	if err != nil {
		return err
	}

	raw := StripCodeFences(reply.Text)
	firstErr := json.Unmarshal([]byte(raw), out)
	if firstErr == nil {
		return nil
	}

	g.logger.Warn("structured output failed to parse, requesting repair",
		"role", role, "error", firstErr)

	repair := jsonReq
	repair.Messages = append(append([]models.Message{}, jsonReq.Messages...),
		models.Message{Role: models.RoleAssistant, Content: reply.Text},
		models.Message{
			Role: models.RoleUser,
			Content: fmt.Sprintf(
				"Your previous reply was not valid JSON (%v). Reply again with only the corrected JSON object.",
				firstErr),
		})

	reply, err = g.Generate(ctx, role, &repair)
	if err != nil {
		return err
	}
	raw = StripCodeFences(reply.Text)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		mc, _ := g.modelFor(role)
		providerName, model := SplitModel(mc.Model)
		if providerName == "" {
			providerName = g.defaultProvider
		}
		return &Error{
			Kind:     KindInvalidStructuredOutput,
			Provider: providerName,
			Model:    model,
			Err:      err,
		}
	}
	return nil
}

// StripCodeFences removes a Markdown code fence wrapper from model
// output, tolerating a language tag after the opening fence.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine == "" || isFenceTag(firstLine) {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// BoundGateway pairs a Gateway with a fixed tool surface for planning.
type BoundGateway struct {
	gateway *Gateway
	tools   []ToolDef
}

// Bind returns a gateway view that advertises the given tools.
func (g *Gateway) Bind(tools []ToolDef) *BoundGateway {
	return &BoundGateway{gateway: g, tools: tools}
}

// Tools returns the bound tool definitions.
func (b *BoundGateway) Tools() []ToolDef { return b.tools }

// Plan asks the planner model to decide on tool usage for the request.
// Tool calls are normalized: every call gets a non-empty task ID and
// arguments default to an empty object.
func (b *BoundGateway) Plan(ctx context.Context, req *Request) (*models.AgentPlan, error) {
	planReq := *req
	planReq.Tools = b.tools

	reply, err := b.gateway.Generate(ctx, RolePlanner, &planReq)
	if err != nil {
		return nil, err
	}

	plan := &models.AgentPlan{
		Reasoning: strings.TrimSpace(reply.Text),
	}
	for _, call := range reply.ToolCalls {
		if call.TaskID == "" {
			call.TaskID = uuid.NewString()
		}
		if len(call.Arguments) == 0 {
			call.Arguments = json.RawMessage("{}")
		}
		plan.ToolCalls = append(plan.ToolCalls, call)
	}
	plan.NeedsTools = len(plan.ToolCalls) > 0
	return plan, nil
}
