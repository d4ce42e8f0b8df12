package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prismbot/prism/internal/collect"
	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/internal/graph"
	"github.com/prismbot/prism/internal/llm"
	"github.com/prismbot/prism/internal/progress"
	"github.com/prismbot/prism/internal/schedule"
	"github.com/prismbot/prism/internal/tools"
	"github.com/prismbot/prism/internal/trend"
	"github.com/prismbot/prism/pkg/models"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

// fakeProvider answers every completion with a fixed text.
type fakeProvider struct {
	mu       sync.Mutex
	text     string
	requests []*llm.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	f.mu.Lock()
	captured := *req
	f.requests = append(f.requests, &captured)
	f.mu.Unlock()
	out := make(chan *llm.Chunk, 2)
	out <- &llm.Chunk{Text: f.text}
	out <- &llm.Chunk{Done: true}
	close(out)
	return out, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeProvider) last() *llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

// fakeResponder records plain-text notices.
type fakeResponder struct {
	mu    sync.Mutex
	sends []string
}

func (r *fakeResponder) SendText(_ context.Context, channelRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, channelRef+"|"+text)
	return nil
}

func (r *fakeResponder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sends...)
}

// completionObserver records only the final answer.
type completionObserver struct {
	mu    sync.Mutex
	final string
	count int
}

func (o *completionObserver) OnProgress(context.Context, models.ProgressEvent) error { return nil }
func (o *completionObserver) OnStreamingChunk(context.Context, models.StreamingChunk) error {
	return nil
}
func (o *completionObserver) OnStreamingComplete(context.Context) error { return nil }
func (o *completionObserver) OnError(context.Context, error) error      { return nil }

func (o *completionObserver) OnCompletion(_ context.Context, finalText string, _ []models.Source) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.final = finalText
	o.count++
	return nil
}

func (o *completionObserver) finalText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.final
}

type trendEmitter struct {
	mu    sync.Mutex
	sends []string
}

func (e *trendEmitter) SendText(_ context.Context, channelID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sends = append(e.sends, channelID+"|"+text)
	return nil
}

func (e *trendEmitter) SendSticker(_ context.Context, channelID, stickerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sends = append(e.sends, channelID+"|sticker|"+stickerID)
	return nil
}

func (e *trendEmitter) React(_ context.Context, channelID, messageID, emoji string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sends = append(e.sends, channelID+"|"+messageID+"|"+emoji)
	return nil
}

func (e *trendEmitter) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sends...)
}

type fixture struct {
	manager   *Manager
	provider  *fakeProvider
	responder *fakeResponder
	observer  *completionObserver
	emitter   *trendEmitter
}

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{MaxText: 10000, MaxImages: 3, MaxMessages: 25, HardTextCap: 20000}
}

func testTrendConfig() config.TrendConfig {
	return config.TrendConfig{
		Enabled:             true,
		CooldownSeconds:     60,
		MessageHistoryLimit: 10,
		ContentThreshold:    2,
		EmojiThreshold:      3,
		ReactionThreshold:   2,
		EnableProbabilistic: boolPtr(false),
		EnableRandomDelay:   boolPtr(false),
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	provider := &fakeProvider{text: "好的，我知道了"}
	registry := llm.NewRegistry()
	registry.Register(provider)
	gateway := llm.NewGateway(registry, config.LLMConfig{
		DefaultProvider: "fake",
		Models: config.RoleModels{
			Planner:       config.ModelConfig{Model: "fake/plan-1"},
			Finalizer:     config.ModelConfig{Model: "fake/final-1"},
			Reflector:     config.ModelConfig{Model: "fake/reflect-1"},
			ProgressBlurb: config.ModelConfig{Model: "fake/blurb-1"},
		},
	})

	toolRegistry := tools.NewRegistry()
	engine := graph.New(graph.Deps{
		Gateway:    gateway,
		Planner:    toolRegistry.Bind(gateway),
		Dispatcher: tools.NewDispatcher(toolRegistry, tools.DispatchConfig{}),
		Registry:   toolRegistry,
	}, graph.Config{
		Behavior:  config.BehaviorConfig{MaxToolRounds: intPtr(0)},
		Streaming: config.StreamingConfig{Enabled: boolPtr(false)},
		Prompt:    config.PromptSystemConfig{Persona: config.PersonaConfig{Enabled: boolPtr(false)}},
	})

	responder := &fakeResponder{}
	observer := &completionObserver{}
	emitter := &trendEmitter{}
	trendEngine := trend.New(cfg.Trend, emitter, nil, nil)

	manager := New(Deps{
		Collector: collect.New(nil, testLimits(), config.InputMediaConfig{}, nil),
		Engine:    engine,
		Trend:     trendEngine,
		Responder: responder,
		Observers: func(*Request) []ObserverRegistration {
			return []ObserverRegistration{{Observer: observer, Config: progress.ObserverConfig{Name: "test"}}}
		},
	}, cfg)

	return &fixture{
		manager:   manager,
		provider:  provider,
		responder: responder,
		observer:  observer,
		emitter:   emitter,
	}
}

func defaultConfig() Config {
	return Config{
		Permissions: config.PermissionsConfig{AllowDMs: true},
		Trend:       testTrendConfig(),
	}
}

func invocation(text string) *Request {
	return &Request{
		ChannelRef: "chan-1",
		UserRef:    "user-1",
		GuildID:    "guild-1",
		Invocation: true,
		Message: models.Message{
			Role:    models.RoleUser,
			Content: text,
			Meta:    models.MessageMeta{AuthorName: "小明", Timestamp: time.Now()},
		},
	}
}

func chatter(text string) *Request {
	req := invocation(text)
	req.Invocation = false
	return req
}

func TestHandleMessageRunsAgent(t *testing.T) {
	f := newFixture(t, defaultConfig())

	if err := f.manager.HandleMessage(context.Background(), invocation("你好")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if got := f.observer.finalText(); got != "好的，我知道了" {
		t.Errorf("completion = %q", got)
	}
	// The delivered answer joins the channel cache as a bot message.
	snaps := f.manager.cache.Snapshots("chan-1")
	if len(snaps) != 2 || !snaps[1].FromBot || snaps[1].Text != "好的，我知道了" {
		t.Errorf("cache = %+v, want user message then bot answer", snaps)
	}
}

func TestHandleMessageMaintenanceMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.Maintenance = config.MaintenanceConfig{Enabled: true, Message: "升級中，晚點再來"}
	f := newFixture(t, cfg)

	if err := f.manager.HandleMessage(context.Background(), invocation("你好")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	sends := f.responder.all()
	if len(sends) != 1 || sends[0] != "chan-1|升級中，晚點再來" {
		t.Errorf("sends = %v", sends)
	}
	if f.provider.calls() != 0 {
		t.Errorf("model called %d times in maintenance mode", f.provider.calls())
	}
}

func TestGateVerdicts(t *testing.T) {
	perms := config.PermissionsConfig{
		AllowDMs:        false,
		BlockedUsers:    []string{"bad-user"},
		BlockedRoles:    []string{"bad-role"},
		BlockedChannels: []string{"bad-chan"},
		AllowedChannels: []string{"chan-1"},
		AllowedUsers:    []string{"vip"},
		AllowedRoles:    []string{"member"},
	}
	m := New(Deps{}, Config{Permissions: perms})

	tests := []struct {
		name string
		req  *Request
		want gateVerdict
	}{
		{"blocked user", &Request{ChannelRef: "chan-1", UserRef: "bad-user"}, gateDenySilent},
		{"blocked role wins over allowed user", &Request{ChannelRef: "chan-1", UserRef: "vip", RoleRefs: []string{"bad-role", "member"}}, gateDenySilent},
		{"blocked channel", &Request{ChannelRef: "bad-chan", UserRef: "vip"}, gateDenySilent},
		{"channel not allowed", &Request{ChannelRef: "chan-2", UserRef: "vip"}, gateDenySilent},
		{"user not allowed", &Request{ChannelRef: "chan-1", UserRef: "someone"}, gateDenySilent},
		{"role admits unlisted user", &Request{ChannelRef: "chan-1", UserRef: "someone", RoleRefs: []string{"member"}}, gateAllow},
		{"allowed user", &Request{ChannelRef: "chan-1", UserRef: "vip"}, gateAllow},
		{"dm rejected", &Request{IsDM: true, UserRef: "vip"}, gateDenyNotify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := m.gate(tt.req)
			if got != tt.want {
				t.Errorf("gate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleMessageTrendFollowsChatter(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	if err := f.manager.HandleMessage(ctx, chatter("好欸")); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.HandleMessage(ctx, chatter("好欸")); err != nil {
		t.Fatal(err)
	}

	sends := f.emitter.all()
	if len(sends) != 1 || sends[0] != "chan-1|好欸" {
		t.Errorf("emitter sends = %v, want one content follow", sends)
	}
	if f.provider.calls() != 0 {
		t.Errorf("model called %d times for chatter", f.provider.calls())
	}
}

func TestHandleMessageTrendClaimSkipsAgent(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	if err := f.manager.HandleMessage(ctx, chatter("好欸")); err != nil {
		t.Fatal(err)
	}
	// The second identical message is an invocation, but the content
	// trend claims it before the agent sees it.
	if err := f.manager.HandleMessage(ctx, invocation("好欸")); err != nil {
		t.Fatal(err)
	}

	if sends := f.emitter.all(); len(sends) != 1 {
		t.Errorf("emitter sends = %v, want one follow", sends)
	}
	if f.provider.calls() != 0 {
		t.Errorf("model called %d times after trend claim", f.provider.calls())
	}
}

func TestHandleMessageInputTooLarge(t *testing.T) {
	cfg := defaultConfig()
	f := newFixture(t, cfg)
	limits := testLimits()
	limits.HardTextCap = 10
	f.manager.deps.Collector = collect.New(nil, limits, config.InputMediaConfig{}, nil)

	if err := f.manager.HandleMessage(context.Background(), invocation(strings.Repeat("長", 50))); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	sends := f.responder.all()
	if len(sends) != 1 || !strings.Contains(sends[0], "太長") {
		t.Errorf("sends = %v, want oversized-input notice", sends)
	}
	if f.provider.calls() != 0 {
		t.Errorf("model called %d times for oversized input", f.provider.calls())
	}
}

func TestHandleReminderReentersAgent(t *testing.T) {
	f := newFixture(t, defaultConfig())

	err := f.manager.HandleReminder(context.Background(), schedule.Event{
		ID:         "e1",
		Content:    "記得伸展一下",
		ChannelRef: "chan-9",
		UserRef:    "user-1",
	})
	if err != nil {
		t.Fatalf("HandleReminder() error = %v", err)
	}

	if got := f.observer.finalText(); got != "好的，我知道了" {
		t.Errorf("completion = %q", got)
	}
	req := f.provider.last()
	if req == nil {
		t.Fatal("model never called")
	}
	var prompt string
	for _, msg := range req.Messages {
		prompt += msg.Text()
	}
	if !strings.Contains(prompt, "提醒：記得伸展一下") {
		t.Errorf("reminder prompt missing from messages: %q", prompt)
	}
}

func TestScheduleRemindersQuotaNotice(t *testing.T) {
	f := newFixture(t, defaultConfig())

	dir := t.TempDir()
	cfg := config.ReminderConfig{
		Enabled:             boolPtr(true),
		PersistenceFile:     dir + "/events.json",
		MaxRemindersPerUser: 1,
		MaxRetries:          1,
	}
	scheduler, err := schedule.New(schedule.NewFileStore(cfg.PersistenceFile, nil), cfg, f.manager.HandleReminder, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.manager.deps.Scheduler = scheduler

	details := models.ReminderDetails{
		Content:    "喝水",
		FireAt:     time.Now().Add(time.Hour),
		ChannelRef: "chan-1",
		UserRef:    "user-1",
	}
	f.manager.scheduleReminders(context.Background(), invocation("x"), []models.ReminderDetails{details, details})

	sends := f.responder.all()
	if len(sends) != 1 || !strings.Contains(sends[0], "上限") {
		t.Errorf("sends = %v, want one quota notice", sends)
	}
	if pending := scheduler.Pending("user-1"); len(pending) != 1 {
		t.Errorf("Pending() = %+v, want the first reminder only", pending)
	}
}

func TestHandleReactionDelegatesToTrend(t *testing.T) {
	f := newFixture(t, defaultConfig())

	claimed := f.manager.HandleReaction(context.Background(), trend.ReactionEvent{
		ChannelID: "chan-1",
		MessageID: "m1",
		Emoji:     "👍",
		Count:     2,
	})
	if !claimed {
		t.Fatal("HandleReaction() = false, want follow")
	}
	sends := f.emitter.all()
	if len(sends) != 1 || sends[0] != "chan-1|m1|👍" {
		t.Errorf("emitter sends = %v", sends)
	}
}

func TestHandleMessageReturnsRunError(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.provider.text = "" // irrelevant; engine fails on cancelled context

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.manager.HandleMessage(ctx, invocation("你好"))
	var nodeErr *graph.NodeError
	if !errors.As(err, &nodeErr) {
		t.Fatalf("HandleMessage() error = %v, want NodeError", err)
	}
}
