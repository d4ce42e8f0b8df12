// Package websearch implements the google_search tool on Gemini
// search grounding.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/prismbot/prism/pkg/models"
)

const searchInstructions = `Conduct targeted Google Searches to gather the most recent, credible information on "%[1]s" and synthesize it into a verifiable text artifact.

Instructions:
- Query should ensure that the most current information is gathered. The current date is %[2]s.
- Conduct multiple, diverse searches to gather comprehensive information.
- Consolidate key findings while meticulously tracking the source(s) for each specific piece of information.
- The output should be a well-written summary or report based on your search findings.
- Only include the information found in the search results, don't make up any information.

Research Topic:
%[1]s
`

// generator is the slice of the Gemini client the tool depends on.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config wires the tool to Gemini and the agent tool settings.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// Model is the bare Gemini model name used for grounded search.
	Model string
	// Timezone anchors the current-date hint in the prompt.
	Timezone *time.Location
	// Priority orders results during aggregation.
	Priority int
	// Enabled gates advertisement and dispatch.
	Enabled bool
}

// Tool runs grounded Google searches through Gemini.
type Tool struct {
	client   generator
	model    string
	timezone *time.Location
	priority int
	enabled  bool
	logger   *slog.Logger
}

// New creates the google_search tool with its own Gemini client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Tool, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("websearch: API key is required")
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
		return nil, fmt.Errorf("websearch: create client: %w", err)
	}
	return newWithGenerator(client.Models, cfg, logger), nil
}

func newWithGenerator(client generator, cfg Config, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}
	return &Tool{
		client:   client,
		model:    cfg.Model,
		timezone: tz,
		priority: cfg.Priority,
		enabled:  cfg.Enabled,
		logger:   logger.With("component", "websearch"),
	}
}

func (t *Tool) Name() string { return "google_search" }

func (t *Tool) Description() string {
	return "執行 Google 搜尋並返回結果。此工具可接受由 Agent 判斷後生成的 0 到 3 個搜尋查詢（單一字串或字串列表），" +
		"這些查詢將被非同步執行。主要用於獲取最新資訊、即時數據或新聞事件，以輔助 Agent 回覆使用者需求。" +
		"注意 變數皆為 query，請不要使用其他變數名稱。"
}

// Schema accepts query as a single string or a list of strings.
func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"anyOf": [
					{"type": "string"},
					{"type": "array", "items": {"type": "string"}}
				],
				"description": "The search query (string example: query='latest news about AI') or a list of search query (array of strings example: query=['latest news about AI', 'latest news about stock market'])"
			}
		},
		"required": ["query"]
	}`)
}

func (t *Tool) Priority() int { return t.priority }
func (t *Tool) Enabled() bool { return t.enabled }

type searchArgs struct {
	Query json.RawMessage `json:"query"`
}

// queries decodes the string-or-array union.
func (a *searchArgs) queries() ([]string, error) {
	var single string
	if err := json.Unmarshal(a.Query, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(a.Query, &many); err == nil {
		return many, nil
	}
	return nil, fmt.Errorf("unsupported query format: %s", a.Query)
}

// Execute runs the queries. Multiple queries run concurrently and are
// merged into one result; the merge succeeds when any query does.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error) {
	var parsed searchArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	queries, err := parsed.queries()
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return &models.ToolExecutionResult{
			Success:   false,
			Content:   "沒有提供搜尋查詢。",
			ErrorKind: models.ErrKindInvalidArguments,
		}, nil
	}

	t.logger.Info("executing google search", "queries", queries)

	if len(queries) == 1 {
		return t.searchOne(ctx, queries[0]), nil
	}

	results := make([]*models.ToolExecutionResult, len(queries))
	var wg sync.WaitGroup
	for i, query := range queries {
		wg.Add(1)
		go func(idx int, q string) {
			defer wg.Done()
			results[idx] = t.searchOne(ctx, q)
		}(i, query)
	}
	wg.Wait()

	return mergeResults(queries, results), nil
}

func (t *Tool) searchOne(ctx context.Context, query string) *models.ToolExecutionResult {
	date := time.Now().In(t.timezone).Format("January 02, 2006")
	prompt := fmt.Sprintf(searchInstructions, query, date)

	config := &genai.GenerateContentConfig{
		Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		Temperature: genai.Ptr(float32(0)),
	}
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := t.client.GenerateContent(ctx, t.model, contents, config)
	if err != nil {
		t.logger.Error("google search failed", "query", query, "error", err)
		return &models.ToolExecutionResult{
			Success:   false,
			Content:   fmt.Sprintf("搜尋執行失敗: %v", err),
			ErrorKind: models.ErrKindExecution,
		}
	}

	text := resp.Text()
	if text == "" {
		return &models.ToolExecutionResult{
			Success:   false,
			Content:   fmt.Sprintf("針對查詢「%s」沒有找到內容。", query),
			ErrorKind: models.ErrKindExecution,
		}
	}

	return &models.ToolExecutionResult{
		Success: true,
		Content: text,
		Sources: harvestSources(resp),
	}
}

// mergeResults folds per-query results into one, separated by the
// section divider, succeeding when any query succeeded.
func mergeResults(queries []string, results []*models.ToolExecutionResult) *models.ToolExecutionResult {
	anySuccess := false
	parts := make([]string, 0, len(results))
	var sources []models.Source

	for i, res := range results {
		status := "失敗"
		if res.Success {
			status = "成功"
			anySuccess = true
		}
		parts = append(parts, fmt.Sprintf("查詢 '%s' %s: %s", queries[i], status, res.Content))
		sources = append(sources, res.Sources...)
	}

	merged := &models.ToolExecutionResult{
		Success: anySuccess,
		Content: strings.Join(parts, "\n ----- \n"),
		Sources: sources,
	}
	if !anySuccess {
		merged.ErrorKind = models.ErrKindExecution
	}
	return merged
}

// harvestSources lifts grounding chunks into citation sources, pairing
// each chunk with the first support segment that references it.
func harvestSources(resp *genai.GenerateContentResponse) []models.Source {
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	meta := resp.Candidates[0].GroundingMetadata

	snippets := make(map[int]string)
	for _, support := range meta.GroundingSupports {
		if support.Segment == nil || support.Segment.Text == "" {
			continue
		}
		for _, idx := range support.GroundingChunkIndices {
			if _, ok := snippets[int(idx)]; !ok {
				snippets[int(idx)] = support.Segment.Text
			}
		}
	}

	var sources []models.Source
	for i, chunk := range meta.GroundingChunks {
		if chunk.Web == nil {
			continue
		}
		sources = append(sources, models.Source{
			Title:   chunk.Web.Title,
			URL:     chunk.Web.URI,
			Snippet: snippets[i],
		})
	}
	return sources
}
