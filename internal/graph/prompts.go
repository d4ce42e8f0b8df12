package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/prismbot/prism/pkg/models"
)

// dateLayout renders dates the way the prompts expect them.
const dateLayout = "2006年01月02日"

// plannerSystem instructs the planner role. Tool definitions travel
// separately on the request, so the prompt only frames the decision.
func plannerSystem(now time.Time) string {
	var b strings.Builder
	b.WriteString("妳是一個 Discord 助理的規劃階段。分析使用者的請求，判斷是否需要呼叫工具來收集資訊。\n")
	b.WriteString("指導原則：\n")
	b.WriteString("- 只在回答確實需要外部資訊或副作用時才呼叫工具\n")
	b.WriteString("- 一般閒聊、問候或可以直接回答的問題不需要工具\n")
	b.WriteString("- 需要多個面向的資訊時可以同時呼叫多個工具\n")
	fmt.Fprintf(&b, "- 當前日期是 %s\n", now.Format(dateLayout))
	return b.String()
}

// reflectionPrompt asks the reflector whether the gathered results
// answer the request. The reply is a JSON object with is_sufficient
// and reasoning.
func reflectionPrompt(topic string, results []*models.ToolExecutionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "妳是一位專家研究助手，正在分析關於 %q 的查詢結果。\n\n", topic)
	b.WriteString("指導原則：\n")
	b.WriteString("- 判斷目前收集到的資料是否足以回答使用者的問題\n")
	b.WriteString("- 識別知識缺口或需要更深入探索的領域\n")
	b.WriteString("- 只依據提供的資料判斷，不要編造任何資訊\n\n")
	b.WriteString("輸出格式：\n")
	b.WriteString("- 將回應格式化為包含以下確切鍵值的 JSON 物件：\n")
	b.WriteString("   - \"is_sufficient\": true 或 false\n")
	b.WriteString("   - \"reasoning\": 簡要說明判斷的理由，如有缺口請描述缺少什麼\n\n")
	b.WriteString("目前收集到的資料：\n")
	b.WriteString(resultsBlock(results))
	return b.String()
}

// reflectionVerdict is the reflector's structured reply.
type reflectionVerdict struct {
	IsSufficient bool   `json:"is_sufficient"`
	Reasoning    string `json:"reasoning"`
}

// finalSystem assembles the finalizer system prompt: timestamp line,
// persona, tool results, emoji context, then the answer guidance.
type finalSystem struct {
	Timestamp    string
	Persona      string
	Results      []*models.ToolExecutionResult
	EmojiContext string
	Date         string
}

func (f finalSystem) render() string {
	var b strings.Builder
	if f.Timestamp != "" {
		fmt.Fprintf(&b, "當前時間：%s\n\n", f.Timestamp)
	}
	if f.Persona != "" {
		b.WriteString(f.Persona)
		b.WriteString("\n\n")
	}
	if len(f.Results) > 0 {
		b.WriteString("以下是為了回答這次請求而收集到的參考資料：\n")
		b.WriteString(resultsBlock(f.Results))
		b.WriteString("\n")
	}
	if f.EmojiContext != "" {
		b.WriteString(f.EmojiContext)
		b.WriteString("\n")
	}
	b.WriteString("回應指導：\n")
	fmt.Fprintf(&b, "- 當前日期是 %s\n", f.Date)
	b.WriteString("- 使用繁體中文回應\n")
	b.WriteString("- 基於對話內容")
	if len(f.Results) > 0 {
		b.WriteString("和參考資料")
	}
	b.WriteString("生成高品質的答案，不要編造資訊\n")
	b.WriteString("- 不要提及內部的處理流程或工具名稱\n")
	return b.String()
}

// resultsBlock renders aggregated tool results as labeled sections.
func resultsBlock(results []*models.ToolExecutionResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", r.ToolName, strings.TrimSpace(r.Content))
	}
	return b.String()
}
