package progress

import (
	"fmt"

	"github.com/prismbot/prism/pkg/models"
)

// stageMessages are the default per-stage progress texts. Deployments
// override individual entries through progress.<transport>.messages.
var stageMessages = map[models.ProgressStage]string{
	models.StageStarting:       "🔄 正在處理...",
	models.StageGenerateQuery:  "🤔 正在分析問題並生成搜尋策略...",
	models.StageToolList:       "🛠️ 正在準備工具...",
	models.StageToolExecution:  "🛠️ 正在執行工具...",
	models.StageSearching:      "🔍 正在搜尋資料...",
	models.StageAnalyzing:      "💭 正在分析結果...",
	models.StageReflection:     "💭 正在分析結果並評估資訊完整性...",
	models.StageFinalizeAnswer: "📝 正在整理最終答案...",
	models.StageCompleting:     "📝 正在整理最終答案...",
	models.StageCompleted:      "✅ 研究完成！",
	models.StageError:          "❌ 研究過程中發生錯誤",
	models.StageTimeout:        "⏰ 研究超時，正在提供可用結果...",
}

// StageMessage returns the default text for a stage. Unknown stages
// get a generic processing line naming the stage.
func StageMessage(stage models.ProgressStage) string {
	if msg, ok := stageMessages[stage]; ok {
		return msg
	}
	return fmt.Sprintf("🔄 處理中... (%s)", stage)
}
