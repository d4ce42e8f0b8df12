package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/prismbot/prism/pkg/models"
)

// Embed colors by outcome.
const (
	colorComplete = 0x1F8B4C
	colorWorking  = 0xE67E22
	colorError    = 0xE74C3C
)

// maxRenderedSources caps the sources footer.
const maxRenderedSources = 5

func stageColor(stage models.ProgressStage) int {
	switch stage {
	case models.StageCompleted:
		return colorComplete
	case models.StageError, models.StageTimeout:
		return colorError
	}
	return colorWorking
}

func renderProgressEmbed(event models.ProgressEvent) *discordgo.MessageEmbed {
	var b strings.Builder
	b.WriteString(event.Message)
	if event.Progress >= 0 {
		fmt.Fprintf(&b, "\n%s %d%%", progressBar(event.Progress), event.Progress)
	}

	embed := &discordgo.MessageEmbed{
		Color:       stageColor(event.Stage),
		Description: b.String(),
	}
	if event.ETASeconds > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "⏱️ 預估剩餘時間",
			Value:  formatETA(event.ETASeconds),
			Inline: true,
		})
	}
	return embed
}

func renderProgressText(event models.ProgressEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", event.Message)
	if event.Progress >= 0 {
		fmt.Fprintf(&b, "\n%s %d%%", progressBar(event.Progress), event.Progress)
	}
	return b.String()
}

// progressBar renders a ten-segment block bar.
func progressBar(percentage int) string {
	const length = 10
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	filled := percentage * length / 100
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", length-filled) + "]"
}

func formatETA(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d 秒", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d 分鐘", seconds/60)
	default:
		return fmt.Sprintf("%d 小時 %d 分鐘", seconds/3600, (seconds%3600)/60)
	}
}

// sourcesField renders the reference list as an embed field.
func sourcesField(sources []models.Source) *discordgo.MessageEmbedField {
	if len(sources) == 0 {
		return nil
	}
	var lines []string
	for i, src := range sources {
		if i == maxRenderedSources {
			lines = append(lines, fmt.Sprintf("... 還有 %d 個來源", len(sources)-maxRenderedSources))
			break
		}
		title := truncateChars(src.Title, 50)
		if title == "" {
			title = "未知來源"
		}
		if src.URL != "" {
			lines = append(lines, fmt.Sprintf("%d. [%s](%s)", i+1, title, src.URL))
		} else {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, title))
		}
	}
	return &discordgo.MessageEmbedField{
		Name:  "📚 參考來源",
		Value: strings.Join(lines, "\n"),
	}
}

// sourcesText renders the reference list for plain-text mode.
func sourcesText(sources []models.Source) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("📚 參考來源：")
	for i, src := range sources {
		if i == maxRenderedSources {
			fmt.Fprintf(&b, "\n... 還有 %d 個來源", len(sources)-maxRenderedSources)
			break
		}
		title := truncateChars(src.Title, 50)
		if title == "" {
			title = "未知來源"
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, title)
		if src.URL != "" {
			fmt.Fprintf(&b, " - %s", src.URL)
		}
	}
	return b.String()
}

// splitMessage breaks content into pieces at most limit runes long,
// preferring newline boundaries, then spaces, then a hard cut.
func splitMessage(content string, limit int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var chunks []string
	runes := []rune(content)
	for len(runes) > limit {
		cut := limit
		window := string(runes[:limit])
		if i := strings.LastIndexByte(window, '\n'); i > 0 {
			cut = len([]rune(window[:i]))
		} else if i := strings.LastIndexByte(window, ' '); i > 0 {
			cut = len([]rune(window[:i]))
		}
		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// truncateChars cuts s to at most n runes, marking the cut with an
// ellipsis.
func truncateChars(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}
