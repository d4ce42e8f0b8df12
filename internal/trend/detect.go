package trend

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	customEmojiPattern = regexp.MustCompile(`<a?:[^:]+:\d+>`)

	// unicodeEmojiPattern covers the common emoji blocks plus the
	// variation selector and ZWJ so composed emoji count as one run.
	unicodeEmojiPattern = regexp.MustCompile(`[` +
		`\x{1F1E0}-\x{1F1FF}` + // regional indicators
		`\x{1F300}-\x{1F5FF}` + // symbols & pictographs
		`\x{1F600}-\x{1F64F}` + // emoticons
		`\x{1F680}-\x{1F6FF}` + // transport & map
		`\x{1F700}-\x{1F77F}` + // alchemical
		`\x{1F780}-\x{1F7FF}` + // geometric extended
		`\x{1F800}-\x{1F8FF}` + // supplemental arrows
		`\x{1F900}-\x{1F9FF}` + // supplemental symbols
		`\x{1FA00}-\x{1FA6F}` + // chess
		`\x{1FA70}-\x{1FAFF}` + // extended-A
		`\x{2190}-\x{21FF}` + // arrows
		`\x{2600}-\x{26FF}` + // misc symbols
		`\x{2700}-\x{27BF}` + // dingbats
		`\x{FE0F}\x{200D}` +
		`]+`)
)

// isEmojiOnly reports whether text consists exclusively of custom
// emoji tokens and Unicode emoji, with at least one present.
func isEmojiOnly(text string) bool {
	if text == "" {
		return false
	}
	stripped := customEmojiPattern.ReplaceAllString(text, "")
	stripped = unicodeEmojiPattern.ReplaceAllString(stripped, "")
	if strings.TrimSpace(stripped) != "" {
		return false
	}
	return customEmojiPattern.MatchString(text) || unicodeEmojiPattern.MatchString(text)
}

// firstEmoji extracts the first emoji from an LLM reply, preferring a
// custom token. Empty when the reply carries none.
func firstEmoji(text string) string {
	if match := customEmojiPattern.FindString(text); match != "" {
		return match
	}
	return unicodeEmojiPattern.FindString(text)
}

// identity is the comparable content of a message for content trends.
// Stickers compare by id; text compares NFC-normalized and trimmed.
type identity struct {
	sticker string
	text    string
}

func (id identity) zero() bool { return id.sticker == "" && id.text == "" }

func identityOf(s Snapshot) identity {
	if s.StickerID != "" {
		return identity{sticker: s.StickerID}
	}
	text := strings.TrimSpace(s.Text)
	if text == "" {
		return identity{}
	}
	return identity{text: norm.NFC.String(text)}
}

// streak walks history newest-first counting consecutive messages that
// match, stopping at the first mismatch. It also reports whether a bot
// message participates in the streak.
func streak(history []Snapshot, match func(Snapshot) bool) (count int, botInStreak bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if !match(history[i]) {
			break
		}
		count++
		if history[i].FromBot {
			botInStreak = true
		}
	}
	return count, botInStreak
}
