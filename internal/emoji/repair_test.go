package emoji

import (
	"testing"
)

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.SetApplication([]Emoji{
		{ID: "100", Name: "smile", Description: "開心時使用"},
		{ID: "200", Name: "wave", Animated: true, Description: "打招呼"},
		{ID: "301", Name: "party", Description: "慶祝"},
		{ID: "302", Name: "party", Description: "另一種慶祝"},
	})
	reg.SetGuild("g1", []Emoji{
		{ID: "900", Name: "smile", Animated: true, Description: "伺服器限定的開心"},
		{ID: "500", Name: "gonly", Description: "只有這裡有"},
	})
	return reg
}

func TestRepair(t *testing.T) {
	reg := testRegistry()

	tests := []struct {
		name     string
		input    string
		guildID  string
		expected string
	}{
		{
			name:     "bare name resolves from application set",
			input:    "你好 :wave:",
			guildID:  "",
			expected: "你好 <a:wave:200>",
		},
		{
			name:     "guild set wins over application set",
			input:    ":smile:",
			guildID:  "g1",
			expected: "<a:smile:900>",
		},
		{
			name:     "application set used without guild match",
			input:    ":smile:",
			guildID:  "",
			expected: "<:smile:100>",
		},
		{
			name:     "half token missing id",
			input:    "太棒了 <:gonly:>",
			guildID:  "g1",
			expected: "太棒了 <:gonly:500>",
		},
		{
			name:     "animated half token",
			input:    "<a:wave:>",
			guildID:  "",
			expected: "<a:wave:200>",
		},
		{
			name:     "registry decides animation not the half token",
			input:    "<a:smile:>",
			guildID:  "",
			expected: "<:smile:100>",
		},
		{
			name:     "unknown name stays as written",
			input:    "嗯 :nope: 嗯",
			guildID:  "",
			expected: "嗯 :nope: 嗯",
		},
		{
			name:     "ambiguous name stays as written",
			input:    ":party:",
			guildID:  "",
			expected: ":party:",
		},
		{
			name:     "complete token untouched",
			input:    "<:smile:100>",
			guildID:  "g1",
			expected: "<:smile:100>",
		},
		{
			name:     "complete token with unknown id untouched",
			input:    "<:whatever:42>",
			guildID:  "",
			expected: "<:whatever:42>",
		},
		{
			name:     "multiple references in one text",
			input:    ":smile: 哈囉 <:wave:> 再見 :nope:",
			guildID:  "",
			expected: "<:smile:100> 哈囉 <a:wave:200> 再見 :nope:",
		},
		{
			name:     "plain text unchanged",
			input:    "今天天氣不錯",
			guildID:  "g1",
			expected: "今天天氣不錯",
		},
		{
			name:     "timestamps are not emoji",
			input:    "會議在 5:30 開始",
			guildID:  "",
			expected: "會議在 5:30 開始",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.Repair(tt.input, tt.guildID)
			if got != tt.expected {
				t.Errorf("Repair(%q, %q) = %q, want %q", tt.input, tt.guildID, got, tt.expected)
			}
		})
	}
}

func TestRepairIsIdempotent(t *testing.T) {
	reg := testRegistry()

	inputs := []string{
		":smile: 哈囉 <:wave:> 再見",
		":party: <:gonly:> :nope:",
		"<a:smile:900> 已經修好了",
	}
	for _, input := range inputs {
		once := reg.Repair(input, "g1")
		twice := reg.Repair(once, "g1")
		if twice != once {
			t.Errorf("Repair(Repair(%q)) = %q, want %q", input, twice, once)
		}
	}
}

func TestEmojiToken(t *testing.T) {
	tests := []struct {
		name     string
		emoji    Emoji
		expected string
	}{
		{
			name:     "static",
			emoji:    Emoji{ID: "123", Name: "smile"},
			expected: "<:smile:123>",
		},
		{
			name:     "animated",
			emoji:    Emoji{ID: "456", Name: "wave", Animated: true},
			expected: "<a:wave:456>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.emoji.Token()
			if got != tt.expected {
				t.Errorf("Token() = %q, want %q", got, tt.expected)
			}
		})
	}
}
