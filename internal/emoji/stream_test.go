package emoji

import (
	"strings"
	"testing"
)

func TestPartialTokenIndex(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{
			name:     "plain text flushes whole",
			input:    "你好嗎",
			expected: 9,
		},
		{
			name:     "lone open bracket held",
			input:    "hello <",
			expected: 6,
		},
		{
			name:     "animated prefix held",
			input:    "hello <a",
			expected: 6,
		},
		{
			name:     "token with partial name held",
			input:    "等等 <:sm",
			expected: 7,
		},
		{
			name:     "token with partial id held",
			input:    "<a:wave:12",
			expected: 0,
		},
		{
			name:     "closed token flushes whole",
			input:    "<:smile:100> ok",
			expected: 15,
		},
		{
			name:     "bracket before space is not a token",
			input:    "a < b",
			expected: 5,
		},
		{
			name:     "complete bare reference flushes whole",
			input:    ":smile:",
			expected: 7,
		},
		{
			name:     "trailing bare fragment held",
			input:    "正在 :sm",
			expected: 7,
		},
		{
			name:     "trailing lone colon held",
			input:    "結尾:",
			expected: 6,
		},
		{
			name:     "colon mid sentence flushes whole",
			input:    "time: 3pm",
			expected: 9,
		},
		{
			name:     "trailing digits after colon held",
			input:    "打分 5:30",
			expected: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PartialTokenIndex(tt.input)
			if got != tt.expected {
				t.Errorf("PartialTokenIndex(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStreamRepairerHoldsSplitFullToken(t *testing.T) {
	sr := NewStreamRepairer(testRegistry(), "")

	if got := sr.Feed("你好 <:sm"); got != "你好 " {
		t.Errorf("first Feed = %q, want %q", got, "你好 ")
	}
	if got := sr.Feed("ile:100> 掰掰"); got != "<:smile:100> 掰掰" {
		t.Errorf("second Feed = %q, want %q", got, "<:smile:100> 掰掰")
	}
}

func TestStreamRepairerRepairsBareAcrossChunks(t *testing.T) {
	sr := NewStreamRepairer(testRegistry(), "")

	if got := sr.Feed("早安 :sm"); got != "早安 " {
		t.Errorf("first Feed = %q, want %q", got, "早安 ")
	}
	if got := sr.Feed("ile: 啦"); got != "<:smile:100> 啦" {
		t.Errorf("second Feed = %q, want %q", got, "<:smile:100> 啦")
	}
}

func TestStreamRepairerGuildResolution(t *testing.T) {
	sr := NewStreamRepairer(testRegistry(), "g1")

	if got := sr.Feed(":sm"); got != "" {
		t.Errorf("Feed = %q, want empty while holding", got)
	}
	if got := sr.Feed("ile: 好"); got != "<a:smile:900> 好" {
		t.Errorf("Feed = %q, want %q", got, "<a:smile:900> 好")
	}
}

func TestStreamRepairerFlushReleasesHeld(t *testing.T) {
	sr := NewStreamRepairer(testRegistry(), "")

	if got := sr.Feed("等一下 <:sm"); got != "等一下 " {
		t.Errorf("Feed = %q, want %q", got, "等一下 ")
	}
	if got := sr.Flush(); got != "<:sm" {
		t.Errorf("Flush = %q, want %q", got, "<:sm")
	}
	if got := sr.Flush(); got != "" {
		t.Errorf("second Flush = %q, want empty", got)
	}
}

func TestStreamRepairerReleasesNonEmojiBracket(t *testing.T) {
	sr := NewStreamRepairer(testRegistry(), "")

	if got := sr.Feed("看 <"); got != "看 " {
		t.Errorf("first Feed = %q, want %q", got, "看 ")
	}
	if got := sr.Feed("3 真可愛"); got != "<3 真可愛" {
		t.Errorf("second Feed = %q, want %q", got, "<3 真可愛")
	}
}

func TestStreamRepairerMaxHoldRelease(t *testing.T) {
	sr := NewStreamRepairer(testRegistry(), "")

	long := ":" + strings.Repeat("a", 80)
	if got := sr.Feed(long); got != long {
		t.Errorf("Feed = %q, want oversized fragment released as %q", got, long)
	}
	if got := sr.Flush(); got != "" {
		t.Errorf("Flush after release = %q, want empty", got)
	}
}

func TestStreamRepairerSingleChunk(t *testing.T) {
	sr := NewStreamRepairer(testRegistry(), "")

	if got := sr.Feed("好耶 :smile: 讚"); got != "好耶 <:smile:100> 讚" {
		t.Errorf("Feed = %q, want %q", got, "好耶 <:smile:100> 讚")
	}
}
