package emoji

import (
	"strings"
	"testing"
)

func TestPromptContextEmptyRegistry(t *testing.T) {
	reg := NewRegistry()
	if got := reg.PromptContext("g1"); got != "" {
		t.Errorf("PromptContext on empty registry = %q, want empty", got)
	}
}

func TestPromptContextApplicationOnly(t *testing.T) {
	reg := NewRegistry()
	reg.SetApplication([]Emoji{
		{ID: "111", Name: "think", Description: "思考時使用"},
	})

	expected := "Emoji 使用說明：\n" +
		"**可用的應用程式 Emoji:**\n" +
		"- <:think:111> - 思考時使用\n" +
		"\n請在回應中適當使用這些 emoji 來增加表達的生動性。直接使用 emoji 格式即可。\n" +
		"例如：<:thinking:123456789012345678> 讓我想想... <:happy:123456789012345679>"

	if got := reg.PromptContext(""); got != expected {
		t.Errorf("PromptContext(\"\") = %q, want %q", got, expected)
	}
}

func TestPromptContextGuildShadowsApplication(t *testing.T) {
	reg := testRegistry()
	got := reg.PromptContext("g1")

	if !strings.Contains(got, "**可用的應用程式 Emoji:**") {
		t.Error("missing application header")
	}
	if !strings.Contains(got, "**當前伺服器可用的 Emoji:**") {
		t.Error("missing guild header")
	}
	if !strings.Contains(got, "- <a:smile:900> - 伺服器限定的開心") {
		t.Error("guild smile entry missing")
	}
	if strings.Contains(got, "<:smile:100>") {
		t.Error("shadowed application smile should not appear")
	}
	if !strings.Contains(got, "- <a:wave:200> - 打招呼") {
		t.Error("unshadowed application entry missing")
	}
	if !strings.Contains(got, "- <:gonly:500> - 只有這裡有") {
		t.Error("guild-only entry missing")
	}
}

func TestPromptContextUnknownGuildFallsBackToApplication(t *testing.T) {
	reg := testRegistry()
	got := reg.PromptContext("not-a-guild")

	if !strings.Contains(got, "**可用的應用程式 Emoji:**") {
		t.Error("missing application header")
	}
	if strings.Contains(got, "**當前伺服器可用的 Emoji:**") {
		t.Error("guild header should not appear for unknown guild")
	}
	if !strings.Contains(got, "- <:smile:100> - 開心時使用") {
		t.Error("application smile entry missing")
	}
}

func TestSetGuildReplacesSnapshot(t *testing.T) {
	reg := NewRegistry()
	reg.SetGuild("g1", []Emoji{{ID: "1", Name: "old", Description: "舊的"}})
	reg.SetGuild("g1", []Emoji{{ID: "2", Name: "new", Description: "新的"}})

	got := reg.PromptContext("g1")
	if strings.Contains(got, "old") {
		t.Error("replaced snapshot still visible")
	}
	if !strings.Contains(got, "- <:new:2> - 新的") {
		t.Error("new snapshot entry missing")
	}
}

func TestRemoveGuild(t *testing.T) {
	reg := NewRegistry()
	reg.SetGuild("g1", []Emoji{{ID: "1", Name: "bye", Description: "再見"}})
	reg.RemoveGuild("g1")

	if got := reg.PromptContext("g1"); got != "" {
		t.Errorf("PromptContext after RemoveGuild = %q, want empty", got)
	}
	if got := reg.Stats(); got.Guilds != 0 || got.Guild != 0 {
		t.Errorf("Stats after RemoveGuild = %+v, want zero guild counts", got)
	}
}

func TestStats(t *testing.T) {
	reg := testRegistry()
	reg.SetGuild("g2", []Emoji{{ID: "7", Name: "extra", Description: "額外"}})

	got := reg.Stats()
	if got.Application != 4 {
		t.Errorf("Stats().Application = %d, want 4", got.Application)
	}
	if got.Guild != 3 {
		t.Errorf("Stats().Guild = %d, want 3", got.Guild)
	}
	if got.Guilds != 2 {
		t.Errorf("Stats().Guilds = %d, want 2", got.Guilds)
	}
}

func TestStickerRegistryIsReserved(t *testing.T) {
	reg := NewStickerRegistry(map[string]string{"123": "某張貼圖"})
	if got := reg.PromptContext("g1"); got != "" {
		t.Errorf("sticker PromptContext = %q, want empty", got)
	}
	if got := reg.Count(); got != 1 {
		t.Errorf("sticker Count = %d, want 1", got)
	}
}
