package collect

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/pkg/models"
)

type stubSource struct {
	messages []models.Message
	err      error
	gotLimit int
}

func (s *stubSource) History(_ context.Context, _ string, limit int) ([]models.Message, error) {
	s.gotLimit = limit
	return s.messages, s.err
}

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxText:     100000,
		MaxImages:   3,
		MaxMessages: 25,
		HardTextCap: 200000,
	}
}

func testMedia() config.InputMediaConfig {
	return config.InputMediaConfig{
		MaxAnimationFrames: 4,
		MaxImageBytes:      4 << 20,
		MaxEdge:            1024,
	}
}

func userMsg(id, text string, ts time.Time) models.Message {
	return models.Message{
		Role:    models.RoleUser,
		Content: text,
		Meta:    models.MessageMeta{OriginID: id, Timestamp: ts},
	}
}

func TestCollectMergesHistory(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &stubSource{messages: []models.Message{
		userMsg("m1", "first", base),
		userMsg("m2", "second", base.Add(time.Minute)),
	}}
	c := New(source, testLimits(), testMedia(), nil)

	res, err := c.Collect(context.Background(), Request{
		ChannelRef: "chan-1",
		Current:    userMsg("m3", "third", base.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(res.Messages))
	}
	if res.Messages[0].Content != "first" || res.Messages[2].Content != "third" {
		t.Errorf("unexpected order: %q .. %q", res.Messages[0].Content, res.Messages[2].Content)
	}
	if source.gotLimit != 25 {
		t.Errorf("history limit = %d, want 25", source.gotLimit)
	}
}

func TestCollectDedupesByOriginID(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &stubSource{messages: []models.Message{
		userMsg("dup", "from history", base),
	}}
	c := New(source, testLimits(), testMedia(), nil)

	res, err := c.Collect(context.Background(), Request{
		Current: userMsg("dup", "from event", base),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	if res.Messages[0].Content != "from history" {
		t.Errorf("first occurrence should win, got %q", res.Messages[0].Content)
	}
}

func TestCollectAssignsMissingTimestamps(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &stubSource{messages: []models.Message{
		userMsg("m1", "stamped", base),
		userMsg("m2", "unstamped-a", time.Time{}),
		userMsg("m3", "unstamped-b", time.Time{}),
	}}
	c := New(source, testLimits(), testMedia(), nil)

	res, err := c.Collect(context.Background(), Request{
		Current: userMsg("m4", "current", time.Time{}),
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(res.Messages); i++ {
		if !res.Messages[i].Meta.Timestamp.After(res.Messages[i-1].Meta.Timestamp) {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}
	// Relative order of unstamped messages is preserved.
	if res.Messages[1].Content != "unstamped-a" || res.Messages[3].Content != "current" {
		t.Errorf("unexpected order: %v", texts(res.Messages))
	}
}

func TestCollectHistoryErrorDegrades(t *testing.T) {
	source := &stubSource{err: errors.New("api down")}
	c := New(source, testLimits(), testMedia(), nil)

	res, err := c.Collect(context.Background(), Request{
		Current: userMsg("m1", "only", time.Now()),
	})
	if err != nil {
		t.Fatalf("Collect() error = %v, want graceful degrade", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
}

func TestCollectTruncatesOldestMessages(t *testing.T) {
	limits := testLimits()
	limits.MaxMessages = 3
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var history []models.Message
	for i := 0; i < 5; i++ {
		history = append(history, userMsg(
			string(rune('a'+i)), strings.Repeat("x", 10), base.Add(time.Duration(i)*time.Second)))
	}
	c := New(&stubSource{messages: history}, limits, testMedia(), nil)

	res, err := c.Collect(context.Background(), Request{
		Current: userMsg("z", "newest", base.Add(time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(res.Messages))
	}
	if res.Messages[2].Content != "newest" {
		t.Errorf("newest message dropped: %v", texts(res.Messages))
	}
	if !strings.Contains(res.Summary, "已省略") {
		t.Errorf("Summary = %q, want drop note", res.Summary)
	}
}

func TestCollectTextBudgetDropsOldest(t *testing.T) {
	limits := testLimits()
	limits.MaxText = 25
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := []models.Message{
		userMsg("m1", strings.Repeat("甲", 20), base),
		userMsg("m2", "short", base.Add(time.Second)),
	}
	c := New(&stubSource{messages: history}, limits, testMedia(), nil)

	res, err := c.Collect(context.Background(), Request{
		Current: userMsg("m3", "current", base.Add(2*time.Second)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("got %d messages, want 2: %v", len(res.Messages), texts(res.Messages))
	}
	if res.Messages[0].Content != "short" {
		t.Errorf("oldest should be dropped first, got %v", texts(res.Messages))
	}
}

func TestCollectHardCap(t *testing.T) {
	limits := testLimits()
	limits.MaxText = 1000
	limits.HardTextCap = 1000
	c := New(nil, limits, testMedia(), nil)

	_, err := c.Collect(context.Background(), Request{
		Current: userMsg("m1", strings.Repeat("x", 2000), time.Now()),
	})
	if !errors.Is(err, ErrInputTooLarge) {
		t.Fatalf("Collect() error = %v, want ErrInputTooLarge", err)
	}
}

func TestCollectImageBudgetKeepsNewest(t *testing.T) {
	limits := testLimits()
	limits.MaxImages = 1
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := models.Message{
		Role: models.RoleUser,
		Parts: []models.Part{
			{Type: models.PartText, Text: "older pic"},
			{Type: models.PartImage, MIME: "image/png", Data: "OLD"},
		},
		Meta: models.MessageMeta{OriginID: "m1", Timestamp: base},
	}
	newer := models.Message{
		Role: models.RoleUser,
		Parts: []models.Part{
			{Type: models.PartText, Text: "newer pic"},
			{Type: models.PartImage, MIME: "image/png", Data: "NEW"},
		},
		Meta: models.MessageMeta{OriginID: "m2", Timestamp: base.Add(time.Second)},
	}
	c := New(&stubSource{messages: []models.Message{old, newer}}, limits, testMedia(), nil)

	res, err := c.Collect(context.Background(), Request{
		Current: userMsg("m3", "text only", base.Add(2*time.Second)),
	})
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, msg := range res.Messages {
		total += msg.ImageCount()
	}
	if total != 1 {
		t.Fatalf("kept %d images, want 1", total)
	}
	if res.Messages[1].ImageCount() != 1 {
		t.Error("newest image should survive")
	}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeGIF(t *testing.T, frames int) []byte {
	t.Helper()
	anim := &gif.GIF{Config: image.Config{Width: 8, Height: 8}}
	palette := color.Palette{color.Black, color.White}
	for i := 0; i < frames; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 8, 8), palette)
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCollectAttachesStaticImage(t *testing.T) {
	c := New(nil, testLimits(), testMedia(), nil)

	res, err := c.Collect(context.Background(), Request{
		Current: userMsg("m1", "看這張", time.Now()),
		Attachments: []Attachment{
			{Filename: "pic.png", MIME: "image/png", Data: encodePNG(t, 16, 16)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.ImageCount() != 1 {
		t.Fatalf("ImageCount() = %d, want 1", last.ImageCount())
	}
	if !strings.Contains(last.Text(), "[包含: 1圖片]") {
		t.Errorf("media marker missing: %q", last.Text())
	}
}

func TestCollectSamplesAnimation(t *testing.T) {
	media := testMedia()
	media.MaxAnimationFrames = 3
	c := New(nil, testLimits(), media, nil)

	res, err := c.Collect(context.Background(), Request{
		Current: userMsg("m1", "動圖", time.Now()),
		Attachments: []Attachment{
			{Filename: "anim.gif", MIME: "image/gif", Data: encodeGIF(t, 10)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.ImageCount() != 3 {
		t.Fatalf("ImageCount() = %d, want 3 sampled frames", last.ImageCount())
	}
	if !strings.Contains(last.Text(), "[包含: 1動畫]") {
		t.Errorf("media marker missing: %q", last.Text())
	}
}

func TestCollectSkipsOversizedAttachment(t *testing.T) {
	media := testMedia()
	media.MaxImageBytes = 10
	c := New(nil, testLimits(), media, nil)

	res, err := c.Collect(context.Background(), Request{
		Current: userMsg("m1", "大圖", time.Now()),
		Attachments: []Attachment{
			{Filename: "big.png", MIME: "image/png", Data: encodePNG(t, 64, 64)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.ImageCount() != 0 {
		t.Errorf("ImageCount() = %d, want 0", last.ImageCount())
	}
	if !strings.Contains(res.Summary, "過大") {
		t.Errorf("Summary = %q, want oversize note", res.Summary)
	}
}

func TestCollectMarkerBothKinds(t *testing.T) {
	counts := mediaCounts{images: 2, animations: 1}
	if got := counts.marker(); got != "[包含: 2圖片, 1動畫]" {
		t.Errorf("marker() = %q", got)
	}
}

func TestSampleIndices(t *testing.T) {
	tests := []struct {
		frames, max int
		want        []int
	}{
		{frames: 2, max: 4, want: []int{0, 1}},
		{frames: 10, max: 4, want: []int{0, 3, 6, 9}},
		{frames: 5, max: 1, want: []int{4}},
		{frames: 7, max: 2, want: []int{0, 6}},
	}
	for _, tt := range tests {
		got := sampleIndices(tt.frames, tt.max)
		if len(got) != len(tt.want) {
			t.Errorf("sampleIndices(%d, %d) = %v, want %v", tt.frames, tt.max, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("sampleIndices(%d, %d) = %v, want %v", tt.frames, tt.max, got, tt.want)
				break
			}
		}
	}
}

func TestDownscalePreservesAspect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	scaled := downscale(img, 50)
	b := scaled.Bounds()
	if b.Dx() != 50 || b.Dy() != 25 {
		t.Errorf("downscale bounds = %dx%d, want 50x25", b.Dx(), b.Dy())
	}
}

func texts(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Text()
	}
	return out
}
