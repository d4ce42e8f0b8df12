package progress

import (
	"strings"
	"testing"
	"time"

	"github.com/prismbot/prism/pkg/models"
)

func TestCoalescerIntervalGating(t *testing.T) {
	current := time.Unix(1000, 0)
	co := newCoalescer(ObserverConfig{MinInterval: 2 * time.Second}, func() time.Time { return current })

	out := co.add(models.StreamingChunk{Content: "a"})
	if len(out) != 1 || out[0].Content != "a" {
		t.Fatalf("first chunk should flush immediately, got %+v", out)
	}

	if out = co.add(models.StreamingChunk{Content: "b"}); len(out) != 0 {
		t.Fatalf("chunk inside interval should be held, got %+v", out)
	}
	current = current.Add(time.Second)
	if out = co.add(models.StreamingChunk{Content: "c"}); len(out) != 0 {
		t.Fatalf("chunk one second in should still be held, got %+v", out)
	}

	current = current.Add(time.Second)
	out = co.add(models.StreamingChunk{Content: "d"})
	if len(out) != 1 || out[0].Content != "bcd" {
		t.Fatalf("interval elapsed, want combined flush bcd, got %+v", out)
	}
}

func TestCoalescerZeroIntervalFlushesEveryChunk(t *testing.T) {
	current := time.Unix(1000, 0)
	co := newCoalescer(ObserverConfig{}, func() time.Time { return current })

	for _, content := range []string{"x", "y", "z"} {
		out := co.add(models.StreamingChunk{Content: content})
		if len(out) != 1 || out[0].Content != content {
			t.Fatalf("chunk %q should flush through, got %+v", content, out)
		}
	}
}

func TestCoalescerCeilingCountsRunes(t *testing.T) {
	current := time.Unix(1000, 0)
	co := newCoalescer(ObserverConfig{MinInterval: time.Hour, FlushRunes: 4}, func() time.Time { return current })

	if out := co.add(models.StreamingChunk{Content: "一二三"}); len(out) != 1 {
		t.Fatalf("first chunk should flush, got %+v", out)
	}
	if out := co.add(models.StreamingChunk{Content: "四五六"}); len(out) != 0 {
		t.Fatalf("second chunk should be held, got %+v", out)
	}
	// Exactly at the ceiling stays buffered.
	if out := co.add(models.StreamingChunk{Content: "七"}); len(out) != 0 {
		t.Fatalf("chunk at ceiling should be held, got %+v", out)
	}
	// Crossing the ceiling flushes what was pending first.
	out := co.add(models.StreamingChunk{Content: "八"})
	if len(out) != 1 || out[0].Content != "四五六七" {
		t.Fatalf("ceiling crossing should flush pending, got %+v", out)
	}
	if chunk, ok := co.drain(); !ok || chunk.Content != "八" {
		t.Fatalf("remainder should seed the next flush, got %+v ok=%v", chunk, ok)
	}
}

func TestCoalescerFinalFlushCombinesPending(t *testing.T) {
	current := time.Unix(1000, 0)
	co := newCoalescer(ObserverConfig{MinInterval: time.Hour}, func() time.Time { return current })

	co.add(models.StreamingChunk{Content: "開頭"})
	co.add(models.StreamingChunk{Content: "中段"})
	out := co.add(models.StreamingChunk{Content: "結尾", IsFinal: true})

	if len(out) != 1 {
		t.Fatalf("final chunk should force a single flush, got %+v", out)
	}
	if out[0].Content != "中段結尾" || !out[0].IsFinal {
		t.Errorf("final flush = %+v", out[0])
	}
	if chunk, ok := co.drain(); ok {
		t.Errorf("nothing should remain after final flush, got %+v", chunk)
	}
}

// holdOpenToken refuses to split after an unclosed "<" so transport
// tokens stay whole across flushes.
func holdOpenToken(s string) int {
	if i := strings.LastIndexByte(s, '<'); i >= 0 && !strings.Contains(s[i:], ">") {
		return i
	}
	return len(s)
}

func TestCoalescerBoundaryHoldsPartialToken(t *testing.T) {
	current := time.Unix(1000, 0)
	co := newCoalescer(ObserverConfig{Boundary: holdOpenToken}, func() time.Time { return current })

	out := co.add(models.StreamingChunk{Content: "hello <:sm"})
	if len(out) != 1 || out[0].Content != "hello " {
		t.Fatalf("flush should stop before the open token, got %+v", out)
	}

	out = co.add(models.StreamingChunk{Content: "ile:123> there"})
	if len(out) != 1 || out[0].Content != "<:smile:123> there" {
		t.Fatalf("completed token should flush whole, got %+v", out)
	}
}

func TestCoalescerBoundaryCanHoldEverything(t *testing.T) {
	current := time.Unix(1000, 0)
	co := newCoalescer(ObserverConfig{Boundary: holdOpenToken}, func() time.Time { return current })

	if out := co.add(models.StreamingChunk{Content: "<:sm"}); len(out) != 0 {
		t.Fatalf("all-partial content should be held, got %+v", out)
	}
	// drain ignores the boundary so shutdown never strands content.
	if chunk, ok := co.drain(); !ok || chunk.Content != "<:sm" {
		t.Fatalf("drain should release held content, got %+v ok=%v", chunk, ok)
	}
}

func TestCoalescerFinalIgnoresBoundary(t *testing.T) {
	current := time.Unix(1000, 0)
	co := newCoalescer(ObserverConfig{MinInterval: time.Hour, Boundary: holdOpenToken}, func() time.Time { return current })

	co.add(models.StreamingChunk{Content: "早先"}) // immediate first flush
	co.add(models.StreamingChunk{Content: "前段"}) // held by the interval
	out := co.add(models.StreamingChunk{Content: "<:sm", IsFinal: true})
	if len(out) != 1 || out[0].Content != "前段<:sm" || !out[0].IsFinal {
		t.Fatalf("final flush must include held tail, got %+v", out)
	}
}
