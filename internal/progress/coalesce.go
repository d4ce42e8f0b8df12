package progress

import (
	"time"
	"unicode/utf8"

	"github.com/prismbot/prism/pkg/models"
)

// coalescer batches streaming chunks for one observer. It is owned by
// the dispatcher goroutine and needs no locking.
//
// A flush happens when the observer's minimum interval has elapsed
// since the previous flush, when appending would cross the rune
// ceiling, and always on a final chunk. Non-final flushes end at the
// boundary function's offset so a multi-byte or multi-rune token never
// splits across deliveries.
type coalescer struct {
	minInterval time.Duration
	ceiling     int
	boundary    func(s string) int

	pending   string
	lastFlush time.Time
	now       func() time.Time
}

func newCoalescer(cfg ObserverConfig, now func() time.Time) *coalescer {
	ceiling := cfg.FlushRunes
	if ceiling <= 0 {
		ceiling = DefaultFlushRunes
	}
	return &coalescer{
		minInterval: cfg.MinInterval,
		ceiling:     ceiling,
		boundary:    cfg.Boundary,
		now:         now,
	}
}

// add absorbs one incoming chunk and returns the chunks to deliver now.
// The first chunk of a stream flushes immediately so the transport
// shows content as soon as any exists; afterwards flushes are spaced by
// minInterval.
func (c *coalescer) add(chunk models.StreamingChunk) []models.StreamingChunk {
	var out []models.StreamingChunk

	// Flush ahead of the ceiling so each delivered piece stays within
	// the transport limit.
	if c.pending != "" && utf8.RuneCountInString(c.pending)+utf8.RuneCountInString(chunk.Content) > c.ceiling {
		if flushed, ok := c.emit(false); ok {
			out = append(out, flushed)
		}
	}
	c.pending += chunk.Content

	if chunk.IsFinal {
		out = append(out, models.StreamingChunk{Content: c.pending, IsFinal: true})
		c.pending = ""
		c.lastFlush = c.now()
		return out
	}

	if c.now().Sub(c.lastFlush) >= c.minInterval {
		if flushed, ok := c.emit(false); ok {
			out = append(out, flushed)
		}
	}
	return out
}

// drain flushes whatever is pending, ignoring the interval. Used before
// stream completion, terminal delivery, and bus shutdown.
func (c *coalescer) drain() (models.StreamingChunk, bool) {
	if c.pending == "" {
		return models.StreamingChunk{}, false
	}
	chunk := models.StreamingChunk{Content: c.pending}
	c.pending = ""
	c.lastFlush = c.now()
	return chunk, true
}

// emit cuts the pending buffer at the boundary and returns the head.
// The held-back tail seeds the next flush.
func (c *coalescer) emit(final bool) (models.StreamingChunk, bool) {
	cut := len(c.pending)
	if !final && c.boundary != nil {
		if b := c.boundary(c.pending); b >= 0 && b < cut {
			cut = b
		}
	}
	if cut == 0 {
		return models.StreamingChunk{}, false
	}
	chunk := models.StreamingChunk{Content: c.pending[:cut], IsFinal: final}
	c.pending = c.pending[cut:]
	c.lastFlush = c.now()
	return chunk, true
}
