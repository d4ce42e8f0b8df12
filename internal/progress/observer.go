// Package progress fans agent progress out to registered observers.
//
// A Bus lives for one agent invocation. Producers publish stage events,
// streaming chunks, and exactly one terminal outcome; a dispatcher
// routes each item to per-observer bounded queues so a slow transport
// never stalls the graph or its sibling observers.
package progress

import (
	"context"
	"time"

	"github.com/prismbot/prism/pkg/models"
)

// Observer receives progress updates for one invocation. Implementations
// are called from a dedicated goroutine per observer, in emit order, and
// never concurrently with themselves. Returned errors are logged and
// swallowed; they do not reach the producing side.
type Observer interface {
	// OnProgress handles a stage transition or a mid-stage tick.
	OnProgress(ctx context.Context, event models.ProgressEvent) error

	// OnStreamingChunk handles an incremental piece of the final answer.
	OnStreamingChunk(ctx context.Context, chunk models.StreamingChunk) error

	// OnStreamingComplete fires once after the last streaming chunk.
	OnStreamingComplete(ctx context.Context) error

	// OnCompletion delivers the final answer. Called at most once, and
	// never after OnError.
	OnCompletion(ctx context.Context, finalText string, sources []models.Source) error

	// OnError delivers an unrecoverable failure. Called at most once,
	// and never after OnCompletion.
	OnError(ctx context.Context, err error) error
}

// ObserverConfig tunes delivery for one registered observer.
type ObserverConfig struct {
	// Name identifies the observer in logs.
	Name string

	// MinInterval spaces streaming flushes. Zero flushes every chunk.
	MinInterval time.Duration

	// FlushRunes caps the accumulated streaming content per flush,
	// counted in code points. Zero means DefaultFlushRunes.
	FlushRunes int

	// AutoGenerate asks the blurb model to fill empty stage messages.
	AutoGenerate bool

	// Templates overrides the built-in stage message templates.
	Templates map[string]string

	// Boundary adjusts a streaming flush so it never ends inside a
	// token that must stay whole. Given the pending content it returns
	// the byte offset the flush may end at; the remainder is carried
	// into the next flush. Nil flushes everything.
	Boundary func(s string) int
}

// DefaultFlushRunes is the streaming flush ceiling. It sits below the
// Discord message limit so a flushed piece always fits one edit.
const DefaultFlushRunes = 1500

// template resolves the message shown for a stage: per-observer
// override first, then the built-in defaults.
func (c ObserverConfig) template(stage models.ProgressStage) string {
	if msg, ok := c.Templates[string(stage)]; ok {
		return msg
	}
	return StageMessage(stage)
}
