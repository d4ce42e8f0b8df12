package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prismbot/prism/internal/config"
	"github.com/prismbot/prism/pkg/models"
)

// consoleObserver prints one invocation's progress to the terminal:
// stage lines with a percentage, streamed answer chunks as they
// arrive, and a sources footer.
type consoleObserver struct {
	out      io.Writer
	cfg      config.CLIProgressConfig
	streamed bool
}

func newConsoleObserver(out io.Writer, cfg config.CLIProgressConfig) *consoleObserver {
	return &consoleObserver{out: out, cfg: cfg}
}

func (o *consoleObserver) OnProgress(_ context.Context, event models.ProgressEvent) error {
	if !o.cfg.IsEnabled() || event.Stage.Terminal() {
		return nil
	}
	if event.Message == "" {
		return nil
	}
	if o.cfg.PercentageEnabled() && event.Progress >= 0 {
		fmt.Fprintf(o.out, "· %s (%d%%)\n", event.Message, event.Progress)
		return nil
	}
	fmt.Fprintf(o.out, "· %s\n", event.Message)
	return nil
}

func (o *consoleObserver) OnStreamingChunk(_ context.Context, chunk models.StreamingChunk) error {
	if chunk.Content == "" {
		return nil
	}
	o.streamed = true
	fmt.Fprint(o.out, chunk.Content)
	return nil
}

func (o *consoleObserver) OnStreamingComplete(context.Context) error {
	if o.streamed {
		fmt.Fprintln(o.out)
	}
	return nil
}

func (o *consoleObserver) OnCompletion(_ context.Context, finalText string, sources []models.Source) error {
	// A streamed answer is already on screen; only print what the
	// stream did not carry.
	if !o.streamed && finalText != "" {
		fmt.Fprintln(o.out, finalText)
	}
	if len(sources) > 0 {
		fmt.Fprintln(o.out, "📚 參考來源：")
		for _, s := range sources {
			title := s.Title
			if title == "" {
				title = s.URL
			}
			fmt.Fprintf(o.out, "  - %s (%s)\n", title, s.URL)
		}
	}
	return nil
}

func (o *consoleObserver) OnError(_ context.Context, err error) error {
	fmt.Fprintf(o.out, "❌ 處理失敗：%v\n", err)
	return nil
}
