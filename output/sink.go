package output

import (
	"fmt"
	"io"
	"time"

	"github.com/Henry-Jessie/mac-live-subtitle/types"
)

// Sink receives display events. It owns timed hide/replace and offers no
// backpressure signal to the pipeline.
type Sink interface {
	ShowSubtitle(result types.TranscriptionResult, duration time.Duration)
}

// ConsoleSink prints subtitles to a writer: interim text on one updating
// line, final results as `original → translation`.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink writes display events to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// ShowSubtitle implements Sink.
func (c *ConsoleSink) ShowSubtitle(result types.TranscriptionResult, _ time.Duration) {
	if result.IsFinal {
		if result.ChineseTranslation != "" {
			fmt.Fprintf(c.w, "\r[%s] %s → %s\n", result.Timestamp, result.OriginalText, result.ChineseTranslation)
		} else {
			fmt.Fprintf(c.w, "\r[%s] %s\n", result.Timestamp, result.OriginalText)
		}
		return
	}
	fmt.Fprintf(c.w, "\r… %s", result.OriginalText)
}
