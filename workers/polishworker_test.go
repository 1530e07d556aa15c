package workers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/Henry-Jessie/mac-live-subtitle/types"
)

type stubPolisher struct {
	delay time.Duration
	fail  bool
	calls atomic.Int64
}

func (s *stubPolisher) Polish(ctx context.Context, text, language, timestamp string) (types.TranscriptionResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	result := types.TranscriptionResult{
		DetectedLanguage: language,
		OriginalText:     text,
		Timestamp:        timestamp,
		IsFinal:          true,
	}
	if s.fail {
		return result, errors.New("service unavailable")
	}
	result.ChineseTranslation = "翻译:" + text
	return result, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collectResults(t *testing.T, w *PolishWorker, want int) []types.TranscriptionResult {
	t.Helper()
	var out []types.TranscriptionResult
	deadline := time.After(5 * time.Second)
	for len(out) < want {
		select {
		case res, ok := <-w.Results():
			if !ok {
				t.Fatalf("results closed after %d of %d results", len(out), want)
			}
			out = append(out, res)
		case <-deadline:
			t.Fatalf("timed out after %d of %d results", len(out), want)
		}
	}
	return out
}

func TestPolishWorkerPreservesSubmissionOrder(t *testing.T) {
	p := &stubPolisher{}
	w := NewPolishWorker(p, 16, discardLogger())
	w.Start()
	defer w.Stop()

	for i := 0; i < 5; i++ {
		if err := w.Submit(Submission{Text: fmt.Sprintf("line %d", i)}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	results := collectResults(t, w, 5)
	for i, res := range results {
		want := fmt.Sprintf("line %d", i)
		if res.OriginalText != want {
			t.Errorf("result %d original = %q, want %q", i, res.OriginalText, want)
		}
		if res.ChineseTranslation == "" {
			t.Errorf("result %d has no translation", i)
		}
	}
}

func TestPolishWorkerServiceErrorPassesOriginalThrough(t *testing.T) {
	p := &stubPolisher{fail: true}
	w := NewPolishWorker(p, 16, discardLogger())
	w.Start()
	defer w.Stop()

	if err := w.Submit(Submission{Text: "keep me", Language: "en", Timestamp: "12:00:00"}); err != nil {
		t.Fatal(err)
	}

	res := collectResults(t, w, 1)[0]
	if res.OriginalText != "keep me" {
		t.Errorf("original = %q, want %q", res.OriginalText, "keep me")
	}
	if res.ChineseTranslation != "" {
		t.Errorf("translation = %q, want empty on service error", res.ChineseTranslation)
	}
	if !res.IsFinal {
		t.Error("degraded result must still be final")
	}
}

func TestPolishWorkerPassthroughMode(t *testing.T) {
	w := NewPolishWorker(nil, 16, discardLogger())
	w.Start()
	defer w.Stop()

	if err := w.Submit(Submission{Text: "no key configured", Language: "en"}); err != nil {
		t.Fatal(err)
	}

	res := collectResults(t, w, 1)[0]
	if res.OriginalText != "no key configured" {
		t.Errorf("original = %q", res.OriginalText)
	}
	if res.ChineseTranslation != "" {
		t.Errorf("passthrough translation = %q, want empty", res.ChineseTranslation)
	}
	if !res.IsFinal {
		t.Error("passthrough result must be final")
	}
}

func TestPolishWorkerStopDrainsQueuedSubmissions(t *testing.T) {
	p := &stubPolisher{delay: 20 * time.Millisecond}
	w := NewPolishWorker(p, 16, discardLogger())
	w.Start()

	for i := 0; i < 3; i++ {
		if err := w.Submit(Submission{Text: fmt.Sprintf("queued %d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	results := collectResults(t, w, 3)
	if got := results[2].OriginalText; got != "queued 2" {
		t.Errorf("last drained result = %q, want %q", got, "queued 2")
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after drain")
	}
	if got := p.calls.Load(); got != 3 {
		t.Errorf("polisher called %d times, want 3", got)
	}

	if _, ok := <-w.Results(); ok {
		t.Error("results channel still open after Stop")
	}
}

func TestPolishWorkerSubmitFailsWhenQueueFull(t *testing.T) {
	// Worker never started, so nothing drains the queue.
	w := NewPolishWorker(nil, 2, discardLogger())

	if err := w.Submit(Submission{Text: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Submit(Submission{Text: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Submit(Submission{Text: "c"}); err == nil {
		t.Fatal("expected error when queue is full")
	}
}

func TestPolishWorkerStopIsIdempotent(t *testing.T) {
	w := NewPolishWorker(nil, 4, discardLogger())
	w.Start()
	w.Stop()
	w.Stop()
}
