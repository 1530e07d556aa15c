package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Henry-Jessie/mac-live-subtitle/queue"
	"github.com/Henry-Jessie/mac-live-subtitle/types"
)

// Submission is one unit of text queued for polishing. A zero-text
// submission with Stop set is the drain sentinel.
type Submission struct {
	Text      string
	Language  string
	Timestamp string
	Stop      bool
}

// Polisher merges a transcript fragment with recent context and translates
// it. Implemented by llm.PolishClient.
type Polisher interface {
	Polish(ctx context.Context, text, language, timestamp string) (types.TranscriptionResult, error)
}

// PolishWorker is the single serial consumer of the polish queue. Strict
// submission order is preserved and only one polish call is outstanding at
// a time, keeping the conversational context coherent.
type PolishWorker struct {
	polisher Polisher // nil means passthrough mode (no API key configured)
	in       *queue.Queue[Submission]
	results  chan types.TranscriptionResult
	logger   *slog.Logger
	observe  func(time.Duration)

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewPolishWorker creates the worker. A nil polisher enables passthrough
// mode: original text is surfaced with an empty translation instead of the
// pipeline failing to start.
func NewPolishWorker(polisher Polisher, queueCapacity int, logger *slog.Logger) *PolishWorker {
	if queueCapacity < 1 {
		queueCapacity = 64
	}
	return &PolishWorker{
		polisher: polisher,
		in:       queue.New[Submission](queueCapacity),
		results:  make(chan types.TranscriptionResult, 16),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// ObserveDuration registers a callback receiving the latency of every polish
// call. Must be set before Start.
func (w *PolishWorker) ObserveDuration(fn func(time.Duration)) { w.observe = fn }

// Results returns the stream of final display events. The channel closes
// once the worker has drained and exited.
func (w *PolishWorker) Results() <-chan types.TranscriptionResult { return w.results }

// Submit enqueues a submission. It never blocks; when the queue is full the
// submission fails visibly rather than retrying.
func (w *PolishWorker) Submit(sub Submission) error {
	if err := w.in.TryPut(sub); err != nil {
		return errors.Wrap(err, "polish submit")
	}
	return nil
}

// Start launches the serial consumer goroutine.
func (w *PolishWorker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

func (w *PolishWorker) run() {
	defer close(w.done)
	defer close(w.results)

	w.logger.Info("polish worker started", slog.Bool("passthrough", w.polisher == nil))
	for {
		sub, err := w.in.Get(context.Background())
		if err != nil {
			break
		}
		if sub.Stop {
			break
		}
		w.results <- w.process(sub)
	}
	w.logger.Info("polish worker stopped")
}

// process performs one polish call. Service errors degrade to untranslated
// passthrough; the underlying transcript is never lost.
func (w *PolishWorker) process(sub Submission) types.TranscriptionResult {
	if w.polisher == nil {
		return types.TranscriptionResult{
			DetectedLanguage: sub.Language,
			OriginalText:     sub.Text,
			Timestamp:        sub.Timestamp,
			IsFinal:          true,
		}
	}
	start := time.Now()
	result, err := w.polisher.Polish(context.Background(), sub.Text, sub.Language, sub.Timestamp)
	if w.observe != nil {
		w.observe(time.Since(start))
	}
	if err != nil {
		w.logger.Error("polish failed, passing original through",
			slog.String("error", err.Error()),
		)
	}
	return result
}

// Stop sends the drain sentinel and waits for the worker to finish any
// in-flight call and exit. Idempotent, bounded wait.
func (w *PolishWorker) Stop() {
	w.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.in.Put(ctx, Submission{Stop: true}); err != nil {
			// Queue jammed; close it so the consumer exits after draining.
			w.in.Close()
		}
	})
	select {
	case <-w.done:
	case <-time.After(35 * time.Second):
		w.logger.Warn("polish worker stop timed out")
	}
}
