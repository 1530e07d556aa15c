package workers

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Henry-Jessie/mac-live-subtitle/types"
)

// translationThreshold is the minimum gap between polish submissions for
// interim fragments. Final fragments always submit, overriding the throttle.
const translationThreshold = 1 * time.Second

// Submitter hands a submission to the polish stage. Implemented by
// PolishWorker.Submit.
type Submitter func(Submission) error

// Emitter delivers an interim display event with its duration hint.
type Emitter func(types.TranscriptionResult, time.Duration)

// Aggregator consumes transcript fragments and applies the interim/final
// policy: interim fragments update the pending text and are displayed
// immediately with the last known translation; polish submissions are
// throttled by time; final fragments clear the pending text and always
// submit. OnFragment is called from a single goroutine (the orchestrator's
// fragment loop).
type Aggregator struct {
	interimEnabled bool
	submit         Submitter
	emit           Emitter
	onError        func(string)
	logger         *slog.Logger

	now            func() time.Time
	lastSubmission time.Time
	pending        string

	mu              sync.RWMutex
	lastTranslation string
}

// NewAggregator wires the policy to its submission and emission outlets.
func NewAggregator(interimEnabled bool, submit Submitter, emit Emitter, onError func(string), logger *slog.Logger) *Aggregator {
	return &Aggregator{
		interimEnabled: interimEnabled,
		submit:         submit,
		emit:           emit,
		onError:        onError,
		logger:         logger,
		now:            time.Now,
	}
}

// OnFragment applies the policy to one fragment. Malformed or empty
// fragments are skipped without error; submission failures are reported
// through the error callback and do not stop the pipeline.
func (a *Aggregator) OnFragment(frag types.TranscriptFragment) {
	if strings.TrimSpace(frag.Text) == "" {
		return
	}

	if !a.interimEnabled || frag.IsFinal {
		a.pending = ""
		a.lastSubmission = a.now()
		a.doSubmit(frag)
		return
	}

	a.pending = frag.Text
	a.emit(types.TranscriptionResult{
		DetectedLanguage:   frag.DetectedLanguage,
		OriginalText:       frag.Text,
		ChineseTranslation: a.LastTranslation(),
		Timestamp:          types.Timestamp(a.now()),
		IsFinal:            false,
	}, types.InterimDisplayDuration)

	if a.now().Sub(a.lastSubmission) >= translationThreshold {
		a.lastSubmission = a.now()
		a.doSubmit(frag)
	}
}

func (a *Aggregator) doSubmit(frag types.TranscriptFragment) {
	err := a.submit(Submission{
		Text:      frag.Text,
		Language:  frag.DetectedLanguage,
		Timestamp: types.Timestamp(a.now()),
	})
	if err != nil {
		a.logger.Error("polish submission failed", slog.String("error", err.Error()))
		if a.onError != nil {
			a.onError("polish submission failed: " + err.Error())
		}
	}
}

// Pending returns the most recent interim transcript, empty after a final.
func (a *Aggregator) Pending() string {
	return a.pending
}

// LastTranslation returns the translation attached to interim emissions.
func (a *Aggregator) LastTranslation() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastTranslation
}

// SetLastTranslation records the most recent final translation so interim
// results can keep showing it while new text streams in.
func (a *Aggregator) SetLastTranslation(translation string) {
	if translation == "" {
		return
	}
	a.mu.Lock()
	a.lastTranslation = translation
	a.mu.Unlock()
}
