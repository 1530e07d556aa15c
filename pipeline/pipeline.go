package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Henry-Jessie/mac-live-subtitle/audio"
	"github.com/Henry-Jessie/mac-live-subtitle/metrics"
	"github.com/Henry-Jessie/mac-live-subtitle/output"
	"github.com/Henry-Jessie/mac-live-subtitle/queue"
	"github.com/Henry-Jessie/mac-live-subtitle/types"
	"github.com/Henry-Jessie/mac-live-subtitle/workers"
)

// Recognizer is the session contract the orchestrator wires against.
// Implemented by stt.Session.
type Recognizer interface {
	Start() error
	Stop()
	SendAudio(chunk []byte)
	State() types.SessionState
	Fragments() <-chan types.TranscriptFragment
	Notices() <-chan types.TranscriptionResult
	Errors() <-chan error
}

// Options collects the pipeline's collaborators.
type Options struct {
	Recognizer     Recognizer
	Capture        *audio.Capture
	AudioQueue     *queue.Queue[[]byte]
	PolishWorker   *workers.PolishWorker
	InterimResults bool
	Sinks          []output.Sink
	OnError        func(string) // single error callback, human-readable
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Pipeline wires audio capture into the recognizer session and fans
// recognizer/polish events out to the display sinks. It owns lifecycle
// ordering: the session must be started before audio flows; on shutdown
// audio stops first, then the polish queue drains, then the session closes.
type Pipeline struct {
	recognizer Recognizer
	capture    *audio.Capture
	audioQ     *queue.Queue[[]byte]
	polish     *workers.PolishWorker
	agg        *workers.Aggregator
	sinks      []output.Sink
	onError    func(string)
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// Owned by forwardLoop.
	lastDropped uint64

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	fatalOnce sync.Once
	fatal     chan struct{}
}

// New assembles a pipeline from its components.
func New(opts Options) (*Pipeline, error) {
	if opts.Recognizer == nil {
		return nil, errors.New("pipeline: recognizer is required")
	}
	if opts.Capture == nil || opts.AudioQueue == nil {
		return nil, errors.New("pipeline: audio capture and queue are required")
	}
	if opts.PolishWorker == nil {
		return nil, errors.New("pipeline: polish worker is required")
	}
	if opts.OnError == nil {
		opts.OnError = func(string) {}
	}

	p := &Pipeline{
		recognizer: opts.Recognizer,
		capture:    opts.Capture,
		audioQ:     opts.AudioQueue,
		polish:     opts.PolishWorker,
		sinks:      opts.Sinks,
		onError:    opts.OnError,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		fatal:      make(chan struct{}),
	}
	submit := p.polish.Submit
	if opts.Metrics != nil {
		submit = func(sub workers.Submission) error {
			opts.Metrics.PolishSubmissions.Inc()
			return p.polish.Submit(sub)
		}
		opts.PolishWorker.ObserveDuration(func(d time.Duration) {
			opts.Metrics.PolishDuration.Observe(d.Seconds())
		})
	}
	p.agg = workers.NewAggregator(
		opts.InterimResults,
		submit,
		p.display,
		p.reportError,
		opts.Logger,
	)
	return p, nil
}

// Start brings the pipeline up: polish worker, recognizer session, event
// fan-out, then audio capture. Audio never flows before the session has
// confirmed it is at least connecting.
func (p *Pipeline) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.polish.Start()

	if err := p.recognizer.Start(); err != nil {
		cancel()
		return errors.Wrap(err, "start recognizer")
	}

	p.wg.Add(3)
	go p.fragmentLoop(runCtx)
	go p.resultLoop()
	go p.forwardLoop(runCtx)

	if err := p.capture.Start(runCtx); err != nil {
		p.Stop()
		return errors.Wrap(err, "start audio capture")
	}

	p.showBanner()
	p.logger.Info("pipeline started")
	return nil
}

// fragmentLoop marshals recognizer events into the orchestrator domain.
func (p *Pipeline) fragmentLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frag := <-p.recognizer.Fragments():
			if p.metrics != nil {
				if frag.IsFinal {
					p.metrics.FragmentsFinal.Inc()
				} else {
					p.metrics.FragmentsInterim.Inc()
				}
			}
			p.agg.OnFragment(frag)
		case notice := <-p.recognizer.Notices():
			if p.metrics != nil {
				p.metrics.Reconnections.Inc()
			}
			p.display(notice, types.FinalDisplayDuration)
		case err := <-p.recognizer.Errors():
			if p.metrics != nil {
				p.metrics.SessionFatalFails.Inc()
			}
			p.reportError(err.Error())
			p.fatalOnce.Do(func() { close(p.fatal) })
		}
	}
}

// resultLoop delivers polished results. It exits when the polish worker
// drains and closes its results channel, so nothing submitted before stop
// is lost.
func (p *Pipeline) resultLoop() {
	defer p.wg.Done()
	for result := range p.polish.Results() {
		if p.metrics != nil {
			if result.ChineseTranslation != "" {
				p.metrics.PolishSuccesses.Inc()
			} else {
				p.metrics.PolishFailures.Inc()
			}
		}
		p.agg.SetLastTranslation(result.ChineseTranslation)
		p.display(result, types.FinalDisplayDuration)
	}
}

// forwardLoop moves normalized chunks from the audio queue into the
// session. The session drops chunks itself when it is not connected.
func (p *Pipeline) forwardLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		chunk, err := p.audioQ.Get(ctx)
		if err != nil {
			return
		}
		if p.metrics != nil {
			p.metrics.ChunksNormalized.Inc()
			p.metrics.AudioQueueSize.Set(float64(p.audioQ.Len()))
			p.metrics.SessionState.Set(float64(p.recognizer.State()))
			if d := p.capture.Dropped(); d > p.lastDropped {
				p.metrics.ChunksDropped.Add(float64(d - p.lastDropped))
				p.lastDropped = d
			}
		}
		p.recognizer.SendAudio(chunk)
	}
}

func (p *Pipeline) display(result types.TranscriptionResult, duration time.Duration) {
	if p.metrics != nil {
		kind := "interim"
		if result.IsFinal {
			kind = "final"
		}
		p.metrics.DisplayEmissions.WithLabelValues(kind).Inc()
	}
	for _, sink := range p.sinks {
		sink.ShowSubtitle(result, duration)
	}
}

// reportError surfaces a component failure through the error callback and
// the display, mirroring how connection loss is shown to the user.
func (p *Pipeline) reportError(msg string) {
	p.logger.Error("pipeline error", slog.String("error", msg))
	p.onError(msg)
	p.display(types.TranscriptionResult{
		DetectedLanguage:   "system",
		OriginalText:       "Error",
		ChineseTranslation: msg,
		Timestamp:          types.Timestamp(time.Now()),
		IsFinal:            true,
	}, types.FinalDisplayDuration)
}

func (p *Pipeline) showBanner() {
	banner := types.TranscriptionResult{
		DetectedLanguage:   "system",
		OriginalText:       "Deepgram Live Subtitle Started",
		ChineseTranslation: "实时字幕已启动",
		Timestamp:          types.Timestamp(time.Now()),
		IsFinal:            true,
	}
	p.agg.SetLastTranslation(banner.ChineseTranslation)
	p.display(banner, types.FinalDisplayDuration)
}

// Fatal is closed when the session fails permanently, so the caller can
// observe the stopped condition and shut down.
func (p *Pipeline) Fatal() <-chan struct{} { return p.fatal }

// Stop tears the pipeline down in order: audio capture first, then the
// polish queue is drained, then the recognizer session is closed.
// Idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping pipeline")

		p.capture.Stop()
		p.polish.Stop()
		p.recognizer.Stop()

		if p.cancel != nil {
			p.cancel()
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			p.logger.Warn("pipeline stop timed out waiting for loops")
		}
		p.logger.Info("pipeline stopped")
	})
}
