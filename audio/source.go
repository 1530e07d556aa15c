package audio

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/Henry-Jessie/mac-live-subtitle/queue"
)

// Frame is one block of raw device audio. Frames are ephemeral: produced and
// consumed inside the capture loop, never retained.
type Frame struct {
	Samples    []float32 // interleaved when Channels == 2
	SampleRate int
	Channels   int
}

// Source yields raw audio frames from a device or file. Device loss is
// signalled on Faults; the capture loop logs it and keeps running, treating
// the loss as empty input.
type Source interface {
	Start(ctx context.Context) error
	Frames() <-chan Frame
	Faults() <-chan error
	Stop() error
}

// Capture runs the dedicated audio domain: it blocks on the source stream,
// normalizes each frame, and pushes chunks into a bounded queue. It never
// blocks on downstream availability beyond queue capacity; when the queue is
// full the chunk is dropped and counted.
type Capture struct {
	source  Source
	norm    *Normalizer
	out     *queue.Queue[[]byte]
	logger  *slog.Logger
	dropped atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCapture wires a source and a normalizer to an output queue.
func NewCapture(source Source, norm *Normalizer, out *queue.Queue[[]byte], logger *slog.Logger) *Capture {
	return &Capture{
		source: source,
		norm:   norm,
		out:    out,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins capturing. It returns an error only if the source itself
// fails to start; everything after that is reported through logs.
func (c *Capture) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	if err := c.source.Start(runCtx); err != nil {
		cancel()
		close(c.done)
		return err
	}
	go c.run(runCtx)
	return nil
}

func (c *Capture) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.source.Faults():
			if !ok {
				continue
			}
			c.logger.Warn("audio source fault, continuing", slog.String("error", err.Error()))
		case frame, ok := <-c.source.Frames():
			if !ok {
				c.logger.Info("audio source drained")
				return
			}
			if len(frame.Samples) == 0 {
				continue
			}
			chunk := c.norm.Normalize(frame.Samples)
			if err := c.out.TryPut(chunk); err != nil {
				c.dropped.Add(1)
				c.logger.Warn("audio queue full, dropping chunk",
					slog.Int("chunk_bytes", len(chunk)),
					slog.Uint64("dropped_total", c.dropped.Load()),
				)
			}
		}
	}
}

// Dropped returns how many chunks were discarded because the queue was full.
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// Stop halts the source and waits for the capture loop to exit. Idempotent.
func (c *Capture) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	if err := c.source.Stop(); err != nil {
		c.logger.Warn("audio source stop", slog.String("error", err.Error()))
	}
	<-c.done
}
