package audio

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// WAVSource replays a 16-bit PCM WAV file as if it were a live device,
// pacing frames at real time. Used for demo runs and tests where no
// loopback device is available.
type WAVSource struct {
	path          string
	chunkDuration time.Duration

	sampleRate int
	channels   int
	data       []byte

	frames chan Frame
	faults chan error

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewWAVSource opens and validates the file header up front so format
// problems surface at startup, not mid-stream.
func NewWAVSource(path string, chunkDuration time.Duration) (*WAVSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read wav file")
	}
	rate, channels, pcm, err := parseWAV(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if chunkDuration <= 0 {
		chunkDuration = 500 * time.Millisecond
	}
	return &WAVSource{
		path:          path,
		chunkDuration: chunkDuration,
		sampleRate:    rate,
		channels:      channels,
		data:          pcm,
		frames:        make(chan Frame, 4),
		faults:        make(chan error, 1),
		stopped:       make(chan struct{}),
	}, nil
}

// SampleRate returns the file's native rate.
func (w *WAVSource) SampleRate() int { return w.sampleRate }

// Channels returns the file's channel count.
func (w *WAVSource) Channels() int { return w.channels }

// Frames implements Source.
func (w *WAVSource) Frames() <-chan Frame { return w.frames }

// Faults implements Source.
func (w *WAVSource) Faults() <-chan error { return w.faults }

// Start begins replaying the file in a background goroutine.
func (w *WAVSource) Start(ctx context.Context) error {
	go w.replay(ctx)
	return nil
}

func (w *WAVSource) replay(ctx context.Context) {
	defer close(w.frames)

	samplesPerChunk := int(float64(w.sampleRate)*w.chunkDuration.Seconds()) * w.channels
	bytesPerChunk := samplesPerChunk * 2
	ticker := time.NewTicker(w.chunkDuration)
	defer ticker.Stop()

	for offset := 0; offset < len(w.data); offset += bytesPerChunk {
		end := offset + bytesPerChunk
		if end > len(w.data) {
			end = len(w.data)
		}
		frame := Frame{
			Samples:    pcmToFloat32(w.data[offset:end]),
			SampleRate: w.sampleRate,
			Channels:   w.channels,
		}
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case w.frames <- frame:
		}
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case <-ticker.C:
		}
	}
}

// Stop implements Source. Idempotent.
func (w *WAVSource) Stop() error {
	w.stopOnce.Do(func() { close(w.stopped) })
	return nil
}

// parseWAV walks the RIFF chunks of a 16-bit PCM file and returns the
// format plus the raw sample data.
func parseWAV(data []byte) (sampleRate, channels int, pcm []byte, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, 0, nil, errors.New("not a RIFF/WAVE file")
	}
	pos := 12
	var haveFmt bool
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return 0, 0, nil, errors.Errorf("truncated %q chunk", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return 0, 0, nil, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return 0, 0, nil, errors.Errorf("unsupported wav encoding (format=%d bits=%d)", format, bits)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}
		// Chunks are word-aligned.
		pos = body + size + size%2
	}
	if !haveFmt {
		return 0, 0, nil, errors.New("missing fmt chunk")
	}
	if pcm == nil {
		return 0, 0, nil, errors.New("missing data chunk")
	}
	return sampleRate, channels, pcm, nil
}

func pcmToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32767.0
	}
	return out
}
