package audio

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// TargetSampleRate is the fixed rate the recognizer session expects.
const TargetSampleRate = 16000

// ErrUnsupportedRate reports a source sample rate the normalizer cannot
// convert. Only 16 kHz passthrough and exact 48 kHz -> 16 kHz decimation
// are supported; this is checked once at startup, never per chunk.
var ErrUnsupportedRate = errors.New("audio: unsupported source sample rate")

// ErrUnsupportedChannels reports a channel layout other than mono or stereo.
var ErrUnsupportedChannels = errors.New("audio: unsupported channel count")

// decimationFactor is the only resampling ratio supported (48000/16000).
const decimationFactor = 3

// antiAliasTaps is the polyphase FIR kernel used before 3:1 decimation:
// a 33-tap Hamming-windowed sinc with cutoff at the output Nyquist
// (8 kHz at a 48 kHz input rate).
var antiAliasTaps = buildAntiAliasTaps(33, 1.0/(2.0*decimationFactor))

func buildAntiAliasTaps(n int, cutoff float64) []float64 {
	taps := make([]float64, n)
	center := float64(n-1) / 2.0
	var sum float64
	for i := range taps {
		x := float64(i) - center
		var s float64
		if x == 0 {
			s = 2 * cutoff
		} else {
			s = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		taps[i] = s * w
		sum += taps[i]
	}
	// Normalize for unity gain at DC.
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// Normalizer converts raw device frames into the fixed recognizer format:
// 16 kHz, mono, 16-bit signed little-endian PCM. The only state it keeps is
// the source format detected once at stream start.
type Normalizer struct {
	sourceRate     int
	sourceChannels int
}

// NewNormalizer validates the source format and returns a normalizer for it.
func NewNormalizer(sourceRate, sourceChannels int) (*Normalizer, error) {
	if sourceRate != TargetSampleRate && sourceRate != TargetSampleRate*decimationFactor {
		return nil, errors.Wrapf(ErrUnsupportedRate, "%d Hz", sourceRate)
	}
	if sourceChannels != 1 && sourceChannels != 2 {
		return nil, errors.Wrapf(ErrUnsupportedChannels, "%d channels", sourceChannels)
	}
	return &Normalizer{sourceRate: sourceRate, sourceChannels: sourceChannels}, nil
}

// SourceRate returns the cached source sample rate.
func (n *Normalizer) SourceRate() int { return n.sourceRate }

// Normalize converts one frame of interleaved float32 samples into a
// normalized PCM chunk. The returned slice is owned by the caller.
//
// Quantization multiplies by 32767 without clamping: input outside [-1, 1]
// (clipping audio) wraps around instead of saturating.
func (n *Normalizer) Normalize(samples []float32) []byte {
	mono := samples
	if n.sourceChannels == 2 {
		mono = collapseStereo(samples)
	}
	if n.sourceRate == TargetSampleRate*decimationFactor {
		mono = decimate(mono)
	}
	out := make([]byte, len(mono)*2)
	for i, s := range mono {
		v := int32(float64(s) * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// collapseStereo averages interleaved left/right samples into mono.
func collapseStereo(samples []float32) []float32 {
	mono := make([]float32, len(samples)/2)
	for i := range mono {
		mono[i] = (samples[2*i] + samples[2*i+1]) / 2
	}
	return mono
}

// decimate low-pass filters and keeps every third sample. Samples outside
// the chunk are treated as zero, so filter state does not survive across
// calls.
func decimate(samples []float32) []float32 {
	outLen := len(samples) / decimationFactor
	out := make([]float32, outLen)
	center := len(antiAliasTaps) / 2
	for i := 0; i < outLen; i++ {
		pos := i * decimationFactor
		var acc float64
		for k, tap := range antiAliasTaps {
			idx := pos + k - center
			if idx < 0 || idx >= len(samples) {
				continue
			}
			acc += tap * float64(samples[idx])
		}
		out[i] = float32(acc)
	}
	return out
}

// RMSLevel computes a 0..1 volume level from a normalized PCM chunk,
// scaled up for display the same way the overlay expects.
func RMSLevel(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}
	var sum float64
	count := len(chunk) / 2
	for i := 0; i < count; i++ {
		s := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(count))
	level := rms / 32767.0 * 10
	if level > 1 {
		return 1
	}
	return level
}
