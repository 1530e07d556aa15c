package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the subtitle pipeline.
type Metrics struct {
	// Audio metrics
	ChunksNormalized prometheus.Counter
	ChunksDropped    prometheus.Counter
	AudioQueueSize   prometheus.Gauge

	// Recognizer session metrics
	FragmentsInterim  prometheus.Counter
	FragmentsFinal    prometheus.Counter
	Reconnections     prometheus.Counter
	SessionState      prometheus.Gauge
	SessionFatalFails prometheus.Counter

	// Polish metrics
	PolishSubmissions prometheus.Counter
	PolishSuccesses   prometheus.Counter
	PolishFailures    prometheus.Counter
	PolishDuration    prometheus.Histogram

	// Display metrics
	DisplayEmissions *prometheus.CounterVec
}

// New creates and registers all metrics against the given registerer, so
// tests can use private registries.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChunksNormalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "subtitle_audio_chunks_normalized_total",
			Help: "Total number of audio chunks normalized and queued",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "subtitle_audio_chunks_dropped_total",
			Help: "Total number of audio chunks dropped on a full queue",
		}),
		AudioQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subtitle_audio_queue_size",
			Help: "Current number of chunks waiting in the audio queue",
		}),
		FragmentsInterim: factory.NewCounter(prometheus.CounterOpts{
			Name: "subtitle_fragments_interim_total",
			Help: "Total number of interim transcript fragments received",
		}),
		FragmentsFinal: factory.NewCounter(prometheus.CounterOpts{
			Name: "subtitle_fragments_final_total",
			Help: "Total number of final transcript fragments received",
		}),
		Reconnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "subtitle_session_reconnections_total",
			Help: "Total number of successful recognizer reconnections",
		}),
		SessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subtitle_session_state",
			Help: "Current recognizer session state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
		}),
		SessionFatalFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "subtitle_session_fatal_failures_total",
			Help: "Total number of fatal session failures after reconnection exhaustion",
		}),
		PolishSubmissions: factory.NewCounter(prometheus.CounterOpts{
			Name: "subtitle_polish_submissions_total",
			Help: "Total number of fragments submitted for polishing",
		}),
		PolishSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "subtitle_polish_successes_total",
			Help: "Total number of successful polish calls",
		}),
		PolishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "subtitle_polish_failures_total",
			Help: "Total number of failed polish calls",
		}),
		PolishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "subtitle_polish_duration_seconds",
			Help:    "Latency of polish calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1.7 minutes
		}),
		DisplayEmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subtitle_display_emissions_total",
			Help: "Total number of results emitted to the display boundary",
		}, []string{"kind"}),
	}
}
