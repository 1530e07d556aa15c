package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Henry-Jessie/mac-live-subtitle/audio"
	"github.com/Henry-Jessie/mac-live-subtitle/config"
	"github.com/Henry-Jessie/mac-live-subtitle/llm"
	"github.com/Henry-Jessie/mac-live-subtitle/metrics"
	"github.com/Henry-Jessie/mac-live-subtitle/output"
	"github.com/Henry-Jessie/mac-live-subtitle/pipeline"
	"github.com/Henry-Jessie/mac-live-subtitle/queue"
	"github.com/Henry-Jessie/mac-live-subtitle/stt"
	"github.com/Henry-Jessie/mac-live-subtitle/workers"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "", "Path to a 16-bit PCM WAV file to stream as the audio source")
	flag.Parse()

	// Load .env if present.
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, falling back to environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	logger.Info("starting live subtitle pipeline",
		slog.String("config_path", *configPath),
		slog.String("model", cfg.Deepgram.Model),
		slog.String("language", cfg.Deepgram.Language),
		slog.Bool("interim_results", cfg.Deepgram.InterimResults),
	)

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		logger.Error("DEEPGRAM_API_KEY must be set")
		os.Exit(1)
	}

	if *inputPath == "" {
		logger.Error("an audio source is required, pass -input <file.wav>")
		os.Exit(1)
	}
	source, err := audio.NewWAVSource(*inputPath, cfg.Audio.GetChunkDuration())
	if err != nil {
		logger.Error("failed to open audio source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Unsupported formats are rejected here, once, before anything starts.
	normalizer, err := audio.NewNormalizer(source.SampleRate(), source.Channels())
	if err != nil {
		logger.Error("unsupported audio source format", slog.String("error", err.Error()))
		os.Exit(1)
	}

	session, err := stt.NewSession(stt.Config{
		APIKey:         deepgramKey,
		Model:          cfg.Deepgram.Model,
		Language:       cfg.Deepgram.Language,
		InterimResults: cfg.Deepgram.InterimResults,
	}, logger)
	if err != nil {
		logger.Error("failed to create recognizer session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Missing polish credentials degrade to passthrough, never a dead start.
	var polisher workers.Polisher
	if polishKey := os.Getenv(cfg.Deepgram.Polish.APIKeyEnv); polishKey != "" {
		client, err := llm.NewPolishClient(polishKey, cfg.Deepgram.Polish.BaseURL, cfg.Deepgram.Polish.Model, logger)
		if err != nil {
			logger.Error("failed to create polish client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		polisher = client
		logger.Info("polish service configured", slog.String("polish_model", cfg.Deepgram.Polish.Model))
	} else {
		logger.Warn("no polish API key found, running in passthrough mode",
			slog.String("api_key_env", cfg.Deepgram.Polish.APIKeyEnv),
		)
	}

	registry := prometheus.NewRegistry()
	appMetrics := metrics.New(registry)

	audioQueue := queue.New[[]byte](cfg.Audio.QueueCapacity)
	capture := audio.NewCapture(source, normalizer, audioQueue, logger)
	polishWorker := workers.NewPolishWorker(polisher, 64, logger)

	var sinks []output.Sink
	if cfg.Display.Console {
		sinks = append(sinks, output.NewConsoleSink(os.Stdout))
	}
	var overlay *output.OverlayServer
	if cfg.Display.OverlayEnabled {
		overlay = output.NewOverlayServer(cfg.Display.OverlayAddr, registry, logger)
		sinks = append(sinks, overlay)
	}

	p, err := pipeline.New(pipeline.Options{
		Recognizer:     session,
		Capture:        capture,
		AudioQueue:     audioQueue,
		PolishWorker:   polishWorker,
		InterimResults: cfg.Deepgram.InterimResults,
		Sinks:          sinks,
		OnError: func(msg string) {
			logger.Error("component failure", slog.String("error", msg))
		},
		Metrics: appMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to assemble pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if overlay != nil {
		overlay.Start()
	}
	if err := p.Start(ctx); err != nil {
		logger.Error("failed to start pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case <-p.Fatal():
		logger.Error("pipeline failed permanently, shutting down")
	}

	p.Stop()
	if overlay != nil {
		overlay.Stop()
	}
	logger.Info("stopped", slog.Uint64("chunks_dropped", capture.Dropped()))
}

// initLogger builds the structured logger from configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := os.Stdout
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.File, err)
		} else {
			out = file
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
