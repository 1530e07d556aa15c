package output

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Henry-Jessie/mac-live-subtitle/types"
)

// subtitleEvent is the JSON envelope pushed to overlay clients.
type subtitleEvent struct {
	types.TranscriptionResult
	DurationMS int64 `json:"duration_ms"`
}

// OverlayServer pushes subtitles to any connected overlay page over a
// WebSocket. It also exposes the pipeline's /metrics endpoint. Purely a
// sink: slow or dead clients are dropped, never waited on.
type OverlayServer struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewOverlayServer builds the fiber app and its routes.
func NewOverlayServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *OverlayServer {
	s := &OverlayServer{
		app:     fiber.New(fiber.Config{DisableStartupMessage: true}),
		addr:    addr,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.app.Use("/subtitles", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/subtitles", websocket.New(func(ws *websocket.Conn) {
		s.register(ws)
		defer s.unregister(ws)
		// The overlay never sends anything meaningful; read until the
		// client goes away so pings are serviced.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))

	return s
}

func (s *OverlayServer) register(ws *websocket.Conn) {
	s.mu.Lock()
	s.clients[ws] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("overlay client connected", slog.Int("clients", count))
}

func (s *OverlayServer) unregister(ws *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, ws)
	s.mu.Unlock()
	ws.Close()
}

// ShowSubtitle implements Sink by broadcasting the result to all clients.
func (s *OverlayServer) ShowSubtitle(result types.TranscriptionResult, duration time.Duration) {
	event := subtitleEvent{
		TranscriptionResult: result,
		DurationMS:          duration.Milliseconds(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ws := range s.clients {
		ws.SetWriteDeadline(time.Now().Add(time.Second))
		if err := ws.WriteJSON(event); err != nil {
			s.logger.Warn("dropping overlay client", slog.String("error", err.Error()))
			delete(s.clients, ws)
			ws.Close()
		}
	}
}

// Start begins serving in the background.
func (s *OverlayServer) Start() {
	go func() {
		s.logger.Info("overlay server listening", slog.String("addr", s.addr))
		if err := s.app.Listen(s.addr); err != nil {
			s.logger.Error("overlay server exited", slog.String("error", err.Error()))
		}
	}()
}

// Stop shuts the server down and closes all client connections.
func (s *OverlayServer) Stop() {
	s.mu.Lock()
	for ws := range s.clients {
		ws.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	if err := s.app.ShutdownWithTimeout(2 * time.Second); err != nil {
		s.logger.Warn("overlay server shutdown", slog.String("error", err.Error()))
	}
}
