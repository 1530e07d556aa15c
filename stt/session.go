package stt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Henry-Jessie/mac-live-subtitle/types"
)

// DefaultEndpoint is the Deepgram live transcription endpoint.
const DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

// ErrConnection reports that the transport could not be opened on Start.
var ErrConnection = errors.New("stt: connection failed")

// Config contains recognizer session configuration. The same configuration
// is replayed verbatim on every reconnection attempt.
type Config struct {
	APIKey         string
	Endpoint       string
	Model          string
	Language       string
	InterimResults bool
	SampleRate     int
	Channels       int

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	DialTimeout          time.Duration
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		c.Model = "nova-3"
	}
	if c.Language == "" {
		c.Language = "multi"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// event is the tagged variant handed from provider-side reader goroutines to
// the session run loop. The run loop is the only goroutine that mutates
// session state; readers only enqueue.
type event struct {
	kind eventKind
	gen  uint64
	frag types.TranscriptFragment
	err  error
}

type eventKind int

const (
	evOpen eventKind = iota
	evFragment
	evError
	evClosed
)

// liveMessage is the wire shape of a Deepgram live transcription message,
// decoded at the provider boundary.
type liveMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

// Session owns the duplex connection to the streaming recognizer and its
// reconnection state machine. Transcript fragments are exposed on Fragments,
// synthetic recovery notices on Notices, and fatal conditions on Errors.
type Session struct {
	cfg    Config
	logger *slog.Logger
	id     string

	fragments chan types.TranscriptFragment
	notices   chan types.TranscriptionResult
	errs      chan error

	audio  chan []byte
	events chan event

	running atomic.Bool
	ready   atomic.Bool

	mu    sync.Mutex
	state types.SessionState

	// Run-loop-owned fields, never touched outside it after Start.
	conn       *websocket.Conn
	gen        uint64
	reconnects atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewSession creates a session. The connection is not opened until Start.
func NewSession(cfg Config, logger *slog.Logger) (*Session, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("stt: API key is required")
	}
	cfg.applyDefaults()
	return &Session{
		cfg:       cfg,
		logger:    logger,
		id:        uuid.NewString(),
		fragments: make(chan types.TranscriptFragment, 64),
		notices:   make(chan types.TranscriptionResult, 4),
		errs:      make(chan error, 4),
		audio:     make(chan []byte, 32),
		events:    make(chan event, 64),
		state:     types.StateDisconnected,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Fragments returns the transcript event stream.
func (s *Session) Fragments() <-chan types.TranscriptFragment { return s.fragments }

// Notices returns synthetic results such as the reconnection notice.
func (s *Session) Notices() <-chan types.TranscriptionResult { return s.notices }

// Errors returns fatal session errors (reconnection exhaustion).
func (s *Session) Errors() <-chan error { return s.errs }

// State returns the current connection state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state types.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Reconnects returns how many successful reconnections have happened.
func (s *Session) Reconnects() uint64 { return s.reconnects.Load() }

// Start opens the duplex connection and launches the run loop. It returns
// ErrConnection if the transport cannot be opened.
func (s *Session) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("stt: session already started")
	}
	s.setState(types.StateConnecting)

	conn, err := s.dial()
	if err != nil {
		s.running.Store(false)
		s.setState(types.StateDisconnected)
		return errors.Wrap(ErrConnection, err.Error())
	}
	s.conn = conn
	go s.readLoop(conn, s.gen)

	// A successful dial is the open event; it still travels through the
	// event channel so state only changes inside the run loop.
	s.events <- event{kind: evOpen, gen: s.gen}

	go s.run()
	s.logger.Info("recognizer session started",
		slog.String("session_id", s.id),
		slog.String("model", s.cfg.Model),
		slog.String("language", s.cfg.Language),
	)
	return nil
}

// dial opens a fresh connection carrying the full session configuration in
// the query string.
func (s *Session) dial() (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("model", s.cfg.Model)
	q.Set("language", s.cfg.Language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", strconv.FormatBool(s.cfg.InterimResults))
	q.Set("utterance_end_ms", "1000")
	q.Set("vad_events", "true")
	q.Set("endpointing", "300")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(s.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(s.cfg.Channels))

	header := http.Header{
		"Authorization": {fmt.Sprintf("Token %s", s.cfg.APIKey)},
	}
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.Dial(s.cfg.Endpoint+"?"+q.Encode(), header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop reads provider messages and enqueues tagged events. It runs on a
// provider-paced goroutine and never mutates session state directly. Events
// from a superseded connection are discarded by generation in the run loop.
func (s *Session) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.postEvent(event{kind: evClosed, gen: gen, err: err})
			return
		}
		var m liveMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			s.logger.Warn("unparseable recognizer message", slog.String("error", err.Error()))
			continue
		}
		switch m.Type {
		case "Results":
			if len(m.Channel.Alternatives) == 0 {
				continue
			}
			alt := m.Channel.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			lang := s.cfg.Language
			if len(alt.Languages) > 0 {
				lang = alt.Languages[0]
			}
			s.postEvent(event{kind: evFragment, gen: gen, frag: types.TranscriptFragment{
				Text:             alt.Transcript,
				DetectedLanguage: lang,
				IsFinal:          m.IsFinal,
			}})
		case "Error":
			s.postEvent(event{kind: evError, gen: gen, err: errors.New(m.Description)})
		default:
			// Metadata, UtteranceEnd, SpeechStarted: nothing to do.
		}
	}
}

func (s *Session) postEvent(ev event) {
	select {
	case s.events <- ev:
	case <-s.stopCh:
	}
}

// run is the single-writer owner of conn and state.
func (s *Session) run() {
	defer close(s.done)
	defer s.teardown()

	for {
		select {
		case <-s.stopCh:
			if s.State() != types.StateFailed {
				s.setState(types.StateDisconnected)
			}
			return
		case chunk := <-s.audio:
			if !s.ready.Load() || s.conn == nil {
				continue
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.logger.Error("audio write failed", slog.String("error", err.Error()))
				s.ready.Store(false)
				if !s.reconnect() {
					return
				}
			}
		case ev := <-s.events:
			if ev.gen != s.gen {
				continue
			}
			switch ev.kind {
			case evOpen:
				s.setState(types.StateConnected)
				s.ready.Store(true)
			case evFragment:
				select {
				case s.fragments <- ev.frag:
				case <-s.stopCh:
				}
			case evError, evClosed:
				if !s.running.Load() {
					continue
				}
				s.logger.Warn("recognizer connection lost",
					slog.String("session_id", s.id),
					slog.String("error", errString(ev.err)),
				)
				s.ready.Store(false)
				if !s.reconnect() {
					return
				}
			}
		}
	}
}

// reconnect runs the bounded retry loop: up to MaxReconnectAttempts, each
// preceded by a fixed delay, each tearing down any half-open connection
// before dialing with identical configuration. Returns false when the
// session should stop (user stop or attempts exhausted).
//
// It runs inline in the run loop, so a second error or close event arriving
// during recovery can never start an overlapping attempt; stale events are
// additionally filtered by connection generation.
func (s *Session) reconnect() bool {
	s.setState(types.StateReconnecting)

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		s.teardown()
		s.gen++

		s.logger.Info("attempting to reconnect",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.MaxReconnectAttempts),
		)

		select {
		case <-time.After(s.cfg.ReconnectDelay):
		case <-s.stopCh:
			s.setState(types.StateDisconnected)
			return false
		}

		conn, err := s.dial()
		if err != nil {
			s.logger.Warn("reconnection attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.conn = conn
		go s.readLoop(conn, s.gen)
		s.setState(types.StateConnected)
		s.ready.Store(true)
		s.reconnects.Add(1)
		s.logger.Info("reconnection successful", slog.Int("attempt", attempt))

		notice := types.TranscriptionResult{
			DetectedLanguage:   "system",
			OriginalText:       "[Reconnected]",
			ChineseTranslation: "[重新连接成功]",
			Timestamp:          types.Timestamp(time.Now()),
			IsFinal:            true,
		}
		select {
		case s.notices <- notice:
		default:
		}
		return true
	}

	s.setState(types.StateFailed)
	s.running.Store(false)
	s.ready.Store(false)
	err := errors.Errorf("stt: giving up after %d reconnection attempts", s.cfg.MaxReconnectAttempts)
	s.logger.Error("max reconnection attempts reached", slog.String("session_id", s.id))
	select {
	case s.errs <- err:
	default:
	}
	return false
}

// teardown closes any open connection. The reader goroutine unblocks on the
// close and its terminal event is discarded by generation.
func (s *Session) teardown() {
	if s.conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing connection")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = s.conn.Close()
	s.conn = nil
}

// SendAudio hands a normalized chunk to the session. Unless the session is
// connected the chunk is dropped and logged: audio capture must never block
// on recognizer availability.
func (s *Session) SendAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if !s.running.Load() || !s.ready.Load() {
		s.logger.Debug("dropping audio chunk, session not connected",
			slog.String("state", s.State().String()),
		)
		return
	}
	select {
	case s.audio <- chunk:
	default:
		s.logger.Debug("dropping audio chunk, session write queue full")
	}
}

// Stop severs the connection and any pending reconnection attempt.
// Idempotent; returns once the run loop has exited or after a bounded wait.
func (s *Session) Stop() {
	started := s.running.Swap(false)
	s.ready.Store(false)
	s.stopOnce.Do(func() { close(s.stopCh) })
	if !started && s.State() == types.StateDisconnected {
		return
	}
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		s.logger.Warn("session stop timed out waiting for run loop")
	}
	s.logger.Info("recognizer session stopped", slog.String("session_id", s.id))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
