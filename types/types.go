package types

import "time"

// SessionState describes where the recognizer session is in its
// connection lifecycle.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TranscriptFragment is a single transcript event from the recognizer.
// Interim fragments may still be revised; final fragments will not.
type TranscriptFragment struct {
	Text             string
	DetectedLanguage string
	IsFinal          bool
}

// TranscriptionResult is the unit delivered to the display boundary.
// Interim results carry an empty or previously known translation, never a
// freshly computed one; final results always attempt a translation.
type TranscriptionResult struct {
	DetectedLanguage   string `json:"detected_language"`
	OriginalText       string `json:"original_text"`
	ChineseTranslation string `json:"chinese_translation"`
	Timestamp          string `json:"timestamp"`
	IsFinal            bool   `json:"is_final"`
}

// Display duration hints. The display layer owns timed hide/replace; the
// hint only originates here.
const (
	InterimDisplayDuration = 2 * time.Second
	FinalDisplayDuration   = 5 * time.Second
)

// Timestamp formats wall time the way results are stamped.
func Timestamp(t time.Time) string {
	return t.Format("15:04:05")
}
