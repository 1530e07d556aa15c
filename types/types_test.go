package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateFailed, "failed"},
		{SessionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestTimestampFormat(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 5, 7, 0, time.UTC)
	if got := Timestamp(ts); got != "09:05:07" {
		t.Errorf("Timestamp = %q, want %q", got, "09:05:07")
	}
}

func TestTranscriptionResultJSON(t *testing.T) {
	res := TranscriptionResult{
		DetectedLanguage:   "en",
		OriginalText:       "hello",
		ChineseTranslation: "你好",
		Timestamp:          "12:00:00",
		IsFinal:            true,
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"detected_language", "original_text", "chinese_translation", "timestamp", "is_final"} {
		if _, ok := m[key]; !ok {
			t.Errorf("marshalled result missing %q", key)
		}
	}
}
