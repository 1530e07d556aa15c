package llm

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Henry-Jessie/mac-live-subtitle/types"
)

func testClient() *PolishClient {
	return &PolishClient{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestExtractTranslation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			"well-formed JSON",
			`{"chinese_translation": "你好，世界"}`,
			"你好，世界",
		},
		{
			"markdown-wrapped JSON falls back to extraction",
			"```json\n{\"chinese_translation\": \"蛋白质非常神奇\"}\n```",
			"蛋白质非常神奇",
		},
		{
			"prose around the field falls back to extraction",
			`Here is the result: {"chinese_translation": "当然"} hope that helps`,
			"当然",
		},
		{
			"garbage yields empty translation",
			"I cannot translate this.",
			"",
		},
		{
			"empty body yields empty translation",
			"",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractTranslation(tt.content, logger); got != tt.want {
				t.Errorf("extractTranslation(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestBuildContextEmpty(t *testing.T) {
	p := testClient()
	if got := p.buildContext(); got != "这是对话的开始。" {
		t.Errorf("buildContext() = %q, want conversation-start marker", got)
	}
}

func TestBuildContextUsesLastFiveInOrder(t *testing.T) {
	p := testClient()
	for i := 1; i <= 8; i++ {
		p.appendContext(types.TranscriptionResult{
			OriginalText:       fmt.Sprintf("original %d", i),
			ChineseTranslation: fmt.Sprintf("翻译%d", i),
			IsFinal:            true,
		})
	}

	ctx := p.buildContext()
	for i := 1; i <= 3; i++ {
		if strings.Contains(ctx, fmt.Sprintf("original %d", i)) {
			t.Errorf("context should not contain entry %d", i)
		}
	}
	for i := 4; i <= 8; i++ {
		if !strings.Contains(ctx, fmt.Sprintf("original %d", i)) {
			t.Errorf("context missing entry %d", i)
		}
	}
	// Chronological order: oldest of the five first.
	if strings.Index(ctx, "original 4") > strings.Index(ctx, "original 8") {
		t.Error("context entries are not in chronological order")
	}
	if !strings.Contains(ctx, "翻译8") {
		t.Error("context missing translation of newest entry")
	}
}

func TestBuildContextOmitsEmptyTranslations(t *testing.T) {
	p := testClient()
	p.appendContext(types.TranscriptionResult{OriginalText: "untranslated", IsFinal: true})

	ctx := p.buildContext()
	if !strings.Contains(ctx, "untranslated") {
		t.Fatal("context missing original text")
	}
	if strings.Contains(ctx, "翻译:") {
		t.Error("context should not render an empty translation line")
	}
}

func TestContextWindowCapFIFO(t *testing.T) {
	p := testClient()
	for i := 0; i < contextWindowSize+5; i++ {
		p.appendContext(types.TranscriptionResult{
			OriginalText: fmt.Sprintf("entry %d", i),
			IsFinal:      true,
		})
	}

	if got := p.ContextLen(); got != contextWindowSize {
		t.Fatalf("ContextLen() = %d, want %d", got, contextWindowSize)
	}
	// Oldest entries evicted first.
	if p.recent[0].OriginalText != "entry 5" {
		t.Errorf("oldest retained entry = %q, want %q", p.recent[0].OriginalText, "entry 5")
	}
	last := p.recent[len(p.recent)-1].OriginalText
	if last != fmt.Sprintf("entry %d", contextWindowSize+4) {
		t.Errorf("newest retained entry = %q", last)
	}
}
