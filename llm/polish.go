package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Henry-Jessie/mac-live-subtitle/types"
)

const (
	// contextWindowSize bounds the conversational history kept for prompts.
	contextWindowSize = 40
	// promptContextSize is how many recent entries each prompt carries.
	promptContextSize = 5
)

// systemPrompt instructs the model to merge-and-revise: a continuation of
// the previous utterance must extend the prior translation into one coherent
// sentence instead of producing an independent new one.
const systemPrompt = `你是一个顶级的同声传译AI，专门处理实时的、碎片化的英文语音转录。你的核心任务是输出极其连贯、流畅的中文翻译。

**你的工作流程是“合并与修正”，而不是简单的“独立翻译”。**

你的核心任务是：
1.  **合并与修正 (Merge & Revise)**：这是你的首要规则。当“当前新文本”是“上一句”的延续时，你**必须**在“上一句的最终翻译”的基础上进行修改、扩展或润色，形成一句完整的话。**不要**为延续性的文本片段生成一个全新的、独立的句子。
2.  **另起新句 (Start New)**：如果“当前新文本”在语义上明显开启了一个新的话题或句子，你才应该输出一个新的、独立的翻译。
3.  **纠正明显的识别错误**：利用上下文修正语音识别的错误，如 P vs MP 应为 P vs NP。
4.  **简洁与自然 (Concise & Natural)**：翻译结果要简短、口语化，符合中文母语者的习惯。字幕长度尽量控制在20-25个汉字以内。
5.  **格式要求**：只返回一个JSON对象，包含` + "`chinese_translation`" + `字段。不要添加任何解释或markdown标记。`

// translationPattern is the best-effort fallback for malformed responses.
var translationPattern = regexp.MustCompile(`"chinese_translation"\s*:\s*"([^"]+)"`)

// polishResponse is the structured field expected back from the service.
type polishResponse struct {
	ChineseTranslation string `json:"chinese_translation"`
}

// PolishClient calls the text-polishing/translation service and maintains
// the bounded context window of recent results.
type PolishClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	recent []types.TranscriptionResult
}

// NewPolishClient builds a client for an OpenAI-compatible endpoint.
// baseURL may point at OpenRouter or any other compatible gateway.
func NewPolishClient(apiKey, baseURL, model string, logger *slog.Logger) (*PolishClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: polish API key is required")
	}
	if model == "" {
		return nil, errors.New("llm: polish model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &PolishClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: 30 * time.Second,
		logger:  logger,
	}, nil
}

// Polish merges the new text with recent context and translates it. On any
// service error the returned result still carries the original text with an
// empty translation, so a failed call never loses the transcript.
func (p *PolishClient) Polish(ctx context.Context, text, language, timestamp string) (types.TranscriptionResult, error) {
	result := types.TranscriptionResult{
		DetectedLanguage: language,
		OriginalText:     text,
		Timestamp:        timestamp,
		IsFinal:          true,
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	requestID := uuid.NewString()
	start := time.Now()
	resp, err := p.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: p.buildUserPrompt(text)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
		MaxTokens:   2048,
	})
	if err != nil {
		p.logger.Error("polish call failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return result, errors.Wrap(err, "polish call")
	}
	if len(resp.Choices) == 0 {
		return result, errors.New("llm: empty polish response")
	}

	result.ChineseTranslation = extractTranslation(resp.Choices[0].Message.Content, p.logger)
	p.appendContext(result)

	p.logger.Debug("polish call complete",
		slog.String("request_id", requestID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// buildUserPrompt renders the last few (original, translation) pairs in
// chronological order followed by the text to translate.
func (p *PolishClient) buildUserPrompt(text string) string {
	return fmt.Sprintf(`

参考上下文：
%s

请翻译以下转录文本，并确保与上下文连贯：
当前文本: %s（需要翻译）


只返回JSON，不要有其他内容：
{
    "chinese_translation": "连贯的中文翻译"
}`, p.buildContext(), text)
}

func (p *PolishClient) buildContext() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.recent) == 0 {
		return "这是对话的开始。"
	}
	items := p.recent
	if len(items) > promptContextSize {
		items = items[len(items)-promptContextSize:]
	}
	parts := make([]string, 0, len(items))
	for i, item := range items {
		part := fmt.Sprintf("前%d条:\n原文: %s", len(items)-i, item.OriginalText)
		if item.ChineseTranslation != "" {
			part += fmt.Sprintf("\n翻译: %s", item.ChineseTranslation)
		}
		parts = append(parts, part)
	}
	return "参考上下文（从旧到新）:\n" + strings.Join(parts, "\n\n")
}

// appendContext records a polished result, evicting the oldest entries
// beyond the window cap.
func (p *PolishClient) appendContext(result types.TranscriptionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append(p.recent, result)
	if len(p.recent) > contextWindowSize {
		p.recent = p.recent[len(p.recent)-contextWindowSize:]
	}
}

// ContextLen reports the current context window size.
func (p *PolishClient) ContextLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.recent)
}

// extractTranslation parses the structured response, falling back to a
// regex scrape of the raw body, then to an empty translation.
func extractTranslation(content string, logger *slog.Logger) string {
	var parsed polishResponse
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		return parsed.ChineseTranslation
	}
	logger.Warn("malformed polish response, attempting extraction",
		slog.Int("response_bytes", len(content)),
	)
	if m := translationPattern.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return ""
}
