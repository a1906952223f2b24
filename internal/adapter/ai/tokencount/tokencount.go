// Package tokencount estimates token usage for LLM API calls.
//
// It uses tiktoken-go, a Go port of OpenAI's tiktoken library, so the
// observability layer can still account for tokens when a provider response
// omits usage metadata.
package tokencount

import (
	"strings"
	"sync"

	"log/slog"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// Counter provides thread-safe token counting for LLM models.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{
		encodingCache: make(map[string]*tiktoken.Tiktoken),
	}
}

// DefaultCounter is a global token counter instance.
var DefaultCounter = NewCounter()

// getEncodingForModel returns the appropriate tiktoken encoding for a model.
// It caches encodings for performance.
func (c *Counter) getEncodingForModel(model string) (*tiktoken.Tiktoken, error) {
	normalizedModel := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[normalizedModel]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if enc, ok := c.encodingCache[normalizedModel]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(normalizedModel)
	if err != nil {
		// cl100k_base covers GPT-4, GPT-3.5-turbo and approximates most
		// modern tokenizers well enough for accounting.
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.String("normalized", normalizedModel),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	c.encodingCache[normalizedModel] = enc
	return enc, nil
}

// normalizeModelName converts model ids to tiktoken-compatible names. Gemini
// and unknown models approximate with the GPT-4 encoding; the counts feed
// metrics, not billing.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)

	switch {
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	case strings.Contains(model, "gemini"):
		return "gpt-4"
	default:
		return "gpt-4"
	}
}

// CountTokens counts the number of tokens in a text string for a given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}

	tokens := enc.Encode(text, nil, nil)
	return len(tokens), nil
}

// CountChatTokens counts tokens for a chat completion request. It accounts
// for the message structure overhead used by OpenAI-compatible APIs.
func (c *Counter) CountChatTokens(systemPrompt, userPrompt, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}

	// Per-message overhead for GPT-3.5-turbo and GPT-4: 3 tokens per
	// message + 1 for the role. See:
	// https://github.com/openai/openai-cookbook/blob/main/examples/How_to_count_tokens_with_tiktoken.ipynb
	tokensPerMessage := 3
	tokensPerRole := 1

	numTokens := 0

	// System message
	numTokens += tokensPerMessage
	numTokens += len(enc.Encode("system", nil, nil))
	numTokens += len(enc.Encode(systemPrompt, nil, nil))
	numTokens += tokensPerRole

	// User message
	numTokens += tokensPerMessage
	numTokens += len(enc.Encode("user", nil, nil))
	numTokens += len(enc.Encode(userPrompt, nil, nil))
	numTokens += tokensPerRole

	// Every reply is primed with <|start|>assistant<|message|>
	numTokens += 3

	return numTokens, nil
}

// CountCompletionTokens counts tokens in a completion response.
func (c *Counter) CountCompletionTokens(completion, model string) (int, error) {
	return c.CountTokens(completion, model)
}

// CalculateUsage estimates full token usage for a chat completion.
func (c *Counter) CalculateUsage(systemPrompt, userPrompt, completion, model string) (*domain.TokenUsage, error) {
	promptTokens, err := c.CountChatTokens(systemPrompt, userPrompt, model)
	if err != nil {
		slog.Warn("failed to count prompt tokens, using estimate",
			slog.String("model", model),
			slog.Any("error", err))
		// Rough estimate: ~4 chars per token
		promptTokens = (len(systemPrompt) + len(userPrompt)) / 4
	}

	completionTokens, err := c.CountCompletionTokens(completion, model)
	if err != nil {
		slog.Warn("failed to count completion tokens, using estimate",
			slog.String("model", model),
			slog.Any("error", err))
		completionTokens = len(completion) / 4
	}

	return &domain.TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}, nil
}

// CountTokensDefault uses the default counter to count tokens.
func CountTokensDefault(text, model string) (int, error) {
	return DefaultCounter.CountTokens(text, model)
}

// CalculateUsageDefault uses the default counter to calculate usage.
func CalculateUsageDefault(systemPrompt, userPrompt, completion, model string) (*domain.TokenUsage, error) {
	return DefaultCounter.CalculateUsage(systemPrompt, userPrompt, completion, model)
}
