// Package openai implements the batch analyzer on the OpenAI chat completions
// API. A base URL override points it at any API-compatible gateway.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/powerpulse/powerpulse/internal/adapter/ai"
	"github.com/powerpulse/powerpulse/internal/domain"
)

const (
	defaultModel = "gpt-4o-mini"

	systemPrompt = "You are a customer experience analyst. Respond only with the JSON requested, no prose."
)

// Client scores conversation-day batches with one chat completion per batch,
// forcing JSON mode on the response.
type Client struct {
	sdk   sdk.Client
	model string
}

// New builds an OpenAI-backed analyzer. The model falls back to gpt-4o-mini
// when empty; baseURL is optional.
func New(apiKey, model, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("op=openai.new: api key required: %w", domain.ErrInvalidArgument)
	}
	if model == "" {
		model = defaultModel
	}
	// Request timeouts come from the caller's context; the transport only
	// adds tracing.
	httpc := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return fmt.Sprintf("OpenAI %s %s", r.Method, r.URL.Host)
			}),
		),
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpc)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}, nil
}

// Name identifies the upstream in logs and metrics.
func (c *Client) Name() string { return "openai" }

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

// AnalyzeDailyBatch scores all units with a single chat completion. Transport
// and API errors surface for the retry layer; a response that cannot be
// parsed into the expected array degrades to fallback records without an
// error.
func (c *Client) AnalyzeDailyBatch(ctx domain.Context, units []domain.AnalysisUnit) ([]domain.AnalysisRecord, *domain.TokenUsage, error) {
	if len(units) == 0 {
		return nil, nil, nil
	}
	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(c.model),
		Temperature: sdk.Float(0.1),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemPrompt),
			sdk.UserMessage(ai.BuildBatchPrompt(units)),
		},
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, nil, classify(err)
	}
	var usage *domain.TokenUsage
	if comp.Usage.TotalTokens > 0 {
		usage = &domain.TokenUsage{
			PromptTokens:     int(comp.Usage.PromptTokens),
			CompletionTokens: int(comp.Usage.CompletionTokens),
			TotalTokens:      int(comp.Usage.TotalTokens),
		}
	}
	if len(comp.Choices) == 0 || strings.TrimSpace(comp.Choices[0].Message.Content) == "" {
		return nil, usage, fmt.Errorf("op=openai.analyze: empty response: %w", domain.ErrUpstreamTimeout)
	}
	// JSON mode wraps the array in an object for some models; the parser
	// digs the array out either way.
	records, _ := ai.ParseBatchRecords(comp.Choices[0].Message.Content, len(units))
	return records, usage, nil
}

// classify maps OpenAI API failures onto the domain taxonomy so the retry
// layer can tell transient from permanent.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("op=openai.analyze: %v: %w", apiErr.Message, domain.ErrUpstreamRateLimit)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("op=openai.analyze: %v: %w", apiErr.Message, domain.ErrUpstreamTimeout)
		default:
			return fmt.Errorf("op=openai.analyze: status %d: %s: %w", apiErr.StatusCode, apiErr.Message, domain.ErrInvalidArgument)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("op=openai.analyze: %w", domain.ErrUpstreamTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("op=openai.analyze: %v: %w", err, domain.ErrUpstreamTimeout)
}
