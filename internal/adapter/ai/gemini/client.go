// Package gemini implements the batch analyzer on Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/genai"

	"github.com/powerpulse/powerpulse/internal/adapter/ai"
	"github.com/powerpulse/powerpulse/internal/domain"
)

const defaultModel = "gemini-1.5-flash"

// Client scores conversation-day batches with one generateContent call per
// batch, asking for a JSON-only response.
type Client struct {
	genc  *genai.Client
	model string
}

// New builds a Gemini-backed analyzer. The model falls back to
// gemini-1.5-flash when empty.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("op=gemini.new: api key required: %w", domain.ErrInvalidArgument)
	}
	if model == "" {
		model = defaultModel
	}
	// Request timeouts come from the caller's context; the transport only
	// adds tracing.
	genc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return fmt.Sprintf("Gemini %s %s", r.Method, r.URL.Host)
				}),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("op=gemini.new: %w", err)
	}
	return &Client{genc: genc, model: model}, nil
}

// Name identifies the upstream in logs and metrics.
func (c *Client) Name() string { return "gemini" }

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

// AnalyzeDailyBatch scores all units with a single model call. Transport and
// API errors surface for the retry layer; a response that cannot be parsed
// into the expected array degrades to fallback records without an error.
func (c *Client) AnalyzeDailyBatch(ctx domain.Context, units []domain.AnalysisUnit) ([]domain.AnalysisRecord, *domain.TokenUsage, error) {
	if len(units) == 0 {
		return nil, nil, nil
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
	}
	resp, err := c.genc.Models.GenerateContent(ctx, c.model, genai.Text(ai.BuildBatchPrompt(units)), cfg)
	if err != nil {
		return nil, nil, classify(err)
	}
	var usage *domain.TokenUsage
	if resp.UsageMetadata != nil {
		usage = &domain.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, usage, fmt.Errorf("op=gemini.analyze: empty response: %w", domain.ErrUpstreamTimeout)
	}
	records, _ := ai.ParseBatchRecords(text, len(units))
	return records, usage, nil
}

// classify maps Gemini API failures onto the domain taxonomy so the retry
// layer can tell transient from permanent.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("op=gemini.analyze: %s: %w", apiErr.Message, domain.ErrUpstreamRateLimit)
		case apiErr.Code >= 500:
			return fmt.Errorf("op=gemini.analyze: %s: %w", apiErr.Message, domain.ErrUpstreamTimeout)
		default:
			return fmt.Errorf("op=gemini.analyze: status %d: %s: %w", apiErr.Code, apiErr.Message, domain.ErrInvalidArgument)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("op=gemini.analyze: %w", domain.ErrUpstreamTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("op=gemini.analyze: %v: %w", err, domain.ErrUpstreamTimeout)
}
