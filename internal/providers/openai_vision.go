package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIVisionName         = "openai-vision"
	openAIVisionDefaultModel = "gpt-4o-mini"

	openAIVisionPrompt = "Transcribe all text on this scanned legal document page exactly as written. " +
		"Preserve line breaks. Do not summarize, translate or add commentary. " +
		"Return only the transcription."
)

// OpenAIVisionConfig holds configuration for the vision-model OCR client.
type OpenAIVisionConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // Optional (tests, compatible gateways)
	RateLimit  float64
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// OpenAIVisionClient implements OCRProvider with a chat completion over one page image.
type OpenAIVisionClient struct {
	model      string
	rateLimit  float64
	maxRetries int
	retryDelay time.Duration
	client     openai.Client
}

// NewOpenAIVisionClient creates a new vision OCR client using the official SDK.
func NewOpenAIVisionClient(cfg OpenAIVisionConfig) *OpenAIVisionClient {
	if cfg.Model == "" {
		cfg.Model = openAIVisionDefaultModel
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 4.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	// Retries are driven by the caller so they share the provider's limiter.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIVisionClient{
		model:      cfg.Model,
		rateLimit:  cfg.RateLimit,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     openai.NewClient(opts...),
	}
}

func (c *OpenAIVisionClient) Name() string                  { return OpenAIVisionName }
func (c *OpenAIVisionClient) RequestsPerSecond() float64    { return c.rateLimit }
func (c *OpenAIVisionClient) MaxRetries() int               { return c.maxRetries }
func (c *OpenAIVisionClient) RetryDelayBase() time.Duration { return c.retryDelay }

// ProcessImage asks the model to transcribe a PNG page image.
// Vision models report no confidence, so successful pages score 1.
func (c *OpenAIVisionClient) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(openAIVisionPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			err = fmt.Errorf("openai vision: %w", ErrRateLimited)
		}
		return &OCRResult{ErrorMessage: err.Error(), ExecutionTime: time.Since(start)}, err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices in vision response")
		return &OCRResult{ErrorMessage: err.Error(), ExecutionTime: time.Since(start)}, err
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	return &OCRResult{
		Success:    true,
		Text:       text,
		Confidence: 1.0,
		Metadata: map[string]any{
			"model_used":        resp.Model,
			"page_num":          pageNum,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
		ExecutionTime: time.Since(start),
	}, nil
}

var _ OCRProvider = (*OpenAIVisionClient)(nil)
