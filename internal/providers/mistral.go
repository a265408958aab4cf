package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	MistralOCRName    = "mistral-ocr"
	MistralOCRBaseURL = "https://api.mistral.ai/v1"
	MistralOCRModel   = "mistral-ocr-latest"

	// Average per-page cost; pages with embedded images bill higher.
	MistralOCRCostPerPage = 0.0012
)

// ErrRateLimited marks a 429 from an engine. The worker drains its limiter on it.
var ErrRateLimited = errors.New("rate limited")

// MistralOCRConfig holds configuration for the Mistral OCR client.
type MistralOCRConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RateLimit  float64 // Requests per second (default: 6.0)
	MaxRetries int
	RetryDelay time.Duration
}

// MistralOCRClient implements OCRProvider using the Mistral OCR API.
type MistralOCRClient struct {
	apiKey     string
	baseURL    string
	model      string
	rateLimit  float64
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
}

// NewMistralOCRClient creates a new Mistral OCR client.
func NewMistralOCRClient(cfg MistralOCRConfig) *MistralOCRClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralOCRBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = MistralOCRModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 6.0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	return &MistralOCRClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		rateLimit:  cfg.RateLimit,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *MistralOCRClient) Name() string                  { return MistralOCRName }
func (c *MistralOCRClient) RequestsPerSecond() float64    { return c.rateLimit }
func (c *MistralOCRClient) MaxRetries() int               { return c.maxRetries }
func (c *MistralOCRClient) RetryDelayBase() time.Duration { return c.retryDelay }

// ProcessImage extracts text from a page image or single-page PDF.
// Mistral reports no confidence, so successful pages score 1.
func (c *MistralOCRClient) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()

	reqBody := mistralOCRRequest{Model: c.model}
	encoded := base64.StdEncoding.EncodeToString(image)
	if bytes.HasPrefix(image, []byte("%PDF")) {
		reqBody.Document = mistralDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + encoded,
		}
	} else {
		reqBody.Document = mistralDocument{
			Type:     "image_url",
			ImageURL: &mistralImageURL{URL: "data:image/png;base64," + encoded},
		}
	}

	resp, err := c.doRequest(ctx, "/ocr", reqBody)
	if err != nil {
		return &OCRResult{ErrorMessage: err.Error(), ExecutionTime: time.Since(start)}, err
	}
	if len(resp.Pages) == 0 {
		err := fmt.Errorf("no pages in OCR response")
		return &OCRResult{ErrorMessage: err.Error(), ExecutionTime: time.Since(start)}, err
	}

	page := resp.Pages[0]
	metadata := map[string]any{
		"model_used": resp.Model,
		"page_num":   pageNum,
		"dimensions": map[string]any{
			"width":  page.Dimensions.Width,
			"height": page.Dimensions.Height,
			"dpi":    page.Dimensions.DPI,
		},
	}
	if resp.UsageInfo != nil {
		metadata["pages_processed"] = resp.UsageInfo.PagesProcessed
	}

	return &OCRResult{
		Success:       true,
		Text:          page.Markdown,
		Confidence:    1.0,
		Metadata:      metadata,
		CostUSD:       MistralOCRCostPerPage,
		ExecutionTime: time.Since(start),
	}, nil
}

func (c *MistralOCRClient) doRequest(ctx context.Context, path string, body any) (*mistralOCRResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("mistral ocr: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp mistralErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("mistral ocr error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("mistral ocr error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &ocrResp, nil
}

// Mistral OCR API types

type mistralOCRRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type        string           `json:"type"` // "image_url" or "document_url"
	ImageURL    *mistralImageURL `json:"image_url,omitempty"`
	DocumentURL string           `json:"document_url,omitempty"`
}

type mistralImageURL struct {
	URL string `json:"url"`
}

type mistralOCRResponse struct {
	Model     string            `json:"model"`
	Pages     []mistralOCRPage  `json:"pages"`
	UsageInfo *mistralUsageInfo `json:"usage_info,omitempty"`
}

type mistralOCRPage struct {
	Index      int                   `json:"index"`
	Markdown   string                `json:"markdown"`
	Dimensions mistralPageDimensions `json:"dimensions"`
}

type mistralPageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	DPI    int `json:"dpi"`
}

type mistralUsageInfo struct {
	PagesProcessed int `json:"pages_processed"`
}

type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var _ OCRProvider = (*MistralOCRClient)(nil)
