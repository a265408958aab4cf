// Package providers wraps external recognition engines behind one interface.
package providers

import (
	"context"
	"time"

	"github.com/jackzampolin/brieflink/internal/types"
)

// OCRProvider turns a page image into text, a confidence and word boxes.
// Rate limiting and retry are applied by the caller using the provider's
// declared limits.
type OCRProvider interface {
	// Name returns the provider identifier (e.g., "mistral-ocr", "mock").
	Name() string

	// ProcessImage extracts text from a page image (PNG or PDF bytes).
	ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error)

	// Rate limiting properties
	RequestsPerSecond() float64
	MaxRetries() int
	RetryDelayBase() time.Duration
}

// OCRResult is the response from an OCR provider.
type OCRResult struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`

	// Confidence is in [0, 1]. Engines that report none use 1.
	Confidence float64      `json:"confidence"`
	Words      []types.Word `json:"words,omitempty"`

	// Metadata from provider (dimensions, model, usage).
	Metadata map[string]any `json:"metadata,omitempty"`

	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
}

// AverageConfidence returns the mean word confidence, or fallback when there are no words.
func AverageConfidence(words []types.Word, fallback float64) float64 {
	if len(words) == 0 {
		return fallback
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}
