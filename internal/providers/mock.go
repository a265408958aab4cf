package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/brieflink/internal/types"
)

const MockOCRName = "mock"

// MockOCRProvider is an OCRProvider for testing.
type MockOCRProvider struct {
	ProviderName string
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)

	// ResponseText is used for pages without an entry in Pages.
	ResponseText string
	Pages        map[int]string
	FailPages    map[int]bool
	Confidence   float64
	Words        []types.Word

	// Respond, if set, replaces the canned behavior above.
	Respond func(image []byte, pageNum int) (*OCRResult, error)

	RPS        float64
	Retries    int
	RetryDelay time.Duration

	requestCount atomic.Int64
	mu           sync.Mutex
	perPage      map[int]int
}

// NewMockOCRProvider creates a new mock OCR provider.
func NewMockOCRProvider() *MockOCRProvider {
	return &MockOCRProvider{
		ProviderName: MockOCRName,
		Latency:      time.Millisecond,
		ResponseText: "mock OCR text",
		Confidence:   0.95,
		RPS:          1000,
		Retries:      1,
		RetryDelay:   time.Millisecond,
	}
}

func (p *MockOCRProvider) Name() string                  { return p.ProviderName }
func (p *MockOCRProvider) RequestsPerSecond() float64    { return p.RPS }
func (p *MockOCRProvider) MaxRetries() int               { return p.Retries }
func (p *MockOCRProvider) RetryDelayBase() time.Duration { return p.RetryDelay }

// ProcessImage returns the canned response for pageNum.
func (p *MockOCRProvider) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()
	count := p.requestCount.Add(1)
	p.mu.Lock()
	if p.perPage == nil {
		p.perPage = make(map[int]int)
	}
	p.perPage[pageNum]++
	p.mu.Unlock()

	fail := func(msg string) (*OCRResult, error) {
		return &OCRResult{ErrorMessage: msg, ExecutionTime: time.Since(start)}, fmt.Errorf("%s", msg)
	}
	if p.ShouldFail {
		return fail("mock OCR provider configured to fail")
	}
	if p.FailAfter > 0 && int(count) > p.FailAfter {
		return fail(fmt.Sprintf("mock OCR provider failed after %d requests", p.FailAfter))
	}
	if p.FailPages[pageNum] {
		return fail(fmt.Sprintf("mock OCR provider failed page %d", pageNum))
	}

	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return &OCRResult{ErrorMessage: ctx.Err().Error(), ExecutionTime: time.Since(start)}, ctx.Err()
		}
	}

	if p.Respond != nil {
		return p.Respond(image, pageNum)
	}

	text, ok := p.Pages[pageNum]
	if !ok {
		text = fmt.Sprintf("Page %d: %s", pageNum, p.ResponseText)
	}
	return &OCRResult{
		Success:       true,
		Text:          text,
		Confidence:    p.Confidence,
		Words:         p.Words,
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"page_num":    pageNum,
			"provider":    p.ProviderName,
			"image_bytes": len(image),
		},
	}, nil
}

// RequestCount returns the number of requests made.
func (p *MockOCRProvider) RequestCount() int64 {
	return p.requestCount.Load()
}

// PageCalls returns how many times pageNum was requested.
func (p *MockOCRProvider) PageCalls(pageNum int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perPage[pageNum]
}

// Reset resets the request counters.
func (p *MockOCRProvider) Reset() {
	p.requestCount.Store(0)
	p.mu.Lock()
	p.perPage = nil
	p.mu.Unlock()
}

var _ OCRProvider = (*MockOCRProvider)(nil)
