//go:build tesseract

package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/jackzampolin/brieflink/internal/types"
)

const TesseractName = "tesseract"

// TesseractConfig holds configuration for the local Tesseract engine.
type TesseractConfig struct {
	Language  string  // default "eng"
	DPI       int     // hint passed as user_defined_dpi (0 = let tesseract guess)
	RateLimit float64 // Requests per second (default: 2.0)
}

// TesseractProvider implements OCRProvider with a local libtesseract via gosseract.
type TesseractProvider struct {
	language  string
	dpi       int
	rateLimit float64
}

// NewTesseractProvider creates a Tesseract-backed provider.
func NewTesseractProvider(cfg TesseractConfig) (OCRProvider, error) {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2.0
	}
	return &TesseractProvider{language: cfg.Language, dpi: cfg.DPI, rateLimit: cfg.RateLimit}, nil
}

func (p *TesseractProvider) Name() string                  { return TesseractName }
func (p *TesseractProvider) RequestsPerSecond() float64    { return p.rateLimit }
func (p *TesseractProvider) MaxRetries() int               { return 1 }
func (p *TesseractProvider) RetryDelayBase() time.Duration { return 100 * time.Millisecond }

// ProcessImage runs recognition on one page image. A fresh client is used
// per call since gosseract clients are not safe for concurrent use.
func (p *TesseractProvider) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return &OCRResult{ErrorMessage: err.Error()}, err
	}

	c := gosseract.NewClient()
	defer c.Close()

	fail := func(err error) (*OCRResult, error) {
		return &OCRResult{ErrorMessage: err.Error(), ExecutionTime: time.Since(start)}, err
	}
	if err := c.SetLanguage(p.language); err != nil {
		return fail(fmt.Errorf("set language: %w", err))
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return fail(fmt.Errorf("set image: %w", err))
	}
	if p.dpi > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(p.dpi)); err != nil {
			return fail(fmt.Errorf("set dpi: %w", err))
		}
	}
	text, err := c.Text()
	if err != nil {
		return fail(fmt.Errorf("recognize text: %w", err))
	}

	words := tesseractWords(c)
	return &OCRResult{
		Success:       true,
		Text:          strings.TrimSpace(text),
		Confidence:    AverageConfidence(words, 0),
		Words:         words,
		Metadata:      map[string]any{"page_num": pageNum, "language": p.language},
		ExecutionTime: time.Since(start),
	}, nil
}

func tesseractWords(c *gosseract.Client) []types.Word {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil
	}
	words := make([]types.Word, 0, len(boxes))
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		minX, minY := float64(b.Box.Min.X), float64(b.Box.Min.Y)
		maxX, maxY := float64(b.Box.Max.X), float64(b.Box.Max.Y)
		words = append(words, types.Word{
			Text:       b.Word,
			Confidence: b.Confidence / 100.0,
			Polygon: []types.Point{
				{X: minX, Y: minY}, {X: maxX, Y: minY},
				{X: maxX, Y: maxY}, {X: minX, Y: maxY},
			},
		})
	}
	return words
}

var _ OCRProvider = (*TesseractProvider)(nil)
