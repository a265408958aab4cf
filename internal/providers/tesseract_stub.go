//go:build !tesseract

package providers

import "errors"

// TesseractConfig holds configuration for the local Tesseract engine.
type TesseractConfig struct {
	Language  string
	DPI       int
	RateLimit float64
}

// NewTesseractProvider reports that this binary was built without libtesseract.
// Build with -tags tesseract to enable it.
func NewTesseractProvider(cfg TesseractConfig) (OCRProvider, error) {
	return nil, errors.New("tesseract support not compiled in (build with -tags tesseract)")
}
