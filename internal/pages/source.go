// Package pages renders document pages to image bytes for recognition.
package pages

import (
	"context"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/brieflink/internal/types"
)

// Source produces the image bytes a recognition engine consumes for one page.
type Source interface {
	// Page returns the page rendered at dpi.
	Page(ctx context.Context, doc *types.Document, pageNum, dpi int) ([]byte, error)

	// CanRender reports whether the source can produce pages at dpi.
	CanRender(dpi int) bool
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	n, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}
