package pages

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackzampolin/brieflink/internal/types"
)

// MemorySource serves page bytes from memory. It is used in tests and for
// documents whose page images arrive from an external collaborator.
type MemorySource struct {
	MaxDPI int

	mu    sync.RWMutex
	pages map[memKey][]byte
}

type memKey struct {
	doc  string
	page int
	dpi  int
}

// NewMemorySource creates an empty source that accepts resolutions up to maxDPI.
func NewMemorySource(maxDPI int) *MemorySource {
	return &MemorySource{MaxDPI: maxDPI, pages: make(map[memKey][]byte)}
}

// Set stores the bytes for a page at a resolution.
func (m *MemorySource) Set(docID string, pageNum, dpi int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[memKey{docID, pageNum, dpi}] = data
}

// CanRender reports whether dpi is within MaxDPI.
func (m *MemorySource) CanRender(dpi int) bool {
	return dpi > 0 && dpi <= m.MaxDPI
}

// Page returns stored bytes for the page.
func (m *MemorySource) Page(ctx context.Context, doc *types.Document, pageNum, dpi int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.pages[memKey{doc.ID, pageNum, dpi}]
	if !ok {
		return nil, fmt.Errorf("no image for %s page %d at %d dpi", doc.ID, pageNum, dpi)
	}
	return data, nil
}

var _ Source = (*MemorySource)(nil)
