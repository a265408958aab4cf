package ocr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/brieflink/internal/store"
	"github.com/jackzampolin/brieflink/internal/types"
)

// ProgressStore is the slice of the store the aggregator reads and writes.
type ProgressStore interface {
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	SetOCRState(ctx context.Context, id string, state types.OCRState) error
	ListBatches(ctx context.Context, docID string) ([]*types.Batch, error)
	UpdateBatchProgress(ctx context.Context, b types.Batch) error
	RangeStats(ctx context.Context, docID string, start, end int) (store.PageStats, error)
}

// BatchProgress is one batch with its completion percentage.
type BatchProgress struct {
	types.Batch
	Percent float64 `json:"percent"`
}

// DocumentProgress summarizes a document's OCR progress.
type DocumentProgress struct {
	DocumentID      string          `json:"document_id"`
	State           types.OCRState  `json:"ocr_state"`
	FirstBatchReady bool            `json:"first_batch_ready"`
	TotalPages      int             `json:"total_pages"`
	CompletedPages  int             `json:"completed_pages"`
	FailedPages     int             `json:"failed_pages"`
	Percent         float64         `json:"percent"`
	AvgConfidence   float64         `json:"avg_confidence"`
	Batches         []BatchProgress `json:"batches"`
}

// Aggregator derives batch and document progress from stored pages.
type Aggregator struct {
	store  ProgressStore
	logger *slog.Logger
}

// NewAggregator creates a progress aggregator.
func NewAggregator(s ProgressStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, logger: logger}
}

// RefreshBatch recomputes pages_done and average confidence for b from the
// page rows in its range and persists them.
//
// A batch whose pages are all completed becomes completed. When finished is
// true (the batch run is over) any shortfall marks it failed; otherwise the
// status is left as it was.
func (a *Aggregator) RefreshBatch(ctx context.Context, b types.Batch, finished bool) (types.Batch, error) {
	stats, err := a.store.RangeStats(ctx, b.DocumentID, b.StartPage, b.EndPage)
	if err != nil {
		return b, err
	}
	b.PagesDone = min(stats.Completed, b.Size())
	b.AvgConfidence = stats.AvgConfidence
	b.Error = ""

	switch {
	case b.PagesDone == b.Size():
		b.Status = types.BatchCompleted
	case finished:
		b.Status = types.BatchFailed
		b.Error = fmt.Sprintf("%d of %d pages failed", b.Size()-b.PagesDone, b.Size())
	}

	if err := a.store.UpdateBatchProgress(ctx, b); err != nil {
		return b, err
	}
	return b, nil
}

// Document computes overall progress for docID and marks the document
// completed once every page is completed. A document with no batches or
// pages reports zero progress.
func (a *Aggregator) Document(ctx context.Context, docID string) (*DocumentProgress, error) {
	doc, err := a.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	stats, err := a.store.RangeStats(ctx, docID, 1, 0)
	if err != nil {
		return nil, err
	}
	batches, err := a.store.ListBatches(ctx, docID)
	if err != nil {
		return nil, err
	}

	p := &DocumentProgress{
		DocumentID:      docID,
		State:           doc.OCRState,
		FirstBatchReady: doc.FirstBatchReady,
		TotalPages:      doc.TotalPages,
		CompletedPages:  stats.Completed,
		FailedPages:     stats.Failed,
		AvgConfidence:   stats.AvgConfidence,
		Percent:         percent(stats.Completed, doc.TotalPages),
		Batches:         make([]BatchProgress, 0, len(batches)),
	}
	for _, b := range batches {
		p.Batches = append(p.Batches, BatchProgress{Batch: *b, Percent: percent(b.PagesDone, b.Size())})
	}

	if doc.TotalPages > 0 && stats.Completed >= doc.TotalPages && doc.OCRState != types.OCRCompleted {
		if err := a.store.SetOCRState(ctx, docID, types.OCRCompleted); err != nil {
			return nil, err
		}
		p.State = types.OCRCompleted
		a.logger.Info("document OCR completed", "document_id", docID, "pages", doc.TotalPages)
	}
	return p, nil
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}
