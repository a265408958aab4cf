package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/jackzampolin/brieflink/internal/metrics"
	"github.com/jackzampolin/brieflink/internal/ocr"
	"github.com/jackzampolin/brieflink/internal/store"
	"github.com/jackzampolin/brieflink/internal/types"
)

// Engine is recorded on pages that arrived through a bundle.
const Engine = "async-bundle"

// Skip reasons reported in results and metrics.
const (
	SkipParse    = "parse"
	SkipUnplaced = "unplaced"
	SkipRange    = "out_of_range"
)

// FirstBatchFunc is called when a document's first batch becomes completed.
type FirstBatchFunc func(ctx context.Context, documentID string)

// AdapterConfig holds dependencies for an Adapter.
type AdapterConfig struct {
	Store      *store.Store
	Bundles    BundleStore
	Progress   *ocr.Aggregator // Optional; built from Store when nil
	FirstBatch FirstBatchFunc  // Optional
	BatchSize  int             // Partition size for documents with no batches yet
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Adapter writes bundle pages into the page store and re-aggregates progress.
type Adapter struct {
	store      *store.Store
	bundles    BundleStore
	progress   *ocr.Aggregator
	firstBatch FirstBatchFunc
	batchSize  int
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// Result summarizes one ingested bundle.
type Result struct {
	DocumentID string                `json:"document_id"`
	Location   string                `json:"location,omitempty"`
	Shape      Shape                 `json:"shape,omitempty"`
	Ingested   int                   `json:"ingested"`
	Unchanged  int                   `json:"unchanged"`
	Failed     int                   `json:"failed"`
	Skipped    int                   `json:"skipped"`
	SkipReason string                `json:"skip_reason,omitempty"`
	Progress   *ocr.DocumentProgress `json:"progress,omitempty"`
}

// NewAdapter creates an ingestion adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Bundles == nil {
		cfg.Bundles = NewRouter("", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Progress == nil {
		cfg.Progress = ocr.NewAggregator(cfg.Store, cfg.Logger)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = ocr.DefaultBatchSize
	}
	return &Adapter{
		store:      cfg.Store,
		bundles:    cfg.Bundles,
		progress:   cfg.Progress,
		firstBatch: cfg.FirstBatch,
		batchSize:  cfg.BatchSize,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// Handle ingests the bundle a notification points at.
func (a *Adapter) Handle(ctx context.Context, n *Notification) (*Result, error) {
	return a.IngestBundle(ctx, n.DocumentID, n.BundleLocation, n.BatchLabel)
}

// IngestBundle reads and ingests the bundle at location. An empty label
// falls back to the bundle's own name for page-number derivation.
func (a *Adapter) IngestBundle(ctx context.Context, documentID, location, label string) (*Result, error) {
	rc, err := a.bundles.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if label == "" {
		label = location
	}
	res, err := a.Ingest(ctx, documentID, label, rc)
	if res != nil {
		res.Location = location
	}
	return res, err
}

// Ingest parses a bundle from r and upserts its pages. A malformed bundle is
// logged and reported as skipped; only storage errors are returned.
func (a *Adapter) Ingest(ctx context.Context, documentID, label string, r io.Reader) (*Result, error) {
	logger := a.logger.With("document_id", documentID, "label", label)
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	res := &Result{DocumentID: documentID}
	bundle, err := ParseBundle(r, label)
	if err != nil {
		logger.Warn("skipping unreadable bundle", "error", err)
		a.metrics.RecordIngestSkip(SkipParse)
		res.SkipReason = SkipParse
		res.Skipped = 1
		return res, nil
	}
	res.Shape = bundle.Shape
	if bundle.Unplaced > 0 {
		logger.Warn("bundle responses without page numbers", "count", bundle.Unplaced)
		for range bundle.Unplaced {
			a.metrics.RecordIngestSkip(SkipUnplaced)
		}
		res.Skipped += bundle.Unplaced
		res.SkipReason = SkipUnplaced
	}

	touched := make(map[int]bool)
	for _, p := range bundle.Pages {
		if doc.TotalPages > 0 && p.PageNumber > doc.TotalPages {
			logger.Warn("bundle page outside document", "page", p.PageNumber, "total_pages", doc.TotalPages)
			a.metrics.RecordIngestSkip(SkipRange)
			res.Skipped++
			res.SkipReason = SkipRange
			continue
		}
		written, err := a.upsert(ctx, documentID, p)
		if err != nil {
			return nil, err
		}
		switch {
		case !written:
			res.Unchanged++
		case p.Err != "":
			res.Failed++
		default:
			res.Ingested++
		}
		touched[p.PageNumber] = true
	}
	a.metrics.RecordIngest(res.Ingested)

	if len(touched) > 0 && doc.OCRState == types.OCRPending {
		if err := a.store.SetOCRState(ctx, documentID, types.OCRRunning); err != nil {
			return nil, err
		}
	}
	if err := a.refresh(ctx, doc, touched); err != nil {
		return nil, err
	}
	progress, err := a.progress.Document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	res.Progress = progress

	logger.Info("bundle ingested", "shape", res.Shape, "ingested", res.Ingested,
		"unchanged", res.Unchanged, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

// upsert writes p unless the stored checksum already matches. An engine
// error never overwrites a completed page.
func (a *Adapter) upsert(ctx context.Context, documentID string, p BundlePage) (bool, error) {
	stored, err := a.store.GetPage(ctx, documentID, p.PageNumber)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if stored != nil {
		if p.Err == "" && stored.Checksum == p.Checksum {
			return false, nil
		}
		if p.Err != "" && stored.Status == types.PageCompleted {
			return false, nil
		}
	}

	page := types.Page{
		DocumentID: documentID,
		PageNumber: p.PageNumber,
		Engine:     Engine,
		UpdatedAt:  time.Now().UTC(),
	}
	if p.Err != "" {
		page.Status = types.PageFailed
		page.Error = p.Err
	} else {
		page.Status = types.PageCompleted
		page.Text = p.Text
		page.Confidence = p.Confidence
		page.Words = p.Words
		page.Checksum = p.Checksum
	}
	if err := a.store.UpsertPage(ctx, page); err != nil {
		return false, err
	}
	return true, nil
}

// refresh re-aggregates every batch holding a touched page. Batches are not
// finished by ingestion, so a shortfall leaves their status as it was.
func (a *Adapter) refresh(ctx context.Context, doc *types.Document, touched map[int]bool) error {
	if len(touched) == 0 {
		return nil
	}
	pages := make([]int, 0, len(touched))
	for p := range touched {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	batches, err := a.store.ListBatches(ctx, doc.ID)
	if err != nil {
		return err
	}
	if len(batches) == 0 && doc.TotalPages > 0 {
		if batches, err = a.createBatches(ctx, doc); err != nil {
			return err
		}
	}
	for _, b := range batches {
		if !containsAny(*b, pages) {
			continue
		}
		updated, err := a.progress.RefreshBatch(ctx, *b, false)
		if err != nil {
			return err
		}
		if updated.IsFirst() && updated.Status == types.BatchCompleted && !doc.FirstBatchReady && a.firstBatch != nil {
			a.firstBatch(ctx, doc.ID)
		}
	}
	return nil
}

// createBatches partitions a document that was never scheduled, so that
// pushed results still roll up into batch and first-batch progress.
func (a *Adapter) createBatches(ctx context.Context, doc *types.Document) ([]*types.Batch, error) {
	parts, err := ocr.Partition(doc.ID, doc.TotalPages, a.batchSize)
	if err != nil {
		return nil, err
	}
	if err := a.store.CreateBatches(ctx, parts); err != nil {
		return nil, err
	}
	return a.store.ListBatches(ctx, doc.ID)
}

func containsAny(b types.Batch, sorted []int) bool {
	i := sort.SearchInts(sorted, b.StartPage)
	return i < len(sorted) && b.Contains(sorted[i])
}
