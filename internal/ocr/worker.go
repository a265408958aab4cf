package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/brieflink/internal/metrics"
	"github.com/jackzampolin/brieflink/internal/pages"
	"github.com/jackzampolin/brieflink/internal/providers"
	"github.com/jackzampolin/brieflink/internal/types"
)

const (
	DefaultRenderDPI     = 220
	DefaultRetryDPI      = 300
	DefaultLowConfidence = 0.65
)

// Outcome is what the worker did with one page.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// PageStore is the slice of the store the worker writes through.
type PageStore interface {
	PageChecksum(ctx context.Context, docID string, page int) (string, error)
	UpsertPage(ctx context.Context, p types.Page) error
}

// PageResult reports the outcome of processing one page.
type PageResult struct {
	Page       int
	Outcome    Outcome
	Confidence float64
	Rerendered bool
	Err        error // recognition error for failed pages
}

// WorkerConfig holds dependencies for a Worker.
type WorkerConfig struct {
	Store    PageStore
	Source   pages.Source
	Provider providers.OCRProvider
	Limiter  *providers.RateLimiter // nil means no limiting

	RenderDPI     int
	RetryDPI      int
	LowConfidence float64

	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Worker recognizes single pages and records the result in the page store.
type Worker struct {
	store    PageStore
	source   pages.Source
	provider providers.OCRProvider
	limiter  *providers.RateLimiter

	renderDPI     int
	retryDPI      int
	lowConfidence float64

	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewWorker creates a worker, filling zero settings with defaults.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("page store is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("page source is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("OCR provider is required")
	}
	if cfg.RenderDPI <= 0 {
		cfg.RenderDPI = DefaultRenderDPI
	}
	if cfg.RetryDPI <= 0 {
		cfg.RetryDPI = DefaultRetryDPI
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = DefaultLowConfidence
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:         cfg.Store,
		source:        cfg.Source,
		provider:      cfg.Provider,
		limiter:       cfg.Limiter,
		renderDPI:     cfg.RenderDPI,
		retryDPI:      cfg.RetryDPI,
		lowConfidence: cfg.LowConfidence,
		metrics:       cfg.Metrics,
		logger:        logger.With("provider", cfg.Provider.Name()),
	}, nil
}

// Process recognizes one page of doc.
//
// A page whose rendered bytes match the stored checksum is skipped without
// calling the engine. Engine and render failures are recorded as a failed
// page and reported in the result; the returned error is non-nil only for
// storage failures and cancellation.
func (w *Worker) Process(ctx context.Context, doc *types.Document, pageNum int) (PageResult, error) {
	res := PageResult{Page: pageNum}
	logger := w.logger.With("document_id", doc.ID, "page", pageNum)

	image, err := w.source.Page(ctx, doc, pageNum, w.renderDPI)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return w.fail(ctx, logger, doc.ID, pageNum, fmt.Errorf("render page: %w", err))
	}

	sum := checksum(image)
	stored, err := w.store.PageChecksum(ctx, doc.ID, pageNum)
	if err != nil {
		return res, fmt.Errorf("load checksum for page %d: %w", pageNum, err)
	}
	if stored == sum {
		res.Outcome = OutcomeSkipped
		w.metrics.RecordPage(string(OutcomeSkipped), 0)
		logger.Debug("page unchanged, skipping")
		return res, nil
	}

	result, err := w.recognize(ctx, image, pageNum)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return w.fail(ctx, logger, doc.ID, pageNum, err)
	}

	if result.Confidence < w.lowConfidence && w.retryDPI > w.renderDPI && w.source.CanRender(w.retryDPI) {
		better, err := w.rerender(ctx, doc, pageNum, result)
		if err != nil && ctx.Err() != nil {
			return res, ctx.Err()
		}
		if better != nil {
			result = better
			res.Rerendered = true
		}
	}

	page := types.Page{
		DocumentID: doc.ID,
		PageNumber: pageNum,
		Text:       result.Text,
		Confidence: result.Confidence,
		Checksum:   sum,
		Engine:     w.provider.Name(),
		Status:     types.PageCompleted,
		Words:      result.Words,
	}
	if err := w.store.UpsertPage(ctx, page); err != nil {
		return res, fmt.Errorf("save page %d: %w", pageNum, err)
	}

	res.Outcome = OutcomeCompleted
	res.Confidence = result.Confidence
	w.metrics.RecordPage(string(OutcomeCompleted), result.Confidence)
	logger.Debug("page recognized", "confidence", result.Confidence, "rerendered", res.Rerendered)
	return res, nil
}

// rerender retries a low-confidence page at the higher DPI and returns the
// new result only when it scores better.
func (w *Worker) rerender(ctx context.Context, doc *types.Document, pageNum int, prev *providers.OCRResult) (*providers.OCRResult, error) {
	image, err := w.source.Page(ctx, doc, pageNum, w.retryDPI)
	if err != nil {
		w.logger.Warn("re-render failed", "document_id", doc.ID, "page", pageNum, "dpi", w.retryDPI, "error", err)
		return nil, err
	}
	retried, err := w.recognize(ctx, image, pageNum)
	if err != nil {
		w.logger.Warn("re-render recognition failed", "document_id", doc.ID, "page", pageNum, "error", err)
		return nil, err
	}
	keep := retried.Confidence > prev.Confidence
	w.metrics.RecordRerender(keep)
	if !keep {
		return nil, nil
	}
	return retried, nil
}

// recognize calls the engine under the shared limiter with retry.
// Empty text is a failure.
func (w *Worker) recognize(ctx context.Context, image []byte, pageNum int) (*providers.OCRResult, error) {
	var result *providers.OCRResult
	attempts := uint(max(w.provider.MaxRetries(), 0) + 1)

	err := retry.Do(
		func() error {
			if w.limiter != nil {
				if err := w.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			r, err := w.provider.ProcessImage(ctx, image, pageNum)
			w.metrics.RecordOCRCall(w.provider.Name(), r, err)
			if err != nil {
				if errors.Is(err, providers.ErrRateLimited) && w.limiter != nil {
					w.limiter.Drain()
				}
				return err
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(w.provider.RetryDelayBase()),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("recognize page %d: %w", pageNum, err)
	}
	if result == nil || strings.TrimSpace(result.Text) == "" {
		return nil, fmt.Errorf("recognize page %d: engine returned no text", pageNum)
	}
	return result, nil
}

// fail records a failed page with no text and no checksum, so the next run
// reprocesses it.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, docID string, pageNum int, cause error) (PageResult, error) {
	logger.Warn("page recognition failed", "error", cause)
	page := types.Page{
		DocumentID: docID,
		PageNumber: pageNum,
		Engine:     w.provider.Name(),
		Status:     types.PageFailed,
		Error:      cause.Error(),
	}
	if err := w.store.UpsertPage(ctx, page); err != nil {
		return PageResult{Page: pageNum}, fmt.Errorf("save failed page %d: %w", pageNum, err)
	}
	w.metrics.RecordPage(string(OutcomeFailed), 0)
	return PageResult{Page: pageNum, Outcome: OutcomeFailed, Err: cause}, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
