package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/metrics"
	"github.com/jackzampolin/brieflink/internal/pages"
	"github.com/jackzampolin/brieflink/internal/providers"
	"github.com/jackzampolin/brieflink/internal/store"
	"github.com/jackzampolin/brieflink/internal/types"
)

// Settings are the hot-reloadable scheduler tunables.
type Settings struct {
	BatchSize     int
	Concurrency   int
	Provider      string
	RenderDPI     int
	RetryDPI      int
	LowConfidence float64
}

// DefaultSettings returns the scheduler defaults.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:     DefaultBatchSize,
		Concurrency:   DefaultConcurrency,
		Provider:      providers.MistralOCRName,
		RenderDPI:     DefaultRenderDPI,
		RetryDPI:      DefaultRetryDPI,
		LowConfidence: DefaultLowConfidence,
	}
}

// IndexFunc runs index extraction for a document.
type IndexFunc func(ctx context.Context, documentID string) error

// SchedulerConfig holds dependencies for a Scheduler.
type SchedulerConfig struct {
	Store      *store.Store
	Source     pages.Source
	Providers  *providers.Registry
	Supervisor *jobs.Supervisor
	// Index is started as a supervised task when the first batch completes.
	Index    IndexFunc
	Settings Settings
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// Scheduler partitions documents into batches and runs them with bounded
// concurrency under the job supervisor.
type Scheduler struct {
	store      *store.Store
	source     pages.Source
	providers  *providers.Registry
	supervisor *jobs.Supervisor
	index      IndexFunc
	progress   *Aggregator
	metrics    *metrics.Recorder
	logger     *slog.Logger

	mu       sync.RWMutex
	settings Settings
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("page source is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if cfg.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:      cfg.Store,
		source:     cfg.Source,
		providers:  cfg.Providers,
		supervisor: cfg.Supervisor,
		index:      cfg.Index,
		progress:   NewAggregator(cfg.Store, logger),
		metrics:    cfg.Metrics,
		logger:     logger,
	}
	s.SetSettings(cfg.Settings)
	return s, nil
}

// SetSettings replaces the tunables. Runs already in flight keep theirs.
func (s *Scheduler) SetSettings(st Settings) {
	def := DefaultSettings()
	if st.BatchSize <= 0 {
		st.BatchSize = def.BatchSize
	}
	st.Concurrency = ClampConcurrency(st.Concurrency)
	if st.Provider == "" {
		st.Provider = def.Provider
	}
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
}

// Settings returns the current tunables.
func (s *Scheduler) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Progress returns the aggregator backing this scheduler.
func (s *Scheduler) Progress() *Aggregator {
	return s.progress
}

// CreateBatches partitions the document and persists its batches.
// Zero totalPages uses the document's page count. Zero batchSize returns the
// stored partition when there is one, and otherwise uses the configured size.
// A partition that differs from the stored one fails with
// store.ErrPartitionConflict.
func (s *Scheduler) CreateBatches(ctx context.Context, documentID string, totalPages, batchSize int) ([]*types.Batch, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		existing, err := s.store.ListBatches(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return existing, nil
		}
	}
	if totalPages <= 0 {
		totalPages = doc.TotalPages
	}
	if batchSize <= 0 {
		batchSize = s.Settings().BatchSize
	}
	batches, err := Partition(documentID, totalPages, batchSize)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateBatches(ctx, batches); err != nil {
		return nil, err
	}
	s.logger.Info("batches created", "document_id", documentID, "total_pages", totalPages, "batch_size", batchSize, "batches", len(batches))
	return s.store.ListBatches(ctx, documentID)
}

// Start runs OCR for the document as a supervised task. If a run is already
// active for the document, the existing task is returned with
// jobs.ErrAlreadyRunning.
func (s *Scheduler) Start(ctx context.Context, documentID string, concurrency int) (*jobs.Task, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	meta := map[string]any{"concurrency": ClampConcurrency(concurrency)}
	return s.supervisor.Start(ctx, jobs.TypeOCR, documentID, meta, func(ctx context.Context) error {
		return s.Run(ctx, documentID, concurrency)
	})
}

// Run processes every unfinished batch of the document, at most concurrency
// batches at a time, and returns an error if any page failed.
func (s *Scheduler) Run(ctx context.Context, documentID string, concurrency int) error {
	st := s.Settings()
	if concurrency <= 0 {
		concurrency = st.Concurrency
	}
	concurrency = ClampConcurrency(concurrency)
	logger := s.logger.With("document_id", documentID)

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	batches, err := s.store.ListBatches(ctx, documentID)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		if batches, err = s.CreateBatches(ctx, documentID, doc.TotalPages, st.BatchSize); err != nil {
			return err
		}
	}

	provider, err := s.providers.Get(st.Provider)
	if err != nil {
		return err
	}
	worker, err := NewWorker(WorkerConfig{
		Store:         s.store,
		Source:        s.source,
		Provider:      provider,
		Limiter:       s.providers.Limiter(st.Provider),
		RenderDPI:     st.RenderDPI,
		RetryDPI:      st.RetryDPI,
		LowConfidence: st.LowConfidence,
		Metrics:       s.metrics,
		Logger:        s.logger,
	})
	if err != nil {
		return err
	}

	if err := s.store.SetOCRState(ctx, documentID, types.OCRRunning); err != nil {
		return err
	}
	logger.Info("starting OCR run", "batches", len(batches), "concurrency", concurrency, "provider", st.Provider)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, b := range batches {
		if b.Status == types.BatchCompleted {
			continue
		}
		g.Go(func() error {
			return s.runBatch(gctx, doc, *b, worker)
		})
	}
	runErr := g.Wait()

	// Record the final state even if the run was cancelled.
	finalCtx := context.WithoutCancel(ctx)
	progress, err := s.progress.Document(finalCtx, documentID)
	if err != nil {
		return errors.Join(runErr, err)
	}
	if runErr == nil && progress.FailedPages == 0 && progress.State == types.OCRCompleted {
		logger.Info("OCR run completed", "pages", progress.CompletedPages, "avg_confidence", progress.AvgConfidence)
		return nil
	}
	if err := s.store.SetOCRState(finalCtx, documentID, types.OCRFailed); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}
	return fmt.Errorf("%d of %d pages failed", progress.TotalPages-progress.CompletedPages, progress.TotalPages)
}

// runBatch processes pages of b low to high. Page failures are recorded and
// processing continues; only storage errors and cancellation stop the batch.
func (s *Scheduler) runBatch(ctx context.Context, doc *types.Document, b types.Batch, worker *Worker) error {
	logger := s.logger.With("document_id", doc.ID, "start", b.StartPage, "end", b.EndPage)
	if err := s.store.StartBatch(ctx, doc.ID, b.StartPage, b.EndPage); err != nil {
		return err
	}
	s.metrics.BatchStarted()

	var failed, skipped int
	for page := b.StartPage; page <= b.EndPage; page++ {
		res, err := worker.Process(ctx, doc, page)
		if err != nil {
			s.metrics.BatchFinished(string(types.BatchFailed))
			s.markInterrupted(b, err)
			return err
		}
		switch res.Outcome {
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}

	updated, err := s.progress.RefreshBatch(ctx, b, true)
	if err != nil {
		s.metrics.BatchFinished(string(types.BatchFailed))
		return err
	}
	s.metrics.BatchFinished(string(updated.Status))
	logger.Info("batch finished", "status", updated.Status, "pages_done", updated.PagesDone,
		"failed", failed, "skipped", skipped, "avg_confidence", updated.AvgConfidence)

	if updated.IsFirst() && updated.Status == types.BatchCompleted {
		s.FirstBatchCompleted(ctx, doc.ID)
	}
	return nil
}

// markInterrupted records an aborted batch so it is not left processing.
func (s *Scheduler) markInterrupted(b types.Batch, cause error) {
	ctx := context.Background()
	updated, err := s.progress.RefreshBatch(ctx, b, true)
	if err != nil {
		s.logger.Warn("failed to record interrupted batch", "document_id", b.DocumentID, "start", b.StartPage, "error", err)
		return
	}
	if updated.Status != types.BatchCompleted {
		updated.Error = cause.Error()
		if err := s.store.UpdateBatchProgress(ctx, updated); err != nil {
			s.logger.Warn("failed to record interrupted batch", "document_id", b.DocumentID, "start", b.StartPage, "error", err)
		}
	}
}

// FirstBatchCompleted flips the document's first-batch-ready flag and, if
// this call flipped it, starts index extraction in the background. Duplicate
// calls are no-ops. It never blocks on the index run.
func (s *Scheduler) FirstBatchCompleted(ctx context.Context, documentID string) {
	flipped, err := s.store.MarkFirstBatchReady(ctx, documentID)
	if err != nil {
		s.logger.Warn("failed to mark first batch ready", "document_id", documentID, "error", err)
		return
	}
	if !flipped {
		return
	}
	s.logger.Info("first batch ready", "document_id", documentID)
	if _, err := s.StartIndex(ctx, documentID); err != nil && !errors.Is(err, jobs.ErrAlreadyRunning) {
		s.logger.Warn("failed to start index extraction", "document_id", documentID, "error", err)
	}
}

// StartIndex runs index extraction as a supervised task, debounced per document.
func (s *Scheduler) StartIndex(ctx context.Context, documentID string) (*jobs.Task, error) {
	if s.index == nil {
		return nil, fmt.Errorf("no index extractor configured")
	}
	return s.supervisor.Start(ctx, jobs.TypeIndex, documentID, nil, func(ctx context.Context) error {
		return s.index(ctx, documentID)
	})
}
