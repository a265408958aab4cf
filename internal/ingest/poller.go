package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/types"
)

// Polling defaults.
const (
	DefaultPollInterval    = 10 * time.Second
	DefaultPollMaxAttempts = 720
	DefaultPollCeiling     = 2 * time.Hour
)

var errPending = errors.New("document not complete")

// PollSettings bounds a polling loop.
type PollSettings struct {
	Interval    time.Duration
	MaxAttempts int
	Ceiling     time.Duration
}

// DefaultPollSettings returns the default polling bounds.
func DefaultPollSettings() PollSettings {
	return PollSettings{
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultPollMaxAttempts,
		Ceiling:     DefaultPollCeiling,
	}
}

func (s PollSettings) withDefaults() PollSettings {
	d := DefaultPollSettings()
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = d.MaxAttempts
	}
	if s.Ceiling <= 0 {
		s.Ceiling = d.Ceiling
	}
	return s
}

// PollRequest names the bundles to watch for one document.
type PollRequest struct {
	DocumentID string `json:"document_id"`
	Prefix     string `json:"prefix"`
	BatchLabel string `json:"batch_label,omitempty"`
}

// PollerConfig holds dependencies for a Poller.
type PollerConfig struct {
	Adapter    *Adapter
	Supervisor *jobs.Supervisor
	Settings   PollSettings
	Logger     *slog.Logger
}

// Poller is the fallback for engines that never deliver a notification:
// it lists a prefix on an interval and ingests bundles it has not seen.
type Poller struct {
	adapter    *Adapter
	supervisor *jobs.Supervisor
	logger     *slog.Logger

	mu       sync.RWMutex
	settings PollSettings
}

// NewPoller creates a poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		adapter:    cfg.Adapter,
		supervisor: cfg.Supervisor,
		logger:     cfg.Logger,
		settings:   cfg.Settings.withDefaults(),
	}, nil
}

// SetSettings replaces the polling bounds used by subsequent polls.
func (p *Poller) SetSettings(s PollSettings) {
	p.mu.Lock()
	p.settings = s.withDefaults()
	p.mu.Unlock()
}

// Settings returns the current polling bounds.
func (p *Poller) Settings() PollSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// Start runs Poll as a supervised job, one per document.
func (p *Poller) Start(ctx context.Context, req PollRequest) (*jobs.Task, error) {
	if p.supervisor == nil {
		return nil, fmt.Errorf("no supervisor configured")
	}
	if req.DocumentID == "" || req.Prefix == "" {
		return nil, fmt.Errorf("document id and prefix are required")
	}
	if _, err := p.adapter.store.GetDocument(ctx, req.DocumentID); err != nil {
		return nil, err
	}
	meta := map[string]any{"prefix": req.Prefix}
	if req.BatchLabel != "" {
		meta["batch_label"] = req.BatchLabel
	}
	return p.supervisor.Start(ctx, jobs.TypePoll, req.DocumentID, meta, func(ctx context.Context) error {
		return p.Poll(ctx, req)
	})
}

// Poll lists req.Prefix until the document's OCR completes. It fails once
// the attempt budget or the wall-clock ceiling is spent.
func (p *Poller) Poll(ctx context.Context, req PollRequest) error {
	st := p.Settings()
	logger := p.logger.With("document_id", req.DocumentID, "prefix", req.Prefix)

	pollCtx, cancel := context.WithTimeout(ctx, st.Ceiling)
	defer cancel()

	seen := make(map[string]bool)
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			return p.pollOnce(pollCtx, req, seen, logger)
		},
		retry.Context(pollCtx),
		retry.Attempts(uint(st.MaxAttempts)),
		retry.Delay(st.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			if !errors.Is(err, errPending) {
				logger.Warn("poll attempt failed", "attempt", n+1, "error", err)
			}
		}),
	)
	switch {
	case err == nil:
		logger.Info("polling finished", "attempts", attempt, "bundles", len(seen))
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case pollCtx.Err() != nil:
		return fmt.Errorf("poll ceiling %s reached after %d attempts: %w", st.Ceiling, attempt, pollCtx.Err())
	case errors.Is(err, errPending):
		return fmt.Errorf("document %s not complete after %d attempts", req.DocumentID, attempt)
	default:
		return fmt.Errorf("polling %s: %w", req.Prefix, err)
	}
}

func (p *Poller) pollOnce(ctx context.Context, req PollRequest, seen map[string]bool, logger *slog.Logger) error {
	names, err := p.adapter.bundles.List(ctx, req.Prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if seen[name] {
			continue
		}
		label := name
		if _, ok := LabelStart(name); !ok {
			label = req.BatchLabel
		}
		if _, err := p.adapter.IngestBundle(ctx, req.DocumentID, name, label); err != nil {
			logger.Warn("failed to ingest bundle", "bundle", name, "error", err)
			continue
		}
		seen[name] = true
	}

	progress, err := p.adapter.progress.Document(ctx, req.DocumentID)
	if err != nil {
		return err
	}
	if progress.State == types.OCRCompleted {
		return nil
	}
	return errPending
}
