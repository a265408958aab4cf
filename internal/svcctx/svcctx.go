// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/brieflink/internal/arbiter"
	"github.com/jackzampolin/brieflink/internal/config"
	"github.com/jackzampolin/brieflink/internal/home"
	"github.com/jackzampolin/brieflink/internal/index"
	"github.com/jackzampolin/brieflink/internal/ingest"
	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/metrics"
	"github.com/jackzampolin/brieflink/internal/ocr"
	"github.com/jackzampolin/brieflink/internal/providers"
	"github.com/jackzampolin/brieflink/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store      *store.Store
	Supervisor *jobs.Supervisor
	JobManager *jobs.Manager
	Registry   *providers.Registry
	Scheduler  *ocr.Scheduler
	Index      *index.Extractor
	Arbiter    *arbiter.Service
	Ingest     *ingest.Adapter
	Poller     *ingest.Poller
	Metrics    *metrics.Metrics
	Recorder   *metrics.Recorder
	Config     *config.Manager
	Logger     *slog.Logger
	Home       *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the SQLite store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// SupervisorFrom extracts the task supervisor from context.
func SupervisorFrom(ctx context.Context) *jobs.Supervisor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Supervisor
	}
	return nil
}

// JobManagerFrom extracts the job manager from context.
func JobManagerFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.JobManager
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// SchedulerFrom extracts the OCR batch scheduler from context.
func SchedulerFrom(ctx context.Context) *ocr.Scheduler {
	if s := ServicesFrom(ctx); s != nil {
		return s.Scheduler
	}
	return nil
}

// IndexFrom extracts the index extractor from context.
func IndexFrom(ctx context.Context) *index.Extractor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Index
	}
	return nil
}

// ArbiterFrom extracts the arbitration service from context.
func ArbiterFrom(ctx context.Context) *arbiter.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Arbiter
	}
	return nil
}

// IngestFrom extracts the async ingestion adapter from context.
func IngestFrom(ctx context.Context) *ingest.Adapter {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ingest
	}
	return nil
}

// PollerFrom extracts the bundle poller from context.
func PollerFrom(ctx context.Context) *ingest.Poller {
	if s := ServicesFrom(ctx); s != nil {
		return s.Poller
	}
	return nil
}

// MetricsFrom extracts the prometheus metrics from context.
func MetricsFrom(ctx context.Context) *metrics.Metrics {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// RecorderFrom extracts the metrics recorder from context.
// A nil recorder is safe to call.
func RecorderFrom(ctx context.Context) *metrics.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return s.Recorder
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
// Returns slog.Default() if not present.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
