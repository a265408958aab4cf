package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/api/option"

	"github.com/jackzampolin/brieflink/internal/api"
	"github.com/jackzampolin/brieflink/internal/arbiter"
	"github.com/jackzampolin/brieflink/internal/config"
	"github.com/jackzampolin/brieflink/internal/home"
	"github.com/jackzampolin/brieflink/internal/index"
	"github.com/jackzampolin/brieflink/internal/ingest"
	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/metrics"
	"github.com/jackzampolin/brieflink/internal/ocr"
	"github.com/jackzampolin/brieflink/internal/pages"
	"github.com/jackzampolin/brieflink/internal/providers"
	"github.com/jackzampolin/brieflink/internal/server/endpoints"
	"github.com/jackzampolin/brieflink/internal/store"
	"github.com/jackzampolin/brieflink/internal/svcctx"
)

// Server is the brieflink HTTP server.
// It opens the database and builds the pipeline services on start, and
// drains supervised jobs and closes the database on shutdown.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	configMgr  *config.Manager
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services
	gcs      *ingest.GCSStore

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
	addr    string
	ready   chan struct{}
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080, "0" picks a free port)
	Port string
	// Home is the brieflink home directory (database, rendered pages, bundles)
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
	// SwaggerSpecPath is the generated OpenAPI document served at /swagger.json
	SwaggerSpecPath string
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, err
		}
		cfg.Home = h
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	s := &Server{
		home:      cfg.Home,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
		ready:     make(chan struct{}),
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{SwaggerSpecPath: cfg.SwaggerSpecPath}) {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(s.withMetrics(mux)),
		ReadTimeout: 30 * time.Second,
		// Index re-runs and arbitration answer synchronously.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the store, builds the services and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return err
	}

	svcs, err := s.buildServices(s.configMgr.Get())
	if err != nil {
		s.setNotRunning()
		return err
	}
	s.services = svcs
	s.watchConfig()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// buildServices wires the store, supervisor and pipeline services from cfg.
func (s *Server) buildServices(cfg *config.Config) (*svcctx.Services, error) {
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = s.home.DatabasePath()
	}
	st, err := store.Open(dbPath, store.Options{BusyTimeout: cfg.Store.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	s.logger.Info("store opened", "path", dbPath)

	m := metrics.New()
	rec := metrics.NewRecorder(m)

	jobManager := jobs.NewManager(st, s.logger)
	supervisor := jobs.NewSupervisor(jobs.SupervisorConfig{Manager: jobManager, Logger: s.logger})

	registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig(), s.logger)

	renderer := pages.NewRenderer(pages.RendererConfig{
		Home:   s.home,
		Binary: cfg.OCR.Pdftoppm,
		MaxDPI: cfg.OCR.RetryDPI,
		Logger: s.logger,
	})
	extractor := index.NewExtractor(st, cfg.Index, rec, s.logger)
	sched, err := ocr.NewScheduler(ocr.SchedulerConfig{
		Store:      st,
		Source:     renderer,
		Providers:  registry,
		Supervisor: supervisor,
		Index:      extractor.RunFunc,
		Settings:   cfg.SchedulerSettings(),
		Metrics:    rec,
		Logger:     s.logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	var gcs ingest.BundleStore
	if g := cfg.Ingest.GCS; g.Enabled {
		var opts []option.ClientOption
		if g.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(g.CredentialsFile))
		}
		if g.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(g.Endpoint), option.WithoutAuthentication())
		}
		s.gcs = ingest.NewGCSStore(opts...)
		gcs = s.gcs
	}
	bundleRoot := cfg.Ingest.BundleRoot
	if bundleRoot == "" {
		bundleRoot = s.home.BundlesDir()
	}
	adapter, err := ingest.NewAdapter(ingest.AdapterConfig{
		Store:      st,
		Bundles:    ingest.NewRouter(bundleRoot, gcs),
		Progress:   sched.Progress(),
		FirstBatch: sched.FirstBatchCompleted,
		BatchSize:  cfg.OCR.BatchSize,
		Metrics:    rec,
		Logger:     s.logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	poller, err := ingest.NewPoller(ingest.PollerConfig{
		Adapter:    adapter,
		Supervisor: supervisor,
		Settings:   cfg.PollSettings(),
		Logger:     s.logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &svcctx.Services{
		Store:      st,
		Supervisor: supervisor,
		JobManager: jobManager,
		Registry:   registry,
		Scheduler:  sched,
		Index:      extractor,
		Arbiter: arbiter.NewService(arbiter.ServiceConfig{
			Store:      st,
			Supervisor: supervisor,
			Metrics:    rec,
			Logger:     s.logger,
		}),
		Ingest:   adapter,
		Poller:   poller,
		Metrics:  m,
		Recorder: rec,
		Config:   s.configMgr,
		Logger:   s.logger,
		Home:     s.home,
	}, nil
}

// watchConfig applies config file edits to the running services.
// Store and GCS settings only take effect on restart.
func (s *Server) watchConfig() {
	svcs := s.services
	s.configMgr.OnChange(func(c *config.Config) {
		svcs.Registry.Reload(c.ToProviderRegistryConfig())
		svcs.Scheduler.SetSettings(c.SchedulerSettings())
		svcs.Poller.SetSettings(c.PollSettings())
		svcs.Index.SetWeights(c.Index)
		s.logger.Info("configuration reloaded", "providers", svcs.Registry.List(), "provider", c.OCR.Provider)
	})
	if s.configMgr.FileUsed() != "" {
		s.configMgr.WatchConfig()
	}
}

// shutdown stops HTTP, drains supervised jobs and closes the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if svcs := s.services; svcs != nil {
		// Interrupted jobs resume from persisted page state on the next start.
		if err := svcs.Supervisor.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("job shutdown error", "error", err)
		}
		if err := svcs.Store.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}
	if s.gcs != nil {
		if err := s.gcs.Close(); err != nil {
			s.logger.Error("storage client close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listen address, resolved once the server is listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != "" {
		return s.addr
	}
	return s.httpServer.Addr
}

// Services returns the running services, or nil before Start.
func (s *Server) Services() *svcctx.Services {
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the services are built.
// Returns 503 Service Unavailable until Start has opened the store.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
