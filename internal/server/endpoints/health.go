package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/brieflink/internal/api"
	"github.com/jackzampolin/brieflink/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Liveness check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Readiness check
//	@Description	Reports ready only when the database answers a ping
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Failure	503	{object}	HealthResponse
//	@Router		/ready [get]
func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: "not_initialized"})
		return
	}
	if err := st.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Store: "ok"})
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes the database)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			if resp.Store != "" {
				fmt.Printf("Store:  %s\n", resp.Store)
			}
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server     string   `json:"server"`
	Providers  []string `json:"providers"`
	Provider   string   `json:"provider"`
	ActiveJobs int      `json:"active_jobs"`
	ConfigFile string   `json:"config_file,omitempty"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Server status
//	@Description	Registered OCR providers, the provider batches use, and active job count
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Router		/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Server: "running", Providers: []string{}}
	ctx := r.Context()
	if reg := svcctx.RegistryFrom(ctx); reg != nil {
		resp.Providers = append(resp.Providers, reg.List()...)
	}
	if sched := svcctx.SchedulerFrom(ctx); sched != nil {
		resp.Provider = sched.Settings().Provider
	}
	if sup := svcctx.SupervisorFrom(ctx); sup != nil {
		resp.ActiveJobs = sup.Registry().Len()
	}
	if cfg := svcctx.ConfigFrom(ctx); cfg != nil {
		resp.ConfigFile = cfg.FileUsed()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// MetricsEndpoint handles GET /metrics.
type MetricsEndpoint struct{}

func (e *MetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/metrics", e.handler
}

func (e *MetricsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Prometheus metrics
//	@Tags		health
//	@Produce	plain
//	@Success	200	{string}	string
//	@Router		/metrics [get]
func (e *MetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	m := svcctx.MetricsFrom(r.Context())
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not initialized")
		return
	}
	m.Handler().ServeHTTP(w, r)
}

func (e *MetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Dump pipeline metrics in Prometheus text format",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := api.NewClient(getServerURL()).GetRaw(cmd.Context(), "/metrics")
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(body)
			return err
		},
	}
}
