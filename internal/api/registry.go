package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// initMiddleware wraps handlers that require full server initialization.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// groupShort describes the command groups derived from /api/<group>/... paths.
var groupShort = map[string]string{
	"documents":   "Document registration, OCR batches and index commands",
	"arbitration": "Reference arbitration commands",
	"ingest":      "Async result ingestion commands",
	"jobs":        "Supervised job commands",
}

// Group returns the command group for a route path: the segment after
// /api/, or "" for routes outside /api.
func Group(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return ""
	}
	group, _, _ := strings.Cut(rest, "/")
	return group
}

// BuildCommands returns a cobra.Command tree for all registered endpoints.
// Commands are organized by their URL path structure.
// getServerURL is called at runtime to get the server URL.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running brieflink server via HTTP.

These commands require a running server (brieflink serve).
Use --server to specify a custom server URL.

Examples:
  brieflink api health                         # Check server health
  brieflink api documents register rec.pdf --id record --role trial_record
  brieflink api documents process record       # Start OCR
  brieflink api arbitration run --trial-record record
  brieflink api jobs get <id>                  # Get a specific job`,
	}

	groups := make(map[string]*cobra.Command)
	for _, ep := range r.endpoints {
		cmd := ep.Command(getServerURL)
		if cmd == nil {
			continue
		}
		_, path, _ := ep.Route()
		name := Group(path)
		if name == "" {
			apiCmd.AddCommand(cmd)
			continue
		}
		parent, ok := groups[name]
		if !ok {
			short := groupShort[name]
			if short == "" {
				short = name + " commands"
			}
			parent = &cobra.Command{Use: name, Short: short}
			groups[name] = parent
		}
		parent.AddCommand(cmd)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		apiCmd.AddCommand(groups[name])
	}

	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
