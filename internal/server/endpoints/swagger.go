package endpoints

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/brieflink/internal/api"
)

// DefaultSwaggerSpec is where swag writes the generated OpenAPI document.
const DefaultSwaggerSpec = "docs/swagger/swagger.json"

// SwaggerEndpoint serves the generated OpenAPI document.
type SwaggerEndpoint struct {
	SpecPath string
}

func (e *SwaggerEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/swagger.json", e.handler
}

func (e *SwaggerEndpoint) RequiresInit() bool { return false }

func (e *SwaggerEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	specPath := e.SpecPath
	if specPath == "" {
		specPath = DefaultSwaggerSpec
	}

	data, err := os.ReadFile(specPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "swagger.json not found (run go generate ./docs)")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (e *SwaggerEndpoint) Command(getServerURL func() string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "swagger",
		Short: "Fetch the OpenAPI document from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec map[string]any
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), "/swagger.json", &spec); err != nil {
				return err
			}
			if file != "" {
				return api.OutputToFile(spec, file)
			}
			return api.Output(spec)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Write to file (.json writes JSON, anything else YAML)")
	return cmd
}

// SwaggerSpecPath locates swagger.json next to the executable, falling back
// to the working directory.
func SwaggerSpecPath() string {
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), DefaultSwaggerSpec)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return DefaultSwaggerSpec
}
