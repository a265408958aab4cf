package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/brieflink/internal/config"
	"github.com/jackzampolin/brieflink/internal/server"
	"github.com/jackzampolin/brieflink/internal/server/endpoints"
)

var (
	serveHost      string
	servePort      string
	serveLogFormat string
	serveLogLevel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the brieflink server",
	Long: `Start the brieflink HTTP server.

The server opens the SQLite database under the home directory, runs OCR
and arbitration jobs in the background and serves the API. Config file
edits to providers, OCR tunables, polling and index weights apply without
a restart. On Ctrl+C or SIGTERM running jobs are cancelled; they resume
from stored page state when started again.

The server provides:
  - /health       - Liveness check
  - /ready        - Readiness check (includes the database)
  - /metrics      - Prometheus metrics
  - /swagger.json - OpenAPI document
  - /api/...      - Documents, ingestion, arbitration and jobs

Examples:
  brieflink serve                    # Start on default port 8080
  brieflink serve --port 3000        # Start on custom port
  brieflink serve --log-format json  # JSON logs for collectors`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger(serveLogFormat, serveLogLevel)
		if err != nil {
			return err
		}

		h, err := getHome()
		if err != nil {
			return err
		}

		cfgMgr, err := config.NewManager(configPath(h))
		if err != nil {
			return err
		}
		if f := cfgMgr.FileUsed(); f != "" {
			logger.Info("config loaded", "file", f)
		} else {
			logger.Info("no config file found, using defaults (run 'brieflink config init')")
		}

		srv, err := server.New(server.Config{
			Host:            serveHost,
			Port:            servePort,
			Home:            h,
			ConfigManager:   cfgMgr,
			Logger:          logger,
			SwaggerSpecPath: endpoints.SwaggerSpecPath(),
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (use text or json)", format)
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "text", "Log format: text or json")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
}
