package endpoints

import (
	"github.com/jackzampolin/brieflink/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},
		&MetricsEndpoint{},

		// Document endpoints
		&RegisterDocumentEndpoint{},
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&CreateBatchesEndpoint{},
		&BatchProgressEndpoint{},
		&ProcessDocumentEndpoint{},
		&GetIndexEndpoint{},
		&RunIndexEndpoint{},
		&StartPollEndpoint{},

		// Async ingestion
		&NotificationEndpoint{},

		// Arbitration endpoints
		&RunArbitrationEndpoint{},
		&ListDecisionsEndpoint{},
		&OverrideEndpoint{},

		// Job endpoints
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&CancelJobEndpoint{},

		// Swagger/OpenAPI
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
	}
}
