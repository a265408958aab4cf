package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/brieflink/internal/api"
	"github.com/jackzampolin/brieflink/internal/ingest"
	"github.com/jackzampolin/brieflink/internal/svcctx"
)

// NotificationEndpoint handles POST /api/ingest/notifications.
type NotificationEndpoint struct{}

func (e *NotificationEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/ingest/notifications", e.handler
}

func (e *NotificationEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Result bundle notification
//	@Description	Accepts a CloudEvent (binary or structured mode) whose data names a result bundle, and ingests that bundle's pages. Malformed bundles are skipped and reported, not rejected.
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			event	body		ingest.Notification	true	"CloudEvent data"
//	@Success		200		{object}	ingest.Result
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/ingest/notifications [post]
func (e *NotificationEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	adapter := svcctx.IngestFrom(r.Context())
	if adapter == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest adapter not initialized")
		return
	}
	n, err := ingest.NotificationFromRequest(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res, err := adapter.Handle(r.Context(), n)
	if err != nil {
		svcctx.LoggerFrom(r.Context()).Warn("bundle ingestion failed",
			"document_id", n.DocumentID, "bundle", n.BundleLocation, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *NotificationEndpoint) Command(getServerURL func() string) *cobra.Command {
	var n ingest.Notification
	cmd := &cobra.Command{
		Use:   "notify <document-id> <bundle>",
		Short: "Send a bundle-ready notification",
		Long: `Send a structured-mode CloudEvent announcing a result bundle.

The bundle is gs://bucket/object for Cloud Storage or a local file path
under the server's ingest.bundle_root.
Page numbers come from each response's context, or from --batch-label
(output-<start>-to-<end>) plus the response offset.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n.DocumentID = args[0]
			n.BundleLocation = args[1]
			ev, err := ingest.NewNotificationEvent(uuid.NewString(), n)
			if err != nil {
				return err
			}
			body, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			var resp ingest.Result
			if err := api.NewClient(getServerURL()).PostRaw(cmd.Context(), "/api/ingest/notifications",
				"application/cloudevents+json", body, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&n.BatchLabel, "batch-label", "", "Batch label, e.g. output-1-to-50")
	cmd.Flags().StringVar(&n.CaseID, "case", "", "Case id")
	return cmd
}
