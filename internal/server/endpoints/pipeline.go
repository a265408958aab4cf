package endpoints

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/brieflink/internal/api"
	"github.com/jackzampolin/brieflink/internal/ingest"
	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/ocr"
	"github.com/jackzampolin/brieflink/internal/svcctx"
	"github.com/jackzampolin/brieflink/internal/types"
)

// StartJobResponse is the job record behind a started (or already running) task.
type StartJobResponse struct {
	*jobs.Record
	AlreadyRunning bool `json:"already_running,omitempty"`
}

// writeStarted answers a supervised start. A task that was already running
// is returned with 200 instead of starting duplicate work.
func writeStarted(w http.ResponseWriter, r *http.Request, task *jobs.Task, err error) {
	already := errors.Is(err, jobs.ErrAlreadyRunning)
	if err != nil && !already {
		writeServiceError(w, err)
		return
	}
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}
	record, gerr := jm.Get(r.Context(), task.ID)
	if gerr != nil {
		writeServiceError(w, gerr)
		return
	}
	status := http.StatusAccepted
	if already {
		status = http.StatusOK
	}
	writeJSON(w, status, StartJobResponse{Record: record, AlreadyRunning: already})
}

// CreateBatchesRequest is the request body for creating batches.
type CreateBatchesRequest struct {
	TotalPages int `json:"total_pages,omitempty"`
	BatchSize  int `json:"batch_size,omitempty"`
}

// BatchesResponse lists a document's batches.
type BatchesResponse struct {
	DocumentID string         `json:"document_id"`
	Batches    []*types.Batch `json:"batches"`
}

// CreateBatchesEndpoint handles POST /api/documents/{id}/batches.
type CreateBatchesEndpoint struct{}

func (e *CreateBatchesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/batches", e.handler
}

func (e *CreateBatchesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Create batches
//	@Description	Partition the document into contiguous page ranges. A document keeps one partition; a different one is rejected.
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Document ID"
//	@Param			request	body		CreateBatchesRequest	false	"Partition overrides"
//	@Success		201		{object}	BatchesResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents/{id}/batches [post]
func (e *CreateBatchesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TotalPages < 0 || req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, "total_pages and batch_size must not be negative")
		return
	}
	sched := svcctx.SchedulerFrom(r.Context())
	if sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}
	id := r.PathValue("id")
	batches, err := sched.CreateBatches(r.Context(), id, req.TotalPages, req.BatchSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, BatchesResponse{DocumentID: id, Batches: batches})
}

func (e *CreateBatchesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req CreateBatchesRequest
	cmd := &cobra.Command{
		Use:   "create-batches <id>",
		Short: "Partition a document into OCR batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp BatchesResponse
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), documentPath(args[0], "batches"), req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&req.TotalPages, "pages", 0, "Page count (default: the document's)")
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", 0, "Pages per batch (default: configured ocr.batch_size)")
	return cmd
}

// BatchProgressEndpoint handles GET /api/documents/{id}/batches.
type BatchProgressEndpoint struct{}

func (e *BatchProgressEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/batches", e.handler
}

func (e *BatchProgressEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Batch progress
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"Document ID"
//	@Success	200	{object}	ocr.DocumentProgress
//	@Failure	404	{object}	ErrorResponse
//	@Failure	503	{object}	ErrorResponse
//	@Router		/api/documents/{id}/batches [get]
func (e *BatchProgressEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sched := svcctx.SchedulerFrom(r.Context())
	if sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}
	progress, err := sched.Progress().Document(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (e *BatchProgressEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "batches <id>",
		Short: "Show per-batch OCR progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp ocr.DocumentProgress
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), documentPath(args[0], "batches"), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ProcessRequest is the request body for starting OCR.
type ProcessRequest struct {
	// Concurrency is the number of batches run at once (default: configured, clamped to 1..8).
	Concurrency int `json:"concurrency,omitempty"`
}

// ProcessDocumentEndpoint handles POST /api/documents/{id}/process.
type ProcessDocumentEndpoint struct{}

func (e *ProcessDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/process", e.handler
}

func (e *ProcessDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start OCR
//	@Description	Run every unfinished batch in the background. A run already in progress is returned instead of starting another.
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Document ID"
//	@Param			request	body		ProcessRequest	false	"Run options"
//	@Success		200		{object}	StartJobResponse
//	@Success		202		{object}	StartJobResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents/{id}/process [post]
func (e *ProcessDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sched := svcctx.SchedulerFrom(r.Context())
	if sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}
	task, err := sched.Start(r.Context(), r.PathValue("id"), req.Concurrency)
	writeStarted(w, r, task, err)
}

func (e *ProcessDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req ProcessRequest
	cmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Start OCR for a document",
		Long: `Start OCR for every unfinished batch of a document.

Returns the job record immediately. Use 'brieflink api documents get <id>'
to follow progress or 'brieflink api jobs get <job-id>' for the job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp StartJobResponse
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), documentPath(args[0], "process"), req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&req.Concurrency, "concurrency", 0, "Batches processed at once (default: configured)")
	return cmd
}

// IndexResponse is a document's extracted index.
type IndexResponse struct {
	DocumentID string            `json:"document_id"`
	JobID      string            `json:"job_id,omitempty"`
	Items      []types.IndexItem `json:"items"`
}

// GetIndexEndpoint handles GET /api/documents/{id}/index.
type GetIndexEndpoint struct{}

func (e *GetIndexEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/index", e.handler
}

func (e *GetIndexEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get index items
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"Document ID"
//	@Success	200	{object}	IndexResponse
//	@Failure	404	{object}	ErrorResponse
//	@Failure	503	{object}	ErrorResponse
//	@Router		/api/documents/{id}/index [get]
func (e *GetIndexEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	id := r.PathValue("id")
	if _, err := st.GetDocument(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeIndex(w, r, id, "", http.StatusOK)
}

func writeIndex(w http.ResponseWriter, r *http.Request, docID, jobID string, status int) {
	items, err := svcctx.StoreFrom(r.Context()).ListIndexItems(r.Context(), docID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []types.IndexItem{}
	}
	writeJSON(w, status, IndexResponse{DocumentID: docID, JobID: jobID, Items: items})
}

func (e *GetIndexEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "index <id>",
		Short: "Show a document's extracted index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp IndexResponse
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), documentPath(args[0], "index"), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RunIndexEndpoint handles POST /api/documents/{id}/index.
type RunIndexEndpoint struct{}

func (e *RunIndexEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/index", e.handler
}

func (e *RunIndexEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Re-run index extraction
//	@Description	Runs extraction as a supervised job over cached page text and returns the new items. With wait=false the job record is returned immediately.
//	@Tags			documents
//	@Produce		json
//	@Param			id		path		string	true	"Document ID"
//	@Param			wait	query		bool	false	"Wait for the run (default true)"
//	@Success		200		{object}	IndexResponse
//	@Success		202		{object}	StartJobResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents/{id}/index [post]
func (e *RunIndexEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sched := svcctx.SchedulerFrom(r.Context())
	if sched == nil || svcctx.StoreFrom(r.Context()) == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}
	id := r.PathValue("id")
	if _, err := svcctx.StoreFrom(r.Context()).GetDocument(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	task, err := sched.StartIndex(r.Context(), id)
	if r.URL.Query().Get("wait") == "false" {
		writeStarted(w, r, task, err)
		return
	}
	if err != nil && !errors.Is(err, jobs.ErrAlreadyRunning) {
		writeServiceError(w, err)
		return
	}
	if err := task.Wait(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeIndex(w, r, id, task.ID, http.StatusOK)
}

func (e *RunIndexEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <id>",
		Short: "Re-run index extraction over cached page text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp IndexResponse
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), documentPath(args[0], "index"), nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// PollRequest is the request body for starting a bundle poll.
type PollRequest struct {
	Prefix     string `json:"prefix"`
	BatchLabel string `json:"batchLabel,omitempty"`
}

// StartPollEndpoint handles POST /api/documents/{id}/ingest/poll.
type StartPollEndpoint struct{}

func (e *StartPollEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/ingest/poll", e.handler
}

func (e *StartPollEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Poll for result bundles
//	@Description	List the prefix every interval and ingest new bundles until the document completes or the poll ceiling is reached
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Document ID"
//	@Param			request	body		PollRequest	true	"Bundle prefix"
//	@Success		200		{object}	StartJobResponse
//	@Success		202		{object}	StartJobResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents/{id}/ingest/poll [post]
func (e *StartPollEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req PollRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prefix == "" {
		writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}
	poller := svcctx.PollerFrom(r.Context())
	if poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not initialized")
		return
	}
	task, err := poller.Start(r.Context(), ingest.PollRequest{
		DocumentID: r.PathValue("id"),
		Prefix:     req.Prefix,
		BatchLabel: req.BatchLabel,
	})
	writeStarted(w, r, task, err)
}

func (e *StartPollEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req PollRequest
	cmd := &cobra.Command{
		Use:   "poll <id> <prefix>",
		Short: "Poll a bucket prefix or directory for result bundles",
		Long: `Start a supervised poll that ingests result bundles under a prefix.

The prefix is gs://bucket/path for Cloud Storage or a local directory path.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prefix = args[1]
			var resp StartJobResponse
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), documentPath(args[0], "ingest/poll"), req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.BatchLabel, "batch-label", "", "Label used to number pages of bundles without their own range")
	return cmd
}

func documentPath(id, suffix string) string {
	return "/api/documents/" + url.PathEscape(id) + "/" + suffix
}
