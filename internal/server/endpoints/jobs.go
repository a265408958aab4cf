package endpoints

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/brieflink/internal/api"
	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/svcctx"
)

// cancelWait bounds how long DELETE waits for a cancelled task to stop.
const cancelWait = 5 * time.Second

// ListJobsResponse is the response for listing jobs.
type ListJobsResponse struct {
	Jobs []*jobs.Record `json:"jobs"`
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List jobs
//	@Description	List supervised jobs, newest first, with optional filtering
//	@Tags			jobs
//	@Produce		json
//	@Param			status		query		string	false	"Filter by status"
//	@Param			job_type	query		string	false	"Filter by job type"
//	@Param			document	query		string	false	"Filter by document id"
//	@Param			limit		query		int		false	"Max results (default 100)"
//	@Success		200			{object}	ListJobsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	q := r.URL.Query()
	filter := jobs.ListFilter{
		Status:     jobs.Status(q.Get("status")),
		JobType:    q.Get("job_type"),
		DocumentID: q.Get("document"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	jobsList, err := jm.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.Record{}
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobsList})
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status, jobType, document string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/jobs"
			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			if jobType != "" {
				params.Set("job_type", jobType)
			}
			if document != "" {
				params.Set("document", document)
			}
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp ListJobsResponse
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&jobType, "type", "", "Filter by job type (ocr, index, ingest-poll, arbitrate)")
	cmd.Flags().StringVar(&document, "document", "", "Filter by document id")
	return cmd
}

// GetJobResponse includes the job record plus whether it is live in this process.
type GetJobResponse struct {
	*jobs.Record
	Active bool `json:"active"`
}

// GetJobEndpoint handles GET /api/jobs/{id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get job by ID
//	@Description	Job record, including the captured error of a failed task
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	GetJobResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id} [get]
func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}
	id := r.PathValue("id")
	job, err := jm.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := GetJobResponse{Record: job}
	if sup := svcctx.SupervisorFrom(r.Context()); sup != nil {
		_, resp.Active = sup.Get(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp GetJobResponse
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), "/api/jobs/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CancelJobEndpoint handles DELETE /api/jobs/{id}.
type CancelJobEndpoint struct{}

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/jobs/{id}", e.handler
}

func (e *CancelJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Cancel a job
//	@Description	Cancel a running job and return its record once it has stopped
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	GetJobResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id} [delete]
func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	sup := svcctx.SupervisorFrom(r.Context())
	if jm == nil || sup == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}
	id := r.PathValue("id")
	job, err := jm.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	task, ok := sup.Get(id)
	if !ok {
		writeError(w, http.StatusConflict, "job is not running (status "+string(job.Status)+")")
		return
	}
	task.Cancel()
	select {
	case <-task.Done():
	case <-time.After(cancelWait):
	case <-r.Context().Done():
	}

	if job, err = jm.Get(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	_, active := sup.Get(id)
	writeJSON(w, http.StatusOK, GetJobResponse{Record: job, Active: active})
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp GetJobResponse
			if err := api.NewClient(getServerURL()).Delete(cmd.Context(), "/api/jobs/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
