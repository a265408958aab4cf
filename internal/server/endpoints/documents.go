package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/brieflink/internal/api"
	"github.com/jackzampolin/brieflink/internal/ocr"
	"github.com/jackzampolin/brieflink/internal/pages"
	"github.com/jackzampolin/brieflink/internal/svcctx"
	"github.com/jackzampolin/brieflink/internal/types"
)

// RegisterDocumentRequest is the request body for registering a document.
type RegisterDocumentRequest struct {
	ID         string `json:"id"`
	CaseID     string `json:"case_id,omitempty"`
	Role       string `json:"role"`
	SourcePath string `json:"source_path"`
	// TotalPages, when zero, is read from the PDF.
	TotalPages int `json:"total_pages,omitempty"`
}

// DocumentResponse is a document with its OCR progress.
type DocumentResponse struct {
	*types.Document
	Progress *ocr.DocumentProgress `json:"progress,omitempty"`
}

// RegisterDocumentEndpoint handles POST /api/documents.
type RegisterDocumentEndpoint struct{}

func (e *RegisterDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents", e.handler
}

func (e *RegisterDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Register a document
//	@Description	Record a PDF for OCR. Re-registering updates descriptive fields and keeps OCR state.
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			request	body		RegisterDocumentRequest	true	"Document"
//	@Success		201		{object}	DocumentResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents [post]
func (e *RegisterDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req RegisterDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.TotalPages < 0 {
		writeError(w, http.StatusBadRequest, "total_pages must not be negative")
		return
	}
	if req.TotalPages == 0 {
		if req.SourcePath == "" {
			writeError(w, http.StatusBadRequest, "source_path or total_pages is required")
			return
		}
		n, err := pages.PageCount(req.SourcePath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.TotalPages = n
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	doc := types.Document{
		ID:         req.ID,
		CaseID:     req.CaseID,
		Role:       types.ParseDocumentRole(req.Role),
		SourcePath: req.SourcePath,
		TotalPages: req.TotalPages,
	}
	if err := st.UpsertDocument(r.Context(), doc); err != nil {
		writeServiceError(w, err)
		return
	}
	saved, err := st.GetDocument(r.Context(), req.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	svcctx.LoggerFrom(r.Context()).Info("document registered",
		"document_id", saved.ID, "role", saved.Role, "total_pages", saved.TotalPages)
	writeJSON(w, http.StatusCreated, DocumentResponse{Document: saved})
}

func (e *RegisterDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var id, role, caseID string
	var totalPages int
	cmd := &cobra.Command{
		Use:   "register <pdf>",
		Short: "Register a PDF for OCR",
		Long: `Register a PDF with the pipeline.

The id defaults to the file name without extension. The page count is read
from the PDF on the server unless --pages is given.

Roles: brief, trial_record, other.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("invalid path %s: %w", args[0], err)
			}
			if id == "" {
				id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			client := api.NewClient(getServerURL())
			var resp DocumentResponse
			if err := client.Post(cmd.Context(), "/api/documents", RegisterDocumentRequest{
				ID:         id,
				CaseID:     caseID,
				Role:       role,
				SourcePath: path,
				TotalPages: totalPages,
			}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Document id (default: file name)")
	cmd.Flags().StringVar(&role, "role", "brief", "Document role: brief, trial_record or other")
	cmd.Flags().StringVar(&caseID, "case", "", "Case id")
	cmd.Flags().IntVar(&totalPages, "pages", 0, "Page count (default: read from the PDF)")
	return cmd
}

// ListDocumentsResponse is the response for listing documents.
type ListDocumentsResponse struct {
	Documents []*types.Document `json:"documents"`
}

// ListDocumentsEndpoint handles GET /api/documents.
type ListDocumentsEndpoint struct{}

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List documents
//	@Tags		documents
//	@Produce	json
//	@Param		role	query		string	false	"Filter by role"
//	@Success	200		{object}	ListDocumentsResponse
//	@Failure	500		{object}	ErrorResponse
//	@Failure	503		{object}	ErrorResponse
//	@Router		/api/documents [get]
func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	var role types.DocumentRole
	if q := r.URL.Query().Get("role"); q != "" {
		role = types.ParseDocumentRole(q)
	}
	docs, err := st.ListDocuments(r.Context(), role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if docs == nil {
		docs = []*types.Document{}
	}
	writeJSON(w, http.StatusOK, ListDocumentsResponse{Documents: docs})
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/documents"
			if role != "" {
				path += "?" + url.Values{"role": {role}}.Encode()
			}
			var resp ListDocumentsResponse
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Filter by role")
	return cmd
}

// GetDocumentEndpoint handles GET /api/documents/{id}.
type GetDocumentEndpoint struct{}

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}", e.handler
}

func (e *GetDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a document
//	@Description	Document state plus page and per-batch OCR progress
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	DocumentResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id} [get]
func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	sched := svcctx.SchedulerFrom(r.Context())
	if st == nil || sched == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	id := r.PathValue("id")
	doc, err := st.GetDocument(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	progress, err := sched.Progress().Document(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Document may have just flipped the state to completed.
	doc.OCRState = progress.State
	writeJSON(w, http.StatusOK, DocumentResponse{Document: doc, Progress: progress})
}

func (e *GetDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a document and its OCR progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp DocumentResponse
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), "/api/documents/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
