package endpoints

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/brieflink/internal/api"
	"github.com/jackzampolin/brieflink/internal/arbiter"
	"github.com/jackzampolin/brieflink/internal/svcctx"
	"github.com/jackzampolin/brieflink/internal/types"
)

// ArbitrationRequest is the request body for an arbitration run.
type ArbitrationRequest struct {
	TrialRecordID string `json:"trialRecordId"`
	// BriefIDs, when empty, selects every registered brief.
	BriefIDs []string `json:"briefIds,omitempty"`
}

// RunArbitrationEndpoint handles POST /api/arbitration.
type RunArbitrationEndpoint struct{}

func (e *RunArbitrationEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/arbitration", e.handler
}

func (e *RunArbitrationEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Run arbitration
//	@Description	Link every reference in the briefs to a unique trial record page or defer it for review. Replaces the briefs' stored decisions.
//	@Tags			arbitration
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ArbitrationRequest	true	"Run"
//	@Success		200		{object}	arbiter.RunResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/arbitration [post]
func (e *RunArbitrationEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ArbitrationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	svc := svcctx.ArbiterFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "arbitration service not initialized")
		return
	}
	res, err := svc.Run(r.Context(), req.TrialRecordID, req.BriefIDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *RunArbitrationEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req ArbitrationRequest
	var summary bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Arbitrate brief references against a trial record",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp arbiter.RunResult
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), "/api/arbitration", req, &resp); err != nil {
				return err
			}
			if summary {
				return api.Output(map[string]any{"report": resp.Report, "hash": resp.Hash, "anchors": resp.Anchors})
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.TrialRecordID, "trial-record", "", "Trial record document id")
	cmd.Flags().StringSliceVar(&req.BriefIDs, "brief", nil, "Brief document id (repeatable; default: all briefs)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print only the report and hash")
	_ = cmd.MarkFlagRequired("trial-record")
	return cmd
}

// DecisionsResponse lists stored decisions.
type DecisionsResponse struct {
	DocumentID string           `json:"document_id,omitempty"`
	Decisions  []types.Decision `json:"decisions"`
	Report     arbiter.Report   `json:"report"`
}

// ListDecisionsEndpoint handles GET /api/arbitration/decisions.
type ListDecisionsEndpoint struct{}

func (e *ListDecisionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/arbitration/decisions", e.handler
}

func (e *ListDecisionsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List decisions
//	@Tags		arbitration
//	@Produce	json
//	@Param		document	query		string	false	"Brief document id (default: all)"
//	@Success	200			{object}	DecisionsResponse
//	@Failure	500			{object}	ErrorResponse
//	@Failure	503			{object}	ErrorResponse
//	@Router		/api/arbitration/decisions [get]
func (e *ListDecisionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.ArbiterFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "arbitration service not initialized")
		return
	}
	docID := r.URL.Query().Get("document")
	decisions, err := svc.Decisions(r.Context(), docID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if decisions == nil {
		decisions = []types.Decision{}
	}
	writeJSON(w, http.StatusOK, DecisionsResponse{
		DocumentID: docID,
		Decisions:  decisions,
		Report:     arbiter.NewReport(nil, decisions),
	})
}

func (e *ListDecisionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var document string
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List stored arbitration decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/arbitration/decisions"
			if document != "" {
				path += "?" + url.Values{"document": {document}}.Encode()
			}
			var resp DecisionsResponse
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&document, "document", "", "Brief document id")
	return cmd
}

// OverrideRequest pins a reference in the trial record to a page.
type OverrideRequest struct {
	TrialRecordID  string        `json:"trialRecordId"`
	ReferenceType  types.RefType `json:"referenceType"`
	ReferenceValue string        `json:"referenceValue"`
	NewPage        int           `json:"newPage"`
}

// OverrideEndpoint handles POST /api/arbitration/overrides.
type OverrideEndpoint struct{}

func (e *OverrideEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/arbitration/overrides", e.handler
}

func (e *OverrideEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Override an anchor destination
//	@Description	Pin a reference to a trial record page and re-run arbitration for the briefs that cite it
//	@Tags			arbitration
//	@Accept			json
//	@Produce		json
//	@Param			request	body		OverrideRequest	true	"Override"
//	@Success		200		{object}	arbiter.OverrideResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/arbitration/overrides [post]
func (e *OverrideEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReferenceType == "" || (req.ReferenceValue == "" && !req.ReferenceType.IsSection()) {
		writeError(w, http.StatusBadRequest, "referenceType and referenceValue are required")
		return
	}
	svc := svcctx.ArbiterFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "arbitration service not initialized")
		return
	}
	res, err := svc.Override(r.Context(), req.TrialRecordID, req.ReferenceType, req.ReferenceValue, req.NewPage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *OverrideEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req OverrideRequest
	cmd := &cobra.Command{
		Use:   "override <type> <value> <page>",
		Short: "Pin a reference to a trial record page",
		Long: `Pin a reference to an explicit trial record page and re-run
arbitration for the briefs that cite it.

Example:
  brieflink api arbitration override tab 7 212 --trial-record record`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ReferenceType = types.RefType(args[0])
			req.ReferenceValue = args[1]
			if _, err := fmt.Sscanf(args[2], "%d", &req.NewPage); err != nil {
				return fmt.Errorf("invalid page %q: %w", args[2], err)
			}
			var resp arbiter.OverrideResult
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), "/api/arbitration/overrides", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.TrialRecordID, "trial-record", "", "Trial record document id")
	_ = cmd.MarkFlagRequired("trial-record")
	return cmd
}
