package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/metrics"
	"github.com/jackzampolin/brieflink/internal/refs"
	"github.com/jackzampolin/brieflink/internal/store"
	"github.com/jackzampolin/brieflink/internal/types"
)

var (
	// ErrNoTrialRecord means arbitration has no valid target document.
	ErrNoTrialRecord = errors.New("no trial record")
	// ErrInvalidOverride means an override names an unknown type or a page
	// outside the trial record.
	ErrInvalidOverride = errors.New("invalid override")
)

// Store is the slice of the store arbitration reads and writes.
type Store interface {
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	ListDocuments(ctx context.Context, role types.DocumentRole) ([]*types.Document, error)
	ListPages(ctx context.Context, docID string, start, end int) ([]*types.Page, error)
	ListOverrides(ctx context.Context, trialRecordID string) ([]types.Override, error)
	UpsertOverride(ctx context.Context, o types.Override) error
	ReplaceDecisions(ctx context.Context, trialRecordID string, briefIDs []string, decisions []types.Decision) error
	ListDecisions(ctx context.Context, docID string) ([]types.Decision, error)
	BriefsReferencing(ctx context.Context, trialRecordID string, refType types.RefType, value string) ([]string, error)
}

// ServiceConfig holds dependencies for a Service.
type ServiceConfig struct {
	Store Store
	// Supervisor, if set, runs arbitration as a supervised job debounced per
	// trial record.
	Supervisor *jobs.Supervisor
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Service runs arbitration over stored pages and persists decisions.
type Service struct {
	store      Store
	supervisor *jobs.Supervisor
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// NewService creates an arbitration service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: cfg.Store, supervisor: cfg.Supervisor, metrics: cfg.Metrics, logger: logger}
}

// RunResult is the outcome of one arbitration run.
type RunResult struct {
	TrialRecordID string           `json:"trial_record_id"`
	BriefIDs      []string         `json:"brief_ids"`
	Anchors       int              `json:"anchors"`
	Decisions     []types.Decision `json:"decisions"`
	Report        Report           `json:"report"`
	Hash          string           `json:"hash"`
}

// OverrideResult is an applied override and the re-run it caused, if any.
type OverrideResult struct {
	Override types.Override `json:"override"`
	Rerun    *RunResult     `json:"rerun,omitempty"`
}

// Run arbitrates the briefs against the trial record and replaces their
// stored decisions. An empty briefIDs means every brief on file.
// A run already active for the trial record fails with
// jobs.ErrAlreadyRunning.
func (s *Service) Run(ctx context.Context, trialRecordID string, briefIDs []string) (*RunResult, error) {
	res, _, err := s.start(ctx, trialRecordID, briefIDs)
	return res, err
}

// start runs arbitration under the supervisor when there is one. On
// jobs.ErrAlreadyRunning the returned task is the active run.
func (s *Service) start(ctx context.Context, trialRecordID string, briefIDs []string) (*RunResult, *jobs.Task, error) {
	if s.supervisor == nil {
		res, err := s.run(ctx, trialRecordID, briefIDs)
		return res, nil, err
	}

	var res *RunResult
	task, err := s.supervisor.Start(ctx, jobs.TypeArbitrate, trialRecordID,
		map[string]any{"briefs": len(briefIDs)},
		func(ctx context.Context) error {
			r, err := s.run(ctx, trialRecordID, briefIDs)
			res = r
			return err
		})
	if err != nil {
		return nil, task, err
	}
	if err := task.Wait(ctx); err != nil {
		return nil, task, err
	}
	return res, task, nil
}

// rerun is Run for a change that is already saved. An active run may have
// read the anchors before the change, so rerun waits for it to finish and
// then runs again.
func (s *Service) rerun(ctx context.Context, trialRecordID string, briefIDs []string) (*RunResult, error) {
	for {
		res, active, err := s.start(ctx, trialRecordID, briefIDs)
		if !errors.Is(err, jobs.ErrAlreadyRunning) || active == nil {
			return res, err
		}
		s.logger.Info("waiting for active arbitration", "trial_record_id", trialRecordID, "job_id", active.ID)
		if err := active.Wait(ctx); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

func (s *Service) run(ctx context.Context, trialRecordID string, briefIDs []string) (*RunResult, error) {
	tr, err := s.trialRecord(ctx, trialRecordID)
	if err != nil {
		return nil, err
	}

	if len(briefIDs) == 0 {
		docs, err := s.store.ListDocuments(ctx, types.RoleBrief)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			briefIDs = append(briefIDs, d.ID)
		}
	}

	anchors, err := s.Anchors(ctx, tr)
	if err != nil {
		return nil, err
	}

	briefs := make([]refs.DocumentPages, 0, len(briefIDs))
	for _, id := range briefIDs {
		if id == tr.ID {
			return nil, refs.ErrTrialRecordInBriefs
		}
		if _, err := s.store.GetDocument(ctx, id); err != nil {
			return nil, err
		}
		pages, err := s.store.ListPages(ctx, id, 1, 0)
		if err != nil {
			return nil, err
		}
		briefs = append(briefs, refs.DocumentPages{ID: id, Pages: pages})
	}

	hits, err := refs.ExtractHits(tr.ID, briefs)
	if err != nil {
		return nil, err
	}
	decisions := Arbitrate(anchors, hits)
	if err := s.store.ReplaceDecisions(ctx, tr.ID, briefIDs, decisions); err != nil {
		return nil, err
	}

	res := &RunResult{
		TrialRecordID: tr.ID,
		BriefIDs:      briefIDs,
		Anchors:       anchors.Len(),
		Decisions:     decisions,
		Report:        NewReport(anchors, decisions),
		Hash:          Hash(decisions),
	}
	s.metrics.RecordArbitration(res.Report.Linked, res.Report.NeedsReview)
	s.logger.Info("arbitration finished", "trial_record_id", tr.ID, "briefs", len(briefIDs),
		"anchors", res.Anchors, "linked", res.Report.Linked, "needs_review", res.Report.NeedsReview, "hash", res.Hash)
	return res, nil
}

// Anchors builds the trial record's anchor map from cached pages with
// stored overrides applied on top.
func (s *Service) Anchors(ctx context.Context, tr *types.Document) (*refs.Anchors, error) {
	pages, err := s.store.ListPages(ctx, tr.ID, 1, 0)
	if err != nil {
		return nil, err
	}
	overrides, err := s.store.ListOverrides(ctx, tr.ID)
	if err != nil {
		return nil, err
	}
	anchors := refs.ExtractAnchors(tr.ID, tr.TotalPages, pages)
	anchors.ApplyOverrides(overrides)
	return anchors, nil
}

// Override pins (refType, value) in the trial record to page and re-runs
// arbitration for the briefs that reference it.
func (s *Service) Override(ctx context.Context, trialRecordID string, refType types.RefType, value string, page int) (*OverrideResult, error) {
	tr, err := s.trialRecord(ctx, trialRecordID)
	if err != nil {
		return nil, err
	}
	if !refs.Pinnable(refType) {
		return nil, fmt.Errorf("%w: reference type %q cannot be pinned", ErrInvalidOverride, refType)
	}
	if page < 1 || page > tr.TotalPages {
		return nil, fmt.Errorf("%w: page %d outside 1..%d", ErrInvalidOverride, page, tr.TotalPages)
	}

	o := types.Override{TrialRecordID: tr.ID, RefType: refType, Value: refs.Normalize(refType, value), Page: page}
	if err := s.store.UpsertOverride(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info("anchor override set", "trial_record_id", tr.ID, "type", refType, "value", o.Value, "page", page)

	briefs, err := s.store.BriefsReferencing(ctx, tr.ID, refType, o.Value)
	if err != nil {
		return nil, err
	}
	out := &OverrideResult{Override: o}
	if len(briefs) == 0 {
		return out, nil
	}
	if out.Rerun, err = s.rerun(ctx, tr.ID, briefs); err != nil {
		return nil, err
	}
	return out, nil
}

// Decisions lists stored decisions for a brief, or all when docID is empty.
func (s *Service) Decisions(ctx context.Context, docID string) ([]types.Decision, error) {
	return s.store.ListDecisions(ctx, docID)
}

func (s *Service) trialRecord(ctx context.Context, id string) (*types.Document, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: no trial record id given", ErrNoTrialRecord)
	}
	doc, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s not found", ErrNoTrialRecord, id)
	}
	if err != nil {
		return nil, err
	}
	if doc.Role != types.RoleTrialRecord {
		return nil, fmt.Errorf("%w: %s has role %s", ErrNoTrialRecord, id, doc.Role)
	}
	return doc, nil
}
