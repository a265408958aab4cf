package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/types"
)

func seedDocument(t *testing.T, s *Store, id string, role types.DocumentRole, pages int) {
	t.Helper()
	if err := s.UpsertDocument(context.Background(), types.Document{ID: id, Role: role, TotalPages: pages}); err != nil {
		t.Fatalf("UpsertDocument() error = %v", err)
	}
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert keeps ocr state", func(t *testing.T) {
		s := OpenMemory(t)
		seedDocument(t, s, "doc", types.RoleBrief, 10)
		if err := s.SetOCRState(ctx, "doc", types.OCRRunning); err != nil {
			t.Fatalf("SetOCRState() error = %v", err)
		}
		seedDocument(t, s, "doc", types.RoleTrialRecord, 12)

		doc, err := s.GetDocument(ctx, "doc")
		if err != nil {
			t.Fatalf("GetDocument() error = %v", err)
		}
		if doc.OCRState != types.OCRRunning {
			t.Errorf("OCRState = %s, want running", doc.OCRState)
		}
		if doc.Role != types.RoleTrialRecord || doc.TotalPages != 12 {
			t.Errorf("got role=%s pages=%d", doc.Role, doc.TotalPages)
		}
	})

	t.Run("missing document", func(t *testing.T) {
		s := OpenMemory(t)
		_, err := s.GetDocument(ctx, "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := s.SetOCRState(ctx, "nope", types.OCRFailed); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetOCRState expected ErrNotFound, got %v", err)
		}
	})

	t.Run("first batch ready flips once", func(t *testing.T) {
		s := OpenMemory(t)
		seedDocument(t, s, "doc", types.RoleBrief, 10)

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			flips int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				flipped, err := s.MarkFirstBatchReady(ctx, "doc")
				if err != nil {
					t.Errorf("MarkFirstBatchReady() error = %v", err)
					return
				}
				if flipped {
					mu.Lock()
					flips++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if flips != 1 {
			t.Errorf("flips = %d, want 1", flips)
		}
		doc, _ := s.GetDocument(ctx, "doc")
		if !doc.FirstBatchReady || doc.FirstBatchReadyAt == nil {
			t.Errorf("flag not set: %+v", doc)
		}
	})

	t.Run("list by role", func(t *testing.T) {
		s := OpenMemory(t)
		seedDocument(t, s, "b1", types.RoleBrief, 1)
		seedDocument(t, s, "tr", types.RoleTrialRecord, 1)
		briefs, err := s.ListDocuments(ctx, types.RoleBrief)
		if err != nil {
			t.Fatalf("ListDocuments() error = %v", err)
		}
		if len(briefs) != 1 || briefs[0].ID != "b1" {
			t.Errorf("got %+v", briefs)
		}
	})
}

func TestPages(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory(t)
	seedDocument(t, s, "doc", types.RoleBrief, 5)

	page := types.Page{
		DocumentID: "doc",
		PageNumber: 1,
		Text:       "Tab 1",
		Confidence: 0.9,
		Checksum:   "abc",
		Engine:     "mock",
		Status:     types.PageCompleted,
		Words:      []types.Word{{Text: "Tab", Confidence: 0.9, Polygon: []types.Point{{X: 1, Y: 2}}}},
	}
	if err := s.UpsertPage(ctx, page); err != nil {
		t.Fatalf("UpsertPage() error = %v", err)
	}
	if err := s.UpsertPage(ctx, types.Page{DocumentID: "doc", PageNumber: 2, Status: types.PageFailed, Error: "boom"}); err != nil {
		t.Fatalf("UpsertPage() error = %v", err)
	}

	t.Run("round trip words", func(t *testing.T) {
		got, err := s.GetPage(ctx, "doc", 1)
		if err != nil {
			t.Fatalf("GetPage() error = %v", err)
		}
		if len(got.Words) != 1 || got.Words[0].Polygon[0].Y != 2 {
			t.Errorf("words = %+v", got.Words)
		}
	})

	t.Run("checksum", func(t *testing.T) {
		sum, err := s.PageChecksum(ctx, "doc", 1)
		if err != nil || sum != "abc" {
			t.Errorf("PageChecksum() = %q, %v", sum, err)
		}
		sum, err = s.PageChecksum(ctx, "doc", 2)
		if err != nil || sum != "" {
			t.Errorf("failed page checksum = %q, %v", sum, err)
		}
		sum, err = s.PageChecksum(ctx, "doc", 3)
		if err != nil || sum != "" {
			t.Errorf("missing page checksum = %q, %v", sum, err)
		}
	})

	t.Run("range stats", func(t *testing.T) {
		stats, err := s.RangeStats(ctx, "doc", 1, 5)
		if err != nil {
			t.Fatalf("RangeStats() error = %v", err)
		}
		if stats.Completed != 1 || stats.Failed != 1 || stats.AvgConfidence != 0.9 {
			t.Errorf("stats = %+v", stats)
		}
	})

	t.Run("upsert replaces", func(t *testing.T) {
		page.Text = "Tab 2"
		if err := s.UpsertPage(ctx, page); err != nil {
			t.Fatal(err)
		}
		pages, err := s.ListPages(ctx, "doc", 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(pages) != 2 || pages[0].Text != "Tab 2" {
			t.Errorf("pages = %+v", pages)
		}
	})
}

func TestBatches(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory(t)
	seedDocument(t, s, "doc", types.RoleBrief, 120)

	ranges := []types.Batch{
		{DocumentID: "doc", StartPage: 1, EndPage: 50},
		{DocumentID: "doc", StartPage: 51, EndPage: 100},
		{DocumentID: "doc", StartPage: 101, EndPage: 120},
	}
	if err := s.CreateBatches(ctx, ranges); err != nil {
		t.Fatalf("CreateBatches() error = %v", err)
	}
	if err := s.UpdateBatchProgress(ctx, types.Batch{DocumentID: "doc", StartPage: 1, EndPage: 50, Status: types.BatchCompleted, PagesDone: 50}); err != nil {
		t.Fatalf("UpdateBatchProgress() error = %v", err)
	}

	t.Run("recreate is a no-op", func(t *testing.T) {
		if err := s.CreateBatches(ctx, ranges); err != nil {
			t.Fatalf("CreateBatches() error = %v", err)
		}
		batches, err := s.ListBatches(ctx, "doc")
		if err != nil {
			t.Fatal(err)
		}
		if len(batches) != 3 {
			t.Fatalf("got %d batches", len(batches))
		}
		if batches[0].Status != types.BatchCompleted || batches[0].CompletedAt == nil {
			t.Errorf("first batch reset: %+v", batches[0])
		}
	})

	t.Run("different partition rejected", func(t *testing.T) {
		other := []types.Batch{
			{DocumentID: "doc", StartPage: 1, EndPage: 25},
			{DocumentID: "doc", StartPage: 26, EndPage: 50},
		}
		if err := s.CreateBatches(ctx, other); !errors.Is(err, ErrPartitionConflict) {
			t.Fatalf("CreateBatches() error = %v, want ErrPartitionConflict", err)
		}
		if err := s.CreateBatches(ctx, ranges[:2]); !errors.Is(err, ErrPartitionConflict) {
			t.Fatalf("subset: error = %v, want ErrPartitionConflict", err)
		}
		batches, err := s.ListBatches(ctx, "doc")
		if err != nil {
			t.Fatal(err)
		}
		if len(batches) != 3 {
			t.Errorf("got %d batches after rejected create, want 3", len(batches))
		}
	})

	t.Run("pages done bounded", func(t *testing.T) {
		err := s.UpdateBatchProgress(ctx, types.Batch{DocumentID: "doc", StartPage: 101, EndPage: 120, PagesDone: 21})
		if err == nil {
			t.Error("expected constraint violation for pages_done > size")
		}
	})
}

func TestIndexItemsReplace(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory(t)
	seedDocument(t, s, "doc", types.RoleTrialRecord, 10)

	one := 1
	first := []types.IndexItem{
		{Ordinal: &one, Label: "Notice of Motion", RawLine: "1. Notice of Motion", PageHint: 2, Confidence: 0.8, RefType: types.RefMotion},
		{Label: "Affidavit of Jane Doe", RawLine: "Affidavit of Jane Doe", PageHint: 2, Confidence: 0.8, RefType: types.RefAffidavit},
	}
	if err := s.ReplaceIndexItems(ctx, "doc", first); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceIndexItems(ctx, "doc", first[:1]); err != nil {
		t.Fatal(err)
	}
	items, err := s.ListIndexItems(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Ordinal == nil || *items[0].Ordinal != 1 {
		t.Errorf("items = %+v", items)
	}
}

func TestDecisionsAndOverrides(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory(t)
	seedDocument(t, s, "tr", types.RoleTrialRecord, 100)
	seedDocument(t, s, "b1", types.RoleBrief, 5)
	seedDocument(t, s, "b2", types.RoleBrief, 5)

	decisions := []types.Decision{
		{SourceDocument: "b1", SourcePage: 1, RefType: types.RefTab, Value: "3", Outcome: types.OutcomeLink, DestinationPage: 40},
		{SourceDocument: "b2", SourcePage: 2, RefType: types.RefExhibit, Value: "Z", Outcome: types.OutcomeNeedsReview, Reason: "no anchor found for Exhibit Z"},
	}
	if err := s.ReplaceDecisions(ctx, "tr", []string{"b1", "b2"}, decisions); err != nil {
		t.Fatal(err)
	}

	t.Run("replace scoped to briefs", func(t *testing.T) {
		if err := s.ReplaceDecisions(ctx, "tr", []string{"b1"}, nil); err != nil {
			t.Fatal(err)
		}
		all, err := s.ListDecisions(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 1 || all[0].SourceDocument != "b2" {
			t.Errorf("decisions = %+v", all)
		}
		if all[0].DestinationPage != 0 {
			t.Errorf("needs_review decision has destination %d", all[0].DestinationPage)
		}
	})

	t.Run("briefs referencing", func(t *testing.T) {
		ids, err := s.BriefsReferencing(ctx, "tr", types.RefExhibit, "Z")
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 || ids[0] != "b2" {
			t.Errorf("ids = %v", ids)
		}
	})

	t.Run("override upsert", func(t *testing.T) {
		for _, page := range []int{10, 12} {
			if err := s.UpsertOverride(ctx, types.Override{TrialRecordID: "tr", RefType: types.RefExhibit, Value: "Z", Page: page}); err != nil {
				t.Fatal(err)
			}
		}
		overrides, err := s.ListOverrides(ctx, "tr")
		if err != nil {
			t.Fatal(err)
		}
		if len(overrides) != 1 || overrides[0].Page != 12 {
			t.Errorf("overrides = %+v", overrides)
		}
	})
}

func TestJobRecords(t *testing.T) {
	ctx := context.Background()
	s := OpenMemory(t)

	rec := jobs.NewRecord("job-1", jobs.TypeOCR, "doc", map[string]any{"concurrency": 3})
	if err := s.CreateJob(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateJobStatus(ctx, "job-1", jobs.StatusRunning, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateJobStatus(ctx, "job-1", jobs.StatusFailed, "2 pages failed"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusFailed || got.Error != "2 pages failed" {
		t.Errorf("got %+v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Errorf("timestamps not set: %+v", got)
	}
	if got.Metadata["concurrency"] != float64(3) {
		t.Errorf("metadata = %v", got.Metadata)
	}

	list, err := s.ListJobs(ctx, jobs.ListFilter{DocumentID: "doc", JobType: jobs.TypeOCR})
	if err != nil || len(list) != 1 {
		t.Errorf("ListJobs() = %v, %v", list, err)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
