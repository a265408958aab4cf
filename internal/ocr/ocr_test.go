package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/pages"
	"github.com/jackzampolin/brieflink/internal/providers"
	"github.com/jackzampolin/brieflink/internal/store"
	"github.com/jackzampolin/brieflink/internal/types"
)

type fixture struct {
	store    *store.Store
	source   *pages.MemorySource
	provider *providers.MockOCRProvider
	doc      *types.Document
}

func newFixture(t *testing.T, totalPages int) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.OpenMemory(t)
	if err := s.UpsertDocument(ctx, types.Document{ID: "doc", Role: types.RoleBrief, TotalPages: totalPages}); err != nil {
		t.Fatal(err)
	}
	doc, err := s.GetDocument(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	src := pages.NewMemorySource(DefaultRetryDPI)
	for p := 1; p <= totalPages; p++ {
		src.Set("doc", p, DefaultRenderDPI, []byte(fmt.Sprintf("page-%d", p)))
	}
	return &fixture{store: s, source: src, provider: providers.NewMockOCRProvider(), doc: doc}
}

func (f *fixture) worker(t *testing.T) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerConfig{Store: f.store, Source: f.source, Provider: f.provider})
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (f *fixture) scheduler(t *testing.T, batchSize int, index IndexFunc) *Scheduler {
	t.Helper()
	reg := providers.NewRegistry()
	reg.Register(providers.MockOCRName, f.provider)
	sup := jobs.NewSupervisor(jobs.SupervisorConfig{Manager: jobs.NewManager(f.store, nil)})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})
	s, err := NewScheduler(SchedulerConfig{
		Store:      f.store,
		Source:     f.source,
		Providers:  reg,
		Supervisor: sup,
		Index:      index,
		Settings:   Settings{BatchSize: batchSize, Provider: providers.MockOCRName},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPartition(t *testing.T) {
	tests := []struct {
		total, size int
		want        [][2]int
	}{
		{10, 3, [][2]int{{1, 3}, {4, 6}, {7, 9}, {10, 10}}},
		{50, 50, [][2]int{{1, 50}}},
		{1, 50, [][2]int{{1, 1}}},
		{120, 50, [][2]int{{1, 50}, {51, 100}, {101, 120}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.total, tt.size), func(t *testing.T) {
			got, err := Partition("doc", tt.total, tt.size)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d batches, want %d", len(got), len(tt.want))
			}
			for i, b := range got {
				if b.StartPage != tt.want[i][0] || b.EndPage != tt.want[i][1] {
					t.Errorf("batch %d = [%d,%d], want %v", i, b.StartPage, b.EndPage, tt.want[i])
				}
				if b.Status != types.BatchQueued {
					t.Errorf("batch %d status = %s", i, b.Status)
				}
			}
		})
	}

	for _, bad := range [][2]int{{0, 50}, {10, 0}, {-1, 5}} {
		if _, err := Partition("doc", bad[0], bad[1]); err == nil {
			t.Errorf("Partition(%d, %d) expected error", bad[0], bad[1])
		}
	}
}

func TestClampConcurrency(t *testing.T) {
	for in, want := range map[int]int{0: 3, -4: 1, 1: 1, 5: 5, 8: 8, 20: 8} {
		if got := ClampConcurrency(in); got != want {
			t.Errorf("ClampConcurrency(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestWorker(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged checksum skips the engine", func(t *testing.T) {
		f := newFixture(t, 1)
		w := f.worker(t)

		res, err := w.Process(ctx, f.doc, 1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != OutcomeCompleted {
			t.Fatalf("first outcome = %s", res.Outcome)
		}
		before, _ := f.store.GetPage(ctx, "doc", 1)

		f.provider.Reset()
		res, err = w.Process(ctx, f.doc, 1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != OutcomeSkipped {
			t.Errorf("second outcome = %s, want skipped", res.Outcome)
		}
		if f.provider.RequestCount() != 0 {
			t.Errorf("engine called %d times on unchanged page", f.provider.RequestCount())
		}
		after, _ := f.store.GetPage(ctx, "doc", 1)
		if !after.UpdatedAt.Equal(before.UpdatedAt) || after.Text != before.Text || after.Checksum != before.Checksum {
			t.Errorf("page row changed: before %+v after %+v", before, after)
		}
	})

	t.Run("changed bytes reprocess", func(t *testing.T) {
		f := newFixture(t, 1)
		w := f.worker(t)
		if _, err := w.Process(ctx, f.doc, 1); err != nil {
			t.Fatal(err)
		}
		f.source.Set("doc", 1, DefaultRenderDPI, []byte("rescanned"))
		res, err := w.Process(ctx, f.doc, 1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != OutcomeCompleted {
			t.Errorf("outcome = %s, want completed", res.Outcome)
		}
		if got := f.provider.PageCalls(1); got != 2 {
			t.Errorf("engine calls = %d, want 2", got)
		}
	})

	t.Run("engine failure records failed page", func(t *testing.T) {
		f := newFixture(t, 2)
		f.provider.FailPages = map[int]bool{2: true}
		w := f.worker(t)

		res, err := w.Process(ctx, f.doc, 2)
		if err != nil {
			t.Fatalf("engine failure should not propagate: %v", err)
		}
		if res.Outcome != OutcomeFailed || res.Err == nil {
			t.Fatalf("res = %+v, want failed with error", res)
		}
		if got := f.provider.PageCalls(2); got != 2 {
			t.Errorf("attempts = %d, want 2 (one retry)", got)
		}
		page, err := f.store.GetPage(ctx, "doc", 2)
		if err != nil {
			t.Fatal(err)
		}
		if page.Status != types.PageFailed || page.Text != "" || page.Checksum != "" || page.Error == "" {
			t.Errorf("failed page row = %+v", page)
		}

		// A failed page is picked up again on the next run.
		f.provider.FailPages = nil
		res, err = w.Process(ctx, f.doc, 2)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != OutcomeCompleted {
			t.Errorf("retry outcome = %s, want completed", res.Outcome)
		}
	})

	t.Run("empty text is a failure", func(t *testing.T) {
		f := newFixture(t, 1)
		f.provider.Pages = map[int]string{1: "   "}
		res, err := f.worker(t).Process(ctx, f.doc, 1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != OutcomeFailed {
			t.Errorf("outcome = %s, want failed", res.Outcome)
		}
	})

	t.Run("render failure is a failure", func(t *testing.T) {
		f := newFixture(t, 1)
		res, err := f.worker(t).Process(ctx, f.doc, 9)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != OutcomeFailed {
			t.Errorf("outcome = %s, want failed", res.Outcome)
		}
		if f.provider.RequestCount() != 0 {
			t.Error("engine should not be called without an image")
		}
	})

	t.Run("cancellation propagates", func(t *testing.T) {
		f := newFixture(t, 1)
		f.provider.Latency = time.Second
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := f.worker(t).Process(cctx, f.doc, 1); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestWorkerRerender(t *testing.T) {
	ctx := context.Background()
	respond := func(image []byte, pageNum int) (*providers.OCRResult, error) {
		conf := 0.4
		switch string(image) {
		case "hi-res":
			conf = 0.9
		case "worse":
			conf = 0.2
		}
		return &providers.OCRResult{Success: true, Text: string(image), Confidence: conf}, nil
	}

	t.Run("keeps the better retry", func(t *testing.T) {
		f := newFixture(t, 1)
		f.provider.Respond = respond
		f.source.Set("doc", 1, DefaultRetryDPI, []byte("hi-res"))

		res, err := f.worker(t).Process(ctx, f.doc, 1)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Rerendered || res.Confidence != 0.9 {
			t.Errorf("res = %+v, want rerendered with 0.9", res)
		}
		page, _ := f.store.GetPage(ctx, "doc", 1)
		if page.Text != "hi-res" {
			t.Errorf("text = %q", page.Text)
		}
		if page.Checksum != checksum([]byte("page-1")) {
			t.Error("checksum should be of the primary render")
		}
	})

	t.Run("keeps the primary when retry is worse", func(t *testing.T) {
		f := newFixture(t, 1)
		f.provider.Respond = respond
		f.source.Set("doc", 1, DefaultRetryDPI, []byte("worse"))

		res, err := f.worker(t).Process(ctx, f.doc, 1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Rerendered || res.Confidence != 0.4 {
			t.Errorf("res = %+v, want primary 0.4", res)
		}
	})

	t.Run("no retry when source cannot render higher", func(t *testing.T) {
		f := newFixture(t, 1)
		f.provider.Respond = respond
		f.source.MaxDPI = DefaultRenderDPI

		if _, err := f.worker(t).Process(ctx, f.doc, 1); err != nil {
			t.Fatal(err)
		}
		if got := f.provider.PageCalls(1); got != 1 {
			t.Errorf("engine calls = %d, want 1", got)
		}
	})
}

func TestSchedulerRun(t *testing.T) {
	ctx := context.Background()

	t.Run("completes document and triggers index once", func(t *testing.T) {
		f := newFixture(t, 7)
		var indexRuns atomic.Int32
		indexed := make(chan struct{}, 4)
		s := f.scheduler(t, 3, func(ctx context.Context, docID string) error {
			indexRuns.Add(1)
			indexed <- struct{}{}
			return nil
		})

		if err := s.Run(ctx, "doc", 2); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		doc, _ := f.store.GetDocument(ctx, "doc")
		if doc.OCRState != types.OCRCompleted || !doc.FirstBatchReady {
			t.Errorf("doc = %+v", doc)
		}
		batches, _ := f.store.ListBatches(ctx, "doc")
		if len(batches) != 3 {
			t.Fatalf("batches = %d, want 3", len(batches))
		}
		for _, b := range batches {
			if b.Status != types.BatchCompleted || b.PagesDone != b.Size() {
				t.Errorf("batch %d-%d = %s %d/%d", b.StartPage, b.EndPage, b.Status, b.PagesDone, b.Size())
			}
		}

		select {
		case <-indexed:
		case <-time.After(5 * time.Second):
			t.Fatal("index was not triggered")
		}
		if got := indexRuns.Load(); got != 1 {
			t.Errorf("index runs = %d, want 1", got)
		}

		// A second run finds nothing to do.
		f.provider.Reset()
		if err := s.Run(ctx, "doc", 2); err != nil {
			t.Fatal(err)
		}
		if f.provider.RequestCount() != 0 {
			t.Errorf("engine calls on rerun = %d", f.provider.RequestCount())
		}
	})

	t.Run("keeps a single partition", func(t *testing.T) {
		f := newFixture(t, 100)
		s := f.scheduler(t, 50, func(ctx context.Context, docID string) error { return nil })

		if _, err := s.CreateBatches(ctx, "doc", 100, 50); err != nil {
			t.Fatal(err)
		}
		if _, err := s.CreateBatches(ctx, "doc", 100, 25); !errors.Is(err, store.ErrPartitionConflict) {
			t.Fatalf("CreateBatches(size 25) error = %v, want ErrPartitionConflict", err)
		}
		again, err := s.CreateBatches(ctx, "doc", 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != 2 {
			t.Errorf("default create = %d batches, want the stored 2", len(again))
		}

		if err := s.Run(ctx, "doc", 4); err != nil {
			t.Fatal(err)
		}
		if got := f.provider.RequestCount(); got != 100 {
			t.Errorf("engine calls = %d, want one per page", got)
		}
	})

	t.Run("bounds concurrent batches", func(t *testing.T) {
		f := newFixture(t, 12)
		var inFlight, peak atomic.Int32
		f.provider.Respond = func(image []byte, pageNum int) (*providers.OCRResult, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return &providers.OCRResult{Success: true, Text: "ok", Confidence: 0.9}, nil
		}
		s := f.scheduler(t, 2, func(ctx context.Context, docID string) error { return nil })

		if err := s.Run(ctx, "doc", 2); err != nil {
			t.Fatal(err)
		}
		if got := peak.Load(); got > 2 {
			t.Errorf("peak concurrent engine calls = %d, want <= 2", got)
		}
	})

	t.Run("failed pages fail the batch and document", func(t *testing.T) {
		f := newFixture(t, 6)
		f.provider.FailPages = map[int]bool{5: true}
		s := f.scheduler(t, 3, func(ctx context.Context, docID string) error { return nil })

		if err := s.Run(ctx, "doc", 1); err == nil {
			t.Fatal("expected run error")
		}
		doc, _ := f.store.GetDocument(ctx, "doc")
		if doc.OCRState != types.OCRFailed {
			t.Errorf("state = %s, want failed", doc.OCRState)
		}
		first, _ := f.store.GetBatch(ctx, "doc", 1, 3)
		second, _ := f.store.GetBatch(ctx, "doc", 4, 6)
		if first.Status != types.BatchCompleted {
			t.Errorf("first batch = %s", first.Status)
		}
		if second.Status != types.BatchFailed || second.PagesDone != 2 || second.Error != "1 of 3 pages failed" {
			t.Errorf("second batch = %+v", second)
		}

		// Fixing the engine and rerunning only touches the failed batch.
		f.provider.FailPages = nil
		f.provider.Reset()
		if err := s.Run(ctx, "doc", 1); err != nil {
			t.Fatal(err)
		}
		if got := f.provider.RequestCount(); got != 1 {
			t.Errorf("engine calls on rerun = %d, want 1", got)
		}
	})
}

func TestSchedulerStartDebounce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4)
	f.provider.Latency = 20 * time.Millisecond
	s := f.scheduler(t, 2, func(ctx context.Context, docID string) error { return nil })

	first, err := s.Start(ctx, "doc", 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Start(ctx, "doc", 1)
	if !errors.Is(err, jobs.ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if second.ID != first.ID {
		t.Errorf("second start returned a different task")
	}
	if err := first.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.provider.RequestCount(); got != 4 {
		t.Errorf("engine calls = %d, want 4", got)
	}
}

func TestFirstBatchCompletedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	var indexRuns atomic.Int32
	release := make(chan struct{})
	s := f.scheduler(t, 3, func(ctx context.Context, docID string) error {
		indexRuns.Add(1)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.FirstBatchCompleted(ctx, "doc")
		}()
	}
	wg.Wait()
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for indexRuns.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := indexRuns.Load(); got != 1 {
		t.Errorf("index runs = %d, want 1", got)
	}
	doc, _ := f.store.GetDocument(ctx, "doc")
	if !doc.FirstBatchReady || doc.FirstBatchReadyAt == nil {
		t.Errorf("first batch ready not recorded: %+v", doc)
	}
}

func TestAggregator(t *testing.T) {
	ctx := context.Background()

	t.Run("empty document", func(t *testing.T) {
		f := newFixture(t, 10)
		p, err := NewAggregator(f.store, nil).Document(ctx, "doc")
		if err != nil {
			t.Fatal(err)
		}
		if p.Percent != 0 || p.CompletedPages != 0 || len(p.Batches) != 0 {
			t.Errorf("progress = %+v", p)
		}
	})

	t.Run("partial batch stays open until finished", func(t *testing.T) {
		f := newFixture(t, 4)
		agg := NewAggregator(f.store, nil)
		b := types.Batch{DocumentID: "doc", StartPage: 1, EndPage: 4, Status: types.BatchQueued}
		if err := f.store.CreateBatches(ctx, []types.Batch{b}); err != nil {
			t.Fatal(err)
		}
		for p := 1; p <= 2; p++ {
			f.store.UpsertPage(ctx, types.Page{DocumentID: "doc", PageNumber: p, Text: "x", Confidence: 0.8, Checksum: "c"})
		}

		got, err := agg.RefreshBatch(ctx, b, false)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != types.BatchQueued || got.PagesDone != 2 {
			t.Errorf("batch = %+v", got)
		}

		p, err := agg.Document(ctx, "doc")
		if err != nil {
			t.Fatal(err)
		}
		if p.Percent != 50 || p.Batches[0].Percent != 50 || p.AvgConfidence != 0.8 {
			t.Errorf("progress = %+v", p)
		}
		if p.State == types.OCRCompleted {
			t.Error("document completed early")
		}
	})
}
