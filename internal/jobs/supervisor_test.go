package jobs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/brieflink/internal/jobs"
	"github.com/jackzampolin/brieflink/internal/store"
)

func newSupervisor(t *testing.T) (*jobs.Supervisor, *store.Store) {
	t.Helper()
	s := store.OpenMemory(t)
	sup := jobs.NewSupervisor(jobs.SupervisorConfig{
		Manager: jobs.NewManager(s, nil),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})
	return sup, s
}

func TestSupervisor(t *testing.T) {
	ctx := context.Background()

	t.Run("records completion", func(t *testing.T) {
		sup, s := newSupervisor(t)
		task, err := sup.Start(ctx, jobs.TypeIndex, "doc", nil, func(ctx context.Context) error { return nil })
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := task.Wait(ctx); err != nil {
			t.Fatalf("task error = %v", err)
		}
		rec, err := s.GetJob(ctx, task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != jobs.StatusCompleted {
			t.Errorf("status = %s, want completed", rec.Status)
		}
	})

	t.Run("captures failure", func(t *testing.T) {
		sup, s := newSupervisor(t)
		task, err := sup.Start(ctx, jobs.TypeOCR, "doc", nil, func(ctx context.Context) error {
			return errors.New("2 pages failed")
		})
		if err != nil {
			t.Fatal(err)
		}
		<-task.Done()
		if task.Err() == nil {
			t.Fatal("expected task error")
		}
		rec, _ := s.GetJob(ctx, task.ID)
		if rec.Status != jobs.StatusFailed || rec.Error != "2 pages failed" {
			t.Errorf("record = %+v", rec)
		}
	})

	t.Run("recovers panic", func(t *testing.T) {
		sup, _ := newSupervisor(t)
		task, err := sup.Start(ctx, jobs.TypeOCR, "doc", nil, func(ctx context.Context) error {
			panic("boom")
		})
		if err != nil {
			t.Fatal(err)
		}
		<-task.Done()
		if task.Err() == nil {
			t.Error("expected panic to surface as error")
		}
	})

	t.Run("debounces per document", func(t *testing.T) {
		sup, _ := newSupervisor(t)
		release := make(chan struct{})
		var runs atomic.Int32
		body := func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		}

		first, err := sup.Start(ctx, jobs.TypeIndex, "doc", nil, body)
		if err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				again, err := sup.Start(ctx, jobs.TypeIndex, "doc", nil, body)
				if !errors.Is(err, jobs.ErrAlreadyRunning) {
					t.Errorf("expected ErrAlreadyRunning, got %v", err)
				}
				if again != first {
					t.Error("expected existing task")
				}
			}()
		}
		wg.Wait()

		other, err := sup.Start(ctx, jobs.TypeIndex, "other-doc", nil, func(ctx context.Context) error { return nil })
		if err != nil {
			t.Fatalf("different document should start: %v", err)
		}
		<-other.Done()

		close(release)
		<-first.Done()
		if got := runs.Load(); got != 1 {
			t.Errorf("runs = %d, want 1", got)
		}
		if sup.Registry().Running(jobs.Key(jobs.TypeIndex, "doc")) {
			t.Error("registry still holds finished task")
		}
	})

	t.Run("cancel", func(t *testing.T) {
		sup, s := newSupervisor(t)
		started := make(chan struct{})
		task, err := sup.Start(ctx, jobs.TypePoll, "doc", nil, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil {
			t.Fatal(err)
		}
		<-started
		if !sup.Cancel(task.ID) {
			t.Fatal("Cancel() = false")
		}
		<-task.Done()
		rec, _ := s.GetJob(ctx, task.ID)
		if rec.Status != jobs.StatusCancelled {
			t.Errorf("status = %s, want cancelled", rec.Status)
		}
		if sup.Cancel(task.ID) {
			t.Error("Cancel() on finished task = true")
		}
	})
}

func TestRegistry(t *testing.T) {
	r := jobs.NewRegistry()
	a, b := &jobs.Task{}, &jobs.Task{}
	key := jobs.Key(jobs.TypeIndex, "doc")

	if got, ok := r.TryStart(key, a); !ok || got != a {
		t.Fatal("first TryStart should win")
	}
	if got, ok := r.TryStart(key, b); ok || got != a {
		t.Fatal("second TryStart should return the holder")
	}
	r.Finish(key, b)
	if !r.Running(key) {
		t.Error("Finish by non-holder released the key")
	}
	r.Finish(key, a)
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
