package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is a handle on a supervised background run.
type Task struct {
	ID         string
	JobType    string
	DocumentID string

	key    string
	done   chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's error once Done is closed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel asks the task to stop. It does not wait.
func (t *Task) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SupervisorConfig holds dependencies for a Supervisor.
type SupervisorConfig struct {
	Manager  *Manager
	Registry *Registry
	Logger   *slog.Logger
	// OnFinish, if set, is called after every task with its final status.
	OnFinish func(t *Task, status Status)
}

// Supervisor runs tasks in the background, debounced per (type, document)
// through its Registry, with every run mirrored in a persisted job record.
type Supervisor struct {
	manager  *Manager
	registry *Registry
	logger   *slog.Logger
	onFinish func(*Task, Status)

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	byID   map[string]*Task
	closed bool
}

// NewSupervisor creates a supervisor. Tasks run under a context that is only
// cancelled by Shutdown or by cancelling the task itself.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	base, stop := context.WithCancel(context.Background())
	return &Supervisor{
		manager:  cfg.Manager,
		registry: reg,
		logger:   logger,
		onFinish: cfg.OnFinish,
		base:     base,
		stop:     stop,
		byID:     make(map[string]*Task),
	}
}

// Registry returns the supervisor's per-document registry.
func (s *Supervisor) Registry() *Registry { return s.registry }

// Manager returns the job record manager.
func (s *Supervisor) Manager() *Manager { return s.manager }

// Start launches fn as a supervised task. If a task for the same job type and
// document is still active, Start returns that task and ErrAlreadyRunning.
func (s *Supervisor) Start(ctx context.Context, jobType, documentID string, metadata map[string]any, fn Func) (*Task, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("supervisor is shut down")
	}

	key := Key(jobType, documentID)
	taskCtx, cancel := context.WithCancel(s.base)
	t := &Task{
		ID:         uuid.NewString(),
		JobType:    jobType,
		DocumentID: documentID,
		key:        key,
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	if existing, ok := s.registry.TryStart(key, t); !ok {
		cancel()
		return existing, ErrAlreadyRunning
	}

	if err := s.manager.Insert(ctx, NewRecord(t.ID, jobType, documentID, metadata)); err != nil {
		cancel()
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		s.registry.Finish(key, t)
		close(t.done)
		return nil, err
	}

	s.mu.Lock()
	s.byID[t.ID] = t
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(taskCtx, t, fn)
	return t, nil
}

func (s *Supervisor) run(ctx context.Context, t *Task, fn Func) {
	defer s.wg.Done()
	defer t.cancel()

	logger := s.logger.With("job_id", t.ID, "type", t.JobType, "document_id", t.DocumentID)

	if err := s.manager.UpdateStatus(ctx, t.ID, StatusRunning, ""); err != nil {
		logger.Warn("failed to mark job running", "error", err)
	}

	err := s.invoke(ctx, fn)

	status := StatusCompleted
	errMsg := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		status = StatusCancelled
		errMsg = err.Error()
	default:
		status = StatusFailed
		errMsg = err.Error()
	}

	recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if uerr := s.manager.UpdateStatus(recordCtx, t.ID, status, errMsg); uerr != nil {
		logger.Warn("failed to record job status", "status", status, "error", uerr)
	}
	cancel()

	if status == StatusCompleted {
		logger.Info("job finished", "status", status)
	} else {
		logger.Warn("job finished", "status", status, "error", err)
	}

	t.mu.Lock()
	t.err = err
	t.mu.Unlock()

	s.registry.Finish(t.key, t)
	s.mu.Lock()
	delete(s.byID, t.ID)
	s.mu.Unlock()

	if s.onFinish != nil {
		s.onFinish(t, status)
	}
	close(t.done)
}

func (s *Supervisor) invoke(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Get returns an active task by job id.
func (s *Supervisor) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	return t, ok
}

// Cancel cancels an active task by job id. It reports false if no such task is running.
func (s *Supervisor) Cancel(id string) bool {
	t, ok := s.Get(id)
	if !ok {
		return false
	}
	t.Cancel()
	return true
}

// Shutdown cancels all active tasks and waits for them to finish, or for ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
