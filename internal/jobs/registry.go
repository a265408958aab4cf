package jobs

import "sync"

// Registry tracks which (job type, document) keys currently have an active task.
// It is owned by whoever starts tasks and passed explicitly; there is no global.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Task)}
}

// Key builds the registry key for a job type and document.
func Key(jobType, documentID string) string {
	return jobType + "/" + documentID
}

// TryStart records t as the active task for key. If another task already
// holds key, it returns that task and false.
func (r *Registry) TryStart(key string, t *Task) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.active[key]; ok {
		return existing, false
	}
	r.active[key] = t
	return t, true
}

// Finish releases key if t still holds it.
func (r *Registry) Finish(key string, t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[key] == t {
		delete(r.active, key)
	}
}

// Active returns the task holding key, if any.
func (r *Registry) Active(key string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[key]
	return t, ok
}

// Running reports whether key has an active task.
func (r *Registry) Running(key string) bool {
	_, ok := r.Active(key)
	return ok
}

// Len returns the number of active tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
