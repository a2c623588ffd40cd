package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/callsight/callsight/internal/pipeline"
	"github.com/callsight/callsight/internal/types"
)

// Job tracks one pipeline invocation from enqueue to terminal state.
type Job struct {
	ID        string            `json:"id"`
	Request   pipeline.Request  `json:"request"`
	Status    string            `json:"status"`
	Stage     string            `json:"stage,omitempty"`
	Error     string            `json:"error,omitempty"`
	Result    *pipeline.Result  `json:"result,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Registry is the in-memory job table. Handlers read it for status polling
// and the websocket stream; workers write it as jobs progress.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	// watchers receive stage/status updates for a job id
	watchers map[string][]chan Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:     make(map[string]*Job),
		watchers: make(map[string][]chan Job),
	}
}

// Add registers a queued job.
func (r *Registry) Add(id string, req pipeline.Request) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	job := &Job{
		ID:        id,
		Request:   req,
		Status:    types.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[id] = job
	return job
}

// Get returns a copy of the job, or an error if it does not exist.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("unknown job %s", id)
	}
	return *job, nil
}

// List returns all jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Watch subscribes to updates for a job. The returned channel is closed when
// the job reaches a terminal state; cancel detaches early.
func (r *Registry) Watch(id string) (updates <-chan Job, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Job, 16)
	r.watchers[id] = append(r.watchers[id], ch)

	if job, ok := r.jobs[id]; ok {
		ch <- *job
		if terminal(job.Status) {
			r.detachLocked(id, ch)
		}
	}

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.detachLocked(id, ch)
	}
}

// detachLocked removes and closes the watcher channel. A channel already
// detached by a terminal update is left alone.
func (r *Registry) detachLocked(id string, ch chan Job) {
	attached := false
	kept := r.watchers[id][:0]
	for _, w := range r.watchers[id] {
		if w == ch {
			attached = true
			continue
		}
		kept = append(kept, w)
	}
	if !attached {
		return
	}
	if len(kept) == 0 {
		delete(r.watchers, id)
	} else {
		r.watchers[id] = kept
	}
	close(ch)
}

func (r *Registry) update(id string, mut func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	mut(job)
	job.UpdatedAt = time.Now()

	for _, ch := range r.watchers[id] {
		select {
		case ch <- *job:
		default: // slow watcher, drop the update
		}
	}
	if terminal(job.Status) {
		for _, ch := range r.watchers[id] {
			close(ch)
		}
		delete(r.watchers, id)
	}
}

// PruneOlderThan drops terminal jobs whose last update is older than the
// cutoff. Returns the number removed.
func (r *Registry) PruneOlderThan(age time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-age)
	removed := 0
	for id, job := range r.jobs {
		if terminal(job.Status) && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

func terminal(status string) bool {
	return status == types.StatusCompleted || status == types.StatusFailed
}
