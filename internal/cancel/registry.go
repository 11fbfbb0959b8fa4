// Package cancel tracks cooperative stop requests for running jobs.
package cancel

import "sync"

// Registry records which jobs have been asked to stop.
// Executors poll IsStopRequested at safe points or wait on Done.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]chan struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]chan struct{})}
}

func (r *Registry) entry(jobID string) chan struct{} {
	ch, ok := r.jobs[jobID]
	if !ok {
		ch = make(chan struct{})
		r.jobs[jobID] = ch
	}
	return ch
}

// RequestStop marks the job stopped. Repeated calls are no-ops.
func (r *Registry) RequestStop(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.entry(jobID)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// IsStopRequested reports whether a stop was requested for the job
func (r *Registry) IsStopRequested(jobID string) bool {
	r.mu.Lock()
	ch, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once a stop is requested for the job
func (r *Registry) Done(jobID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry(jobID)
}

// Clear forgets the job
func (r *Registry) Clear(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

// Len returns the number of tracked jobs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
