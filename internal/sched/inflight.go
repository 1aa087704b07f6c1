package sched

import (
	"context"
	"sync"
)

// Inflight tracks running jobs on one worker process so control-plane
// cancel commands can reach the right context.
type Inflight struct {
	mu   sync.Mutex
	jobs map[string]context.CancelFunc
}

func NewInflight() *Inflight {
	return &Inflight{jobs: make(map[string]context.CancelFunc)}
}

// Add registers a running job. Returns false if the job id is already
// present; the caller should not start a second copy.
func (f *Inflight) Add(jobID string, cancel context.CancelFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.jobs[jobID]; exists {
		return false
	}
	f.jobs[jobID] = cancel
	return true
}

// Remove forgets a finished job.
func (f *Inflight) Remove(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
}

// Cancel fires the job's context if it runs here. Returns whether the
// job was found on this worker.
func (f *Inflight) Cancel(jobID string) bool {
	f.mu.Lock()
	cancel, ok := f.jobs[jobID]
	f.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Len reports how many jobs this worker is running.
func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}
