package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrJobNotFound = errors.New("job not found")

// JobStatus represents the status of a background ingest job
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusError     JobStatus = "error"
)

// Job is a snapshot of a background ingest.
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Report      Report    `json:"report"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

type job struct {
	mu     sync.Mutex
	state  Job
	cancel context.CancelFunc
	done   chan struct{}
}

// RunFunc performs the work of one job.
type RunFunc func(ctx context.Context, id string) (Report, error)

// Jobs tracks background ingest jobs.
type Jobs struct {
	mu   sync.RWMutex
	jobs map[string]*job

	// OnComplete, when set, runs after every job that finished without error.
	OnComplete func(Report)
}

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*job)}
}

// Start runs fn in the background and returns the new job's snapshot.
func (js *Jobs) Start(fn RunFunc) Job {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		state: Job{
			ID:        uuid.New().String(),
			Status:    JobStatusRunning,
			StartedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	js.mu.Lock()
	js.jobs[j.state.ID] = j
	js.mu.Unlock()

	snapshot := j.state
	go func() {
		defer close(j.done)
		defer cancel()
		rep, err := fn(ctx, snapshot.ID)

		j.mu.Lock()
		j.state.Report = rep
		j.state.CompletedAt = time.Now()
		switch {
		case j.state.Status == JobStatusCancelled:
		case err != nil:
			j.state.Status = JobStatusError
			j.state.Error = err.Error()
		default:
			j.state.Status = JobStatusCompleted
		}
		ok := err == nil
		j.mu.Unlock()

		if ok && js.OnComplete != nil {
			js.OnComplete(rep)
		}
	}()
	return snapshot
}

// Get returns a job snapshot by ID.
func (js *Jobs) Get(id string) (Job, bool) {
	js.mu.RLock()
	j, ok := js.jobs[id]
	js.mu.RUnlock()
	if !ok {
		return Job{}, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, true
}

// Cancel stops a running job. It reports whether the job was running.
func (js *Jobs) Cancel(id string) bool {
	js.mu.RLock()
	j, ok := js.jobs[id]
	js.mu.RUnlock()
	if !ok {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Status != JobStatusRunning {
		return false
	}
	j.state.Status = JobStatusCancelled
	j.cancel()
	return true
}

// Wait blocks until the job finishes or ctx is done.
func (js *Jobs) Wait(ctx context.Context, id string) (Job, error) {
	js.mu.RLock()
	j, ok := js.jobs[id]
	js.mu.RUnlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	snapshot, _ := js.Get(id)
	return snapshot, nil
}

// Cleanup removes finished jobs older than maxAge
func (js *Jobs) Cleanup(maxAge time.Duration) {
	js.mu.Lock()
	defer js.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, j := range js.jobs {
		j.mu.Lock()
		finished := j.state.Status != JobStatusRunning && j.state.CompletedAt.Before(cutoff)
		j.mu.Unlock()
		if finished {
			delete(js.jobs, id)
		}
	}
}
