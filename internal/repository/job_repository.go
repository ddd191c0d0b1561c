package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/iconidentify/canvasgrab/internal/domain"
)

const defaultRetention = 1000

// InMemoryJobRepository keeps jobs in memory. Queued jobs are served in
// enqueue order; finished jobs are kept for status lookups until more than
// the retention limit have piled up, oldest evicted first.
type InMemoryJobRepository struct {
	mu       sync.Mutex
	jobs     map[domain.JobID]*domain.Job
	pending  []domain.JobID
	finished []domain.JobID
	retain   int
	ready    chan struct{}
}

// Option configures an InMemoryJobRepository.
type Option func(*InMemoryJobRepository)

// WithRetention sets how many finished jobs are kept.
func WithRetention(n int) Option {
	return func(r *InMemoryJobRepository) {
		if n > 0 {
			r.retain = n
		}
	}
}

// NewInMemoryJobRepository creates an empty repository.
func NewInMemoryJobRepository(opts ...Option) *InMemoryJobRepository {
	r := &InMemoryJobRepository{
		jobs:   make(map[domain.JobID]*domain.Job),
		retain: defaultRetention,
		ready:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ready fires after an Enqueue. Several enqueues may collapse into one signal.
func (r *InMemoryJobRepository) Ready() <-chan struct{} {
	return r.ready
}

// Enqueue stores a copy of job. Only jobs in the queued state are handed out
// by Dequeue.
func (r *InMemoryJobRepository) Enqueue(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	if _, ok := r.jobs[job.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}
	stored := *job
	r.jobs[job.ID] = &stored
	switch {
	case stored.Status == domain.JobStatusQueued:
		r.pending = append(r.pending, job.ID)
	case stored.Done():
		r.retire(job.ID)
	}
	r.mu.Unlock()

	if stored.Status == domain.JobStatusQueued {
		select {
		case r.ready <- struct{}{}:
		default:
		}
	}
	return nil
}

// Dequeue removes the oldest queued job from the queue and returns a copy.
// The job keeps its queued status until the caller updates it.
func (r *InMemoryJobRepository) Dequeue(_ context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.pending) > 0 {
		id := r.pending[0]
		r.pending = r.pending[1:]
		if job, ok := r.jobs[id]; ok && job.Status == domain.JobStatusQueued {
			out := *job
			return &out, nil
		}
	}
	return nil, domain.ErrNoJobs
}

// Update replaces the stored job. A job reaching a terminal state counts
// toward the retention limit.
func (r *InMemoryJobRepository) Update(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrJobNotFound
	}
	wasDone := prev.Done()
	stored := *job
	r.jobs[job.ID] = &stored
	if stored.Done() && !wasDone {
		r.retire(job.ID)
	}
	return nil
}

// retire records a finished job and evicts the oldest beyond the limit.
// Callers hold mu.
func (r *InMemoryJobRepository) retire(id domain.JobID) {
	r.finished = append(r.finished, id)
	for len(r.finished) > r.retain {
		delete(r.jobs, r.finished[0])
		r.finished = r.finished[1:]
	}
}

// Get returns a copy of the job.
func (r *InMemoryJobRepository) Get(_ context.Context, id domain.JobID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

// Stats counts the jobs currently held.
func (r *InMemoryJobRepository) Stats(_ context.Context) (*QueueStats, error) {
	r.mu.Lock()
	counts := lo.CountValuesBy(lo.Values(r.jobs), func(j *domain.Job) domain.JobStatus {
		return j.Status
	})
	r.mu.Unlock()

	return &QueueStats{
		Queued:     counts[domain.JobStatusQueued],
		Processing: counts[domain.JobStatusProcessing],
		Completed:  counts[domain.JobStatusCompleted],
		Failed:     counts[domain.JobStatusFailed],
	}, nil
}
