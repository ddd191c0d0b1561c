package repository

import (
	"context"

	"github.com/iconidentify/canvasgrab/internal/domain"
)

// JobRepository holds download jobs and hands queued ones to workers.
type JobRepository interface {
	Enqueue(ctx context.Context, job *domain.Job) error

	// Dequeue returns the oldest queued job, or domain.ErrNoJobs.
	Dequeue(ctx context.Context) (*domain.Job, error)

	Update(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)
	Stats(ctx context.Context) (*QueueStats, error)
}

// Notifier is implemented by repositories that can wake idle workers when a
// job is enqueued. Workers of other repositories fall back to polling.
type Notifier interface {
	Ready() <-chan struct{}
}

// QueueStats counts jobs by status.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
