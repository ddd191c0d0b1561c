package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/repository"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Downloader runs the download strategy for one URL.
type Downloader interface {
	Download(ctx context.Context, url, filename string) domain.DownloadOutcome
}

// Config holds worker pool configuration.
type Config struct {
	Workers int
	// PollInterval is the fallback wakeup when the repository cannot
	// signal new jobs.
	PollInterval time.Duration
}

// Pool runs download jobs from the repository on a fixed set of goroutines.
// A job is attempted once; the outcome is recorded on the job and emitted
// as a download event.
type Pool struct {
	cfg    Config
	jobs   repository.JobRepository
	dl     Downloader
	events domain.EventEmitter
	logger *slog.Logger

	ctx     context.Context
	stop    context.CancelFunc
	running sync.WaitGroup
}

// NewPool creates a stopped pool. events may be nil.
func NewPool(cfg Config, jobs repository.JobRepository, dl Downloader, events domain.EventEmitter, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		jobs:   jobs,
		dl:     dl,
		events: events,
		logger: logger,
		ctx:    ctx,
		stop:   stop,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.cfg.Workers)

	var ready <-chan struct{}
	if n, ok := p.jobs.(repository.Notifier); ok {
		ready = n.Ready()
	}
	for i := range p.cfg.Workers {
		p.running.Add(1)
		go p.run(i, ready)
	}
}

// Stop cancels in-flight downloads and waits up to timeout for the workers
// to return.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.stop()

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	}
}

func (p *Pool) run(id int, ready <-chan struct{}) {
	defer p.running.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()

	for {
		for p.ctx.Err() == nil && p.next(logger) {
		}
		select {
		case <-p.ctx.Done():
			logger.Debug("worker stopped")
			return
		case <-ready:
		case <-poll.C:
		}
	}
}

// next runs one job and reports whether the queue had one.
func (p *Pool) next(logger *slog.Logger) bool {
	job, err := p.jobs.Dequeue(p.ctx)
	switch {
	case errors.Is(err, domain.ErrNoJobs):
		return false
	case err != nil:
		logger.Error("failed to dequeue job", "error", err)
		return false
	}

	logger = logger.With("job_id", job.ID, "url", job.URL)
	job.MarkProcessing()
	if err := p.jobs.Update(p.ctx, job); err != nil {
		logger.Error("failed to mark job processing", "error", err)
		return true
	}
	logger.Info("processing job")

	outcome := p.dl.Download(p.ctx, job.URL, job.Filename)
	job.Finish(outcome)
	if err := p.jobs.Update(p.ctx, job); err != nil {
		logger.Error("failed to record job outcome", "error", err)
	}

	if outcome.Succeeded() {
		logger.Info("job completed",
			"outcome", outcome.Status,
			"path", outcome.Path,
			"size", humanize.Bytes(uint64(outcome.Bytes)),
		)
	} else {
		logger.Error("job failed", "outcome", outcome.Status, "error", outcome.Err)
	}
	p.report(job, outcome)
	return true
}

func (p *Pool) report(job *domain.Job, outcome domain.DownloadOutcome) {
	if p.events == nil {
		return
	}

	meta := domain.EventMetadata{
		"job_id":   job.ID,
		"url":      job.URL,
		"filename": job.Filename,
		"outcome":  outcome.Status,
	}
	if !outcome.Succeeded() {
		if outcome.Err != nil {
			meta["error"] = outcome.Err.Error()
		}
		p.events.Emit(domain.NewEvent(domain.EventSeverityError, domain.EventCategoryDownload, "worker",
			"Download failed: "+job.Filename, meta))
		return
	}

	meta["path"] = outcome.Path
	meta["bytes"] = outcome.Bytes
	p.events.Emit(domain.NewEvent(domain.EventSeveritySuccess, domain.EventCategoryDownload, "worker",
		fmt.Sprintf("Downloaded %s (%s)", job.Filename, humanize.Bytes(uint64(outcome.Bytes))), meta))
}
