package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pollingRepo is a JobRepository without ready signals.
type pollingRepo struct {
	mu           sync.Mutex
	jobs         []*domain.Job
	dequeueErr   error
	updateErr    error
	dequeueCalls int
	updateCalls  int
}

func (m *pollingRepo) add(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

func (m *pollingRepo) Enqueue(ctx context.Context, job *domain.Job) error {
	m.add(job)
	return nil
}

func (m *pollingRepo) Dequeue(ctx context.Context) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dequeueCalls++
	if m.dequeueErr != nil {
		return nil, m.dequeueErr
	}
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusQueued {
			return j, nil
		}
	}
	return nil, domain.ErrNoJobs
}

func (m *pollingRepo) Update(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	return m.updateErr
}

func (m *pollingRepo) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (m *pollingRepo) Stats(ctx context.Context) (*repository.QueueStats, error) {
	return &repository.QueueStats{}, nil
}

func (m *pollingRepo) counts() (dequeues, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dequeueCalls, m.updateCalls
}

type mockDownloader struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (m *mockDownloader) Download(ctx context.Context, url, filename string) domain.DownloadOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	if err, ok := m.fail[url]; ok {
		return domain.Failed(url, filename, err)
	}
	return domain.DownloadOutcome{
		Status:   domain.OutcomeDirectSucceeded,
		URL:      url,
		Filename: "saved.mp4",
		Path:     "/downloads/saved.mp4",
		Bytes:    2048,
	}
}

func (m *mockDownloader) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewPool_Defaults(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		wantWorkers  int
		wantInterval time.Duration
	}{
		{"explicit", Config{Workers: 3, PollInterval: 10 * time.Second}, 3, 10 * time.Second},
		{"zero", Config{}, 2, 500 * time.Millisecond},
		{"negative", Config{Workers: -1, PollInterval: -time.Second}, 2, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(tt.cfg, &pollingRepo{}, nil, nil, testLogger())
			if pool.cfg.Workers != tt.wantWorkers {
				t.Errorf("Workers = %d, want %d", pool.cfg.Workers, tt.wantWorkers)
			}
			if pool.cfg.PollInterval != tt.wantInterval {
				t.Errorf("PollInterval = %v, want %v", pool.cfg.PollInterval, tt.wantInterval)
			}
		})
	}
}

func TestPool_StartStop(t *testing.T) {
	repo := &pollingRepo{}
	pool := NewPool(Config{Workers: 2, PollInterval: 10 * time.Millisecond}, repo, &mockDownloader{}, nil, testLogger())

	pool.Start()
	waitFor(t, func() bool {
		n, _ := repo.counts()
		return n >= 4
	})

	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	pool := NewPool(Config{Workers: 1}, &pollingRepo{}, nil, nil, testLogger())

	// A worker that never returns.
	pool.running.Add(1)
	defer pool.running.Done()

	if err := pool.Stop(20 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Stop = %v, want ErrShutdownTimeout", err)
	}
}

func TestPool_DequeueErrorKeepsPolling(t *testing.T) {
	repo := &pollingRepo{dequeueErr: errors.New("database connection error")}
	pool := NewPool(Config{Workers: 1, PollInterval: 5 * time.Millisecond}, repo, &mockDownloader{}, nil, testLogger())

	pool.Start()
	waitFor(t, func() bool {
		n, _ := repo.counts()
		return n >= 3
	})
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestPool_MarkProcessingFailureSkipsDownload(t *testing.T) {
	repo := &pollingRepo{updateErr: errors.New("update failed")}
	repo.add(domain.NewJob("job-1", "https://cdn.example.com/a.mp4", "", domain.SourceVideo))
	dl := &mockDownloader{}

	pool := NewPool(Config{Workers: 1, PollInterval: 5 * time.Millisecond}, repo, dl, nil, testLogger())
	pool.Start()
	waitFor(t, func() bool {
		_, n := repo.counts()
		return n >= 1
	})
	pool.Stop(time.Second)

	if calls := dl.Calls(); len(calls) != 0 {
		t.Errorf("download calls = %v, want none", calls)
	}
}

func TestPool_PollingFallback(t *testing.T) {
	repo := &pollingRepo{}
	dl := &mockDownloader{}
	events := &recordingEmitter{}

	pool := NewPool(Config{Workers: 1, PollInterval: 10 * time.Millisecond}, repo, dl, events, testLogger())
	pool.Start()
	defer pool.Stop(time.Second)

	repo.add(domain.NewJob("job-1", "https://cdn.example.com/late.mp4", "late.mp4", domain.SourceNetwork))
	waitFor(t, func() bool { return len(events.Events()) == 1 })

	job, _ := repo.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", job.Status)
	}
}

func TestPool_ReadySignalWakesWorkers(t *testing.T) {
	repo := repository.NewInMemoryJobRepository()
	ctx := context.Background()
	dl := &mockDownloader{}
	events := &recordingEmitter{}

	// The poll interval is far longer than the test; only the ready
	// signal can get the jobs processed.
	pool := NewPool(Config{Workers: 1, PollInterval: time.Hour}, repo, dl, events, testLogger())
	pool.Start()

	urls := []string{
		"https://cdn.example.com/1.mp4",
		"https://cdn.example.com/2.mp4",
		"https://cdn.example.com/3.mp4",
	}
	for i, u := range urls {
		repo.Enqueue(ctx, domain.NewJob(domain.JobID(fmt.Sprintf("job-%d", i)), u, "", domain.SourceVideo))
	}
	waitFor(t, func() bool { return len(events.Events()) == len(urls) })

	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	calls := dl.Calls()
	for i := range urls {
		if calls[i] != urls[i] {
			t.Errorf("call %d = %s, want %s", i, calls[i], urls[i])
		}
	}

	job, err := repo.Get(ctx, "job-0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != domain.JobStatusCompleted || job.Path != "/downloads/saved.mp4" {
		t.Errorf("job = %+v", job)
	}
	for _, e := range events.Events() {
		if e.Category != domain.EventCategoryDownload || e.Severity != domain.EventSeveritySuccess {
			t.Errorf("unexpected event %+v", e)
		}
	}
}

func TestPool_FailedJobIsNotRetried(t *testing.T) {
	repo := repository.NewInMemoryJobRepository()
	ctx := context.Background()
	url := "https://cdn.example.com/broken.mp4"

	dl := &mockDownloader{fail: map[string]error{url: domain.ErrFetchFailed}}
	events := &recordingEmitter{}
	pool := NewPool(Config{Workers: 2, PollInterval: 5 * time.Millisecond}, repo, dl, events, testLogger())
	pool.Start()

	repo.Enqueue(ctx, domain.NewJob("job-1", url, "broken.mp4", domain.SourceNetwork))
	waitFor(t, func() bool { return len(events.Events()) > 0 })
	// Leave room for a retry to show up.
	time.Sleep(30 * time.Millisecond)
	pool.Stop(time.Second)

	if n := len(dl.Calls()); n != 1 {
		t.Errorf("download calls = %d, want 1", n)
	}

	job, _ := repo.Get(ctx, "job-1")
	if job.Status != domain.JobStatusFailed || job.LastError == "" {
		t.Errorf("job = %+v, want failed with error", job)
	}

	evs := events.Events()
	if len(evs) != 1 || evs[0].Severity != domain.EventSeverityError || evs[0].Message != "Download failed: broken.mp4" {
		t.Errorf("events = %+v, want one failure event", evs)
	}
}
