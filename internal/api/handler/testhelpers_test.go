package handler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/iconidentify/canvasgrab/internal/classifier"
	"github.com/iconidentify/canvasgrab/internal/config"
	"github.com/iconidentify/canvasgrab/internal/credentials"
	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/ledger"
	"github.com/iconidentify/canvasgrab/internal/repository"
	"github.com/iconidentify/canvasgrab/internal/service"
	"github.com/iconidentify/canvasgrab/internal/settings"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockJobRepository is a test implementation of repository.JobRepository.
type mockJobRepository struct {
	stats      *repository.QueueStats
	statsErr   error
	getErr     error
	jobs       map[domain.JobID]*domain.Job
	enqueueErr error
	dequeueErr error
}

func newMockJobRepository() *mockJobRepository {
	return &mockJobRepository{
		stats: &repository.QueueStats{},
		jobs:  make(map[domain.JobID]*domain.Job),
	}
}

func (m *mockJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	if m.dequeueErr != nil {
		return nil, m.dequeueErr
	}
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusQueued {
			return job, nil
		}
	}
	return nil, domain.ErrNoJobs
}

func (m *mockJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if job, ok := m.jobs[id]; ok {
		return job, nil
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockJobRepository) Update(ctx context.Context, job *domain.Job) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepository) Stats(ctx context.Context) (*repository.QueueStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return m.stats, nil
}

// openTestSettings opens a settings store in a temp directory.
func openTestSettings(t *testing.T) *settings.Store {
	t.Helper()
	store, err := settings.Open(context.Background(), filepath.Join(t.TempDir(), "settings.db"), testLogger())
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type extensionFixture struct {
	handler  *ExtensionHandler
	jobs     *mockJobRepository
	settings *settings.Store
	creds    *credentials.Store
}

func newExtensionFixture(t *testing.T) *extensionFixture {
	t.Helper()

	jobs := newMockJobRepository()
	store := openTestSettings(t)
	creds := credentials.NewStore()
	media := service.NewMediaService(
		classifier.New(config.DetectionConfig{MediaHosts: []string{"instructuremedia.com"}}),
		ledger.New(),
		jobs,
		store,
		service.NewEventService(service.EventServiceConfig{}, testLogger()),
		testLogger(),
	)

	return &extensionFixture{
		handler:  NewExtensionHandler(media, creds, testLogger()),
		jobs:     jobs,
		settings: store,
		creds:    creds,
	}
}
