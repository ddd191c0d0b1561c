// Package blob holds fetched media bytes behind temporary locators until the
// download subsystem has saved them.
package blob

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/canvasgrab/internal/domain"
)

// LocatorPrefix marks locators created by a Registry.
const LocatorPrefix = "blob:canvasgrab/"

type entry struct {
	data        []byte
	contentType string
	createdAt   time.Time
	timer       *time.Timer
}

// Registry maps temporary locators to in-memory binary objects.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Create stores data and returns a new locator for it.
func (r *Registry) Create(data []byte, contentType string) string {
	locator := LocatorPrefix + uuid.New().String()

	r.mu.Lock()
	r.entries[locator] = &entry{
		data:        data,
		contentType: contentType,
		createdAt:   time.Now(),
	}
	r.mu.Unlock()

	return locator
}

// Open returns a reader over the object behind locator along with its size
// and content type.
func (r *Registry) Open(locator string) (io.ReadCloser, int64, string, error) {
	r.mu.Lock()
	e, ok := r.entries[locator]
	r.mu.Unlock()

	if !ok {
		return nil, 0, "", domain.NewMediaError(locator, "open blob", domain.ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(e.data)), int64(len(e.data)), e.contentType, nil
}

// Revoke releases the object behind locator. It reports whether anything was released.
func (r *Registry) Revoke(locator string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[locator]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.entries, locator)

	r.logger.Debug("blob released",
		"locator", locator,
		"held_for", time.Since(e.createdAt),
	)
	return true
}

// RevokeAfter schedules release of locator after d.
func (r *Registry) RevokeAfter(locator string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[locator]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(d, func() {
		r.Revoke(locator)
	})
}

// Len returns the number of live locators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Bytes returns the total size of all live objects.
func (r *Registry) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, e := range r.entries {
		total += int64(len(e.data))
	}
	return total
}

// RevokeAll releases every object and stops pending timers. Used at shutdown.
func (r *Registry) RevokeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for locator, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(r.entries, locator)
	}
}
