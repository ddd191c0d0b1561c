package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/canvasgrab/internal/blob"
	"github.com/iconidentify/canvasgrab/internal/ledger"
	"github.com/iconidentify/canvasgrab/internal/repository"
	"github.com/iconidentify/canvasgrab/internal/service"
	"github.com/iconidentify/canvasgrab/internal/storage"
	"github.com/iconidentify/canvasgrab/internal/sysinfo"
)

const readyTimeout = 5 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSources are the components reported by GET /stats and checked by
// GET /ready. Any may be nil.
type StatsSources struct {
	Ledger   *ledger.Ledger
	Blobs    *blob.Registry
	Events   *service.EventService
	Store    *storage.DownloadStore
	Settings Pinger
}

// HealthHandler serves liveness, readiness and process statistics.
type HealthHandler struct {
	jobs    repository.JobRepository
	sources StatsSources
	cpu     *sysinfo.CPUSampler
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(jobs repository.JobRepository, sources StatsSources) *HealthHandler {
	return &HealthHandler{
		jobs:    jobs,
		sources: sources,
		cpu:     sysinfo.NewCPUSampler(),
		started: time.Now(),
	}
}

// HealthResponse is the JSON response for health checks. Checks maps each
// failed dependency to its error.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]string      `json:"checks,omitempty"`
	Queue     *repository.QueueStats `json:"queue,omitempty"`
}

func newHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Live handles GET /health
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, newHealthResponse("ok"))
}

// Ready handles GET /ready. It fails when the job repository or the
// settings database cannot be reached.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := make(map[string]string)
	queue, err := h.jobs.Stats(ctx)
	if err != nil {
		failed["jobs"] = err.Error()
	}
	if h.sources.Settings != nil {
		if err := h.sources.Settings.Ping(ctx); err != nil {
			failed["settings"] = err.Error()
		}
	}

	if len(failed) > 0 {
		resp := newHealthResponse("error")
		resp.Checks = failed
		h.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp := newHealthResponse("ok")
	resp.Queue = queue
	h.writeJSON(w, http.StatusOK, resp)
}

// SystemStats contains process, storage and pipeline statistics.
type SystemStats struct {
	Uptime        int64   `json:"uptime_seconds"`
	UptimeHuman   string  `json:"uptime_human"`
	MemAllocMB    int64   `json:"mem_alloc_mb"`
	MemSysMB      int64   `json:"mem_sys_mb"`
	MemHeapMB     int64   `json:"mem_heap_mb"`
	NumGoroutines int     `json:"num_goroutines"`
	NumCPU        int     `json:"num_cpu"`
	CPUPercent    float64 `json:"cpu_percent"`

	DownloadPath   string  `json:"download_path,omitempty"`
	DiskUsedBytes  int64   `json:"disk_used_bytes"`
	DiskFreeBytes  int64   `json:"disk_free_bytes"`
	DiskTotalBytes int64   `json:"disk_total_bytes"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
	DiskFreeHuman  string  `json:"disk_free_human,omitempty"`

	CapturedURLs int                    `json:"captured_urls"`
	Blobs        int                    `json:"blobs"`
	BlobBytes    string                 `json:"blob_bytes"`
	Queue        *repository.QueueStats `json:"queue,omitempty"`
	Events       *service.EventStats    `json:"events,omitempty"`
}

// Stats handles GET /api/v1/stats
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.started)
	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc >> 20),
		MemSysMB:      int64(m.Sys >> 20),
		MemHeapMB:     int64(m.HeapAlloc >> 20),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		CPUPercent:    h.cpu.Percent(),
		BlobBytes:     humanize.Bytes(0),
	}

	h.addDiskStats(&stats)
	if h.sources.Ledger != nil {
		stats.CapturedURLs = h.sources.Ledger.Len()
	}
	if h.sources.Blobs != nil {
		stats.Blobs = h.sources.Blobs.Len()
		stats.BlobBytes = humanize.Bytes(uint64(h.sources.Blobs.Bytes()))
	}
	if h.sources.Events != nil {
		es := h.sources.Events.Stats()
		stats.Events = &es
	}
	if qs, err := h.jobs.Stats(r.Context()); err == nil {
		stats.Queue = qs
	}

	h.writeJSON(w, http.StatusOK, stats)
}

func (h *HealthHandler) addDiskStats(stats *SystemStats) {
	store := h.sources.Store
	if store == nil {
		return
	}
	stats.DownloadPath = store.BasePath()
	total, free := storage.DiskUsage(store.BasePath())
	if total <= 0 {
		return
	}
	stats.DiskTotalBytes = total
	stats.DiskFreeBytes = free
	stats.DiskUsedBytes = total - free
	stats.DiskUsedPct = float64(stats.DiskUsedBytes) / float64(total) * 100
	stats.DiskFreeHuman = humanize.Bytes(uint64(free))
}

func (h *HealthHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// formatUptime renders d as "2d 3h 4m", dropping leading zero units.
func formatUptime(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	mins := int(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
