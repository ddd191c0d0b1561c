package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/repository"
)

// JobHandler reports on queued downloads.
type JobHandler struct {
	jobRepo repository.JobRepository
	logger  *slog.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobRepo repository.JobRepository, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		jobRepo: jobRepo,
		logger:  logger,
	}
}

// JobResponse is the JSON view of a download job.
type JobResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Filename  string    `json:"filename,omitempty"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Outcome   string    `json:"outcome,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Get handles GET /api/v1/jobs/{jobID}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobRepo.Get(r.Context(), domain.JobID(jobID))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to get job", "job_id", jobID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusOK, JobResponse{
		ID:        job.ID.String(),
		URL:       job.URL,
		Filename:  job.Filename,
		Source:    string(job.Source),
		Status:    string(job.Status),
		Outcome:   string(job.Outcome),
		Path:      job.Path,
		Error:     job.LastError,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
}

func (h *JobHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *JobHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
