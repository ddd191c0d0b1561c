package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/iconidentify/canvasgrab/internal/classifier"
	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/ledger"
	"github.com/iconidentify/canvasgrab/internal/repository"
)

// Ack reasons reported to the extension.
const (
	ReasonDuplicate    = "duplicate"
	ReasonDRMProtected = "drm-protected"
	ReasonNotMedia     = "not-media"
	ReasonTransient    = "transient"
	ReasonInvalidURL   = "invalid-url"
)

const mediaSource = "media_service"

// Ack is the synchronous answer to a detection or download request.
type Ack struct {
	Success        bool   `json:"success"`
	AutoDownloaded *bool  `json:"autoDownloaded,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message,omitempty"`
	JobID          string `json:"jobId,omitempty"`
}

// Observation is one completed network request seen by the extension.
type Observation struct {
	URL        string
	StatusCode int
	Headers    http.Header
}

// SettingsReader exposes the auto-download flag.
type SettingsReader interface {
	AutoDownload() bool
}

// MediaService runs detected candidates through classification and
// deduplication and queues downloads for accepted URLs.
type MediaService struct {
	classifier *classifier.Classifier
	ledger     *ledger.Ledger
	jobs       repository.JobRepository
	settings   SettingsReader
	events     *EventService
	logger     *slog.Logger
}

// NewMediaService creates a new media service. events may be nil.
func NewMediaService(
	cls *classifier.Classifier,
	led *ledger.Ledger,
	jobs repository.JobRepository,
	settings SettingsReader,
	events *EventService,
	logger *slog.Logger,
) *MediaService {
	return &MediaService{
		classifier: cls,
		ledger:     led,
		jobs:       jobs,
		settings:   settings,
		events:     events,
		logger:     logger,
	}
}

// HandleDetection processes a candidate found in the page DOM.
func (s *MediaService) HandleDetection(ctx context.Context, cand domain.Candidate) Ack {
	return s.admit(ctx, cand, s.classifier.ClassifyCandidate(cand))
}

// HandleNetworkResponse processes a completed network request. Only 200 and
// 206 responses are considered.
func (s *MediaService) HandleNetworkResponse(ctx context.Context, obs Observation) Ack {
	if obs.StatusCode != http.StatusOK && obs.StatusCode != http.StatusPartialContent {
		return Ack{
			Success: false,
			Reason:  ReasonNotMedia,
			Message: fmt.Sprintf("status %d ignored", obs.StatusCode),
		}
	}

	cand, err := domain.NewCandidate(obs.URL, domain.SourceNetwork, domain.LastPathSegment(obs.URL))
	if err != nil {
		s.logger.Debug("invalid network observation", "url", obs.URL, "error", err)
		return Ack{Success: false, Reason: ReasonInvalidURL, Message: err.Error()}
	}

	return s.admit(ctx, cand, s.classifier.ClassifyResponse(cand.URL, obs.Headers.Get("Content-Type")))
}

func (s *MediaService) admit(ctx context.Context, cand domain.Candidate, res domain.Classification) Ack {
	logger := s.logger.With("url", cand.URL, "source", cand.SourceType)

	if !res.Accepted() {
		return s.reject(logger, cand, res)
	}

	if !s.ledger.MarkIfNew(cand.URL) {
		logger.Debug("duplicate media URL")
		s.emitInfo("Duplicate media ignored", domain.EventMetadata{"url": cand.URL})
		return Ack{Success: false, Reason: ReasonDuplicate}
	}

	auto := s.settings.AutoDownload()
	ack := Ack{Success: true, AutoDownloaded: &auto}

	logger.Info("media detected", "kind", res.Kind, "rule", res.Rule, "auto_download", auto)
	s.emitSuccess(fmt.Sprintf("Media detected: %s", domain.LastPathSegment(cand.URL)), domain.EventMetadata{
		"url":           cand.URL,
		"kind":          res.Kind,
		"rule":          res.Rule,
		"source":        cand.SourceType,
		"auto_download": auto,
	})

	if auto {
		job, err := s.enqueue(ctx, cand.URL, cand.SuggestedFilename, cand.SourceType)
		if err != nil {
			// Nothing was queued, so the next detection of this URL gets another try.
			s.ledger.Forget(cand.URL)
			logger.Error("failed to queue download", "error", err)
			return Ack{Success: false, Message: err.Error()}
		}
		ack.JobID = job.ID.String()
	}

	return ack
}

func (s *MediaService) reject(logger *slog.Logger, cand domain.Candidate, res domain.Classification) Ack {
	ack := Ack{Success: false, Message: res.Reason}

	switch res.Verdict {
	case domain.VerdictRejectedDRM:
		ack.Reason = ReasonDRMProtected
		ack.Message = domain.DRMAdvisory
		logger.Warn("DRM protected media skipped", "rule", res.Rule)
		if s.events != nil {
			s.events.EmitWarning(domain.EventCategoryDetection, mediaSource,
				"DRM protected stream skipped",
				domain.EventMetadata{"url": cand.URL, "advisory": domain.DRMAdvisory})
		}
	case domain.VerdictRejectedTransient:
		ack.Reason = ReasonTransient
		logger.Debug("transient URL rejected", "rule", res.Rule, "reason", res.Reason)
	default:
		ack.Reason = ReasonNotMedia
		logger.Debug("non-media URL rejected", "rule", res.Rule, "reason", res.Reason)
	}

	return ack
}

// Download queues a manual download. It bypasses the ledger but still
// refuses blob locators and DRM-protected streams.
func (s *MediaService) Download(ctx context.Context, rawURL, filename string) Ack {
	cand, err := domain.NewCandidate(rawURL, domain.SourceLink, filename)
	if err != nil {
		return Ack{Success: false, Reason: ReasonInvalidURL, Message: err.Error()}
	}

	res := s.classifier.Classify(cand.URL)
	switch {
	case res.Verdict == domain.VerdictRejectedDRM:
		return Ack{Success: false, Reason: ReasonDRMProtected, Message: domain.DRMAdvisory}
	case res.Rule == classifier.RuleBlob:
		return Ack{Success: false, Reason: ReasonTransient, Message: res.Reason}
	}

	job, err := s.enqueue(ctx, cand.URL, cand.SuggestedFilename, domain.SourceLink)
	if err != nil {
		s.logger.Error("failed to queue manual download", "url", cand.URL, "error", err)
		return Ack{Success: false, Message: err.Error()}
	}

	s.emitInfo("Manual download queued", domain.EventMetadata{"url": cand.URL, "job_id": job.ID})
	return Ack{Success: true, JobID: job.ID.String()}
}

// MediaList returns captured URLs in detection order and the auto-download flag.
func (s *MediaService) MediaList() ([]string, bool) {
	return s.ledger.URLs(), s.settings.AutoDownload()
}

// Clear empties the ledger so previously captured URLs can be detected again.
func (s *MediaService) Clear() {
	n := s.ledger.Len()
	s.ledger.Clear()
	s.logger.Info("media list cleared", "count", n)
	s.emitInfo("Media list cleared", domain.EventMetadata{"count": n})
}

func (s *MediaService) enqueue(ctx context.Context, url, filename string, source domain.SourceType) (*domain.Job, error) {
	job := domain.NewJob(domain.JobID(uuid.New().String()), url, filename, source)
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func (s *MediaService) emitInfo(message string, metadata domain.EventMetadata) {
	if s.events != nil {
		s.events.EmitInfo(domain.EventCategoryDetection, mediaSource, message, metadata)
	}
}

func (s *MediaService) emitSuccess(message string, metadata domain.EventMetadata) {
	if s.events != nil {
		s.events.EmitSuccess(domain.EventCategoryDetection, mediaSource, message, metadata)
	}
}
