package domain

import (
	"time"
)

// JobID is a unique identifier for a download job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is one queued download. Jobs are not retried.
type Job struct {
	ID        JobID
	URL       string
	Filename  string
	Source    SourceType
	Status    JobStatus
	Outcome   OutcomeStatus
	Path      string
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob creates a queued download job.
func NewJob(id JobID, url, filename string, source SourceType) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		URL:       url,
		Filename:  filename,
		Source:    source,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkProcessing updates the job status to processing.
func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.UpdatedAt = time.Now()
}

// Finish records the download outcome and moves the job to a terminal state.
func (j *Job) Finish(outcome DownloadOutcome) {
	j.Outcome = outcome.Status
	j.Path = outcome.Path
	if outcome.Filename != "" {
		j.Filename = outcome.Filename
	}
	if outcome.Succeeded() {
		j.Status = JobStatusCompleted
		j.LastError = ""
	} else {
		j.Status = JobStatusFailed
		if outcome.Err != nil {
			j.LastError = outcome.Err.Error()
		}
	}
	j.UpdatedAt = time.Now()
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
