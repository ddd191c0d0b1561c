package domain

import "errors"

// Domain errors.
var (
	// ErrInvalidURL is returned when a candidate URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid media URL")

	// ErrDRMProtected is returned for DRM-protected streams. It is advisory, never retried.
	ErrDRMProtected = errors.New("media is DRM protected")

	// ErrTransientURL is returned for page-scoped locators and stream segments.
	ErrTransientURL = errors.New("media URL is transient")

	// ErrNotMedia is returned when a URL is an API call, thumbnail, or other non-media resource.
	ErrNotMedia = errors.New("URL is not media")

	// ErrProbeUnavailable is returned when the existence probe is rejected or inconclusive.
	ErrProbeUnavailable = errors.New("probe unavailable")

	// ErrFetchFailed is returned when the fallback fetch gets a non-2xx response.
	ErrFetchFailed = errors.New("media fetch failed")

	// ErrHTMLResponse is returned when a fetch returns an HTML page instead of media.
	ErrHTMLResponse = errors.New("response is an HTML document, not media")

	// ErrFileTooLarge is returned when a blob fetch exceeds the configured size limit.
	ErrFileTooLarge = errors.New("media exceeds maximum file size")

	// ErrDownloadFailed is returned when the download subsystem cannot save a file.
	ErrDownloadFailed = errors.New("download failed")

	// ErrBlobNotFound is returned when a blob locator is unknown or already released.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when a job ID is enqueued twice.
	ErrJobExists = errors.New("job already exists")

	// ErrNoJobs is returned when there are no jobs to process.
	ErrNoJobs = errors.New("no jobs available")

	// ErrInvalidEventQuery is returned for an unknown event filter value.
	ErrInvalidEventQuery = errors.New("invalid event query")
)

// MediaError wraps an error with the URL and operation it happened in.
type MediaError struct {
	URL string
	Op  string
	Err error
}

func (e *MediaError) Error() string {
	if e.URL != "" {
		return e.Op + " [" + e.URL + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// NewMediaError creates a new MediaError.
func NewMediaError(url, op string, err error) *MediaError {
	return &MediaError{
		URL: url,
		Op:  op,
		Err: err,
	}
}
