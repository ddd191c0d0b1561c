package domain

// OutcomeStatus is the terminal state of a download strategy invocation.
type OutcomeStatus string

const (
	OutcomeDirectSucceeded OutcomeStatus = "direct_succeeded"
	OutcomeBlobSucceeded   OutcomeStatus = "blob_succeeded"
	OutcomeFailed          OutcomeStatus = "failed"
)

// DownloadOutcome records what happened to one download. It is logged, never persisted.
type DownloadOutcome struct {
	Status   OutcomeStatus
	URL      string
	Filename string
	Path     string
	Bytes    int64
	Err      error
}

// Succeeded reports whether either download path wrote the file.
func (o DownloadOutcome) Succeeded() bool {
	return o.Status == OutcomeDirectSucceeded || o.Status == OutcomeBlobSucceeded
}

// Failed builds a failed outcome.
func Failed(url, filename string, err error) DownloadOutcome {
	return DownloadOutcome{
		Status:   OutcomeFailed,
		URL:      url,
		Filename: filename,
		Err:      err,
	}
}
