package downloader

import (
	"context"
	"io"
)

// Downloader performs the network side of a media download.
type Downloader interface {
	// Probe checks URL accessibility without transferring the body.
	Probe(ctx context.Context, url string) (*ProbeResult, error)

	// Fetch issues a credentialed GET. Non-2xx responses are returned as
	// errors wrapping domain.ErrFetchFailed. Caller closes Body.
	Fetch(ctx context.Context, url string) (*Response, error)
}

// CookieSource supplies the browser cookies to send with a request.
type CookieSource interface {
	CookieFor(url string) string
}

// ProbeResult contains information about a media URL.
type ProbeResult struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
	FinalURL      string // after redirects
	Accessible    bool
	Error         string
}

// Response is a successful fetch.
type Response struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentType   string
	ContentLength int64
	FinalURL      string
}
