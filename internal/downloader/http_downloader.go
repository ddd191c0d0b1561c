package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/canvasgrab/internal/config"
	"github.com/iconidentify/canvasgrab/internal/domain"
)

const (
	acceptMedia      = "video/*,audio/*;q=0.9,*/*;q=0.8"
	progressInterval = 30 * time.Second
)

// errStalled is the cancel cause of a transfer that stopped sending data.
var errStalled = errors.New("transfer stalled")

// HTTPDownloader talks to media hosts with the user's browser cookies.
type HTTPDownloader struct {
	client  *http.Client
	cfg     config.DownloadConfig
	cookies CookieSource
	logger  *slog.Logger
}

// NewHTTPDownloader creates a downloader. cookies may be nil.
//
// The client has no overall timeout: probes are bounded by cfg.Timeout
// through their context and transfers by the cfg.ReadTimeout stall watchdog.
func NewHTTPDownloader(cfg config.DownloadConfig, cookies CookieSource) *HTTPDownloader {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	return &HTTPDownloader{
		client:  &http.Client{Transport: transport},
		cfg:     cfg,
		cookies: cookies,
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger used for transfer progress.
func (d *HTTPDownloader) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

func (d *HTTPDownloader) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, domain.NewMediaError(url, method, domain.ErrInvalidURL)
	}

	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", acceptMedia)
	if d.cookies != nil {
		if cookie := d.cookies.CookieFor(url); cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
	}
	return req, nil
}

// Probe sends a HEAD request, or a one-byte ranged GET when the host refuses
// HEAD. Only a malformed URL is an error; network failures and refusals are
// described in the result.
func (d *HTTPDownloader) Probe(ctx context.Context, url string) (*ProbeResult, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	result, err := d.probe(ctx, http.MethodHead, url)
	if err != nil || result.Accessible {
		return result, err
	}
	switch result.StatusCode {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return d.probe(ctx, http.MethodGet, url)
	}
	return result, nil
}

func (d *HTTPDownloader) probe(ctx context.Context, method, url string) (*ProbeResult, error) {
	req, err := d.newRequest(ctx, method, url)
	if err != nil {
		return nil, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &ProbeResult{Error: err.Error()}, nil
	}
	resp.Body.Close()

	result := &ProbeResult{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		FinalURL:      resp.Request.URL.String(),
	}
	switch resp.StatusCode {
	case http.StatusOK:
		result.Accessible = true
	case http.StatusPartialContent:
		result.Accessible = true
		if total, ok := rangeTotal(resp.Header.Get("Content-Range")); ok {
			result.ContentLength = total
		}
	default:
		result.Error = resp.Status
	}
	return result, nil
}

// rangeTotal extracts the complete length from "bytes 0-0/12345".
func rangeTotal(contentRange string) (int64, bool) {
	_, total, ok := strings.Cut(contentRange, "/")
	if !ok || total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Fetch sends a GET and hands back the streaming body. The transfer is
// aborted if no bytes arrive for cfg.ReadTimeout.
func (d *HTTPDownloader) Fetch(ctx context.Context, url string) (*Response, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	req, err := d.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		cancel(nil)
		return nil, err
	}

	watch := newWatchdog(d.cfg.ReadTimeout, cancel)
	resp, err := d.client.Do(req)
	if err != nil {
		watch.stop()
		cancel(nil)
		return nil, domain.NewMediaError(url, "fetch", fmt.Errorf("%w: %v", domain.ErrFetchFailed, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		watch.stop()
		resp.Body.Close()
		cancel(nil)
		return nil, domain.NewMediaError(url, "fetch", fmt.Errorf("%w: %s", domain.ErrFetchFailed, resp.Status))
	}

	return &Response{
		Body: &transferBody{
			body:   resp.Body,
			ctx:    ctx,
			cancel: cancel,
			watch:  watch,
			total:  resp.ContentLength,
			logger: d.logger.With("url", url),
		},
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		FinalURL:      resp.Request.URL.String(),
	}, nil
}

// watchdog cancels a transfer when it is not kicked within timeout.
type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(timeout time.Duration, cancel context.CancelCauseFunc) *watchdog {
	w := &watchdog{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() { cancel(errStalled) })
	}
	return w
}

func (w *watchdog) kick() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// transferBody streams a response body, keeps the watchdog fed and logs
// progress for long transfers.
type transferBody struct {
	body   io.ReadCloser
	ctx    context.Context
	cancel context.CancelCauseFunc
	watch  *watchdog
	total  int64
	logger *slog.Logger

	read      int64
	lastLog   time.Time
	closeOnce sync.Once
}

func (t *transferBody) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 {
		t.watch.kick()
		t.read += int64(n)
		t.logProgress()
	}
	if err != nil && err != io.EOF && errors.Is(context.Cause(t.ctx), errStalled) {
		err = fmt.Errorf("%w: %w: no data for %v", domain.ErrFetchFailed, errStalled, t.watch.timeout)
	}
	return n, err
}

func (t *transferBody) logProgress() {
	now := time.Now()
	if t.lastLog.IsZero() {
		t.lastLog = now
		return
	}
	if now.Sub(t.lastLog) < progressInterval {
		return
	}
	t.lastLog = now

	attrs := []any{"downloaded", humanize.Bytes(uint64(t.read))}
	if t.total > 0 {
		attrs = append(attrs,
			"total", humanize.Bytes(uint64(t.total)),
			"percent", fmt.Sprintf("%.1f%%", float64(t.read)/float64(t.total)*100),
		)
	}
	t.logger.Info("download progress", attrs...)
}

func (t *transferBody) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.watch.stop()
		err = t.body.Close()
		t.cancel(nil)
	})
	return err
}
