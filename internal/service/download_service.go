package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/iconidentify/canvasgrab/internal/blob"
	"github.com/iconidentify/canvasgrab/internal/classifier"
	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/downloader"
	"github.com/iconidentify/canvasgrab/internal/storage"
)

// sniffLen is how much of a generically typed body is inspected for HTML.
const sniffLen = 3072

// filenameTimeLayout is filesystem safe: no colons.
const filenameTimeLayout = "2006-01-02T15-04-05"

var extRe = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)

// DownloadServiceConfig holds the download strategy settings.
type DownloadServiceConfig struct {
	DefaultExtension string
	BlobTTL          time.Duration
	MaxFileSize      int64
}

// DownloadService turns one accepted media URL into a saved file. It tries a
// direct download after a probe and falls back to fetching the bytes into a
// temporary blob.
type DownloadService struct {
	downloader downloader.Downloader
	store      *storage.DownloadStore
	blobs      *blob.Registry
	cfg        DownloadServiceConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewDownloadService creates a new download service.
func NewDownloadService(
	dl downloader.Downloader,
	store *storage.DownloadStore,
	blobs *blob.Registry,
	cfg DownloadServiceConfig,
	logger *slog.Logger,
) *DownloadService {
	cfg.DefaultExtension = strings.TrimPrefix(cfg.DefaultExtension, ".")
	if cfg.DefaultExtension == "" {
		cfg.DefaultExtension = "mp4"
	}
	if cfg.BlobTTL <= 0 {
		cfg.BlobTTL = 60 * time.Second
	}
	return &DownloadService{
		downloader: dl,
		store:      store,
		blobs:      blobs,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Download runs the download strategy for url. suggestedFilename may be empty.
func (s *DownloadService) Download(ctx context.Context, url, suggestedFilename string) domain.DownloadOutcome {
	filename := strings.TrimSpace(suggestedFilename)
	if filename == "" {
		filename = DeriveFilename(url, s.now(), s.cfg.DefaultExtension)
	}
	filename = storage.SanitizeFilename(filename)

	probe, err := s.downloader.Probe(ctx, url)
	if err == nil && probe.Accessible && !isHTMLContentType(probe.ContentType) {
		return s.direct(ctx, url, probe, filename)
	}

	s.logger.Info("probe inconclusive, fetching media",
		"url", url,
		"reason", probeFailure(probe, err),
	)
	return s.viaBlob(ctx, url, filename)
}

func (s *DownloadService) direct(ctx context.Context, url string, probe *downloader.ProbeResult, filename string) domain.DownloadOutcome {
	target := url
	if probe.FinalURL != "" {
		target = probe.FinalURL
	}
	if err := s.checkSize(url, "direct download", probe.ContentLength); err != nil {
		return s.fail(url, filename, err)
	}

	name := s.withExtension(filename, probe.ContentType, nil)
	p, n, err := s.save(ctx, target, name)
	if err != nil {
		return s.fail(url, name, err)
	}

	s.logger.Info("direct download complete",
		"url", url,
		"resolved_url", target,
		"path", p,
		"size", humanize.Bytes(uint64(n)),
	)
	return domain.DownloadOutcome{
		Status:   domain.OutcomeDirectSucceeded,
		URL:      url,
		Filename: filepath.Base(p),
		Path:     p,
		Bytes:    n,
	}
}

func (s *DownloadService) viaBlob(ctx context.Context, url, filename string) domain.DownloadOutcome {
	resp, err := s.downloader.Fetch(ctx, url)
	if err != nil {
		return s.fail(url, filename, err)
	}
	defer resp.Body.Close()

	if isHTMLContentType(resp.ContentType) {
		return s.fail(url, filename, domain.NewMediaError(url, "fetch", domain.ErrHTMLResponse))
	}
	if err := s.checkSize(url, "fetch", resp.ContentLength); err != nil {
		return s.fail(url, filename, err)
	}

	data, err := io.ReadAll(newCappedReader(resp.Body, s.cfg.MaxFileSize))
	if err != nil {
		if !errors.Is(err, domain.ErrFileTooLarge) {
			err = fmt.Errorf("%w: read body: %v", domain.ErrFetchFailed, err)
		}
		return s.fail(url, filename, domain.NewMediaError(url, "fetch", err))
	}
	if isGenericContentType(resp.ContentType) && mimetype.Detect(data).Is("text/html") {
		return s.fail(url, filename, domain.NewMediaError(url, "fetch", domain.ErrHTMLResponse))
	}

	name := s.withExtension(filename, resp.ContentType, data)
	locator := s.blobs.Create(data, resp.ContentType)

	p, n, err := s.save(ctx, locator, name)
	if err != nil {
		s.blobs.Revoke(locator)
		return s.fail(url, name, err)
	}
	s.blobs.RevokeAfter(locator, s.cfg.BlobTTL)

	s.logger.Info("blob download complete",
		"url", url,
		"path", p,
		"size", humanize.Bytes(uint64(n)),
	)
	return domain.DownloadOutcome{
		Status:   domain.OutcomeBlobSucceeded,
		URL:      url,
		Filename: filepath.Base(p),
		Path:     p,
		Bytes:    n,
	}
}

// save hands a URL or blob locator to the download subsystem.
func (s *DownloadService) save(ctx context.Context, source, filename string) (string, int64, error) {
	var body io.ReadCloser
	if strings.HasPrefix(source, blob.LocatorPrefix) {
		rc, _, _, err := s.blobs.Open(source)
		if err != nil {
			return "", 0, err
		}
		body = rc
	} else {
		resp, err := s.downloader.Fetch(ctx, source)
		if err != nil {
			return "", 0, err
		}
		body = resp.Body
		if isHTMLContentType(resp.ContentType) {
			body.Close()
			return "", 0, domain.NewMediaError(source, "fetch", domain.ErrHTMLResponse)
		}
		if isGenericContentType(resp.ContentType) {
			r, err := sniffHTML(body)
			if err != nil {
				body.Close()
				return "", 0, domain.NewMediaError(source, "fetch", err)
			}
			body = struct {
				io.Reader
				io.Closer
			}{r, body}
		}
	}
	defer body.Close()

	return s.store.Save(ctx, filename, newCappedReader(body, s.cfg.MaxFileSize))
}

// sniffHTML peeks at the start of body and fails with ErrHTMLResponse when it
// is an HTML page. The returned reader still yields the whole body.
func sniffHTML(body io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrFetchFailed, err)
	}
	if mimetype.Detect(head).Is("text/html") {
		return nil, domain.ErrHTMLResponse
	}
	return br, nil
}

// checkSize rejects a known length above the size limit or the free space
// in the downloads directory.
func (s *DownloadService) checkSize(url, op string, length int64) error {
	if length <= 0 {
		return nil
	}
	if s.cfg.MaxFileSize > 0 && length > s.cfg.MaxFileSize {
		return domain.NewMediaError(url, op, domain.ErrFileTooLarge)
	}
	if free := s.store.FreeSpace(); free > 0 && length > free {
		return domain.NewMediaError(url, op, fmt.Errorf("%w: need %s, %s free",
			domain.ErrDownloadFailed, humanize.Bytes(uint64(length)), humanize.Bytes(uint64(free))))
	}
	return nil
}

func (s *DownloadService) fail(url, filename string, err error) domain.DownloadOutcome {
	s.logger.Warn("download failed", "url", url, "filename", filename, "error", err)
	return domain.Failed(url, filename, err)
}

// withExtension appends an extension when filename has none, guessing from
// the Content-Type, then from sniffed bytes, then the default.
func (s *DownloadService) withExtension(filename, contentType string, data []byte) string {
	if hasFileExtension(filename) {
		return filename
	}
	return filename + "." + s.guessExtension(contentType, data)
}

func (s *DownloadService) guessExtension(contentType string, data []byte) string {
	if mt := classifier.ParseMediaType(contentType); mt != "" {
		if m := mimetype.Lookup(mt); m != nil && m.Extension() != "" {
			return strings.TrimPrefix(m.Extension(), ".")
		}
	}
	if len(data) > 0 {
		m := mimetype.Detect(data)
		if ext := m.Extension(); ext != "" && !m.Is("text/plain") {
			return strings.TrimPrefix(ext, ".")
		}
	}
	return s.cfg.DefaultExtension
}

// DeriveFilename builds "<stem>-<timestamp>.<ext>" from the URL's last path
// segment. The extension comes from the URL or falls back to defaultExt.
func DeriveFilename(rawURL string, now time.Time, defaultExt string) string {
	seg := domain.LastPathSegment(rawURL)
	ext := path.Ext(seg)
	if !extRe.MatchString(ext) {
		ext = ""
	}
	stem := strings.TrimSuffix(seg, ext)
	if stem == "" {
		stem = "media"
	}
	if ext == "" {
		ext = "." + strings.TrimPrefix(defaultExt, ".")
	}
	return fmt.Sprintf("%s-%s%s", stem, now.Format(filenameTimeLayout), strings.ToLower(ext))
}

func hasFileExtension(filename string) bool {
	return extRe.MatchString(path.Ext(filename))
}

func isHTMLContentType(contentType string) bool {
	switch classifier.ParseMediaType(contentType) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

func isGenericContentType(contentType string) bool {
	switch classifier.ParseMediaType(contentType) {
	case "", "application/octet-stream", "binary/octet-stream", "text/plain":
		return true
	}
	return false
}

func probeFailure(probe *downloader.ProbeResult, err error) error {
	switch {
	case err != nil:
		return fmt.Errorf("%w: %v", domain.ErrProbeUnavailable, err)
	case probe == nil:
		return domain.ErrProbeUnavailable
	case probe.Accessible:
		return fmt.Errorf("%w: HTML content type %q", domain.ErrProbeUnavailable, probe.ContentType)
	case probe.Error != "":
		return fmt.Errorf("%w: %s", domain.ErrProbeUnavailable, probe.Error)
	}
	return domain.ErrProbeUnavailable
}

// cappedReader fails with ErrFileTooLarge once more than max bytes are read.
type cappedReader struct {
	r    io.Reader
	max  int64
	read int64
}

func newCappedReader(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return &cappedReader{r: r, max: max}
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.read > c.max {
		return n, domain.ErrFileTooLarge
	}
	return n, err
}
