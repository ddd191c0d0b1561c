package downloader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iconidentify/canvasgrab/internal/config"
	"github.com/iconidentify/canvasgrab/internal/domain"
)

type staticCookies string

func (s staticCookies) CookieFor(string) string { return string(s) }

func testConfig() config.DownloadConfig {
	return config.DownloadConfig{
		Timeout:     5 * time.Second,
		ReadTimeout: 5 * time.Second,
		UserAgent:   "test-agent",
	}
}

func TestNewHTTPDownloader(t *testing.T) {
	dl := NewHTTPDownloader(testConfig(), nil)

	if dl == nil {
		t.Fatal("downloader should not be nil")
	}
	if dl.client == nil {
		t.Fatal("client should not be nil")
	}
	if dl.client.Timeout != 0 {
		t.Error("client must not bound whole transfers")
	}
	transport, ok := dl.client.Transport.(*http.Transport)
	if !ok || transport.ResponseHeaderTimeout != 5*time.Second {
		t.Errorf("transport = %+v, want header timeout from config", dl.client.Transport)
	}
}

func TestHTTPDownloader_Probe_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		if c := r.Header.Get("Cookie"); c != "session=abc" {
			t.Errorf("Cookie = %q, want %q", c, "session=abc")
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1000")
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), staticCookies("session=abc"))
	result, err := dl.Probe(context.Background(), server.URL+"/lecture.mp4")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !result.Accessible {
		t.Error("expected accessible")
	}
	if result.ContentType != "video/mp4" {
		t.Errorf("ContentType = %q", result.ContentType)
	}
	if result.ContentLength != 1000 {
		t.Errorf("ContentLength = %d, want 1000", result.ContentLength)
	}
	if result.FinalURL != server.URL+"/lecture.mp4" {
		t.Errorf("FinalURL = %q", result.FinalURL)
	}
}

func TestHTTPDownloader_Probe_PartialContentIsAccessible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	result, err := dl.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !result.Accessible {
		t.Error("206 should be accessible")
	}
}

func TestHTTPDownloader_Probe_HeadRefusedUsesRangedGet(t *testing.T) {
	var ranges []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ranges = append(ranges, r.Header.Get("Range"))
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 0-0/52428800")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	result, err := dl.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !result.Accessible {
		t.Fatalf("expected accessible, got %+v", result)
	}
	if result.ContentLength != 52428800 {
		t.Errorf("ContentLength = %d, want full length from Content-Range", result.ContentLength)
	}
	if len(ranges) != 1 || ranges[0] != "bytes=0-0" {
		t.Errorf("ranged GETs = %v", ranges)
	}
}

func TestHTTPDownloader_Probe_HeadForbiddenDoesNotRetry(t *testing.T) {
	var gets int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets++
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	if _, err := dl.Probe(context.Background(), server.URL); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if gets != 0 {
		t.Errorf("GET requests = %d, want 0", gets)
	}
}

func TestRangeTotal(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"bytes 0-0/12345", 12345, true},
		{"bytes 0-0/*", 0, false},
		{"", 0, false},
		{"bytes 0-0/abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := rangeTotal(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("rangeTotal(%q) = %d, %v; want %d, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHTTPDownloader_Probe_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/1/download", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cdn/lecture.mp4", http.StatusFound)
	})
	mux.HandleFunc("/cdn/lecture.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	result, err := dl.Probe(context.Background(), server.URL+"/files/1/download")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.FinalURL != server.URL+"/cdn/lecture.mp4" {
		t.Errorf("FinalURL = %q", result.FinalURL)
	}
}

func TestHTTPDownloader_Probe_Forbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	result, err := dl.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.Accessible {
		t.Error("403 should not be accessible")
	}
	if result.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d", result.StatusCode)
	}
	if result.Error == "" {
		t.Error("expected error message")
	}
}

func TestHTTPDownloader_Probe_NetworkError(t *testing.T) {
	dl := NewHTTPDownloader(testConfig(), nil)
	result, err := dl.Probe(context.Background(), "http://127.0.0.1:1/video.mp4")
	if err != nil {
		t.Fatalf("Probe should report network errors in result: %v", err)
	}
	if result.Accessible {
		t.Error("expected inaccessible")
	}
	if result.Error == "" {
		t.Error("expected error message")
	}
}

func TestHTTPDownloader_Probe_InvalidURL(t *testing.T) {
	dl := NewHTTPDownloader(testConfig(), nil)
	_, err := dl.Probe(context.Background(), "://bad")
	if !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("err = %v, want ErrInvalidURL", err)
	}
}

func TestHTTPDownloader_Fetch_Success(t *testing.T) {
	content := []byte("video content data here")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", ua, "test-agent")
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "23")
		w.Write(content)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	resp, err := dl.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != 23 {
		t.Errorf("ContentLength = %d, want 23", resp.ContentLength)
	}
	if resp.ContentType != "video/mp4" {
		t.Errorf("ContentType = %q", resp.ContentType)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("data = %q, want %q", data, content)
	}
}

func TestHTTPDownloader_Fetch_Non2xx(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		dl := NewHTTPDownloader(testConfig(), nil)
		_, err := dl.Fetch(context.Background(), server.URL)
		server.Close()

		if !errors.Is(err, domain.ErrFetchFailed) {
			t.Errorf("status %d: err = %v, want ErrFetchFailed", status, err)
		}
	}
}

func TestHTTPDownloader_Fetch_NoRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	if _, err := dl.Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestHTTPDownloader_Fetch_NetworkError(t *testing.T) {
	dl := NewHTTPDownloader(testConfig(), nil)
	_, err := dl.Fetch(context.Background(), "http://127.0.0.1:1/video.mp4")
	if !errors.Is(err, domain.ErrFetchFailed) {
		t.Errorf("err = %v, want ErrFetchFailed", err)
	}
}

func TestHTTPDownloader_Fetch_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dl := NewHTTPDownloader(testConfig(), nil)
	if _, err := dl.Fetch(ctx, server.URL); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestHTTPDownloader_Fetch_StallAborts(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("first chunk"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	dl := NewHTTPDownloader(cfg, nil)
	dl.SetLogger(discardLogger())

	resp, err := dl.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if !errors.Is(err, domain.ErrFetchFailed) || !errors.Is(err, errStalled) {
		t.Fatalf("err = %v, want stalled fetch failure", err)
	}
	if string(data) != "first chunk" {
		t.Errorf("data = %q", data)
	}
}

func TestHTTPDownloader_Fetch_SteadyTransferIsNotStalled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			w.Write([]byte("chunk"))
			w.(http.Flusher).Flush()
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.ReadTimeout = 60 * time.Millisecond
	dl := NewHTTPDownloader(cfg, nil)
	dl.SetLogger(discardLogger())

	resp, err := dl.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(data) != 25 {
		t.Errorf("read %d bytes, want 25", len(data))
	}
}

func TestTransferBody_CloseIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	resp, err := dl.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
