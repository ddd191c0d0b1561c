package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/service"
)

func newTestEventHandler(t *testing.T) (*EventHandler, *service.EventService) {
	t.Helper()
	svc := service.NewEventService(service.EventServiceConfig{RingBufferSize: 10}, testLogger())
	t.Cleanup(func() { svc.Close() })
	return NewEventHandler(svc, testLogger()), svc
}

func TestEventHandler_List_Filters(t *testing.T) {
	h, svc := newTestEventHandler(t)
	svc.EmitSuccess(domain.EventCategoryDetection, "media_service", "Media detected: a.mp4", nil)
	svc.EmitError(domain.EventCategoryDownload, "worker_pool", "Download failed: b.mp4", nil)
	svc.EmitInfo(domain.EventCategorySettings, "settings", "Auto-download disabled", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?category=download", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp EventListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Events) != 1 {
		t.Fatalf("expected 1 download event, got %+v", resp)
	}
	if resp.Events[0].Severity != "error" {
		t.Errorf("Severity = %q, want error", resp.Events[0].Severity)
	}
}

func TestEventHandler_List_Pagination(t *testing.T) {
	h, svc := newTestEventHandler(t)
	for i := 0; i < 5; i++ {
		svc.EmitInfo(domain.EventCategoryDetection, "media_service", "Media detected", nil)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=2&offset=1", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	var resp EventListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Errorf("len(events) = %d, want 2", len(resp.Events))
	}
	if resp.Total != 5 || !resp.HasMore {
		t.Errorf("Total = %d HasMore = %v", resp.Total, resp.HasMore)
	}
}

func TestEventHandler_Recent_Empty(t *testing.T) {
	h, _ := newTestEventHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/recent", nil)
	w := httptest.NewRecorder()
	h.Recent(w, req)

	if !strings.Contains(w.Body.String(), `"events":[]`) {
		t.Errorf("expected empty events array, got %s", w.Body.String())
	}
}

func TestEventHandler_Stats(t *testing.T) {
	h, svc := newTestEventHandler(t)
	svc.EmitWarning(domain.EventCategoryDetection, "media_service", "DRM protected stream skipped", nil)
	svc.EmitSuccess(domain.EventCategoryDownload, "worker_pool", "Downloaded a.mp4", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stats", nil)
	w := httptest.NewRecorder()
	h.Stats(w, req)

	var resp service.EventStats
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.BufferUsed != 2 || resp.LastSeq != 2 {
		t.Errorf("BufferUsed = %d LastSeq = %d, want 2", resp.BufferUsed, resp.LastSeq)
	}
	if resp.BySeverity[domain.EventSeverityWarning] != 1 || resp.BySeverity[domain.EventSeveritySuccess] != 1 {
		t.Errorf("BySeverity = %v", resp.BySeverity)
	}
	if resp.BufferSize != 10 {
		t.Errorf("BufferSize = %d, want 10", resp.BufferSize)
	}
}

func TestEventHandler_List_BadQuery(t *testing.T) {
	h, _ := newTestEventHandler(t)

	for _, q := range []string{"severity=fatal", "category=tweets", "start_time=yesterday", "limit=-1", "offset=x"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/events?"+q, nil)
		w := httptest.NewRecorder()
		h.List(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", q, w.Code, http.StatusBadRequest)
		}
	}
}

func TestEventHandler_Stream(t *testing.T) {
	h, svc := newTestEventHandler(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Stream(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for svc.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	svc.EmitSuccess(domain.EventCategoryDownload, "worker_pool", "Downloaded lecture.mp4", nil)

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "retry: 3000") {
		t.Errorf("missing retry hint: %s", body)
	}
	if !strings.Contains(body, "id: 1\n") || !strings.Contains(body, "Downloaded lecture.mp4") {
		t.Errorf("missing streamed event: %s", body)
	}
	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
	}
}

func TestEventHandler_CategoriesAndSeverities(t *testing.T) {
	h, _ := newTestEventHandler(t)

	w := httptest.NewRecorder()
	h.Categories(w, httptest.NewRequest(http.MethodGet, "/api/v1/events/categories", nil))
	var cats map[string][]string
	if err := json.NewDecoder(w.Body).Decode(&cats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(cats["categories"]) != 4 {
		t.Errorf("categories = %v", cats["categories"])
	}

	w = httptest.NewRecorder()
	h.Severities(w, httptest.NewRequest(http.MethodGet, "/api/v1/events/severities", nil))
	var sevs map[string][]string
	if err := json.NewDecoder(w.Body).Decode(&sevs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(sevs["severities"]) != 4 {
		t.Errorf("severities = %v", sevs["severities"])
	}
}

func TestEventHandler_Stream_ReplaysAfterLastEventID(t *testing.T) {
	h, svc := newTestEventHandler(t)
	svc.EmitInfo(domain.EventCategoryDetection, "media_service", "first", nil)
	svc.EmitInfo(domain.EventCategoryDetection, "media_service", "second", nil)
	svc.EmitInfo(domain.EventCategoryDetection, "media_service", "third", nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Stream(w, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, `"message":"first"`) {
		t.Errorf("event 1 should not be replayed: %s", body)
	}
	second := strings.Index(body, `"message":"second"`)
	third := strings.Index(body, `"message":"third"`)
	if second < 0 || third < second {
		t.Errorf("expected events 2 and 3 in order: %s", body)
	}
}

func TestEventHandler_Stream_EndsOnClose(t *testing.T) {
	h, svc := newTestEventHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Stream(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for svc.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	svc.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not end after the feed closed")
	}
}
