package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/service"
)

const sseKeepalive = 30 * time.Second

// EventHandler serves the activity feed.
type EventHandler struct {
	eventSvc  *service.EventService
	logger    *slog.Logger
	keepalive time.Duration
}

// NewEventHandler creates a new event handler.
func NewEventHandler(eventSvc *service.EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		eventSvc:  eventSvc,
		logger:    logger,
		keepalive: sseKeepalive,
	}
}

// EventResponse is the JSON view of an event.
type EventResponse struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  string          `json:"severity"`
	Category  string          `json:"category"`
	Message   string          `json:"message"`
	Source    string          `json:"source,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// EventListResponse is one page of events.
type EventListResponse struct {
	Events  []EventResponse `json:"events"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"has_more"`
}

// RecentEventsResponse wraps the latest events.
type RecentEventsResponse struct {
	Events []EventResponse `json:"events"`
}

func toEventResponse(e domain.Event, _ int) EventResponse {
	return EventResponse{
		ID:        e.ID.String(),
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		Severity:  string(e.Severity),
		Category:  string(e.Category),
		Message:   e.Message,
		Source:    e.Source,
		Metadata:  e.Metadata,
	}
}

// parseEventQuery reads severity, category, source, search, start_time,
// end_time (RFC3339), limit and offset.
func parseEventQuery(v url.Values) (domain.EventQuery, error) {
	var q domain.EventQuery
	var err error

	if s := v.Get("severity"); s != "" {
		if q.Filter.Severity, err = domain.ParseEventSeverity(s); err != nil {
			return q, err
		}
	}
	if s := v.Get("category"); s != "" {
		if q.Filter.Category, err = domain.ParseEventCategory(s); err != nil {
			return q, err
		}
	}
	q.Filter.Source = v.Get("source")
	q.Filter.Text = v.Get("search")

	for key, dst := range map[string]*time.Time{"start_time": &q.Filter.Since, "end_time": &q.Filter.Until} {
		if s := v.Get(key); s != "" {
			if *dst, err = time.Parse(time.RFC3339, s); err != nil {
				return q, fmt.Errorf("%w: %s must be RFC3339", domain.ErrInvalidEventQuery, key)
			}
		}
	}
	for key, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		if s := v.Get(key); s != "" {
			if *dst, err = strconv.Atoi(s); err != nil || *dst < 0 {
				return q, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidEventQuery, key)
			}
		}
	}
	return q, nil
}

// List handles GET /api/v1/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	q.Limit = min(q.Limit, 200)

	page := h.eventSvc.Query(q)
	h.writeJSON(w, http.StatusOK, EventListResponse{
		Events:  lo.Map(page.Events, toEventResponse),
		Total:   page.Total,
		Limit:   q.Limit,
		Offset:  q.Offset,
		HasMore: page.HasMore,
	})
}

// Recent handles GET /api/v1/events/recent
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	n := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			n = min(parsed, 200)
		}
	}

	h.writeJSON(w, http.StatusOK, RecentEventsResponse{
		Events: lo.Map(h.eventSvc.Recent(n), toEventResponse),
	})
}

// Stats handles GET /api/v1/events/stats
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.eventSvc.Stats())
}

// lastEventID reads the resume point an EventSource sends on reconnect.
func lastEventID(r *http.Request) uint64 {
	s := r.Header.Get("Last-Event-ID")
	if s == "" {
		s = r.URL.Query().Get("last_event_id")
	}
	seq, _ := strconv.ParseUint(s, 10, 64)
	return seq
}

// Stream handles GET /api/v1/events/stream
// Events missed since Last-Event-ID are replayed before live events.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			h.logger.Error("event stream needs a flushable writer")
		}
		return
	}

	backlog, events, cancel := h.eventSvc.Subscribe(lastEventID(r))
	defer cancel()

	logger := h.logger.With("remote_addr", r.RemoteAddr)
	logger.Info("event stream connected", "replayed", len(backlog))

	fmt.Fprintf(w, "retry: 3000\n\n")
	for _, e := range backlog {
		if err := h.writeEvent(w, e); err != nil {
			return
		}
	}
	rc.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("event stream disconnected")
			return

		case e, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeEvent(w, e); err != nil {
				logger.Info("event stream write failed", "error", err)
				return
			}
			rc.Flush()

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

func (h *EventHandler) writeEvent(w http.ResponseWriter, e domain.Event) error {
	data, err := json.Marshal(toEventResponse(e, 0))
	if err != nil {
		h.logger.Warn("failed to encode event", "seq", e.Seq, "error", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", e.Seq, data)
	return err
}

// Categories handles GET /api/v1/events/categories
func (h *EventHandler) Categories(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]domain.EventCategory{
		"categories": domain.EventCategories(),
	})
}

// Severities handles GET /api/v1/events/severities
func (h *EventHandler) Severities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]domain.EventSeverity{
		"severities": domain.EventSeverities(),
	})
}

func (h *EventHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *EventHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
