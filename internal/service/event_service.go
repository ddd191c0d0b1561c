package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/iconidentify/canvasgrab/internal/domain"
)

const (
	defaultEventCapacity   = 500
	subscriberBuffer       = 64
	defaultEventQueryLimit = 50
	maxEventQueryLimit     = 200
)

// EventServiceConfig configures the event feed.
type EventServiceConfig struct {
	// RingBufferSize is the number of events kept in memory. Default 500.
	RingBufferSize int
}

// EventService is the in-memory event feed behind the popup's activity
// view. It keeps the most recent events in a ring indexed by sequence
// number and fans new events out to stream subscribers.
type EventService struct {
	logger *slog.Logger

	mu      sync.RWMutex
	ring    []domain.Event
	nextSeq uint64 // sequence number of the next event; starts at 1
	subs    map[*subscriber]struct{}
	dropped uint64
	closed  bool
}

type subscriber struct {
	ch   chan domain.Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewEventService creates an empty event feed.
func NewEventService(cfg EventServiceConfig, logger *slog.Logger) *EventService {
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = defaultEventCapacity
	}
	return &EventService{
		logger:  logger,
		ring:    make([]domain.Event, cfg.RingBufferSize),
		nextSeq: 1,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Emit sequences an event, stores it and delivers it to subscribers. A
// subscriber whose buffer is full misses the event.
func (s *EventService) Emit(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	event.Seq = s.nextSeq
	event.ID = domain.EventID(strconv.FormatUint(event.Seq, 10))
	s.nextSeq++
	s.ring[event.Seq%uint64(len(s.ring))] = event

	for sub := range s.subs {
		select {
		case sub.ch <- event:
		default:
			s.dropped++
		}
	}
	s.mu.Unlock()

	level := slog.LevelInfo
	switch event.Severity {
	case domain.EventSeverityWarning:
		level = slog.LevelWarn
	case domain.EventSeverityError:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, event.Message,
		"event_seq", event.Seq,
		"category", event.Category,
		"severity", event.Severity,
		"source", event.Source,
	)
}

// EmitInfo emits an info event.
func (s *EventService) EmitInfo(category domain.EventCategory, source, message string, metadata domain.EventMetadata) {
	s.Emit(domain.NewEvent(domain.EventSeverityInfo, category, source, message, metadata))
}

// EmitWarning emits a warning event.
func (s *EventService) EmitWarning(category domain.EventCategory, source, message string, metadata domain.EventMetadata) {
	s.Emit(domain.NewEvent(domain.EventSeverityWarning, category, source, message, metadata))
}

// EmitError emits an error event.
func (s *EventService) EmitError(category domain.EventCategory, source, message string, metadata domain.EventMetadata) {
	s.Emit(domain.NewEvent(domain.EventSeverityError, category, source, message, metadata))
}

// EmitSuccess emits a success event.
func (s *EventService) EmitSuccess(category domain.EventCategory, source, message string, metadata domain.EventMetadata) {
	s.Emit(domain.NewEvent(domain.EventSeveritySuccess, category, source, message, metadata))
}

// oldestSeq is the sequence number of the oldest retained event. Callers
// hold mu.
func (s *EventService) oldestSeq() uint64 {
	if n := uint64(len(s.ring)); s.nextSeq > n {
		return s.nextSeq - n
	}
	return 1
}

// newestFirst returns retained events, most recent first. Callers hold mu.
func (s *EventService) newestFirst() []domain.Event {
	out := make([]domain.Event, 0, s.nextSeq-s.oldestSeq())
	for seq := s.nextSeq - 1; seq >= s.oldestSeq() && seq > 0; seq-- {
		out = append(out, s.ring[seq%uint64(len(s.ring))])
	}
	return out
}

// Query returns one page of events matching the filter, most recent first.
// Limit defaults to 50 and is capped at 200.
func (s *EventService) Query(q domain.EventQuery) domain.EventPage {
	if q.Limit <= 0 {
		q.Limit = defaultEventQueryLimit
	}
	q.Limit = min(q.Limit, maxEventQueryLimit)
	q.Offset = max(q.Offset, 0)

	s.mu.RLock()
	matched := lo.Filter(s.newestFirst(), func(e domain.Event, _ int) bool {
		return q.Filter.Match(e)
	})
	s.mu.RUnlock()

	page := domain.EventPage{Events: []domain.Event{}, Total: len(matched)}
	if q.Offset >= len(matched) {
		return page
	}
	end := min(q.Offset+q.Limit, len(matched))
	page.Events = matched[q.Offset:end]
	page.HasMore = end < len(matched)
	return page
}

// Recent returns up to n of the latest events, most recent first.
func (s *EventService) Recent(n int) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.newestFirst()
	if n > 0 && n < len(events) {
		events = events[:n]
	}
	return events
}

// Subscribe registers a stream subscriber. backlog holds the retained events
// with a sequence number above after, oldest first; events emitted later
// arrive on the channel. cancel is idempotent. After Close the channel is
// returned already closed.
func (s *EventService) Subscribe(after uint64) (backlog []domain.Event, events <-chan domain.Event, cancel func()) {
	sub := &subscriber{ch: make(chan domain.Event, subscriberBuffer)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		sub.close()
		return nil, sub.ch, func() {}
	}

	for seq := max(after+1, s.oldestSeq()); seq < s.nextSeq; seq++ {
		backlog = append(backlog, s.ring[seq%uint64(len(s.ring))])
	}
	s.subs[sub] = struct{}{}

	return backlog, sub.ch, func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.close()
	}
}

// SubscriberCount returns the number of connected stream subscribers.
func (s *EventService) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close disconnects every subscriber and refuses new ones. Emit keeps
// recording events.
func (s *EventService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for sub := range s.subs {
		sub.close()
		delete(s.subs, sub)
	}
}

// EventStats describes the feed.
type EventStats struct {
	BufferSize     int                          `json:"buffer_size"`
	BufferUsed     int                          `json:"buffer_used"`
	LastSeq        uint64                       `json:"last_seq"`
	SSESubscribers int                          `json:"sse_subscribers"`
	Dropped        uint64                       `json:"dropped"`
	BySeverity     map[domain.EventSeverity]int `json:"by_severity"`
}

// Stats summarizes the retained events and subscribers.
func (s *EventService) Stats() EventStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retained := s.newestFirst()
	bySeverity := lo.SliceToMap(domain.EventSeverities(), func(sev domain.EventSeverity) (domain.EventSeverity, int) {
		return sev, 0
	})
	for sev, n := range lo.CountValuesBy(retained, func(e domain.Event) domain.EventSeverity { return e.Severity }) {
		bySeverity[sev] = n
	}

	return EventStats{
		BufferSize:     len(s.ring),
		BufferUsed:     len(retained),
		LastSeq:        s.nextSeq - 1,
		SSESubscribers: len(s.subs),
		Dropped:        s.dropped,
		BySeverity:     bySeverity,
	}
}
