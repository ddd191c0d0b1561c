package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventID identifies an event on the wire. It is the decimal sequence
// number, which is what SSE clients echo back in Last-Event-ID.
type EventID string

func (id EventID) String() string {
	return string(id)
}

// EventSeverity grades an event for the popup.
type EventSeverity string

const (
	EventSeverityInfo    EventSeverity = "info"
	EventSeverityWarning EventSeverity = "warning"
	EventSeverityError   EventSeverity = "error"
	EventSeveritySuccess EventSeverity = "success"
)

// EventSeverities lists every severity in display order.
func EventSeverities() []EventSeverity {
	return []EventSeverity{EventSeverityInfo, EventSeverityWarning, EventSeverityError, EventSeveritySuccess}
}

// ParseEventSeverity accepts a severity name in any case.
func ParseEventSeverity(s string) (EventSeverity, error) {
	for _, sev := range EventSeverities() {
		if strings.EqualFold(s, string(sev)) {
			return sev, nil
		}
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidEventQuery, s)
}

// EventCategory groups events by the subsystem that raised them.
type EventCategory string

const (
	EventCategoryDetection EventCategory = "detection"
	EventCategoryDownload  EventCategory = "download"
	EventCategorySettings  EventCategory = "settings"
	EventCategorySystem    EventCategory = "system"
)

// EventCategories lists every category.
func EventCategories() []EventCategory {
	return []EventCategory{EventCategoryDetection, EventCategoryDownload, EventCategorySettings, EventCategorySystem}
}

// ParseEventCategory accepts a category name in any case.
func ParseEventCategory(s string) (EventCategory, error) {
	for _, cat := range EventCategories() {
		if strings.EqualFold(s, string(cat)) {
			return cat, nil
		}
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrInvalidEventQuery, s)
}

// Event is a detection, download, settings or system notification.
// Seq is assigned by the event feed and increases by one per event.
type Event struct {
	ID        EventID         `json:"id"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  EventSeverity   `json:"severity"`
	Category  EventCategory   `json:"category"`
	Message   string          `json:"message"`
	Source    string          `json:"source,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// NewEvent builds an unsequenced event.
func NewEvent(severity EventSeverity, category EventCategory, source, message string, metadata EventMetadata) Event {
	return Event{
		Severity: severity,
		Category: category,
		Source:   source,
		Message:  message,
		Metadata: metadata.ToJSON(),
	}
}

// EventMetadata is free-form context attached to an event.
type EventMetadata map[string]interface{}

// ToJSON encodes the metadata, or returns nil when empty or unencodable.
func (m EventMetadata) ToJSON() json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// EventEmitter is implemented by anything that accepts events.
type EventEmitter interface {
	Emit(event Event)
}

// EventFilter narrows an event query. Zero fields match everything.
type EventFilter struct {
	Severity EventSeverity
	Category EventCategory
	Source   string
	Since    time.Time
	Until    time.Time
	Text     string
}

// Match reports whether e passes every set field of the filter. Text is a
// case-insensitive substring match on the message.
func (f EventFilter) Match(e Event) bool {
	switch {
	case f.Severity != "" && e.Severity != f.Severity:
		return false
	case f.Category != "" && e.Category != f.Category:
		return false
	case f.Source != "" && e.Source != f.Source:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.Timestamp.After(f.Until):
		return false
	case f.Text != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Text)):
		return false
	}
	return true
}

// EventQuery is a filtered page request.
type EventQuery struct {
	Filter EventFilter
	Limit  int
	Offset int
}

// EventPage is one page of matching events, most recent first.
type EventPage struct {
	Events  []Event
	Total   int
	HasMore bool
}
