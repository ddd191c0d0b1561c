// Package ledger tracks which media URLs have already been captured.
package ledger

import (
	"slices"
	"sync"
)

// Ledger is the deduplication set plus the captured-URL list in detection
// order. It lives for the lifetime of the process and is emptied by Clear.
type Ledger struct {
	mu   sync.RWMutex
	seen map[string]struct{}
	urls []string
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		seen: make(map[string]struct{}),
	}
}

// HasSeen reports whether url is already in the ledger.
func (l *Ledger) HasSeen(url string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.seen[url]
	return ok
}

// MarkSeen records url. Marking a URL twice is a no-op.
func (l *Ledger) MarkSeen(url string) {
	l.MarkIfNew(url)
}

// MarkIfNew records url and returns true if it was not already present.
// The check and the insert happen under one lock, so two concurrent
// detections of the same URL produce exactly one true.
func (l *Ledger) MarkIfNew(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[url]; ok {
		return false
	}
	l.seen[url] = struct{}{}
	l.urls = append(l.urls, url)
	return true
}

// Forget removes url so a later detection can capture it again. It reports
// whether url was present.
func (l *Ledger) Forget(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[url]; !ok {
		return false
	}
	delete(l.seen, url)
	l.urls = slices.DeleteFunc(l.urls, func(u string) bool { return u == url })
	return true
}

// URLs returns a copy of the captured URLs in detection order.
func (l *Ledger) URLs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, len(l.urls))
	copy(out, l.urls)
	return out
}

// Len returns the number of captured URLs.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.urls)
}

// Clear empties the ledger so previously captured URLs can be processed again.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seen = make(map[string]struct{})
	l.urls = nil
}
