// Package credentials holds browser session cookies synced from the extension
// so the server can make the same credentialed requests the browser would.
package credentials

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultTTL is how long synced cookies are trusted. The extension resyncs on page load.
const DefaultTTL = time.Hour

// BrowserCredentials are the cookies a logged-in browser sends to one host.
type BrowserCredentials struct {
	Host      string    `json:"host"`
	Cookies   string    `json:"cookies"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsValid checks if the credentials are present and not expired.
func (bc *BrowserCredentials) IsValid() bool {
	if bc == nil || bc.Cookies == "" {
		return false
	}
	return time.Now().Before(bc.ExpiresAt)
}

// Store maps hosts to browser credentials with thread-safe access.
type Store struct {
	mu     sync.RWMutex
	byHost map[string]*BrowserCredentials
}

// NewStore creates an empty credential store.
func NewStore() *Store {
	return &Store{
		byHost: make(map[string]*BrowserCredentials),
	}
}

// Set stores credentials for creds.Host, replacing any previous value.
func (s *Store) Set(creds BrowserCredentials) {
	creds.Host = normalizeHost(creds.Host)
	if creds.Host == "" {
		return
	}
	if creds.UpdatedAt.IsZero() {
		creds.UpdatedAt = time.Now()
	}
	if creds.ExpiresAt.IsZero() {
		creds.ExpiresAt = creds.UpdatedAt.Add(DefaultTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHost[creds.Host] = &creds
}

// CookieFor returns the cookie header value to send to rawURL. Credentials
// synced for a parent domain apply to its subdomains.
func (s *Store) CookieFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := normalizeHost(u.Hostname())

	s.mu.RLock()
	defer s.mu.RUnlock()

	for h := host; h != ""; h = parentDomain(h) {
		if creds, ok := s.byHost[h]; ok && creds.IsValid() {
			return creds.Cookies
		}
	}
	return ""
}

// Status is the non-secret view of stored credentials.
type Status struct {
	Host            string    `json:"host"`
	UpdatedAt       time.Time `json:"updated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	IsExpired       bool      `json:"is_expired"`
	CookieStringLen int       `json:"cookie_string_len"`
}

// Status lists every stored host, sorted by host name.
func (s *Store) Status() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := lo.MapToSlice(s.byHost, func(host string, c *BrowserCredentials) Status {
		return Status{
			Host:            host,
			UpdatedAt:       c.UpdatedAt,
			ExpiresAt:       c.ExpiresAt,
			IsExpired:       !c.IsValid(),
			CookieStringLen: len(c.Cookies),
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Clear removes all stored credentials.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHost = make(map[string]*BrowserCredentials)
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimPrefix(h, ".")
}

// parentDomain drops the leftmost label. It stops at the registrable domain
// so a bare TLD never matches.
func parentDomain(h string) string {
	i := strings.Index(h, ".")
	if i < 0 {
		return ""
	}
	parent := h[i+1:]
	if !strings.Contains(parent, ".") {
		return ""
	}
	return parent
}
