package domain

import (
	"net/url"
	"path"
	"strings"
)

// SourceType identifies which signal produced a candidate.
type SourceType string

const (
	SourceVideo    SourceType = "video"
	SourceAudio    SourceType = "audio"
	SourceIframe   SourceType = "iframe"
	SourceLink     SourceType = "link"
	SourceManifest SourceType = "manifest"
	SourceNetwork  SourceType = "network"
)

// Valid reports whether the source type is one the extension sends.
func (s SourceType) Valid() bool {
	switch s {
	case SourceVideo, SourceAudio, SourceIframe, SourceLink, SourceManifest, SourceNetwork:
		return true
	}
	return false
}

// Candidate is a detected URL that has not been validated as media yet.
type Candidate struct {
	URL               string
	SourceType        SourceType
	SuggestedFilename string

	parsed *url.URL
}

// NewCandidate parses rawURL and returns an immutable candidate.
// An unknown source type is treated as a plain link.
func NewCandidate(rawURL string, source SourceType, filename string) (Candidate, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Candidate{}, ErrInvalidURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Candidate{}, NewMediaError(rawURL, "parse candidate", ErrInvalidURL)
	}
	// blob: locators carry no host but are still well-formed candidates.
	if u.Scheme == "" || (u.Host == "" && u.Scheme != "blob") {
		return Candidate{}, NewMediaError(rawURL, "parse candidate", ErrInvalidURL)
	}
	if !source.Valid() {
		source = SourceLink
	}
	return Candidate{
		URL:               rawURL,
		SourceType:        source,
		SuggestedFilename: strings.TrimSpace(filename),
		parsed:            u,
	}, nil
}

// Host returns the candidate's lower-cased hostname.
func (c Candidate) Host() string {
	if c.parsed == nil {
		return ""
	}
	return strings.ToLower(c.parsed.Hostname())
}

// LastPathSegment returns the final non-empty path segment, or "media".
func LastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "media"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "media"
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return base
}
