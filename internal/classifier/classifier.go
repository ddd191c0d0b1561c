// Package classifier decides whether a detected URL is a downloadable media asset.
package classifier

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/iconidentify/canvasgrab/internal/config"
	"github.com/iconidentify/canvasgrab/internal/domain"
)

// Rule names reported in Classification.Rule.
const (
	RuleMalformed      = "malformed-url"
	RuleBlob           = "blob-locator"
	RuleDRM            = "drm-marker"
	RuleSegment        = "stream-segment"
	RuleStaticAsset    = "static-asset"
	RuleNoMatch        = "no-media-pattern"
	RuleContentType    = "response-content-type"
	RuleManifestFetch  = "manifest-fetch"
	RuleElementHint    = "element-hint"
	RuleMediaExtension = "media-extension"
	RuleManifest       = "manifest"
	RuleMediaPath      = "media-path"
	RuleMediaHost      = "media-host"
	RuleQueryType      = "content-type-query"
)

// Manifest content types for HLS and DASH playlists.
var manifestContentTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
	"audio/mpegurl":                 true,
	"audio/x-mpegurl":               true,
	"application/dash+xml":          true,
}

// Segment content types for adaptive stream fragments.
var segmentContentTypes = map[string]bool{
	"video/mp2t":        true,
	"video/iso.segment": true,
	"audio/iso.segment": true,
}

// Classifier evaluates URLs against ordered invalid and valid rule sets.
type Classifier struct {
	mediaHosts []string
	validRules []Rule
}

// New creates a classifier. Vendor media hosts come from configuration.
func New(cfg config.DetectionConfig) *Classifier {
	hosts := make([]string, 0, len(cfg.MediaHosts))
	for _, h := range cfg.MediaHosts {
		h = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "."))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	c := &Classifier{mediaHosts: hosts}
	c.validRules = []Rule{
		{Name: RuleMediaExtension, Match: func(raw string, _ *url.URL) bool { return mediaExtRe.MatchString(raw) }},
		{Name: RuleManifest, Match: func(raw string, u *url.URL) bool {
			return manifestExtRe.MatchString(raw) || isManifestSegment(u)
		}},
		{Name: RuleMediaPath, Match: func(_ string, u *url.URL) bool {
			return mediaPathRe.MatchString(u.Path) || canvasFileRe.MatchString(u.Path) || courseFileRe.MatchString(u.Path)
		}},
		{Name: RuleMediaHost, Match: func(_ string, u *url.URL) bool { return c.isMediaHost(u.Hostname()) }},
		{Name: RuleQueryType, Match: func(raw string, _ *url.URL) bool { return contentTypeRe.MatchString(raw) }},
	}
	return c
}

func (c *Classifier) isMediaHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range c.mediaHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// isManifestSegment reports whether the last path segment names a playlist
// endpoint such as ".../v/manifest" or ".../manifest(format=m3u8)".
func isManifestSegment(u *url.URL) bool {
	seg := strings.ToLower(path.Base(u.Path))
	return strings.Contains(seg, "manifest") && pathExtension(u) == ""
}

// Classify decides what a URL is from the URL alone.
//
// Precedence: blob locators, DRM markers, stream fragments, invalid patterns,
// valid patterns. Anything left is not media.
func (c *Classifier) Classify(raw string) domain.Classification {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return reject(domain.VerdictRejectedNonMedia, RuleMalformed, "malformed url")
	}

	if strings.EqualFold(u.Scheme, "blob") {
		return reject(domain.VerdictRejectedTransient, RuleBlob, "blob locator is only valid inside the page")
	}

	if drmRe.MatchString(u.Path) {
		return reject(domain.VerdictRejectedDRM, RuleDRM, domain.DRMAdvisory)
	}

	if res, ok := fragmentVerdict(u); ok {
		return res
	}

	for _, r := range invalidRules {
		if r.Match(raw, u) {
			return reject(domain.VerdictRejectedNonMedia, r.Name, "matches non-media pattern "+r.Name)
		}
	}

	for _, r := range c.validRules {
		if !r.Match(raw, u) {
			continue
		}
		kind := domain.MediaKindGeneric
		switch r.Name {
		case RuleManifest:
			kind = domain.MediaKindManifest
		case RuleMediaExtension:
			kind = kindFromMatch(raw)
		case RuleQueryType:
			if strings.Contains(strings.ToLower(contentTypeRe.FindString(raw)), "audio") {
				kind = domain.MediaKindAudio
			} else {
				kind = domain.MediaKindVideo
			}
		}
		return domain.Classification{Verdict: domain.VerdictAccepted, Kind: kind, Rule: r.Name}
	}

	return reject(domain.VerdictRejectedNonMedia, RuleNoMatch, "no media pattern matched")
}

// ClassifyCandidate classifies a DOM-sourced candidate. A video or audio
// element is itself a media signal, so such candidates are accepted when the
// only objection is a missing media pattern.
func (c *Classifier) ClassifyCandidate(cand domain.Candidate) domain.Classification {
	res := c.Classify(cand.URL)
	if res.Verdict != domain.VerdictRejectedNonMedia || res.Rule != RuleNoMatch {
		return res
	}
	switch cand.SourceType {
	case domain.SourceVideo:
		return domain.Classification{Verdict: domain.VerdictAccepted, Kind: domain.MediaKindVideo, Rule: RuleElementHint}
	case domain.SourceAudio:
		return domain.Classification{Verdict: domain.VerdictAccepted, Kind: domain.MediaKindAudio, Rule: RuleElementHint}
	}
	return res
}

// ClassifyResponse classifies a URL observed on the network together with
// the response Content-Type. Segment and manifest fetches are fragments of
// an adaptive stream and never complete assets.
func (c *Classifier) ClassifyResponse(raw, contentType string) domain.Classification {
	mediaType := ParseMediaType(contentType)

	if segmentContentTypes[mediaType] {
		return reject(domain.VerdictRejectedTransient, RuleSegment, "segment content type "+mediaType)
	}

	res := c.Classify(raw)
	if res.Verdict == domain.VerdictRejectedDRM || res.Verdict == domain.VerdictRejectedTransient {
		return res
	}

	if manifestContentTypes[mediaType] || (res.Accepted() && res.Kind == domain.MediaKindManifest) {
		return reject(domain.VerdictRejectedTransient, RuleManifestFetch, "manifest fetched by the player")
	}

	if res.Accepted() {
		return res
	}

	if res.Rule == RuleNoMatch {
		switch {
		case strings.HasPrefix(mediaType, "video/"):
			return domain.Classification{Verdict: domain.VerdictAccepted, Kind: domain.MediaKindVideo, Rule: RuleContentType}
		case strings.HasPrefix(mediaType, "audio/"):
			return domain.Classification{Verdict: domain.VerdictAccepted, Kind: domain.MediaKindAudio, Rule: RuleContentType}
		}
	}
	return res
}

// ParseMediaType returns the lower-cased media type of a Content-Type header
// without parameters.
func ParseMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return strings.ToLower(mt)
}

// IsManifestContentType reports whether a Content-Type names an HLS or DASH playlist.
func IsManifestContentType(contentType string) bool {
	return manifestContentTypes[ParseMediaType(contentType)]
}

// fragmentVerdict applies the stream-fragment filter.
func fragmentVerdict(u *url.URL) (domain.Classification, bool) {
	switch {
	case hasExtension(u, segmentExtensions), chunkSegmentRe.MatchString(u.Path):
		return reject(domain.VerdictRejectedTransient, RuleSegment, "adaptive stream segment"), true
	case hasExtension(u, staticExtensions):
		return reject(domain.VerdictRejectedNonMedia, RuleStaticAsset, "static page asset"), true
	}
	return domain.Classification{}, false
}

func reject(v domain.Verdict, rule, reason string) domain.Classification {
	return domain.Classification{Verdict: v, Rule: rule, Reason: reason}
}
