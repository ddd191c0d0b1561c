package classifier

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/iconidentify/canvasgrab/internal/domain"
)

// Rule is a named URL predicate. Rules are evaluated in slice order.
type Rule struct {
	Name  string
	Match func(raw string, u *url.URL) bool
}

var (
	audioExtensions    = []string{"mp3", "wav", "flac", "aac", "m4a", "oga", "opus"}
	videoExtensions    = []string{"mp4", "webm", "ogg", "ogv", "m4v", "mkv", "avi", "mov", "wmv", "flv", "3gp"}
	manifestExtensions = []string{"m3u8", "mpd"}
	segmentExtensions  = []string{"m4s", "ts"}
	staticExtensions   = []string{"js", "css", "woff", "woff2", "ttf", "png", "jpg", "jpeg", "gif", "svg", "ico", "webp"}
)

var (
	mediaExtRe     = regexp.MustCompile(`(?i)\.(` + strings.Join(slices.Concat(videoExtensions, audioExtensions), "|") + `)(\?|&|#|$)`)
	manifestExtRe  = regexp.MustCompile(`(?i)\.(m3u8|mpd)(\?|&|#|$)`)
	mediaPathRe    = regexp.MustCompile(`(?i)/(media|videos?|audio)/`)
	canvasFileRe   = regexp.MustCompile(`(?i)/files/\d+/download`)
	courseFileRe   = regexp.MustCompile(`(?i)/courses/\d+/files/`)
	contentTypeRe  = regexp.MustCompile(`(?i)[?&]content[-_]type=(audio|video)(/|%2f)`)
	apiRe          = regexp.MustCompile(`(?i)/api/`)
	metadataRe     = regexp.MustCompile(`(?i)/(metadata|annotations?|stats|info|sets)(/|\?|&|#|$)`)
	thumbnailRe    = regexp.MustCompile(`(?i)/(thumbnails?|thumbs?|previews?|posters?)(/|\?|&|#|$|\.)`)
	perspectiveRe  = regexp.MustCompile(`(?i)[?&]perspective=`)
	drmRe          = regexp.MustCompile(`(?i)/drm(/|$)`)
	chunkSegmentRe = regexp.MustCompile(`(?i)/chunk-[^/]*$`)
)

// invalidRules reject API endpoints, metadata, thumbnails and listings.
// They run before validRules so a URL matching both is rejected.
var invalidRules = []Rule{
	{Name: "api-endpoint", Match: func(_ string, u *url.URL) bool { return apiRe.MatchString(u.Path) }},
	{Name: "metadata-endpoint", Match: func(_ string, u *url.URL) bool { return metadataRe.MatchString(u.Path) }},
	{Name: "thumbnail", Match: func(_ string, u *url.URL) bool { return thumbnailRe.MatchString(u.Path) }},
	{Name: "perspective-listing", Match: func(raw string, _ *url.URL) bool { return perspectiveRe.MatchString(raw) }},
}

// pathExtension returns the lower-cased extension of the URL path without the dot.
func pathExtension(u *url.URL) string {
	p := u.Path
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	i := strings.LastIndex(p, ".")
	if i < 0 || i == len(p)-1 {
		return ""
	}
	return strings.ToLower(p[i+1:])
}

func hasExtension(u *url.URL, exts []string) bool {
	ext := pathExtension(u)
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// kindForExtension maps a file extension to a media kind.
func kindForExtension(ext string) domain.MediaKind {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, e := range audioExtensions {
		if e == ext {
			return domain.MediaKindAudio
		}
	}
	for _, e := range videoExtensions {
		if e == ext {
			return domain.MediaKindVideo
		}
	}
	for _, e := range manifestExtensions {
		if e == ext {
			return domain.MediaKindManifest
		}
	}
	return domain.MediaKindGeneric
}

// kindFromMatch extracts the extension captured by mediaExtRe.
func kindFromMatch(raw string) domain.MediaKind {
	m := mediaExtRe.FindStringSubmatch(raw)
	if len(m) < 2 {
		return domain.MediaKindGeneric
	}
	return kindForExtension(m[1])
}
