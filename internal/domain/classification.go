package domain

// Verdict is the outcome of classifying a URL.
type Verdict string

const (
	VerdictAccepted          Verdict = "accepted"
	VerdictRejectedNonMedia  Verdict = "rejected_non_media"
	VerdictRejectedDRM       Verdict = "rejected_drm"
	VerdictRejectedTransient Verdict = "rejected_transient"
)

// MediaKind describes what an accepted URL points at.
type MediaKind string

const (
	MediaKindVideo    MediaKind = "video"
	MediaKindAudio    MediaKind = "audio"
	MediaKindManifest MediaKind = "manifest"
	MediaKindGeneric  MediaKind = "media"
)

// Classification is the result of running a URL through the classifier rules.
type Classification struct {
	Verdict Verdict
	Kind    MediaKind // set only when accepted
	Rule    string    // name of the rule that decided
	Reason  string
}

// Accepted reports whether the URL was accepted as media.
func (c Classification) Accepted() bool {
	return c.Verdict == VerdictAccepted
}

// Err maps a rejection to its sentinel error. Accepted results return nil.
func (c Classification) Err() error {
	switch c.Verdict {
	case VerdictAccepted:
		return nil
	case VerdictRejectedDRM:
		return ErrDRMProtected
	case VerdictRejectedTransient:
		return ErrTransientURL
	default:
		return ErrNotMedia
	}
}

// DRMAdvisory is shown to the user when a stream is DRM protected.
const DRMAdvisory = "This media is DRM protected and cannot be downloaded. Screen capture software is the only remaining option."
