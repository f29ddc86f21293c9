package models

// Schedule statuses. An entry only ever holds one of these four.
const (
	StatusQueued    = "QUEUED"
	StatusPublished = "PUBLISHED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Platforms a destination account may belong to. Only Facebook and
// Instagram have a publish path.
const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformLinkedIn  = "linkedin"
	PlatformTwitter   = "twitter"
	PlatformGMB       = "gmb"
	PlatformTikTok    = "tiktok"
	PlatformYouTube   = "youtube"
	PlatformPinterest = "pinterest"
)

// Per-entry outcome labels used in job summaries and events.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeRetrying = "retrying"

	// WarnClaimLost marks a publish whose lease expired before the result
	// was stored. Another run may publish the entry again.
	WarnClaimLost = "claim expired before the publish was recorded"
)

const (
	ParseModeMarkdown = "Markdown"
	ParseModeHTML     = "HTML"
)

const (
	// DefaultMaxRetries caps retry_count for a schedule entry.
	DefaultMaxRetries = 3

	// DefaultBatchSize bounds how many due entries one run selects.
	DefaultBatchSize = 50

	// DefaultEvergreenPool bounds the sample the recycler picks from.
	DefaultEvergreenPool = 20

	// DefaultDisplayTimezone is WIB, used for human-facing timestamps only.
	DefaultDisplayTimezone = "Asia/Jakarta"

	// RecycledTag marks entries created by the recycler.
	RecycledTag = "Auto-Recycled Content ♻️"

	// RecycleDetailID and RecycleDetailPlatform label the recycler row in a job summary.
	RecycleDetailID       = "recycle-job"
	RecycleDetailPlatform = "recycler"
	RecycleDetailMessage  = "Auto-Recycled Content Scheduled"

	// NoDueMessage is reported when a run finds nothing to publish.
	NoDueMessage = "No posts due for publishing"
)

// IsKnownPlatform reports whether p is one of the supported platform values.
func IsKnownPlatform(p string) bool {
	switch p {
	case PlatformFacebook, PlatformInstagram, PlatformLinkedIn, PlatformTwitter,
		PlatformGMB, PlatformTikTok, PlatformYouTube, PlatformPinterest:
		return true
	}
	return false
}
