package meta

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrImageRequired is returned before any network call when an
	// Instagram publish has no image.
	ErrImageRequired = &ValidationError{Reason: "Instagram requires an image"}

	// ErrUnsupportedPlatform is wrapped when an account's platform has no publish path.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// ValidationError is a precondition failure detected locally.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// PublishError is a rejection from the Graph API. Raw keeps the upstream
// text verbatim; Hint is a readable cause when one is recognised.
type PublishError struct {
	Platform   string
	Phase      string
	StatusCode int
	Hint       string
	Raw        string
}

func (e *PublishError) Error() string {
	if e.Hint == "" || e.Hint == e.Raw {
		return e.Raw
	}
	return e.Hint + ": " + e.Raw
}

func newPublishError(platform, phase string, status int, raw string) *PublishError {
	return &PublishError{
		Platform:   platform,
		Phase:      phase,
		StatusCode: status,
		Hint:       hintFor(platform, raw),
		Raw:        raw,
	}
}

// hintFor translates well-known upstream fragments. Checks are ordered and
// case-sensitive to mirror the wording the Graph API uses.
func hintFor(platform, raw string) string {
	switch platform {
	case "facebook":
		switch {
		case strings.Contains(raw, "ratio"):
			return "Image ratio not supported by Facebook"
		case strings.Contains(raw, "OAuthException"):
			return "Facebook authentication expired. Please reconnect your account."
		case strings.Contains(raw, "permissions"):
			return "Insufficient permissions to post to this Page"
		}
	case "instagram":
		switch {
		case strings.Contains(raw, "aspect ratio"):
			return "Image aspect ratio must be between 4:5 and 1.91:1 for Instagram"
		case strings.Contains(raw, "resolution"):
			return "Image resolution not supported. Min 320px, recommended 1080px"
		case strings.Contains(raw, "url"):
			return "Image URL must be publicly accessible by Instagram"
		case strings.Contains(raw, "OAuthException"):
			return "Instagram authentication expired. Please reconnect your account."
		case strings.Contains(raw, "permissions"):
			return "Insufficient permissions to post to Instagram"
		case strings.Contains(raw, "Business"):
			return "Instagram account must be a Business or Creator account"
		}
	}
	return ""
}

// transportError wraps a failure that never produced a Graph response.
func transportError(platform, phase string, err error) *PublishError {
	return &PublishError{
		Platform: platform,
		Phase:    phase,
		Raw:      fmt.Sprintf("%s %s request failed: %v", platform, phase, err),
	}
}
