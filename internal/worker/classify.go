package worker

import (
	"errors"
	"strings"

	"liguns/internal/meta"
)

// Classification is the retry verdict for a failed publish.
type Classification int

const (
	// Temporary failures are retried while the entry has retries left.
	Temporary Classification = iota
	// Fatal failures end the entry immediately. Credential problems land here.
	Fatal
)

func (c Classification) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "temporary"
}

var fatalPatterns = []string{
	"oauth",
	"authentication expired",
	"token",
	"permission",
	"invalid credentials",
	"account not found",
	"business account",
	"invalid app",
}

var temporaryPatterns = []string{
	"timeout",
	"network",
	"500",
	"502",
	"503",
	"504",
	"connection",
	"temporary",
	"rate limit",
	"try again",
}

// Classify maps an upstream error message to a retry verdict.
// Fatal patterns win over temporary ones; unknown messages are Temporary.
func Classify(msg string) Classification {
	lower := strings.ToLower(msg)

	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return Fatal
		}
	}
	for _, p := range temporaryPatterns {
		if strings.Contains(lower, p) {
			return Temporary
		}
	}
	return Temporary
}

// classifyError treats local precondition failures as Fatal since a retry
// cannot fix them. Everything else is classified by message.
func classifyError(err error) Classification {
	var ve *meta.ValidationError
	if errors.As(err, &ve) || errors.Is(err, meta.ErrUnsupportedPlatform) {
		return Fatal
	}
	return Classify(err.Error())
}
