package worker

import (
	"errors"
	"fmt"

	"liguns/internal/meta"
)

var (
	// ErrInvalidEntry is returned for an entry whose post or account no
	// longer exists.
	ErrInvalidEntry = &meta.ValidationError{Reason: "Missing post or account data"}

	// ErrUnsupportedPlatform is wrapped when the account platform has no publish path.
	ErrUnsupportedPlatform = meta.ErrUnsupportedPlatform

	// ErrRunInProgress is returned when another run holds the run lock.
	ErrRunInProgress = errors.New("publish run already in progress")

	// ErrEntryBusy is returned by PublishNow when a run holds the entry.
	ErrEntryBusy = errors.New("schedule entry is being processed")
)

// InfrastructureError is a data store failure that aborts a whole run.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }
