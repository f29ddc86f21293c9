package worker

import (
	"math"
	"time"

	"liguns/internal/models"
)

// RetryPolicy defines the retry cap and the exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// TransitionKind tags the result of applying the policy to a failure.
type TransitionKind int

const (
	// TransitionRetry keeps the entry QUEUED with NextCount retries used.
	TransitionRetry TransitionKind = iota
	// TransitionTerminal moves the entry to Status and stops.
	TransitionTerminal
)

// Transition is the state change a failed attempt produces.
type Transition struct {
	Kind      TransitionKind
	NextCount int
	Status    string
}

// Decide applies the state machine to a failed attempt of an entry that
// has already used retryCount retries.
func (r RetryPolicy) Decide(c Classification, retryCount int) Transition {
	if c == Fatal || retryCount >= r.MaxRetries {
		return Transition{Kind: TransitionTerminal, NextCount: retryCount, Status: models.StatusFailed}
	}
	return Transition{Kind: TransitionRetry, NextCount: retryCount + 1, Status: models.StatusQueued}
}
