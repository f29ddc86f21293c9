package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"liguns/internal/domain"
	"liguns/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// breaker tracks whether the primary backend is down and when to probe it.
type breaker struct {
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	logger    *zerolog.Logger
	name      string
}

// usePrimary reports whether the call should go to the primary.
func (b *breaker) usePrimary() bool {
	if !b.isDown.Load() {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Since(b.lastCheck) > recoveryInterval
}

func (b *breaker) fail(err error) {
	if !b.isDown.Load() {
		b.logger.Error().Err(err).Str("backend", b.name).Msg("primary backend failed, falling back to memory")
	}
	b.isDown.Store(true)
	b.mu.Lock()
	b.lastCheck = time.Now()
	b.mu.Unlock()
}

func (b *breaker) succeed() {
	if b.isDown.Swap(false) {
		b.logger.Info().Str("backend", b.name).Msg("primary backend recovered")
	}
}

func newBreaker(name string, logger *zerolog.Logger) *breaker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &breaker{name: name, logger: logger}
}

// FailoverRunLocker uses Redis while it is reachable and a process-local
// lock otherwise.
type FailoverRunLocker struct {
	primary  domain.RunLocker
	fallback domain.RunLocker
	*breaker
}

func NewFailoverRunLocker(primary, fallback domain.RunLocker, logger *zerolog.Logger) *FailoverRunLocker {
	return &FailoverRunLocker{primary: primary, fallback: fallback, breaker: newBreaker("run_lock", logger)}
}

func (r *FailoverRunLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if r.usePrimary() {
		token, ok, err := r.primary.Acquire(ctx, key, ttl)
		if err == nil {
			r.succeed()
			return token, ok, nil
		}
		r.fail(err)
	}
	return r.fallback.Acquire(ctx, key, ttl)
}

// Release tries both backends; the token only matches the one that issued it.
func (r *FailoverRunLocker) Release(ctx context.Context, key, token string) error {
	_ = r.fallback.Release(ctx, key, token)
	if err := r.primary.Release(ctx, key, token); err != nil {
		r.fail(err)
	}
	return nil
}

// FailoverDeadLetters writes to Redis while it is reachable.
type FailoverDeadLetters struct {
	primary  domain.DeadLetterSink
	fallback domain.DeadLetterSink
	*breaker
}

func NewFailoverDeadLetters(primary, fallback domain.DeadLetterSink, logger *zerolog.Logger) *FailoverDeadLetters {
	return &FailoverDeadLetters{primary: primary, fallback: fallback, breaker: newBreaker("dead_letters", logger)}
}

func (r *FailoverDeadLetters) PushDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	if r.usePrimary() {
		err := r.primary.PushDeadLetter(ctx, dl)
		if err == nil {
			r.succeed()
			return nil
		}
		r.fail(err)
	}
	return r.fallback.PushDeadLetter(ctx, dl)
}

// DeadLetters merges both lists, primary first.
func (r *FailoverDeadLetters) DeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	var out []*models.DeadLetter
	if r.usePrimary() {
		items, err := r.primary.DeadLetters(ctx, limit)
		if err == nil {
			r.succeed()
			out = append(out, items...)
		} else {
			r.fail(err)
		}
	}
	local, err := r.fallback.DeadLetters(ctx, limit)
	if err != nil {
		return out, err
	}
	out = append(out, local...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
