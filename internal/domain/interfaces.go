package domain

import (
	"context"
	"time"

	"liguns/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ScheduleRepository is the persistence surface of the publish job.
type ScheduleRepository interface {
	DueEntries(ctx context.Context, now time.Time, limit int) ([]*models.DueEntry, error)
	GetDueEntry(ctx context.Context, id string) (*models.DueEntry, error)
	ClaimEntry(ctx context.Context, id, token string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, id, token string) error
	MarkPublished(ctx context.Context, id, token, platformPostID, response string, now time.Time) error
	MarkFailed(ctx context.Context, id, token, errorLog, response string, now time.Time) error
	MarkRetry(ctx context.Context, id, token string, newCount int, errorLog, response string, nextAttempt *time.Time, now time.Time) error
	CountUpcoming(ctx context.Context, from, to time.Time) (int, error)
	CreateSchedule(ctx context.Context, s *models.ScheduleEntry) error
	EvergreenPool(ctx context.Context, limit int) ([]*models.Post, error)
	FirstActiveAccount(ctx context.Context, userID string) (*models.Account, error)
	ExpiringAccounts(ctx context.Context, before time.Time) ([]*models.Account, error)
	GetWebsite(ctx context.Context, id string) (*models.Website, error)
}

// Repository is the full store used by the scheduling and API layers.
type Repository interface {
	ScheduleRepository

	CreateWebsite(ctx context.Context, w *models.Website) error
	ListWebsites(ctx context.Context, userID string) ([]*models.Website, error)
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]*models.Account, error)
	CreatePost(ctx context.Context, p *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	GetSchedule(ctx context.Context, id string) (*models.ScheduleEntry, error)
	CreatePostWithSchedules(ctx context.Context, p *models.Post, entries []*models.ScheduleEntry) error
	CancelSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context, f models.ScheduleFilter) ([]*models.ScheduleEntry, error)
}

// RunLocker serializes publish runs across processes. Acquire returns a
// token to pass to Release, or ok=false when another holder is active.
type RunLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// DeadLetterSink keeps entries that reached FAILED.
type DeadLetterSink interface {
	PushDeadLetter(ctx context.Context, dl *models.DeadLetter) error
	DeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// Notifier reports run outcomes to operators.
type Notifier interface {
	NotifyRun(ctx context.Context, summary *models.JobSummary)
	NotifyExpiringTokens(ctx context.Context, accounts []*models.Account)
}
