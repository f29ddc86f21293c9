package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"liguns/internal/config"
	"liguns/internal/database"
	"liguns/internal/domain"
	"liguns/internal/events"
	"liguns/internal/meta"
	"liguns/internal/models"
	"liguns/internal/spintax"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	runLockKey       = "publish-run"
	tokenWarnKeyBase = "token-warned:"
)

type triggerKey struct{}

// WithTrigger labels runs started with ctx (cron, ticker, cli).
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok {
		return t
	}
	return "manual"
}

// Publisher sends one entry to its platform.
type Publisher interface {
	Publish(ctx context.Context, req meta.Request) (*meta.Result, error)
}

// JobConfig tunes a PublishJob.
type JobConfig struct {
	Policy             RetryPolicy
	BatchSize          int
	GapThreshold       time.Duration
	EvergreenPool      int
	Recycle            bool
	ClaimTTL           time.Duration
	RunLockTTL         time.Duration
	TokenExpiryWarning time.Duration
	// TokenWarnInterval is the minimum gap between two expiry warnings for
	// the same account.
	TokenWarnInterval time.Duration
}

// JobConfigFromPublisher maps the publisher config section.
func JobConfigFromPublisher(cfg config.PublisherConfig) JobConfig {
	return JobConfig{
		Policy: RetryPolicy{
			MaxRetries:    cfg.MaxRetries,
			InitialDelay:  cfg.BackoffInitial,
			MaxDelay:      cfg.BackoffMax,
			BackoffFactor: cfg.BackoffFactor,
		},
		BatchSize:          cfg.BatchSize,
		GapThreshold:       cfg.GapThreshold,
		EvergreenPool:      cfg.EvergreenPool,
		Recycle:            cfg.Recycle(),
		ClaimTTL:           cfg.ClaimTTL,
		RunLockTTL:         cfg.RunLockTTL,
		TokenExpiryWarning: cfg.TokenExpiryWarning,
		TokenWarnInterval:  cfg.TokenWarnInterval,
	}
}

func (c *JobConfig) applyDefaults() {
	if c.Policy.MaxRetries <= 0 {
		c.Policy.MaxRetries = models.DefaultMaxRetries
	}
	if c.BatchSize <= 0 {
		c.BatchSize = models.DefaultBatchSize
	}
	if c.GapThreshold <= 0 {
		c.GapThreshold = 12 * time.Hour
	}
	if c.EvergreenPool <= 0 {
		c.EvergreenPool = models.DefaultEvergreenPool
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
	if c.RunLockTTL <= 0 {
		c.RunLockTTL = 15 * time.Minute
	}
	if c.TokenWarnInterval <= 0 {
		c.TokenWarnInterval = 24 * time.Hour
	}
}

// EntryResult is the outcome of a publish-now action.
type EntryResult struct {
	ScheduleID string `json:"scheduleId"`
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	PostID     string `json:"postId,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retryCount"`
	Warning    string `json:"warning,omitempty"`
}

// PublishJob publishes due schedule entries, applies the retry policy and
// keeps the queue fed with evergreen content.
type PublishJob struct {
	repo        domain.ScheduleRepository
	publisher   Publisher
	spintax     *spintax.Engine
	locker      domain.RunLocker
	deadLetters domain.DeadLetterSink
	events      domain.EventPublisher
	notifier    domain.Notifier
	cfg         JobConfig
	logger      *zerolog.Logger

	warnMu sync.Mutex
	warned map[string]time.Time

	rndMu    sync.Mutex
	rnd      *rand.Rand
	now      func() time.Time
	newToken func() string
}

type Option func(*PublishJob)

func WithRunLocker(l domain.RunLocker) Option {
	return func(j *PublishJob) { j.locker = l }
}

func WithDeadLetters(d domain.DeadLetterSink) Option {
	return func(j *PublishJob) { j.deadLetters = d }
}

func WithEvents(p domain.EventPublisher) Option {
	return func(j *PublishJob) { j.events = p }
}

func WithNotifier(n domain.Notifier) Option {
	return func(j *PublishJob) { j.notifier = n }
}

// WithRand sets the source used for caption expansion and evergreen picks.
func WithRand(rnd *rand.Rand) Option {
	return func(j *PublishJob) {
		j.rnd = rnd
		j.spintax = spintax.New(rand.New(rand.NewSource(rnd.Int63())))
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *PublishJob) { j.now = now }
}

func NewPublishJob(repo domain.ScheduleRepository, publisher Publisher, cfg JobConfig, logger *zerolog.Logger, opts ...Option) *PublishJob {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cfg.applyDefaults()

	j := &PublishJob{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newToken:  func() string { return uuid.NewString() },
		warned:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.rnd == nil {
		j.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if j.spintax == nil {
		j.spintax = spintax.New(nil)
	}
	return j
}

// Run processes one batch of due entries, recycles evergreen content when
// the queue runs dry and returns the summary. Entry failures never fail the
// run; only data store failures do.
func (j *PublishJob) Run(ctx context.Context) (*models.JobSummary, error) {
	start := j.now()

	if j.locker != nil {
		token, ok, err := j.locker.Acquire(ctx, runLockKey, j.cfg.RunLockTTL)
		switch {
		case err != nil:
			j.logger.Warn().Err(err).Msg("run lock unavailable, relying on entry claims")
		case !ok:
			return nil, ErrRunInProgress
		default:
			defer func() {
				if err := j.locker.Release(context.WithoutCancel(ctx), runLockKey, token); err != nil {
					j.logger.Warn().Err(err).Msg("failed to release run lock")
				}
			}()
		}
	}

	summary := &models.JobSummary{Details: []models.JobDetail{}}

	entries, err := j.repo.DueEntries(ctx, start.UTC(), j.cfg.BatchSize)
	if err != nil {
		return nil, &InfrastructureError{Op: "select due entries", Err: err}
	}
	if len(entries) == 0 {
		summary.Message = models.NoDueMessage
	}

	sites := newSiteNames(j.repo)
	for _, e := range entries {
		if ctx.Err() != nil {
			j.logger.Warn().Err(ctx.Err()).Msg("run cancelled, leaving remaining entries queued")
			break
		}
		detail, ok, err := j.processDue(ctx, e)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		summary.Add(detail)
		if e.Post != nil {
			sites.add(ctx, e.Post.WebsiteID)
		}
	}
	summary.Websites = sites.names

	if j.cfg.Recycle && ctx.Err() == nil {
		if err := j.recycle(ctx, summary); err != nil {
			j.logger.Error().Err(err).Msg("recycling failed")
		}
	}

	expiring := j.expiringAccounts(ctx, summary)

	end := j.now()
	summary.ExecutionTimeMS = end.Sub(start).Milliseconds()
	summary.Timestamp = end.UTC()

	j.logger.Info().
		Int("processed", summary.Processed).
		Int("success", summary.Success).
		Int("failed", summary.Failed).
		Int("retrying", summary.Retrying).
		Int("recycled", summary.Recycled).
		Int64("execution_ms", summary.ExecutionTimeMS).
		Msg("publish run completed")

	if j.notifier != nil {
		j.notifier.NotifyRun(ctx, summary)
		if due := j.dueTokenWarnings(ctx, expiring); len(due) > 0 {
			j.notifier.NotifyExpiringTokens(ctx, due)
		}
	}
	j.publish(events.EventRunCompleted, events.RunEventPayload{
		Trigger:    triggerFrom(ctx),
		Processed:  summary.Processed,
		Success:    summary.Success,
		Failed:     summary.Failed,
		Retrying:   summary.Retrying,
		Recycled:   summary.Recycled,
		DurationMS: summary.ExecutionTimeMS,
	})

	return summary, nil
}

// processDue claims and publishes one entry. It reports false when the
// entry was taken by someone else and must not be counted. A store error
// while claiming aborts the run.
func (j *PublishJob) processDue(ctx context.Context, e *models.DueEntry) (models.JobDetail, bool, error) {
	id := e.Schedule.ID
	token := j.newToken()

	ok, err := j.repo.ClaimEntry(ctx, id, token, j.now().UTC(), j.cfg.ClaimTTL)
	if err != nil {
		return models.JobDetail{}, false, &InfrastructureError{Op: "claim entry", Err: err}
	}
	if !ok {
		j.logger.Debug().Str("schedule_id", id).Msg("entry claimed elsewhere, skipping")
		return models.JobDetail{}, false, nil
	}
	return j.execute(ctx, e, token), true, nil
}

// PublishNow publishes one QUEUED entry immediately, ignoring its schedule
// time and backoff. A publish failure is reported in the result, not as an
// error, and goes through the same retry policy as a scheduled attempt.
func (j *PublishJob) PublishNow(ctx context.Context, id string) (*EntryResult, error) {
	e, err := j.repo.GetDueEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Schedule.Status != models.StatusQueued {
		return nil, database.ErrNotQueued
	}

	token := j.newToken()
	ok, err := j.repo.ClaimEntry(ctx, id, token, j.now().UTC(), j.cfg.ClaimTTL)
	if err != nil {
		return nil, &InfrastructureError{Op: "claim entry", Err: err}
	}
	if !ok {
		return nil, ErrEntryBusy
	}

	d := j.execute(ctx, e, token)
	return &EntryResult{
		ScheduleID: id,
		Success:    d.Status == models.OutcomeSuccess,
		Status:     statusFor(d.Status),
		PostID:     d.PostID,
		Error:      d.Error,
		RetryCount: d.RetryCount,
		Warning:    d.Warning,
	}, nil
}

func statusFor(outcome string) string {
	switch outcome {
	case models.OutcomeSuccess:
		return models.StatusPublished
	case models.OutcomeFailed:
		return models.StatusFailed
	default:
		return models.StatusQueued
	}
}

// execute publishes a claimed entry and persists the resulting transition.
func (j *PublishJob) execute(ctx context.Context, e *models.DueEntry, token string) models.JobDetail {
	started := j.now()
	res, err := j.attempt(ctx, e)
	now := j.now().UTC()
	elapsed := now.Sub(started).Milliseconds()

	s := &e.Schedule
	platform := e.Platform()
	logger := j.logger.With().Str("schedule_id", s.ID).Str("platform", platform).Logger()
	payload := events.EntryEventPayload{
		ScheduleID: s.ID,
		PostID:     s.PostID,
		UserID:     s.UserID,
		Platform:   platform,
		DurationMS: elapsed,
		At:         now,
	}

	if err == nil {
		detail := models.JobDetail{ScheduleID: s.ID, Platform: platform, Status: models.OutcomeSuccess, PostID: res.PostID}
		resp := marshalResponse(map[string]any{"success": true, "postId": res.PostID})
		switch mErr := j.repo.MarkPublished(ctx, s.ID, token, res.PostID, resp, now); {
		case errors.Is(mErr, database.ErrClaimLost):
			logger.Error().Err(mErr).Str("post_id", res.PostID).Dur("claim_ttl", j.cfg.ClaimTTL).
				Msg("published after claim expired, entry may be published again")
			detail.Warning = models.WarnClaimLost
		case mErr != nil:
			logger.Error().Err(mErr).Str("post_id", res.PostID).Msg("published but failed to record state")
		}
		logger.Info().Str("post_id", res.PostID).Bool("image_processed", res.ImageProcessed).Msg("entry published")

		payload.PlatformPostID = res.PostID
		payload.RetryCount = s.RetryCount
		payload.ImageProcessed = res.ImageProcessed
		j.publish(events.EventEntryPublished, payload)

		return detail
	}

	msg := err.Error()
	class := classifyError(err)
	tr := j.cfg.Policy.Decide(class, s.RetryCount)
	payload.ErrorType = class.String()
	payload.Error = msg
	payload.RetryCount = tr.NextCount

	if tr.Kind == TransitionRetry {
		next := now.Add(j.cfg.Policy.NextDelay(tr.NextCount))
		resp := marshalResponse(map[string]any{"error": msg, "errorType": class.String(), "retryCount": tr.NextCount})
		errorLog := fmt.Sprintf("Retry %d/%d: %s", tr.NextCount, j.cfg.Policy.MaxRetries, msg)
		if mErr := j.repo.MarkRetry(ctx, s.ID, token, tr.NextCount, errorLog, resp, &next, now); mErr != nil {
			logger.Error().Err(mErr).Msg("failed to record retry")
		}
		logger.Warn().Str("error", msg).Int("retry_count", tr.NextCount).Str("classification", class.String()).
			Time("next_attempt_at", next).Msg("entry will be retried")
		j.publish(events.EventEntryRetrying, payload)

		return models.JobDetail{ScheduleID: s.ID, Platform: platform, Status: models.OutcomeRetrying, Error: msg, RetryCount: tr.NextCount}
	}

	resp := marshalResponse(map[string]any{"error": msg, "errorType": class.String(), "finalRetryCount": tr.NextCount})
	if mErr := j.repo.MarkFailed(ctx, s.ID, token, msg, resp, now); mErr != nil {
		logger.Error().Err(mErr).Msg("failed to record failure")
	}
	logger.Error().Str("error", msg).Int("retry_count", tr.NextCount).Str("classification", class.String()).Msg("entry failed")
	j.pushDeadLetter(ctx, e, msg, class, tr.NextCount, now)
	j.publish(events.EventEntryFailed, payload)

	return models.JobDetail{ScheduleID: s.ID, Platform: platform, Status: models.OutcomeFailed, Error: msg, RetryCount: tr.NextCount}
}

// attempt resolves the caption and calls the publisher. Panics are turned
// into errors so one entry cannot take down the batch.
func (j *PublishJob) attempt(ctx context.Context, e *models.DueEntry) (res *meta.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while publishing: %v", r)
		}
	}()

	if e.Post == nil || e.Account == nil {
		return nil, ErrInvalidEntry
	}

	caption := e.Schedule.Caption
	if caption == "" {
		caption = j.spintax.Expand(e.Post.Caption)
	}

	return j.publisher.Publish(ctx, meta.Request{
		Platform:    e.Account.Platform,
		AccessToken: e.Account.AccessToken,
		AccountID:   e.Account.AccountID,
		Caption:     caption,
		ImageURL:    e.Post.ImageURL,
		UserID:      e.Schedule.UserID,
		WebsiteID:   e.Post.WebsiteID,
	})
}

func (j *PublishJob) pushDeadLetter(ctx context.Context, e *models.DueEntry, msg string, class Classification, retries int, now time.Time) {
	if j.deadLetters == nil {
		return
	}
	dl := &models.DeadLetter{
		ScheduleID: e.Schedule.ID,
		PostID:     e.Schedule.PostID,
		AccountID:  e.Schedule.AccountID,
		UserID:     e.Schedule.UserID,
		Platform:   e.Platform(),
		Error:      msg,
		ErrorType:  class.String(),
		RetryCount: retries,
		FailedAt:   now,
	}
	if err := j.deadLetters.PushDeadLetter(ctx, dl); err != nil {
		j.logger.Warn().Err(err).Str("schedule_id", e.Schedule.ID).Msg("dead letter push failed")
	}
}

// recycle schedules one random evergreen post for now when nothing is
// queued inside the gap threshold. Missing content or accounts skip quietly.
func (j *PublishJob) recycle(ctx context.Context, summary *models.JobSummary) error {
	now := j.now().UTC()
	upcoming, err := j.repo.CountUpcoming(ctx, now, now.Add(j.cfg.GapThreshold))
	if err != nil {
		return err
	}
	if upcoming > 0 {
		return nil
	}

	pool, err := j.repo.EvergreenPool(ctx, j.cfg.EvergreenPool)
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		j.logger.Debug().Msg("no evergreen content to recycle")
		return nil
	}
	post := pool[j.intn(len(pool))]

	account, err := j.repo.FirstActiveAccount(ctx, post.UserID)
	if errors.Is(err, database.ErrNotFound) {
		j.logger.Debug().Str("user_id", post.UserID).Msg("no active account for evergreen owner")
		return nil
	}
	if err != nil {
		return err
	}

	entry := &models.ScheduleEntry{
		UserID:      post.UserID,
		PostID:      post.ID,
		AccountID:   account.ID,
		ScheduledAt: now,
		Status:      models.StatusQueued,
		ErrorLog:    models.RecycledTag,
	}
	if err := j.repo.CreateSchedule(ctx, entry); err != nil {
		return err
	}

	summary.AddRecycled()
	j.logger.Info().Str("post_id", post.ID).Str("schedule_id", entry.ID).Str("platform", account.Platform).Msg("evergreen content recycled")
	j.publish(events.EventEntryRecycled, events.EntryEventPayload{
		ScheduleID: entry.ID,
		PostID:     post.ID,
		UserID:     post.UserID,
		Platform:   account.Platform,
		At:         now,
	})
	return nil
}

func (j *PublishJob) expiringAccounts(ctx context.Context, summary *models.JobSummary) []*models.Account {
	if j.cfg.TokenExpiryWarning <= 0 {
		return nil
	}
	accounts, err := j.repo.ExpiringAccounts(ctx, j.now().UTC().Add(j.cfg.TokenExpiryWarning))
	if err != nil {
		j.logger.Warn().Err(err).Msg("token expiry check failed")
		return nil
	}
	for _, a := range accounts {
		summary.ExpiringAccounts = append(summary.ExpiringAccounts, a.ID)
	}
	return accounts
}

// dueTokenWarnings drops accounts already warned about within
// TokenWarnInterval. The run locker holds one key per account with the
// interval as TTL, so replicas sharing Redis warn once between them.
func (j *PublishJob) dueTokenWarnings(ctx context.Context, accounts []*models.Account) []*models.Account {
	due := make([]*models.Account, 0, len(accounts))
	for _, a := range accounts {
		if j.markWarned(ctx, a.ID) {
			due = append(due, a)
		}
	}
	return due
}

func (j *PublishJob) markWarned(ctx context.Context, accountID string) bool {
	if j.locker != nil {
		_, ok, err := j.locker.Acquire(ctx, tokenWarnKeyBase+accountID, j.cfg.TokenWarnInterval)
		if err == nil {
			return ok
		}
		j.logger.Warn().Err(err).Str("account_id", accountID).Msg("token warning throttle unavailable, using local state")
	}

	j.warnMu.Lock()
	defer j.warnMu.Unlock()
	now := j.now()
	if last, ok := j.warned[accountID]; ok && now.Sub(last) < j.cfg.TokenWarnInterval {
		return false
	}
	j.warned[accountID] = now
	return true
}

func (j *PublishJob) publish(eventType string, payload any) {
	if j.events == nil {
		return
	}
	if err := j.events.PublishJSON(eventType, payload); err != nil {
		j.logger.Warn().Err(err).Str("event", eventType).Msg("event publish failed")
	}
}

func (j *PublishJob) intn(n int) int {
	j.rndMu.Lock()
	defer j.rndMu.Unlock()
	return j.rnd.Intn(n)
}

func marshalResponse(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// siteNames collects website names for the run report, once each.
type siteNames struct {
	repo  domain.ScheduleRepository
	seen  map[string]bool
	names []string
}

func newSiteNames(repo domain.ScheduleRepository) *siteNames {
	return &siteNames{repo: repo, seen: map[string]bool{}}
}

func (s *siteNames) add(ctx context.Context, websiteID string) {
	if websiteID == "" || s.seen[websiteID] {
		return
	}
	s.seen[websiteID] = true
	w, err := s.repo.GetWebsite(ctx, websiteID)
	if err != nil || w.Name == "" {
		return
	}
	s.names = append(s.names, w.Name)
}
