package worker

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"liguns/internal/config"
	"liguns/internal/database"
	"liguns/internal/events"
	"liguns/internal/meta"
	"liguns/internal/models"
	"liguns/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// graphServer answers Facebook photo posts by page id.
func graphServer(t *testing.T) *httptest.Server {
	t.Helper()
	reply := func(w http.ResponseWriter, status int, payload any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v19.0/p-ok/photos", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, map[string]any{"id": "fb_1", "post_id": "page_fb_1"})
	})
	mux.HandleFunc("POST /v19.0/p-fatal/photos", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusBadRequest, map[string]any{"error": map[string]any{
			"message": "Error validating access token: Session has expired", "type": "OAuthException", "code": 190,
		}})
	})
	mux.HandleFunc("POST /v19.0/p-temp/photos", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{
			"message": "Connection timeout while reaching upstream", "type": "GraphMethodException", "code": 2,
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type jobFixture struct {
	db        *database.DB
	post      *models.Post
	website   *models.Website
	dlq       *repository.MemoryDeadLetters
	bus       *events.EventBus
	publisher *meta.Publisher
	job       *PublishJob
}

func newJobFixture(t *testing.T, cfg JobConfig, opts ...Option) *jobFixture {
	t.Helper()
	ctx := context.Background()
	db := setupDB(t)

	site := &models.Website{UserID: "u1", Name: "Kopi Liguns", URL: "https://kopi.example"}
	require.NoError(t, db.CreateWebsite(ctx, site))
	post := &models.Post{UserID: "u1", WebsiteID: site.ID, Caption: "{Fresh|Hot} coffee", ImageURL: "https://img.example/c.jpg"}
	require.NoError(t, db.CreatePost(ctx, post))

	srv := graphServer(t)
	publisher := meta.NewPublisher(meta.NewClient(meta.Options{BaseURL: srv.URL, Version: "v19.0"}, nil), nil)

	f := &jobFixture{db: db, post: post, website: site, dlq: repository.NewMemoryDeadLetters(10), bus: events.NewEventBus(), publisher: publisher}
	opts = append([]Option{WithDeadLetters(f.dlq), WithEvents(f.bus), WithRand(rand.New(rand.NewSource(3)))}, opts...)
	f.job = NewPublishJob(db, publisher, cfg, nil, opts...)
	return f
}

func (f *jobFixture) account(t *testing.T, pageID string) *models.Account {
	t.Helper()
	acc := &models.Account{UserID: "u1", Platform: models.PlatformFacebook, AccountName: pageID, AccountID: pageID, AccessToken: "tok", IsActive: true}
	require.NoError(t, f.db.CreateAccount(context.Background(), acc))
	return acc
}

func (f *jobFixture) entry(t *testing.T, postID, accountID string, at time.Time, retries int) *models.ScheduleEntry {
	t.Helper()
	s := &models.ScheduleEntry{UserID: "u1", PostID: postID, AccountID: accountID, ScheduledAt: at, RetryCount: retries}
	require.NoError(t, f.db.CreateSchedule(context.Background(), s))
	return s
}

func (f *jobFixture) reload(t *testing.T, id string) *models.ScheduleEntry {
	t.Helper()
	s, err := f.db.GetSchedule(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestRun_MixedOutcomes(t *testing.T) {
	f := newJobFixture(t, JobConfig{Policy: RetryPolicy{MaxRetries: 3, InitialDelay: time.Minute}, Recycle: true})
	ctx := context.Background()
	now := time.Now().UTC()

	ok := f.entry(t, f.post.ID, f.account(t, "p-ok").ID, now.Add(-3*time.Minute), 0)
	fatal := f.entry(t, f.post.ID, f.account(t, "p-fatal").ID, now.Add(-2*time.Minute), 0)
	temp := f.entry(t, f.post.ID, f.account(t, "p-temp").ID, now.Add(-time.Minute), 0)

	var mu sync.Mutex
	seen := map[string]int{}
	f.bus.Subscribe(func(e *events.Event) error {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
		return nil
	}, events.EventEntryPublished, events.EventEntryFailed, events.EventEntryRetrying, events.EventRunCompleted)

	summary, err := f.job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Retrying)
	assert.Equal(t, 0, summary.Recycled)
	assert.Equal(t, []string{"Kopi Liguns"}, summary.Websites)
	require.Len(t, summary.Details, 3)

	assert.Equal(t, models.JobDetail{ScheduleID: ok.ID, Platform: "facebook", Status: models.OutcomeSuccess, PostID: "fb_1"}, summary.Details[0])
	assert.Equal(t, fatal.ID, summary.Details[1].ScheduleID)
	assert.Contains(t, summary.Details[1].Error, "Error validating access token")
	assert.Equal(t, temp.ID, summary.Details[2].ScheduleID)
	assert.Contains(t, summary.Details[2].Error, "Connection timeout")
	assert.Equal(t, 1, summary.Details[2].RetryCount)

	got := f.reload(t, ok.ID)
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.Equal(t, "fb_1", got.PlatformPostID)
	assert.NotNil(t, got.PublishedAt)
	assert.JSONEq(t, `{"success":true,"postId":"fb_1"}`, got.PlatformResponse)

	got = f.reload(t, fatal.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Contains(t, got.ErrorLog, "OAuthException")
	assert.Empty(t, got.PlatformPostID)

	got = f.reload(t, temp.ID)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "Retry 1/3: GraphMethodException: Connection timeout while reaching upstream", got.ErrorLog)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.After(now))

	dead, err := f.dlq.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, fatal.ID, dead[0].ScheduleID)
	assert.Equal(t, "fatal", dead[0].ErrorType)

	mu.Lock()
	assert.Equal(t, map[string]int{
		events.EventEntryPublished: 1,
		events.EventEntryFailed:    1,
		events.EventEntryRetrying:  1,
		events.EventRunCompleted:   1,
	}, seen)
	mu.Unlock()

	// The retrying entry is in backoff, so the next run finds nothing.
	summary, err = f.job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, models.NoDueMessage, summary.Message)
}

func TestRun_RetryCapReachesFailed(t *testing.T) {
	f := newJobFixture(t, JobConfig{Policy: RetryPolicy{MaxRetries: 3}})
	acc := f.account(t, "p-temp")

	s := f.entry(t, f.post.ID, acc.ID, time.Now().Add(-time.Minute), 3)

	summary, err := f.job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Retrying)

	got := f.reload(t, s.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.JSONEq(t,
		`{"error":"GraphMethodException: Connection timeout while reaching upstream","errorType":"temporary","finalRetryCount":3}`,
		got.PlatformResponse)
}

func TestRun_InvalidEntryDoesNotStopBatch(t *testing.T) {
	f := newJobFixture(t, JobConfig{})
	acc := f.account(t, "p-ok")
	now := time.Now()

	orphan := f.entry(t, "deleted-post", acc.ID, now.Add(-2*time.Minute), 0)
	good := f.entry(t, f.post.ID, acc.ID, now.Add(-time.Minute), 0)

	summary, err := f.job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "Missing post or account data", summary.Details[0].Error)

	assert.Equal(t, models.StatusFailed, f.reload(t, orphan.ID).Status)
	assert.Equal(t, models.StatusPublished, f.reload(t, good.ID).Status)
}

type panicPublisher struct{}

func (panicPublisher) Publish(context.Context, meta.Request) (*meta.Result, error) {
	panic("boom")
}

func TestRun_PanicIsolated(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	post := &models.Post{UserID: "u1", Caption: "hi"}
	require.NoError(t, db.CreatePost(ctx, post))
	acc := &models.Account{UserID: "u1", Platform: models.PlatformFacebook, AccountID: "p", AccessToken: "t", IsActive: true}
	require.NoError(t, db.CreateAccount(ctx, acc))
	s := &models.ScheduleEntry{UserID: "u1", PostID: post.ID, AccountID: acc.ID, ScheduledAt: time.Now().Add(-time.Minute)}
	require.NoError(t, db.CreateSchedule(ctx, s))

	job := NewPublishJob(db, panicPublisher{}, JobConfig{}, nil)
	summary, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retrying)
	assert.Contains(t, summary.Details[0].Error, "panic while publishing: boom")
}

func TestRun_Recycling(t *testing.T) {
	f := newJobFixture(t, JobConfig{Recycle: true})
	ctx := context.Background()

	evergreen := &models.Post{UserID: "u1", Caption: "Timeless {tip|trick}", ImageURL: "https://img.example/e.jpg", IsEvergreen: true}
	require.NoError(t, f.db.CreatePost(ctx, evergreen))
	acc := f.account(t, "p-ok")

	before := time.Now().UTC()
	summary, err := f.job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Recycled)
	assert.Equal(t, models.NoDueMessage, summary.Message)
	require.Len(t, summary.Details, 1)
	assert.Equal(t, models.RecycleDetailID, summary.Details[0].ScheduleID)

	queued, err := f.db.ListSchedules(ctx, models.ScheduleFilter{Status: models.StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, evergreen.ID, queued[0].PostID)
	assert.Equal(t, acc.ID, queued[0].AccountID)
	assert.Equal(t, models.RecycledTag, queued[0].ErrorLog)
	assert.WithinDuration(t, before, queued[0].ScheduledAt, 5*time.Second)

	// The recycled entry is due now, not upcoming, so the queue is still
	// considered empty; a future entry inside the gap blocks recycling.
	f.entry(t, f.post.ID, acc.ID, time.Now().Add(2*time.Hour), 0)
	summary, err = f.job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 0, summary.Recycled)
}

func TestRun_RecyclingSkipsWithoutContentOrAccount(t *testing.T) {
	f := newJobFixture(t, JobConfig{Recycle: true})
	ctx := context.Background()

	summary, err := f.job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Recycled)

	require.NoError(t, f.db.CreatePost(ctx, &models.Post{UserID: "u2", Caption: "evergreen", IsEvergreen: true}))
	summary, err = f.job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Recycled)
}

func TestRun_Lock(t *testing.T) {
	locker := repository.NewMemoryRunLocker()
	f := newJobFixture(t, JobConfig{}, WithRunLocker(locker))
	ctx := context.Background()

	token, ok, err := locker.Acquire(ctx, runLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.job.Run(ctx)
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, locker.Release(ctx, runLockKey, token))
	_, err = f.job.Run(ctx)
	require.NoError(t, err)

	// Released after the run.
	_, ok, err = locker.Acquire(ctx, runLockKey, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

// faultyStore fails selected writes of an otherwise real database.
type faultyStore struct {
	*database.DB
	claimErr   error
	publishErr error
}

func (s *faultyStore) ClaimEntry(ctx context.Context, id, token string, now time.Time, ttl time.Duration) (bool, error) {
	if s.claimErr != nil {
		return false, s.claimErr
	}
	return s.DB.ClaimEntry(ctx, id, token, now, ttl)
}

func (s *faultyStore) MarkPublished(ctx context.Context, id, token, platformPostID, response string, now time.Time) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	return s.DB.MarkPublished(ctx, id, token, platformPostID, response, now)
}

func TestRun_ClaimStoreErrorAborts(t *testing.T) {
	f := newJobFixture(t, JobConfig{})
	f.entry(t, f.post.ID, f.account(t, "p-ok").ID, time.Now().Add(-time.Minute), 0)
	job := NewPublishJob(&faultyStore{DB: f.db, claimErr: errors.New("database is locked")}, f.publisher, JobConfig{}, nil)

	summary, err := job.Run(context.Background())
	assert.Nil(t, summary)
	var infra *InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.Equal(t, "claim entry", infra.Op)
}

func TestRun_ClaimLostAfterPublish(t *testing.T) {
	f := newJobFixture(t, JobConfig{})
	e := f.entry(t, f.post.ID, f.account(t, "p-ok").ID, time.Now().Add(-time.Minute), 0)
	job := NewPublishJob(&faultyStore{DB: f.db, publishErr: database.ErrClaimLost}, f.publisher, JobConfig{}, nil)

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Details, 1)
	d := summary.Details[0]
	assert.Equal(t, models.OutcomeSuccess, d.Status)
	assert.Equal(t, "fb_1", d.PostID)
	assert.Equal(t, models.WarnClaimLost, d.Warning)
	assert.Equal(t, e.ID, d.ScheduleID)
}

func TestRun_InfrastructureError(t *testing.T) {
	f := newJobFixture(t, JobConfig{})
	require.NoError(t, f.db.Close())

	_, err := f.job.Run(context.Background())
	var infra *InfrastructureError
	assert.True(t, errors.As(err, &infra))
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyRun(ctx context.Context, summary *models.JobSummary) {
	m.Called(ctx, summary)
}

func (m *mockNotifier) NotifyExpiringTokens(ctx context.Context, accounts []*models.Account) {
	m.Called(ctx, accounts)
}

func TestRun_NotifiesAndReportsExpiringTokens(t *testing.T) {
	notifier := new(mockNotifier)
	f := newJobFixture(t, JobConfig{TokenExpiryWarning: 7 * 24 * time.Hour}, WithNotifier(notifier))
	ctx := context.Background()

	soon := time.Now().Add(48 * time.Hour)
	expiring := &models.Account{UserID: "u1", Platform: models.PlatformInstagram, AccountID: "ig", AccessToken: "t", IsActive: true, TokenExpiresAt: &soon}
	require.NoError(t, f.db.CreateAccount(ctx, expiring))
	f.entry(t, f.post.ID, f.account(t, "p-ok").ID, time.Now().Add(-time.Minute), 0)

	notifier.On("NotifyRun", mock.Anything, mock.MatchedBy(func(s *models.JobSummary) bool {
		return s.Processed == 1 && s.Success == 1
	})).Once()
	notifier.On("NotifyExpiringTokens", mock.Anything, mock.MatchedBy(func(a []*models.Account) bool {
		return len(a) == 1 && a[0].ID == expiring.ID
	})).Once()

	summary, err := f.job.Run(WithTrigger(ctx, "cron"))
	require.NoError(t, err)
	assert.Equal(t, []string{expiring.ID}, summary.ExpiringAccounts)
	notifier.AssertExpectations(t)
}

func TestRun_TokenWarningThrottled(t *testing.T) {
	for name, withLocker := range map[string]bool{"local": false, "locker": true} {
		t.Run(name, func(t *testing.T) {
			notifier := new(mockNotifier)
			now := time.Now()
			clock := func() time.Time { return now }
			opts := []Option{WithNotifier(notifier), WithClock(clock)}
			if withLocker {
				opts = append(opts, WithRunLocker(repository.NewMemoryRunLocker()))
			}
			f := newJobFixture(t, JobConfig{TokenExpiryWarning: 7 * 24 * time.Hour, TokenWarnInterval: 24 * time.Hour}, opts...)
			ctx := context.Background()

			soon := now.Add(48 * time.Hour)
			acc := &models.Account{UserID: "u1", Platform: models.PlatformInstagram, AccountID: "ig", AccessToken: "t", IsActive: true, TokenExpiresAt: &soon}
			require.NoError(t, f.db.CreateAccount(ctx, acc))

			notifier.On("NotifyRun", mock.Anything, mock.Anything).Maybe()
			notifier.On("NotifyExpiringTokens", mock.Anything, mock.Anything).Once()

			for i := 0; i < 2; i++ {
				summary, err := f.job.Run(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{acc.ID}, summary.ExpiringAccounts)
			}
			notifier.AssertNumberOfCalls(t, "NotifyExpiringTokens", 1)

			if !withLocker {
				now = now.Add(25 * time.Hour)
				notifier.On("NotifyExpiringTokens", mock.Anything, mock.Anything).Once()
				_, err := f.job.Run(ctx)
				require.NoError(t, err)
				notifier.AssertNumberOfCalls(t, "NotifyExpiringTokens", 2)
			}
		})
	}
}

func TestPublishNow(t *testing.T) {
	f := newJobFixture(t, JobConfig{})
	ctx := context.Background()
	future := f.entry(t, f.post.ID, f.account(t, "p-ok").ID, time.Now().Add(24*time.Hour), 0)
	bad := f.entry(t, f.post.ID, f.account(t, "p-fatal").ID, time.Now().Add(24*time.Hour), 0)

	res, err := f.job.PublishNow(ctx, future.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.StatusPublished, res.Status)
	assert.Equal(t, "fb_1", res.PostID)

	_, err = f.job.PublishNow(ctx, future.ID)
	assert.ErrorIs(t, err, database.ErrNotQueued)

	_, err = f.job.PublishNow(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)

	res, err = f.job.PublishNow(ctx, bad.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "OAuthException")
}

func TestPublishNow_Busy(t *testing.T) {
	f := newJobFixture(t, JobConfig{})
	ctx := context.Background()
	s := f.entry(t, f.post.ID, f.account(t, "p-ok").ID, time.Now(), 0)

	ok, err := f.db.ClaimEntry(ctx, s.ID, "other-run", time.Now().UTC(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.job.PublishNow(ctx, s.ID)
	assert.ErrorIs(t, err, ErrEntryBusy)
}

func TestJobConfigFromPublisher(t *testing.T) {
	off := false
	cfg := JobConfigFromPublisher(config.PublisherConfig{
		MaxRetries:     5,
		BackoffInitial: 30 * time.Second,
		RecycleEnabled: &off,
	})
	assert.False(t, cfg.Recycle)
	assert.Equal(t, 5, cfg.Policy.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Policy.InitialDelay)

	cfg.applyDefaults()
	assert.Equal(t, models.DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, 12*time.Hour, cfg.GapThreshold)
}
