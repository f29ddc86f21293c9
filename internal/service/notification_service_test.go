package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"liguns/internal/config"
	"liguns/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockTelegramSender struct {
	mock.Mock
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func (m *mockTelegramSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	return args.Get(0).(*tgbotapi.APIResponse), args.Error(1)
}

func (m *mockTelegramSender) GetSelf() tgbotapi.User {
	args := m.Called()
	return args.Get(0).(tgbotapi.User)
}

func textStartsWith(prefix string) interface{} {
	return mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 42 && msg.ParseMode == models.ParseModeMarkdown && strings.HasPrefix(msg.Text, prefix)
	})
}

func sampleSummary() *models.JobSummary {
	s := &models.JobSummary{Websites: []string{"Kopi Liguns"}, ExecutionTimeMS: 2500}
	s.Add(models.JobDetail{ScheduleID: "aaaaaaaa-1111", Platform: "facebook", Status: models.OutcomeSuccess, PostID: "fb_1"})
	s.Add(models.JobDetail{ScheduleID: "bbbbbbbb-2222", Platform: "instagram", Status: models.OutcomeFailed, Error: "Instagram requires an image"})
	s.Add(models.JobDetail{ScheduleID: "cccccccc-3333", Platform: "facebook", Status: models.OutcomeRetrying, Error: "timeout", RetryCount: 1})
	return s
}

func TestNotificationService_NotifyRun(t *testing.T) {
	sender := new(mockTelegramSender)
	svc := NewNotificationService(sender, config.TelegramConfig{ChatID: 42, DashboardURL: "https://dash.example/"}, 3, nil, nil)

	sender.On("Send", textStartsWith("🚀 *ToolsLiguns Report*")).Return(tgbotapi.Message{}, nil).Once()
	sender.On("Send", textStartsWith("🚨 *URGENT: Publishing Failures*")).Return(tgbotapi.Message{}, nil).Once()
	sender.On("Send", textStartsWith("🔄 *Retry Alert*")).Return(tgbotapi.Message{}, errors.New("telegram down")).Once()

	svc.NotifyRun(context.Background(), sampleSummary())
	sender.AssertExpectations(t)
}

func TestNotificationService_NothingProcessed(t *testing.T) {
	sender := new(mockTelegramSender)
	svc := NewNotificationService(sender, config.TelegramConfig{ChatID: 42}, 3, nil, nil)

	svc.NotifyRun(context.Background(), &models.JobSummary{Message: models.NoDueMessage})
	svc.NotifyRun(context.Background(), nil)
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNotificationService_Disabled(t *testing.T) {
	svc := NewNotificationService(nil, config.TelegramConfig{ChatID: 42}, 3, nil, nil)
	assert.False(t, svc.Enabled())
	assert.NoError(t, svc.SendText("hi"))

	sender := new(mockTelegramSender)
	svc = NewNotificationService(sender, config.TelegramConfig{}, 3, nil, nil)
	assert.False(t, svc.Enabled())
	svc.NotifyRun(context.Background(), sampleSummary())
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestSuccessReport(t *testing.T) {
	got := SuccessReport(sampleSummary())

	want := strings.Join([]string{
		"🚀 *ToolsLiguns Report*",
		"",
		"✅ Successfully published *1* post",
		"❌ Failed: 1",
		"🔄 Retrying: 1",
		"",
		"📊 Total processed: 3",
		"🌐 Websites: Kopi Liguns",
		"⏱ Execution time: 2.50s",
		"",
		"Keep up the great work! 💪",
	}, "\n")
	assert.Equal(t, want, got)

	plain := &models.JobSummary{}
	plain.Add(models.JobDetail{Status: models.OutcomeSuccess})
	plain.Add(models.JobDetail{Status: models.OutcomeSuccess})
	got = SuccessReport(plain)
	assert.Contains(t, got, "✅ Successfully published *2* posts")
	assert.Contains(t, got, "🌐 Websites: various websites")
	assert.NotContains(t, got, "Failed")
	assert.NotContains(t, got, "Execution time")
}

func TestFailureReport(t *testing.T) {
	got := FailureReport(sampleSummary().Failures(), "https://dash.example")

	assert.Equal(t, strings.Join([]string{
		"🚨 *URGENT: Publishing Failures*",
		"",
		"❌ 1 post failed to publish:",
		"",
		"1. *instagram*: Instagram requires an image (ID: `bbbbbbbb`)",
		"",
		"⚠️ *Action Required*",
		"Please check the dashboard and resolve these issues.",
		"",
		"🔗 Dashboard: https://dash.example/dashboard",
	}, "\n"), got)
}

func TestReports_EscapePlatformText(t *testing.T) {
	s := &models.JobSummary{}
	s.Add(models.JobDetail{ScheduleID: "dddddddd-4444", Platform: "instagram", Status: models.OutcomeFailed,
		Error: "Invalid parameter image_url (error_subcode 2207052) *bad* `x` [y]"})
	s.Add(models.JobDetail{ScheduleID: "eeeeeeee-5555", Platform: "facebook", Status: models.OutcomeRetrying,
		Error: "rate_limit reached", RetryCount: 2})

	failure := FailureReport(s.Failures(), "https://dash.example")
	assert.Contains(t, failure, "1. *instagram*: Invalid parameter image\\_url (error\\_subcode 2207052) \\*bad\\* \\`x\\` \\[y]")

	retry := RetryReport(s.Retries(), 3)
	assert.Contains(t, retry, `(Attempt 2/3): rate\_limit reached`)
}

func TestRetryReport(t *testing.T) {
	got := RetryReport(sampleSummary().Retries(), 3)

	assert.Equal(t, strings.Join([]string{
		"🔄 *Retry Alert*",
		"",
		"1 post will be retried:",
		"",
		"1. *facebook* (Attempt 1/3): timeout",
		"",
		"These will be attempted again in the next cron run.",
	}, "\n"), got)
}

func TestNotifyExpiringTokens(t *testing.T) {
	sender := new(mockTelegramSender)
	loc := time.FixedZone("WIB", 7*3600)
	svc := NewNotificationService(sender, config.TelegramConfig{ChatID: 42, DashboardURL: "https://dash.example"}, 3, loc, nil)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	expires := now.Add(72 * time.Hour)
	accounts := []*models.Account{
		{Platform: "instagram", AccountName: "kopi.liguns", TokenExpiresAt: &expires},
		{Platform: "facebook", AccountID: "page-9"},
	}

	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg := c.(tgbotapi.MessageConfig)
		return strings.HasPrefix(msg.Text, "🔑 *Token Expiry Warning*") &&
			strings.Contains(msg.Text, "2 accounts need reconnecting soon:") &&
			strings.Contains(msg.Text, "1. *instagram* kopi.liguns: expires 04 Mar 2026, 07:00 WIB (3 days from now)") &&
			strings.Contains(msg.Text, "2. *facebook* page-9: expires unknown")
	})).Return(tgbotapi.Message{}, nil).Once()

	svc.NotifyExpiringTokens(context.Background(), accounts)
	svc.NotifyExpiringTokens(context.Background(), nil)
	sender.AssertExpectations(t)
}
