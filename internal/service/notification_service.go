package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"liguns/internal/config"
	"liguns/internal/domain"
	"liguns/internal/models"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// NotificationService sends run reports to a Telegram chat. Without a
// sender or chat id every method is a no-op.
type NotificationService struct {
	sender       domain.TelegramSender
	chatID       int64
	dashboardURL string
	maxRetries   int
	loc          *time.Location
	logger       *zerolog.Logger
	now          func() time.Time
}

func NewNotificationService(
	sender domain.TelegramSender,
	cfg config.TelegramConfig,
	maxRetries int,
	loc *time.Location,
	logger *zerolog.Logger,
) *NotificationService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if loc == nil {
		loc = time.UTC
	}
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}
	return &NotificationService{
		sender:       sender,
		chatID:       cfg.ChatID,
		dashboardURL: strings.TrimRight(cfg.DashboardURL, "/"),
		maxRetries:   maxRetries,
		loc:          loc,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *NotificationService) Enabled() bool {
	return s != nil && s.sender != nil && s.chatID != 0
}

// NotifyRun sends the run report, then the urgent failure list and the
// retry alert when those are non-empty.
func (s *NotificationService) NotifyRun(_ context.Context, summary *models.JobSummary) {
	if !s.Enabled() || summary == nil || summary.Processed == 0 {
		return
	}

	s.send("run_report", SuccessReport(summary))
	if failures := summary.Failures(); len(failures) > 0 {
		s.send("failure_report", FailureReport(failures, s.dashboardURL))
	}
	if retries := summary.Retries(); len(retries) > 0 {
		s.send("retry_report", RetryReport(retries, s.maxRetries))
	}
}

// NotifyExpiringTokens warns about accounts that need reconnecting.
func (s *NotificationService) NotifyExpiringTokens(_ context.Context, accounts []*models.Account) {
	if !s.Enabled() || len(accounts) == 0 {
		return
	}
	s.send("token_expiry", s.tokenExpiryReport(accounts))
}

// SendText sends an arbitrary Markdown message.
func (s *NotificationService) SendText(text string) error {
	if !s.Enabled() {
		return nil
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = models.ParseModeMarkdown
	_, err := s.sender.Send(msg)
	return err
}

func (s *NotificationService) send(kind, text string) {
	if err := s.SendText(text); err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("telegram notification failed")
	}
}

// escapeMarkdown keeps platform text such as "image_url" from being read as
// formatting, which makes Telegram reject the whole message.
func escapeMarkdown(s string) string {
	return tgbotapi.EscapeText(models.ParseModeMarkdown, s)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// SuccessReport renders the per-run summary.
func SuccessReport(summary *models.JobSummary) string {
	websites := "various websites"
	if len(summary.Websites) > 0 {
		websites = escapeMarkdown(strings.Join(summary.Websites, ", "))
	}

	var counts strings.Builder
	if summary.Failed > 0 {
		fmt.Fprintf(&counts, "❌ Failed: %d\n", summary.Failed)
	}
	if summary.Retrying > 0 {
		fmt.Fprintf(&counts, "🔄 Retrying: %d\n", summary.Retrying)
	}

	var elapsed string
	if summary.ExecutionTimeMS > 0 {
		elapsed = fmt.Sprintf("⏱ Execution time: %.2fs", float64(summary.ExecutionTimeMS)/1000)
	}

	lines := []string{
		"🚀 *ToolsLiguns Report*",
		"",
		fmt.Sprintf("✅ Successfully published *%d* post%s", summary.Success, plural(summary.Success)),
		counts.String(),
		fmt.Sprintf("📊 Total processed: %d", summary.Processed),
		"🌐 Websites: " + websites,
		elapsed,
		"",
		"Keep up the great work! 💪",
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// FailureReport renders the urgent list of entries that reached FAILED.
func FailureReport(failures []models.JobDetail, dashboardURL string) string {
	items := make([]string, 0, len(failures))
	for i, f := range failures {
		item := fmt.Sprintf("%d. *%s*: %s", i+1, f.Platform, escapeMarkdown(f.Error))
		if f.ScheduleID != "" {
			item += fmt.Sprintf(" (ID: `%s`)", shortID(f.ScheduleID))
		}
		items = append(items, item)
	}

	lines := []string{
		"🚨 *URGENT: Publishing Failures*",
		"",
		fmt.Sprintf("❌ %d post%s failed to publish:", len(failures), plural(len(failures))),
		"",
		strings.Join(items, "\n"),
		"",
		"⚠️ *Action Required*",
		"Please check the dashboard and resolve these issues.",
		"",
		"🔗 Dashboard: " + dashboardURL + "/dashboard",
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// RetryReport renders the list of entries that will be attempted again.
func RetryReport(retries []models.JobDetail, maxRetries int) string {
	items := make([]string, 0, len(retries))
	for i, r := range retries {
		items = append(items, fmt.Sprintf("%d. *%s* (Attempt %d/%d): %s", i+1, r.Platform, r.RetryCount, maxRetries, escapeMarkdown(r.Error)))
	}

	lines := []string{
		"🔄 *Retry Alert*",
		"",
		fmt.Sprintf("%d post%s will be retried:", len(retries), plural(len(retries))),
		"",
		strings.Join(items, "\n"),
		"",
		"These will be attempted again in the next cron run.",
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (s *NotificationService) tokenExpiryReport(accounts []*models.Account) string {
	now := s.now()
	items := make([]string, 0, len(accounts))
	for i, a := range accounts {
		name := a.AccountName
		if name == "" {
			name = a.AccountID
		}
		when := "unknown"
		if a.TokenExpiresAt != nil {
			when = fmt.Sprintf("%s (%s)",
				a.TokenExpiresAt.In(s.loc).Format("02 Jan 2006, 15:04 MST"),
				humanize.RelTime(*a.TokenExpiresAt, now, "ago", "from now"))
		}
		items = append(items, fmt.Sprintf("%d. *%s* %s: expires %s", i+1, a.Platform, escapeMarkdown(name), when))
	}

	lines := []string{
		"🔑 *Token Expiry Warning*",
		"",
		fmt.Sprintf("%d account%s need reconnecting soon:", len(accounts), plural(len(accounts))),
		"",
		strings.Join(items, "\n"),
		"",
		"🔗 Dashboard: " + s.dashboardURL + "/dashboard",
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
