package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"liguns/internal/database"
	"liguns/internal/domain"
	"liguns/internal/models"
	"liguns/internal/spintax"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/rs/zerolog"
)

// ScheduleRequest fans one caption out to several websites and accounts.
type ScheduleRequest struct {
	UserID      string    `json:"user_id"`
	WebsiteIDs  []string  `json:"website_ids"`
	AccountIDs  []string  `json:"account_ids"`
	Caption     string    `json:"caption"`
	ImageURL    string    `json:"image_url"`
	Notes       string    `json:"notes"`
	ScheduledAt time.Time `json:"scheduled_at"`
	IsEvergreen bool      `json:"is_evergreen"`
}

// ScheduleResult reports what was created.
type ScheduleResult struct {
	Message   string   `json:"message"`
	PostIDs   []string `json:"post_ids"`
	Schedules []string `json:"schedule_ids"`
	Websites  int      `json:"websites"`
	Warnings  []string `json:"warnings,omitempty"`
}

type SchedulingService struct {
	repo    domain.Repository
	spintax *spintax.Engine
	logger  *zerolog.Logger
	now     func() time.Time
}

func NewSchedulingService(repo domain.Repository, engine *spintax.Engine, logger *zerolog.Logger) *SchedulingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if engine == nil {
		engine = spintax.New(nil)
	}
	return &SchedulingService{
		repo:    repo,
		spintax: engine,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *SchedulingService) validateSchedule(ctx context.Context, req *ScheduleRequest) error {
	if err := validation.Validate(req.WebsiteIDs, validation.Required.Error("Please select at least one website")); err != nil {
		return validationError(err.Error())
	}
	req.Caption = strings.TrimSpace(req.Caption)
	if err := validation.Validate(req.Caption, validation.Required.Error("Caption is required")); err != nil {
		return validationError(err.Error())
	}
	if err := validation.Validate(req.AccountIDs, validation.Required.Error("Please select at least one account")); err != nil {
		return validationError(err.Error())
	}

	err := validation.ValidateStructWithContext(ctx, req,
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.WebsiteIDs, validation.Each(validation.Required)),
		validation.Field(&req.AccountIDs, validation.Each(validation.Required)),
		validation.Field(&req.ImageURL, is.URL),
		validation.Field(&req.ScheduledAt, validation.Required),
	)
	if err != nil {
		return validationError(err.Error())
	}
	return nil
}

// Schedule creates one post per website holding the caption template, and
// one QUEUED entry per account under it. Each website gets its own caption
// expansion, shared by that website's entries. A failing website does not
// stop the others.
func (s *SchedulingService) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	if err := s.validateSchedule(ctx, &req); err != nil {
		return nil, err
	}

	accounts, warnings, err := s.resolveAccounts(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &ScheduleResult{Websites: len(req.WebsiteIDs), Warnings: warnings}
	var failures []string

	for _, websiteID := range req.WebsiteIDs {
		postID, ids, err := s.scheduleWebsite(ctx, req, websiteID, accounts)
		if err != nil {
			s.logger.Warn().Err(err).Str("website_id", websiteID).Msg("failed to schedule for website")
			failures = append(failures, fmt.Sprintf("Website %s: %s", websiteID, err.Error()))
			continue
		}
		res.PostIDs = append(res.PostIDs, postID)
		res.Schedules = append(res.Schedules, ids...)
	}

	if len(res.Schedules) == 0 {
		return nil, fmt.Errorf("%w. Errors: %s", ErrNothingScheduled, strings.Join(failures, "; "))
	}

	if len(failures) > 0 {
		res.Message = fmt.Sprintf("Scheduled %d post(s) across %d website(s). %d failed.",
			len(res.Schedules), len(req.WebsiteIDs), len(failures))
		res.Warnings = append(res.Warnings, failures...)
	} else {
		res.Message = fmt.Sprintf("Successfully scheduled %d post(s) across %d website(s)!",
			len(res.Schedules), len(req.WebsiteIDs))
	}

	s.logger.Info().
		Str("user_id", req.UserID).
		Int("entries", len(res.Schedules)).
		Int("websites", len(req.WebsiteIDs)).
		Int("failed_websites", len(failures)).
		Msg("posts scheduled")
	return res, nil
}

// resolveAccounts loads the selected accounts. Unknown, foreign and inactive
// accounts reject the whole request.
func (s *SchedulingService) resolveAccounts(ctx context.Context, req ScheduleRequest) ([]*models.Account, []string, error) {
	var (
		accounts []*models.Account
		warnings []string
		seen     = make(map[string]bool, len(req.AccountIDs))
	)
	for _, id := range req.AccountIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		acc, err := s.repo.GetAccount(ctx, id)
		if errors.Is(err, database.ErrNotFound) || (err == nil && acc.UserID != req.UserID) {
			return nil, nil, validationError(fmt.Sprintf("Account %s not found", id))
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load account %s: %w", id, err)
		}
		if !acc.IsActive {
			return nil, nil, validationError(fmt.Sprintf("Account %s is not active", acc.AccountName))
		}
		if acc.Platform == models.PlatformInstagram && req.ImageURL == "" {
			warnings = append(warnings, fmt.Sprintf("%s: Instagram requires an image, this entry will fail", acc.AccountName))
		}
		accounts = append(accounts, acc)
	}
	return accounts, warnings, nil
}

func (s *SchedulingService) scheduleWebsite(
	ctx context.Context,
	req ScheduleRequest,
	websiteID string,
	accounts []*models.Account,
) (string, []string, error) {
	website, err := s.repo.GetWebsite(ctx, websiteID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && website.UserID != req.UserID) {
		return "", nil, errors.New("website not found")
	}
	if err != nil {
		return "", nil, err
	}

	post := &models.Post{
		UserID:      req.UserID,
		WebsiteID:   website.ID,
		Caption:     req.Caption,
		ImageURL:    req.ImageURL,
		Notes:       req.Notes,
		IsEvergreen: req.IsEvergreen,
	}

	caption := s.spintax.Expand(req.Caption)
	entries := make([]*models.ScheduleEntry, 0, len(accounts))
	for _, acc := range accounts {
		entries = append(entries, &models.ScheduleEntry{
			AccountID:   acc.ID,
			ScheduledAt: req.ScheduledAt.UTC(),
			Status:      models.StatusQueued,
			Caption:     caption,
		})
	}

	if err := s.repo.CreatePostWithSchedules(ctx, post, entries); err != nil {
		return "", nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return post.ID, ids, nil
}

// Get returns one entry. A non-empty userID hides entries owned by anyone
// else behind database.ErrNotFound.
func (s *SchedulingService) Get(ctx context.Context, userID, id string) (*models.ScheduleEntry, error) {
	e, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && e.UserID != userID {
		return nil, database.ErrNotFound
	}
	return e, nil
}

// Cancel moves a QUEUED entry to CANCELLED, scoped like Get.
func (s *SchedulingService) Cancel(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.CancelSchedule(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("schedule_id", id).Msg("schedule entry cancelled")
	return nil
}

func (s *SchedulingService) List(ctx context.Context, filter models.ScheduleFilter) ([]*models.ScheduleEntry, error) {
	if filter.Status != "" {
		err := validation.Validate(filter.Status, validation.In(
			models.StatusQueued, models.StatusPublished, models.StatusFailed, models.StatusCancelled,
		).Error("unknown status"))
		if err != nil {
			return nil, validationError(err.Error())
		}
	}
	return s.repo.ListSchedules(ctx, filter)
}

// CreateWebsite registers a brand for the user.
func (s *SchedulingService) CreateWebsite(ctx context.Context, w *models.Website) error {
	err := validation.ValidateStructWithContext(ctx, w,
		validation.Field(&w.UserID, validation.Required),
		validation.Field(&w.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&w.URL, validation.Required, is.URL),
		validation.Field(&w.LogoURL, is.URL),
	)
	if err != nil {
		return validationError(err.Error())
	}
	return s.repo.CreateWebsite(ctx, w)
}

// CreateAccount stores a connected destination.
func (s *SchedulingService) CreateAccount(ctx context.Context, a *models.Account) error {
	err := validation.ValidateStructWithContext(ctx, a,
		validation.Field(&a.UserID, validation.Required),
		validation.Field(&a.Platform, validation.Required, validation.By(knownPlatform)),
		validation.Field(&a.AccountID, validation.Required),
		validation.Field(&a.AccessToken, validation.Required),
	)
	if err != nil {
		return validationError(err.Error())
	}
	return s.repo.CreateAccount(ctx, a)
}

// CreatePost stores content without scheduling it, e.g. for the evergreen pool.
func (s *SchedulingService) CreatePost(ctx context.Context, p *models.Post) error {
	p.Caption = strings.TrimSpace(p.Caption)
	err := validation.ValidateStructWithContext(ctx, p,
		validation.Field(&p.UserID, validation.Required),
		validation.Field(&p.Caption, validation.Required.Error("Caption is required")),
		validation.Field(&p.ImageURL, is.URL),
	)
	if err != nil {
		return validationError(err.Error())
	}
	return s.repo.CreatePost(ctx, p)
}

func knownPlatform(value interface{}) error {
	p, _ := value.(string)
	if !models.IsKnownPlatform(p) {
		return errors.New("unsupported platform")
	}
	return nil
}
