package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"liguns/internal/ai"
	"liguns/internal/database"
	"liguns/internal/domain"
	"liguns/internal/spintax"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"
)

const (
	defaultPreviewCount = 5
	maxPreviewCount     = 20
)

// Preview is a sample of expansions for a caption template.
type Preview struct {
	Variations    []string `json:"variations"`
	Count         int      `json:"count"`
	HasVariations bool     `json:"has_variations"`
}

// DraftRequest asks the model for a caption. WebsiteID, when set, fills
// Context from the stored website.
type DraftRequest struct {
	UserID    string `json:"user_id"`
	WebsiteID string `json:"website_id"`
	Context   string `json:"website_context"`
	Prompt    string `json:"prompt"`
}

type CaptionService struct {
	engine  *spintax.Engine
	drafter ai.Drafter
	repo    domain.Repository
	logger  *zerolog.Logger
}

// NewCaptionService builds the service. drafter may be nil, in which case
// Draft returns ai.ErrNotConfigured.
func NewCaptionService(engine *spintax.Engine, drafter ai.Drafter, repo domain.Repository, logger *zerolog.Logger) *CaptionService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if engine == nil {
		engine = spintax.New(nil)
	}
	return &CaptionService{engine: engine, drafter: drafter, repo: repo, logger: logger}
}

// Preview expands template up to n times. n outside 1..20 falls back to 5.
func (s *CaptionService) Preview(template string, n int) (*Preview, error) {
	if err := validation.Validate(strings.TrimSpace(template), validation.Required.Error("Caption is required")); err != nil {
		return nil, validationError(err.Error())
	}
	if n <= 0 || n > maxPreviewCount {
		n = defaultPreviewCount
	}
	return &Preview{
		Variations:    s.engine.Variations(template, n),
		Count:         spintax.CountVariations(template),
		HasVariations: spintax.HasVariations(template),
	}, nil
}

func (s *CaptionService) Draft(ctx context.Context, req DraftRequest) (string, error) {
	if err := validation.Validate(strings.TrimSpace(req.Prompt), validation.Required.Error("Prompt is required")); err != nil {
		return "", validationError(err.Error())
	}

	if req.Context == "" && req.WebsiteID != "" && s.repo != nil {
		w, err := s.repo.GetWebsite(ctx, req.WebsiteID)
		switch {
		case errors.Is(err, database.ErrNotFound), err == nil && req.UserID != "" && w.UserID != req.UserID:
			return "", validationError("Website not found")
		case err != nil:
			return "", err
		}
		req.Context = websiteContext(w.Name, w.URL, w.Description)
	}
	if err := validation.Validate(strings.TrimSpace(req.Context), validation.Required.Error("Website context is required")); err != nil {
		return "", validationError(err.Error())
	}

	if s.drafter == nil {
		return "", ai.ErrNotConfigured
	}
	text, err := s.drafter.Draft(ctx, req.Context, req.Prompt)
	if err != nil {
		s.logger.Error().Err(err).Msg("caption draft failed")
		return "", fmt.Errorf("failed to generate caption: %w", err)
	}
	return text, nil
}

func websiteContext(name, url, description string) string {
	parts := []string{name}
	if url != "" {
		parts = append(parts, url)
	}
	if description != "" {
		parts = append(parts, description)
	}
	return strings.Join(parts, ". ")
}
