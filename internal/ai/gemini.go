package ai

import (
	"context"
	"fmt"
	"time"

	"liguns/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// Gemini drafts captions with the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewGemini(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (*Gemini, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{client: client, model: model, timeout: cfg.Timeout, logger: logger}, nil
}

func (g *Gemini) Draft(ctx context.Context, brandContext, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: BuildPrompt(brandContext, prompt)}},
		},
	}

	start := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		g.logger.Error().Err(err).Str("model", g.model).Msg("gemini caption generation failed")
		return "", fmt.Errorf("generate caption: %w", err)
	}
	if result == nil {
		return "", ErrEmptyDraft
	}

	g.logger.Debug().Str("model", g.model).Dur("took", time.Since(start)).Msg("caption drafted")
	return cleanDraft(result.Text())
}
