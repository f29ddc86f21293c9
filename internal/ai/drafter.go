package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"liguns/internal/config"

	"github.com/rs/zerolog"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	defaultGeminiModel = "gemini-2.5-flash"
	defaultOpenAIModel = "gpt-4o-mini"
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("caption drafting is not configured")

	// ErrEmptyDraft is returned when the model produced no text.
	ErrEmptyDraft = errors.New("model returned an empty caption")
)

// Drafter writes a caption for a brand context and a task prompt.
type Drafter interface {
	Draft(ctx context.Context, brandContext, prompt string) (string, error)
}

// New builds the drafter selected by cfg.Provider.
func New(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (Drafter, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case ProviderGemini, "":
		return NewGemini(ctx, cfg, logger)
	case ProviderOpenAI:
		return NewOpenAI(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

// BuildPrompt renders the instruction sent to the model.
func BuildPrompt(brandContext, task string) string {
	var b strings.Builder
	b.WriteString("You are an expert social media manager.\n\n")
	b.WriteString("CONTEXT about the website/brand:\n")
	b.WriteString(strings.TrimSpace(brandContext))
	b.WriteString("\n\nTASK:\n")
	b.WriteString(strings.TrimSpace(task))
	b.WriteString("\n\nREQUIREMENTS:\n")
	b.WriteString("1. Write a catchy, engaging social media caption.\n")
	b.WriteString("2. Include relevant hashtags at the end.\n")
	b.WriteString("3. Use emojis where appropriate to make it visually appealing.\n")
	b.WriteString("4. Keep the tone professional yet friendly, unless specified otherwise.\n")
	b.WriteString("5. Output ONLY the caption text, no explanations.")
	return b.String()
}

func cleanDraft(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyDraft
	}
	return text, nil
}
