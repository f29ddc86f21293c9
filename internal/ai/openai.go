package ai

import (
	"context"
	"fmt"
	"time"

	"liguns/internal/config"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
)

// OpenAI drafts captions with the chat completions API.
type OpenAI struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewOpenAI(cfg config.AIConfig, logger *zerolog.Logger) *OpenAI {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (o *OpenAI) Draft(ctx context.Context, brandContext, prompt string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(BuildPrompt(brandContext, prompt)),
		},
	})
	if err != nil {
		o.logger.Error().Err(err).Str("model", o.model).Msg("openai caption generation failed")
		return "", fmt.Errorf("generate caption: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyDraft
	}
	return cleanDraft(completion.Choices[0].Message.Content)
}
