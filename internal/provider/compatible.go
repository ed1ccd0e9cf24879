package provider

import (
	"context"
	"fmt"

	"github.com/fabio-bix/json-transcribe/internal/llm"
)

// Compatible translates through any OpenAI-compatible /chat/completions
// endpoint (OpenRouter, local gateways) using the plain HTTP client.
type Compatible struct {
	client *llm.Client
}

func NewCompatible(cfg *llm.Config) (*Compatible, error) {
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Compatible{client: client}, nil
}

func (c *Compatible) Translate(ctx context.Context, req Request) (Result, error) {
	if len(req.Items) == 0 {
		return Result{Translations: map[string]string{}}, nil
	}

	user, err := BuildUserPrompt(req.TargetLanguage, req.Items)
	if err != nil {
		return Result{}, err
	}
	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(BuildSystemPrompt(req.TargetLanguage, req.Items)).
		WithModel(req.Model).
		WithJSONObject()

	resp, err := c.client.ChatCompletion(ctx, []llm.Message{{Role: "user", Content: user}}, opts)
	if err != nil {
		return Result{}, fmt.Errorf("compatible chat completion: %w", err)
	}
	content := resp.Content()
	if content == "" {
		return Result{}, ErrEmptyResponse
	}

	translations, err := ParseResponse(content)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Translations: translations,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
