package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 8000
)

// OpenAI translates through the official OpenAI SDK.
type OpenAI struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64

	reqOpts []option.RequestOption
}

// OpenAIOption is a functional option for configuring OpenAI.
type OpenAIOption func(*OpenAI)

func WithOpenAIModel(model string) OpenAIOption {
	return func(o *OpenAI) {
		if model != "" {
			o.model = model
		}
	}
}

func WithOpenAIMaxTokens(n int) OpenAIOption {
	return func(o *OpenAI) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func WithOpenAITemperature(t float64) OpenAIOption {
	return func(o *OpenAI) {
		if t >= 0 && t <= 2 {
			o.temperature = t
		}
	}
}

// WithOpenAIBaseURL points the SDK at another OpenAI-compatible endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *OpenAI) {
		if url != "" {
			o.reqOpts = append(o.reqOpts, option.WithBaseURL(url))
		}
	}
}

func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(o *OpenAI) {
		if d > 0 {
			o.reqOpts = append(o.reqOpts, option.WithRequestTimeout(d))
		}
	}
}

func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(o *OpenAI) {
		if client != nil {
			o.reqOpts = append(o.reqOpts, option.WithHTTPClient(client))
		}
	}
}

// WithOpenAIMaxRetries sets the SDK-level retry count for transient errors.
func WithOpenAIMaxRetries(n int) OpenAIOption {
	return func(o *OpenAI) {
		if n >= 0 {
			o.reqOpts = append(o.reqOpts, option.WithMaxRetries(n))
		}
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}

	o := &OpenAI{
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(o)
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, o.reqOpts...)
	o.client = openai.NewClient(reqOpts...)
	return o, nil
}

func (o *OpenAI) Translate(ctx context.Context, req Request) (Result, error) {
	if len(req.Items) == 0 {
		return Result{Translations: map[string]string{}}, nil
	}
	model := req.Model
	if model == "" {
		model = o.model
	}

	user, err := BuildUserPrompt(req.TargetLanguage, req.Items)
	if err != nil {
		return Result{}, err
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(BuildSystemPrompt(req.TargetLanguage, req.Items)),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(o.temperature),
		MaxTokens:   openai.Int(int64(o.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, ErrEmptyResponse
	}

	translations, err := ParseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Translations: translations,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
