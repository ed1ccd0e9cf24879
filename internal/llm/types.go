package llm

import "fmt"

// Message is one chat message; Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the endpoint for a constrained output, e.g. {"type":"json_object"}.
type ResponseFormat struct {
	Type string `json:"type"`
}

var JSONObject = &ResponseFormat{Type: "json_object"}

// ChatRequest is the OpenAI chat completion request body.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse is the OpenAI chat completion response body.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Error   *Error   `json:"error,omitempty"`
}

// Content returns the first choice's message content.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Choice is one completion choice. FinishReason is "stop", "length" or "content_filter".
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Error is the error object some gateways embed in an otherwise valid body.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("LLM API Error: %s (type: %s, code: %s)", e.Message, e.Type, e.Code)
}

// ChatCompletionOptions overrides per-request settings. Zero values fall back
// to the client's Config.
type ChatCompletionOptions struct {
	SystemPrompt   string
	Model          string
	MaxTokens      int
	Temperature    *float64
	ResponseFormat *ResponseFormat
}

func NewChatCompletionOptions() *ChatCompletionOptions {
	return &ChatCompletionOptions{}
}

func (o *ChatCompletionOptions) WithSystemPrompt(prompt string) *ChatCompletionOptions {
	o.SystemPrompt = prompt
	return o
}

func (o *ChatCompletionOptions) WithModel(model string) *ChatCompletionOptions {
	o.Model = model
	return o
}

func (o *ChatCompletionOptions) WithMaxTokens(maxTokens int) *ChatCompletionOptions {
	o.MaxTokens = maxTokens
	return o
}

func (o *ChatCompletionOptions) WithTemperature(temperature float64) *ChatCompletionOptions {
	o.Temperature = &temperature
	return o
}

// WithJSONObject requests a single JSON object as the reply.
func (o *ChatCompletionOptions) WithJSONObject() *ChatCompletionOptions {
	o.ResponseFormat = JSONObject
	return o
}
