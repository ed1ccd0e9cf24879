// Package provider defines the translation backend contract and its
// OpenAI-family implementations.
package provider

import (
	"context"
	"errors"
)

var (
	ErrEmptyResponse = errors.New("provider returned no content")
	ErrNotObject     = errors.New("provider reply is not a JSON object")
)

// Item is one masked string sent for translation.
type Item struct {
	Key  string
	Text string
}

type Request struct {
	Items          []Item
	TargetLanguage string
	Model          string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Result maps item keys to translated text. Keys may be missing or extra;
// callers run Reconcile before use.
type Result struct {
	Translations map[string]string
	Usage        Usage
}

// Client translates a set of keyed strings in one round trip. Implementations
// are safe for concurrent use and return an empty Result with zero Usage
// together with any transport or parse error.
type Client interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Translate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// TranslateSingle sends one key on its own and returns its translation, or ""
// when the reply did not contain it.
func TranslateSingle(ctx context.Context, c Client, key, text, lang, model string) (string, Usage, error) {
	res, err := c.Translate(ctx, Request{
		Items:          []Item{{Key: key, Text: text}},
		TargetLanguage: lang,
		Model:          model,
	})
	if err != nil {
		return "", Usage{}, err
	}
	return res.Translations[key], res.Usage, nil
}

// Reconcile returns a mapping with exactly the keys of items: missing keys
// map to "" and extra keys are dropped.
func Reconcile(items []Item, translations map[string]string) (map[string]string, []string) {
	ret := make(map[string]string, len(items))
	var missing []string
	for _, it := range items {
		v, ok := translations[it.Key]
		if !ok {
			missing = append(missing, it.Key)
		}
		ret[it.Key] = v
	}
	return ret, missing
}
