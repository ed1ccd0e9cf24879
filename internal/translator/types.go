// Package translator dispatches batches to a provider and resolves every
// string through the escalation chain.
package translator

import (
	"github.com/fabio-bix/json-transcribe/internal/placeholder"
	"github.com/fabio-bix/json-transcribe/internal/provider"
)

// Entry is one distinct source string awaiting translation.
type Entry struct {
	Key    string
	Source string
	Masked string
	Tokens []placeholder.Token
	// Unmaskable is set when the source already carries token-shaped text.
	// Such entries fail with Placeholder without reaching the provider.
	Unmaskable bool
}

func NewEntry(key, source string) Entry {
	masked, tokens := placeholder.Mask(source)
	return Entry{
		Key:        key,
		Source:     source,
		Masked:     masked,
		Tokens:     tokens,
		Unmaskable: placeholder.Conflicts(source),
	}
}

// Stats are the running counters of one job.
type Stats struct {
	PromptTokens      int `json:"total_prompt_tokens"`
	CompletionTokens  int `json:"total_completion_tokens"`
	TotalTokens       int `json:"total_tokens"`
	APICalls          int `json:"api_calls"`
	Translated        int `json:"translated"`
	Cached            int `json:"cached"`
	Errors            int `json:"errors"`
	ValidationErrors  int `json:"validation_errors"`
	PlaceholderErrors int `json:"placeholder_errors"`
}

func (s *Stats) AddUsage(u provider.Usage) {
	s.PromptTokens += u.PromptTokens
	s.CompletionTokens += u.CompletionTokens
	s.TotalTokens += u.TotalTokens
	s.APICalls++
}

func (s Stats) Usage() provider.Usage {
	return provider.Usage{
		PromptTokens:     s.PromptTokens,
		CompletionTokens: s.CompletionTokens,
		TotalTokens:      s.TotalTokens,
	}
}
