package service

import (
	"github.com/fabio-bix/json-transcribe/internal/jobs"
	"github.com/fabio-bix/json-transcribe/internal/translator"
	"github.com/fabio-bix/json-transcribe/internal/tree"
)

const DefaultFailureSentinel = "NEEDS_MANUAL_REVIEW"

// maxReportedKeys bounds Report.FailedKeys.
const maxReportedKeys = 50

// Request is one document to translate.
type Request struct {
	Document *tree.Node
	// Existing is a previous output for the same document. Keys whose value
	// differs from the source there are kept as manual edits.
	Existing       *tree.Node
	TargetLanguage string
	Model          string
	BatchSize      int
	Parallel       int
}

// Output is the result of a finished run.
type Output struct {
	Result            *tree.Node
	TotalStrings      int
	TranslatedStrings int
	CachedStrings     int
	KeptStrings       int
	CompletedBatches  int
	TotalBatches      int
	Stats             translator.Stats
	ActualCost        float64
	Report            jobs.Report
}

func (o *Output) Completion() *jobs.Completion {
	return &jobs.Completion{
		Result:            o.Result,
		TotalStrings:      o.TotalStrings,
		TranslatedStrings: o.TranslatedStrings,
		CachedStrings:     o.CachedStrings,
		CompletedBatches:  o.CompletedBatches,
		TotalBatches:      o.TotalBatches,
		Stats:             o.Stats,
		ActualCost:        o.ActualCost,
		Report:            o.Report,
	}
}

// EstimateOptions override the pipeline defaults for one estimate.
type EstimateOptions struct {
	TargetLanguage string
	Model          string
	BatchSize      int
	Parallel       int
}

type Estimate struct {
	TotalStrings          int     `json:"total_strings"`
	TotalEntries          int     `json:"total_entries"`
	EstimatedBatches      int     `json:"estimated_batches"`
	EstimatedTokensInput  int     `json:"estimated_tokens_input"`
	EstimatedTokensOutput int     `json:"estimated_tokens_output"`
	EstimatedCostUSD      float64 `json:"estimated_cost_usd"`
	EstimatedTimeSeconds  int     `json:"estimated_time_seconds"`
	SourceLanguage        string  `json:"source_language"`
	TargetLanguage        string  `json:"target_language"`
	Model                 string  `json:"model"`
	BatchSize             int     `json:"batch_size"`
	Parallel              int     `json:"parallel"`
}
