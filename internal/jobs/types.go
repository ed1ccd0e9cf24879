// Package jobs keeps the in-memory table of translation jobs and runs them on
// a fixed pool of workers.
package jobs

import (
	"errors"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/translator"
	"github.com/fabio-bix/json-transcribe/internal/tree"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrNotCompleted = errors.New("job not completed")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Input is everything a worker needs to run a job.
type Input struct {
	Document       *tree.Node
	Existing       *tree.Node
	TargetLanguage string
	Model          string
	BatchSize      int
	Parallel       int
	FileName       string
	SourceLanguage string
	EstimatedCost  float64
}

// Report summarizes the keys that ended on the failure sentinel.
type Report struct {
	FailedKeys       []string `json:"failed_keys,omitempty"`
	FailedCount      int      `json:"failed_count"`
	NeedsReviewCount int      `json:"needs_review_count"`
	EmptyCount       int      `json:"empty_count"`
	Warning          string   `json:"warning,omitempty"`
}

// Completion is what an executor hands back for a finished job.
type Completion struct {
	Result            *tree.Node
	TotalStrings      int
	TranslatedStrings int
	CachedStrings     int
	CompletedBatches  int
	TotalBatches      int
	Stats             translator.Stats
	ActualCost        float64
	Report            Report
}

type Record struct {
	ID                    string           `json:"id"`
	Status                Status           `json:"status"`
	Progress              float64          `json:"progress"`
	TotalStrings          int              `json:"total_strings"`
	TranslatedStrings     int              `json:"translated_strings"`
	CachedStrings         int              `json:"cached_strings"`
	CurrentBatch          int              `json:"current_batch"`
	TotalBatches          int              `json:"total_batches"`
	Stats                 translator.Stats `json:"stats"`
	EstimatedCost         float64          `json:"estimated_cost"`
	ActualCost            float64          `json:"actual_cost"`
	ETASeconds            *int             `json:"eta_seconds"`
	EstimatedTotalSeconds *int             `json:"estimated_total_seconds"`
	TargetLanguage        string           `json:"target_language"`
	SourceLanguage        string           `json:"source_language,omitempty"`
	Model                 string           `json:"model"`
	FileName              string           `json:"file_name,omitempty"`
	ErrorMessage          string           `json:"error_message,omitempty"`
	Report                *Report          `json:"report,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	StartedAt             *time.Time       `json:"started_at,omitempty"`
	EndedAt               *time.Time       `json:"ended_at,omitempty"`

	// Result is set once on completion and never modified afterwards.
	Result *tree.Node `json:"-"`
	Input  Input      `json:"-"`
}

func cloneRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	tmp := *r
	tmp.ETASeconds = cloneInt(r.ETASeconds)
	tmp.EstimatedTotalSeconds = cloneInt(r.EstimatedTotalSeconds)
	tmp.StartedAt = cloneTime(r.StartedAt)
	tmp.EndedAt = cloneTime(r.EndedAt)
	if r.Report != nil {
		rep := *r.Report
		rep.FailedKeys = append([]string(nil), r.Report.FailedKeys...)
		tmp.Report = &rep
	}
	return &tmp
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
