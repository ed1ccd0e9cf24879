// Package service ties the translation pipeline to the job registry, the
// periodic job pruning and the runtime settings.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/config"
	"github.com/fabio-bix/json-transcribe/internal/jobs"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"github.com/fabio-bix/json-transcribe/pkg/icron"
	"github.com/fabio-bix/json-transcribe/pkg/log"
	"github.com/robfig/cron/v3"
)

const DefaultPruneCronExpr = "@every 10m"

// Submission is a translation request as received from a client.
type Submission struct {
	Request
	FileName string
}

type Service struct {
	pipeline  *Pipeline
	registry  *jobs.Registry
	cron      *cron.Cron
	retention time.Duration

	mu        sync.Mutex
	pruneExpr string
	pruneID   cron.EntryID
	scheduled bool
}

type Option func(*Service)

// WithRetention sets how long finished jobs are kept before pruning.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		s.retention = d
	}
}

// WithPruneSchedule sets the cron expression of the pruning task.
func WithPruneSchedule(expr string) Option {
	return func(s *Service) {
		s.pruneExpr = expr
	}
}

func New(pipeline *Pipeline, registry *jobs.Registry, c *cron.Cron, opts ...Option) *Service {
	if c == nil {
		c = cron.New()
	}
	s := &Service{
		pipeline:  pipeline,
		registry:  registry,
		cron:      c,
		retention: 24 * time.Hour,
		pruneExpr: DefaultPruneCronExpr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Pipeline() *Pipeline {
	return s.pipeline
}

func (s *Service) Registry() *jobs.Registry {
	return s.registry
}

// Start launches the job workers and schedules pruning. The cron itself is
// started by the caller.
func (s *Service) Start() error {
	s.registry.Start(s.execute)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(s.pruneExpr)
}

func (s *Service) Stop() {
	s.registry.Stop()
}

func (s *Service) execute(ctx context.Context, job *jobs.Record, progress jobs.ProgressFunc) (*jobs.Completion, error) {
	in := job.Input
	log.Info("Job %s started: %s -> %s", job.ID, displayName(in.FileName), in.TargetLanguage)

	out, err := s.pipeline.Run(ctx, Request{
		Document:       in.Document,
		Existing:       in.Existing,
		TargetLanguage: in.TargetLanguage,
		Model:          in.Model,
		BatchSize:      in.BatchSize,
		Parallel:       in.Parallel,
	}, progress)
	if err != nil {
		return nil, err
	}
	log.Info("Job %s completed: %d strings, %d errors, $%.6f", job.ID, out.TotalStrings, out.Stats.Errors, out.ActualCost)
	return out.Completion(), nil
}

// Submit validates the document and registers a pending job for it.
func (s *Service) Submit(sub Submission) (*jobs.Record, error) {
	est, err := s.pipeline.Estimate(sub.Document, EstimateOptions{
		TargetLanguage: sub.TargetLanguage,
		Model:          sub.Model,
		BatchSize:      sub.BatchSize,
		Parallel:       sub.Parallel,
	})
	if err != nil {
		return nil, err
	}
	if sub.Existing != nil {
		if err := tree.ValidateDocument(sub.Existing); err != nil {
			return nil, WrapError(err, ErrInvalidDocument, "invalid existing translation")
		}
	}

	job := s.registry.Create(jobs.Input{
		Document:       sub.Document,
		Existing:       sub.Existing,
		TargetLanguage: est.TargetLanguage,
		Model:          est.Model,
		BatchSize:      est.BatchSize,
		Parallel:       est.Parallel,
		FileName:       sub.FileName,
		SourceLanguage: est.SourceLanguage,
		EstimatedCost:  est.EstimatedCostUSD,
	})
	log.Info("Job %s created for %s (%d strings, %s -> %s)",
		job.ID, displayName(sub.FileName), est.TotalStrings, est.SourceLanguage, est.TargetLanguage)
	return job, nil
}

func (s *Service) Estimate(doc *tree.Node, opts EstimateOptions) (*Estimate, error) {
	return s.pipeline.Estimate(doc, opts)
}

// PruneJobs drops finished jobs older than the retention period.
func (s *Service) PruneJobs() int {
	n := s.registry.PruneOlderThan(s.retention)
	if n > 0 {
		log.Info("Pruned %d finished jobs older than %s", n, s.retention)
	}
	return n
}

// NextPrune reports when pruning runs next.
func (s *Service) NextPrune(now time.Time) (time.Time, error) {
	s.mu.Lock()
	expr := s.pruneExpr
	s.mu.Unlock()

	info, err := icron.GetTriggerInfo(expr, now)
	if err != nil {
		return time.Time{}, err
	}
	return info.Next, nil
}

// ApplyRuntimeSettings updates the pipeline defaults and reschedules pruning.
func (s *Service) ApplyRuntimeSettings(next config.RuntimeSettings) error {
	if err := next.Validate(); err != nil {
		return WrapError(err, ErrValidation, "invalid runtime settings")
	}

	s.mu.Lock()
	if next.PruneCronExpr != s.pruneExpr || !s.scheduled {
		if err := s.scheduleLocked(next.PruneCronExpr); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	s.pipeline.SetDefaults(next.LLMModel, next.TargetLanguage, next.BatchSize, next.Parallel)
	log.Info("Runtime settings applied: model=%s target=%s batch=%d parallel=%d prune=%q",
		next.LLMModel, next.TargetLanguage, next.BatchSize, next.Parallel, next.PruneCronExpr)
	return nil
}

func (s *Service) scheduleLocked(expr string) error {
	id, err := s.cron.AddFunc(expr, func() { s.PruneJobs() })
	if err != nil {
		return WrapError(err, ErrConfig, "schedule job pruning").WithContext("cron", expr)
	}
	if s.scheduled {
		s.cron.Remove(s.pruneID)
	}
	s.pruneID = id
	s.pruneExpr = expr
	s.scheduled = true
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "upload"
	}
	return fmt.Sprintf("%q", name)
}
