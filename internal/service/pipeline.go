package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fabio-bix/json-transcribe/internal/batch"
	"github.com/fabio-bix/json-transcribe/internal/cache"
	"github.com/fabio-bix/json-transcribe/internal/jobs"
	"github.com/fabio-bix/json-transcribe/internal/pricing"
	"github.com/fabio-bix/json-transcribe/internal/provider"
	"github.com/fabio-bix/json-transcribe/internal/translator"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"github.com/fabio-bix/json-transcribe/pkg/log"
	"golang.org/x/text/language"
)

// PipelineOptions are the defaults applied when a Request leaves a field unset.
type PipelineOptions struct {
	Model              string
	TargetLanguage     string
	BatchSize          int
	Parallel           int
	FailureSentinel    string
	CheckpointEvery    int
	OversizeRatio      float64
	RetryOversizeRatio float64
	ShortStringMax     int
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	if o.Model == "" {
		o.Model = provider.DefaultModel
	}
	if o.TargetLanguage == "" {
		o.TargetLanguage = "pt"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = batch.DefaultSize
	}
	if o.Parallel <= 0 {
		o.Parallel = translator.DefaultParallel
	}
	if o.FailureSentinel == "" {
		o.FailureSentinel = DefaultFailureSentinel
	}
	if o.ShortStringMax <= 0 {
		o.ShortStringMax = batch.DefaultShortStringMax
	}
	return o
}

// Pipeline turns a document into its translation: selection, dispatch,
// final retry, sweep and reconstruction.
type Pipeline struct {
	client provider.Client
	caches *cache.Manager
	prices *pricing.Table

	mu   sync.RWMutex
	opts PipelineOptions
}

func NewPipeline(client provider.Client, caches *cache.Manager, prices *pricing.Table, opts PipelineOptions) *Pipeline {
	if caches == nil {
		caches = cache.NewManager(nil)
	}
	if prices == nil {
		prices = pricing.Default()
	}
	return &Pipeline{
		client: client,
		caches: caches,
		prices: prices,
		opts:   opts.withDefaults(),
	}
}

func (p *Pipeline) Options() PipelineOptions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

// SetDefaults replaces the request defaults. Runs already started keep
// the values they were started with.
func (p *Pipeline) SetDefaults(model, targetLanguage string, batchSize, parallel int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.Model = firstNonEmpty(model, p.opts.Model)
	p.opts.TargetLanguage = firstNonEmpty(targetLanguage, p.opts.TargetLanguage)
	p.opts.BatchSize = positiveOr(batchSize, p.opts.BatchSize)
	p.opts.Parallel = positiveOr(parallel, p.opts.Parallel)
}

func (p *Pipeline) Prices() *pricing.Table {
	return p.prices
}

// Run translates req.Document. onProgress may be nil; it is called after
// every finished batch with the cost spent so far.
func (p *Pipeline) Run(ctx context.Context, req Request, onProgress jobs.ProgressFunc) (*Output, error) {
	if err := tree.ValidateDocument(req.Document); err != nil {
		return nil, WrapError(err, ErrInvalidDocument, "invalid document")
	}
	o := p.Options()
	lang, err := parseLanguage(firstNonEmpty(req.TargetLanguage, o.TargetLanguage))
	if err != nil {
		return nil, err
	}
	model := firstNonEmpty(req.Model, o.Model)
	sentinel := o.FailureSentinel
	start := time.Now()

	pl := buildPlan(req.Document, req.Existing, sentinel)
	total := len(pl.keys)
	log.Info("Translating %d strings to %s with %s (%d kept, %d distinct to translate)",
		total, lang, model, len(pl.kept), len(pl.entries))

	c, err := p.caches.For(ctx, lang)
	if err != nil {
		return nil, WrapError(err, ErrPipeline, "load cache").WithContext("lang", lang)
	}

	cfg := translator.Config{
		TargetLanguage:     lang,
		Model:              model,
		BatchSize:          positiveOr(req.BatchSize, o.BatchSize),
		Parallel:           positiveOr(req.Parallel, o.Parallel),
		CheckpointEvery:    o.CheckpointEvery,
		OversizeRatio:      o.OversizeRatio,
		RetryOversizeRatio: o.RetryOversizeRatio,
		Policy:             batch.Policy{ShortStringMax: o.ShortStringMax},
	}
	d := translator.NewDispatcher(p.client, c, cfg,
		translator.WithProgress(func(pr translator.Progress) {
			if onProgress != nil {
				onProgress(pr, p.prices.Cost(model, pr.Stats.PromptTokens, pr.Stats.CompletionTokens))
			}
		}),
		translator.WithCheckpoint(func(ctx context.Context) error {
			return p.caches.Checkpoint(ctx, lang)
		}),
	)

	report, err := d.Run(ctx, translator.Work{
		Entries:      pl.entries,
		TotalStrings: total,
		Carried:      len(pl.kept) + pl.followers,
	})
	if err != nil {
		return nil, WrapError(err, ErrPipeline, "dispatch failed")
	}
	if err := d.FinalRetry(ctx, pl.entries, report); err != nil {
		return nil, WrapError(err, ErrPipeline, "final retry failed")
	}

	swept := sweep(pl, report.Resolutions, sentinel)
	result := tree.Reconstruct(req.Document, swept.values)

	if err := p.caches.Checkpoint(ctx, lang); err != nil {
		log.Warn("Final cache checkpoint for %s failed: %v", lang, err)
	}

	stats := report.Stats
	stats.Translated = swept.translated
	stats.Cached = swept.cached
	stats.Errors = swept.errors
	stats.ValidationErrors = swept.validationErrors
	stats.PlaceholderErrors = swept.placeholderErrors

	warning := swept.warning(sentinel)
	if warning != "" {
		log.Warn("Translation to %s finished with problems: %s", lang, warning)
	}
	log.Info("Translated %d strings to %s in %s (%d new, %d cached, %d errors, %d API calls)",
		total, lang, time.Since(start).Round(time.Millisecond), stats.Translated, stats.Cached, stats.Errors, stats.APICalls)

	return &Output{
		Result:            result,
		TotalStrings:      total,
		TranslatedStrings: stats.Translated,
		CachedStrings:     stats.Cached,
		KeptStrings:       len(pl.kept),
		CompletedBatches:  report.CompletedBatches,
		TotalBatches:      report.TotalBatches,
		Stats:             stats,
		ActualCost:        p.prices.Cost(model, stats.PromptTokens, stats.CompletionTokens),
		Report:            BuildReport(result, sentinel, warning),
	}, nil
}

// Estimate predicts size, cost and duration of translating doc without
// calling the provider.
func (p *Pipeline) Estimate(doc *tree.Node, opts EstimateOptions) (*Estimate, error) {
	if err := tree.ValidateDocument(doc); err != nil {
		return nil, WrapError(err, ErrInvalidDocument, "invalid document")
	}
	o := p.Options()
	lang, err := parseLanguage(firstNonEmpty(opts.TargetLanguage, o.TargetLanguage))
	if err != nil {
		return nil, err
	}
	model := firstNonEmpty(opts.Model, o.Model)
	batchSize := positiveOr(opts.BatchSize, o.BatchSize)
	parallel := positiveOr(opts.Parallel, o.Parallel)

	flat := tree.Flatten(doc)
	var total, chars int
	for _, e := range flat {
		if v, ok := e.Text(); ok && strings.TrimSpace(v) != "" {
			total++
			chars += utf8.RuneCountInString(v)
		}
	}

	tokensIn := chars / 4
	tokensOut := int(float64(tokensIn) * 1.2)
	batches := 0
	if total > 0 {
		batches = (total + batchSize - 1) / batchSize
	}
	cost := p.prices.Cost(model, tokensIn, tokensOut)

	return &Estimate{
		TotalStrings:          total,
		TotalEntries:          len(flat),
		EstimatedBatches:      batches,
		EstimatedTokensInput:  tokensIn,
		EstimatedTokensOutput: tokensOut,
		EstimatedCostUSD:      math.Round(cost*1e6) / 1e6,
		EstimatedTimeSeconds:  int(float64(batches) / float64(parallel) * translator.FallbackSecondsPerBatch),
		SourceLanguage:        DetectSourceLanguage(flat).String(),
		TargetLanguage:        lang,
		Model:                 model,
		BatchSize:             batchSize,
		Parallel:              parallel,
	}, nil
}

func parseLanguage(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", WrapError(err, ErrValidation, "invalid target language").WithContext("language", code)
	}
	return tag.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
