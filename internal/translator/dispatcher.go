package translator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/batch"
	"github.com/fabio-bix/json-transcribe/internal/cache"
	"github.com/fabio-bix/json-transcribe/internal/placeholder"
	"github.com/fabio-bix/json-transcribe/internal/provider"
	"github.com/fabio-bix/json-transcribe/pkg/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultParallel        = 3
	DefaultCheckpointEvery = 5
)

type Config struct {
	TargetLanguage     string
	Model              string
	BatchSize          int
	Parallel           int
	CheckpointEvery    int
	OversizeRatio      float64
	RetryOversizeRatio float64
	Policy             batch.Policy
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = batch.DefaultSize
	}
	if c.Parallel <= 0 {
		c.Parallel = DefaultParallel
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = DefaultCheckpointEvery
	}
	if c.OversizeRatio <= 0 {
		c.OversizeRatio = DefaultOversizeRatio
	}
	if c.RetryOversizeRatio <= 0 {
		c.RetryOversizeRatio = DefaultRetryOversizeRatio
	}
	if c.Policy.ShortStringMax <= 0 {
		c.Policy = batch.DefaultPolicy()
	}
	return c
}

// Work describes one dispatch. Entries hold distinct source strings;
// Carried counts strings already settled elsewhere, reported as cached.
type Work struct {
	Entries      []Entry
	TotalStrings int
	Carried      int
}

// Report is what a dispatch produced.
type Report struct {
	Resolutions      map[string]Resolution
	Stats            Stats
	CompletedBatches int
	TotalBatches     int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithProgress registers fn to be called after every batch. It runs while
// the stats lock is held and must not call back into the dispatcher.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Dispatcher) {
		d.onProgress = fn
	}
}

// WithCheckpoint registers fn to persist the cache every CheckpointEvery
// finished batches. Errors are logged and otherwise ignored.
func WithCheckpoint(fn func(context.Context) error) Option {
	return func(d *Dispatcher) {
		d.checkpoint = fn
	}
}

func withClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher runs batches concurrently under an admission limit. All stats
// mutation happens under one mutex; provider calls never hold it.
type Dispatcher struct {
	client     provider.Client
	cache      *cache.Cache
	cfg        Config
	onProgress ProgressFunc
	checkpoint func(context.Context) error
	now        func() time.Time

	mu          sync.Mutex
	stats       Stats
	resolutions map[string]Resolution
	completed   int
	total       int
	totalStr    int
	started     time.Time
}

func NewDispatcher(client provider.Client, c *cache.Cache, cfg Config, opts ...Option) *Dispatcher {
	if c == nil {
		c = cache.New()
	}
	d := &Dispatcher{
		client: client,
		cache:  c,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) chain() *Chain {
	return NewChain(d.client, d.cfg.TargetLanguage, d.cfg.Model, d.cfg.OversizeRatio, d.cfg.RetryOversizeRatio, d.recordUsage)
}

// Run resolves cache hits, composes the remaining entries into batches and
// dispatches them. It returns early only when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, work Work) (*Report, error) {
	byKey := make(map[string]Entry, len(work.Entries))
	pending := make([]batch.Item, 0, len(work.Entries))

	d.mu.Lock()
	d.resolutions = make(map[string]Resolution, len(work.Entries))
	d.stats = Stats{Cached: work.Carried}
	d.totalStr = work.TotalStrings
	d.completed = 0
	d.started = d.now()
	for _, e := range work.Entries {
		byKey[e.Key] = e
		if e.Unmaskable {
			log.Warn("Key %s already contains %s text, not translating it", e.Key, placeholder.Marker)
			d.resolutions[e.Key] = failed(Placeholder)
			d.stats.Errors++
			continue
		}
		if v, ok := d.cache.Get(e.Source); ok {
			d.resolutions[e.Key] = Resolution{Outcome: Cached, Value: v}
			d.stats.Cached++
			continue
		}
		pending = append(pending, batch.Item{Key: e.Key, Source: e.Source, Text: e.Masked})
	}
	batches := batch.Compose(pending, d.cfg.BatchSize, d.cfg.Policy)
	d.total = len(batches)
	d.mu.Unlock()

	log.Info("Dispatching %d strings in %d batches (%d settled up front, parallel %d)",
		len(pending), len(batches), len(work.Entries)-len(pending), d.cfg.Parallel)

	sem := semaphore.NewWeighted(int64(d.cfg.Parallel))
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range batches {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return d.runBatch(gctx, b, byKey)
		})
	}
	if err := g.Wait(); err != nil {
		return d.report(), err
	}
	if err := ctx.Err(); err != nil {
		return d.report(), err
	}
	return d.report(), nil
}

func (d *Dispatcher) runBatch(ctx context.Context, b batch.Batch, byKey map[string]Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chain := d.chain()

	for _, it := range b.Individual {
		e := byKey[it.Key]
		if d.fromCache(e) {
			continue
		}
		d.settle(e, chain.ResolveIndividual(ctx, e))
	}

	shared := make([]provider.Item, 0, len(b.Shared))
	for _, it := range b.Shared {
		if d.fromCache(byKey[it.Key]) {
			continue
		}
		shared = append(shared, provider.Item{Key: it.Key, Text: it.Text})
	}
	if len(shared) > 0 {
		res, err := d.client.Translate(ctx, provider.Request{
			Items:          shared,
			TargetLanguage: d.cfg.TargetLanguage,
			Model:          d.cfg.Model,
		})
		var values map[string]string
		if err != nil {
			log.Warn("Batch %d/%d failed, translating its %d keys one by one: %v", b.Seq, d.total, len(shared), err)
			values = map[string]string{}
		} else {
			d.recordUsage(res.Usage)
			var missing []string
			values, missing = provider.Reconcile(shared, res.Translations)
			if len(missing) > 0 {
				log.Warn("Batch %d/%d: provider omitted %d of %d keys", b.Seq, d.total, len(missing), len(shared))
			}
		}
		for _, it := range shared {
			e := byKey[it.Key]
			d.settle(e, chain.ResolveShared(ctx, e, values[it.Key]))
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	d.finishBatch(ctx, b)
	return nil
}

func (d *Dispatcher) fromCache(e Entry) bool {
	v, ok := d.cache.Get(e.Source)
	if !ok {
		return false
	}
	d.mu.Lock()
	d.resolutions[e.Key] = Resolution{Outcome: Cached, Value: v}
	d.stats.Cached++
	d.mu.Unlock()
	return true
}

func (d *Dispatcher) settle(e Entry, res Resolution) {
	if res.Outcome == Translated {
		d.cache.Put(e.Source, res.Value)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolutions[e.Key] = res
	switch res.Outcome {
	case Translated:
		d.stats.Translated++
	case Failed:
		d.stats.Errors++
	}
}

func (d *Dispatcher) recordUsage(u provider.Usage) {
	d.mu.Lock()
	d.stats.AddUsage(u)
	d.mu.Unlock()
}

func (d *Dispatcher) finishBatch(ctx context.Context, b batch.Batch) {
	d.mu.Lock()
	d.completed++
	completed := d.completed
	p := d.progressLocked()
	if d.onProgress != nil {
		d.onProgress(p)
	}
	d.mu.Unlock()

	log.Info("Batch %d/%d done (%d/%d batches finished, %.0f%%)", b.Seq, d.total, completed, d.total, p.Progress*100)

	if d.checkpoint != nil && completed%d.cfg.CheckpointEvery == 0 {
		if err := d.checkpoint(ctx); err != nil {
			log.Warn("Cache checkpoint after %d batches failed: %v", completed, err)
		}
	}
}

func (d *Dispatcher) progressLocked() Progress {
	processed := d.stats.Translated + d.stats.Cached
	eta, est := EstimateTimes(processed, d.totalStr, d.now().Sub(d.started), d.completed, d.total, d.cfg.Parallel)
	return Progress{
		Progress:              Ratio(processed, d.totalStr),
		TotalStrings:          d.totalStr,
		TranslatedStrings:     d.stats.Translated,
		CachedStrings:         d.stats.Cached,
		CurrentBatch:          d.completed,
		TotalBatches:          d.total,
		Stats:                 d.stats,
		ETASeconds:            eta,
		EstimatedTotalSeconds: est,
	}
}

// Snapshot returns the current progress.
func (d *Dispatcher) Snapshot() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progressLocked()
}

func (d *Dispatcher) report() *Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make(map[string]Resolution, len(d.resolutions))
	for k, v := range d.resolutions {
		res[k] = v
	}
	return &Report{
		Resolutions:      res,
		Stats:            d.stats,
		CompletedBatches: d.completed,
		TotalBatches:     d.total,
	}
}

// FinalRetry gives every entry that ended Failed(Exhausted) one more
// single-key call and updates report in place.
func (d *Dispatcher) FinalRetry(ctx context.Context, entries []Entry, report *Report) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	retry := make([]Entry, 0)
	for _, e := range entries {
		if r, ok := report.Resolutions[e.Key]; ok && r.Outcome == Failed && r.Reason == Exhausted {
			retry = append(retry, e)
		}
	}
	if len(retry) == 0 {
		return nil
	}
	log.Info("Final retry for %d keys", len(retry))

	chain := d.chain()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Parallel)
	for _, e := range retry {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := chain.Retry(gctx, e)
			if res.Outcome == Translated {
				d.cache.Put(e.Source, res.Value)
			}
			d.mu.Lock()
			d.resolutions[e.Key] = res
			if res.Outcome == Translated {
				d.stats.Translated++
				d.stats.Errors--
			}
			d.mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	final := d.report()
	report.Resolutions = final.Resolutions
	report.Stats = final.Stats
	return err
}
