package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/translator"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"github.com/fabio-bix/json-transcribe/pkg/log"
	"github.com/google/uuid"
)

const DefaultMaxJobs = 1000

// ProgressFunc receives dispatcher snapshots with the cost spent so far.
type ProgressFunc func(p translator.Progress, actualCost float64)

// Executor runs one job. progress may be called any number of times before
// it returns.
type Executor func(ctx context.Context, job *Record, progress ProgressFunc) (*Completion, error)

// Registry owns every job record. Readers only ever receive copies.
type Registry struct {
	workerCount int
	maxJobs     int
	now         func() time.Time

	mu         sync.RWMutex
	jobs       map[string]*Record
	cancels    map[string]context.CancelFunc
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type Option func(*Registry)

// WithMaxJobs caps how many records are kept; the oldest terminal jobs go first.
func WithMaxJobs(n int) Option {
	return func(r *Registry) {
		r.maxJobs = n
	}
}

func withQueueSize(n int) Option {
	return func(r *Registry) {
		r.pendingIDs = make(chan string, n)
	}
}

func withNow(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(workerCount int, opts ...Option) *Registry {
	if workerCount <= 0 {
		workerCount = 1
	}
	r := &Registry{
		workerCount: workerCount,
		maxJobs:     DefaultMaxJobs,
		now:         time.Now,
		jobs:        make(map[string]*Record),
		cancels:     make(map[string]context.CancelFunc),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a pending job and queues it when workers are running.
func (r *Registry) Create(in Input) *Record {
	job := &Record{
		ID:             uuid.NewString(),
		Status:         StatusPending,
		EstimatedCost:  in.EstimatedCost,
		TargetLanguage: in.TargetLanguage,
		SourceLanguage: in.SourceLanguage,
		Model:          in.Model,
		FileName:       in.FileName,
		CreatedAt:      r.now(),
		Input:          in,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	started := r.started
	pruned := r.pruneTerminalJobsLocked()
	snapshot := cloneRecord(job)
	r.mu.Unlock()

	if len(pruned) > 0 {
		log.Debug("Pruned %d old jobs", len(pruned))
	}
	if started {
		r.enqueuePendingID(job.ID)
	}
	return snapshot
}

func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneRecord(job), true
}

// List returns every job, oldest first.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	ret := make([]*Record, 0, len(r.jobs))
	for _, job := range r.jobs {
		ret = append(ret, cloneRecord(job))
	}
	r.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Result returns the translated document of a completed job.
func (r *Registry) Result(id string) (*tree.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != StatusCompleted || job.Result == nil {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, job.Status)
	}
	return job.Result, nil
}

// Delete drops a job. A running job has its context cancelled and its
// outcome is discarded.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	if _, ok := r.jobs[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.jobs, id)
	cancel := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()

	if cancel != nil {
		log.Info("Cancelling running job %s", id)
		cancel()
	}
	return nil
}

// UpdateProgress copies a dispatcher snapshot into a processing job.
func (r *Registry) UpdateProgress(id string, p translator.Progress, actualCost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return
	}
	job.Progress = p.Progress
	job.TotalStrings = p.TotalStrings
	job.TranslatedStrings = p.TranslatedStrings
	job.CachedStrings = p.CachedStrings
	job.CurrentBatch = p.CurrentBatch
	job.TotalBatches = p.TotalBatches
	job.Stats = p.Stats
	job.ActualCost = actualCost
	job.ETASeconds = cloneInt(p.ETASeconds)
	job.EstimatedTotalSeconds = cloneInt(p.EstimatedTotalSeconds)
}

// PruneOlderThan removes terminal jobs that ended more than age ago and
// returns how many were removed.
func (r *Registry) PruneOlderThan(age time.Duration) int {
	cutoff := r.now().Add(-age)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, job := range r.jobs {
		if !job.Status.Terminal() || job.EndedAt == nil {
			continue
		}
		if job.EndedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}

func (r *Registry) Start(exec Executor) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true

	pending := make([]*Record, 0)
	for _, job := range r.jobs {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	r.mu.Unlock()

	for _, job := range pending {
		r.enqueuePendingID(job.ID)
	}

	for range r.workerCount {
		r.wg.Add(1)
		go r.worker(exec)
	}
}

// Stop cancels running jobs and waits for the workers to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		close(r.stopCh)
		for _, cancel := range r.cancels {
			cancel()
		}
		r.mu.Unlock()
		r.wg.Wait()
	})
}

func (r *Registry) worker(exec Executor) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case id := <-r.pendingIDs:
			ctx, cancel := context.WithCancel(context.Background())
			job, ok := r.markProcessing(id, cancel)
			if !ok {
				cancel()
				continue
			}

			done, err := r.execute(ctx, exec, job)
			cancel()
			if err != nil {
				log.Error("Job %s failed: %v", id, err)
				r.markFailed(id, err)
				continue
			}
			r.markCompleted(id, done)
		}
	}
}

func (r *Registry) execute(ctx context.Context, exec Executor, job *Record) (done *Completion, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	done, err = exec(ctx, job, func(p translator.Progress, cost float64) {
		r.UpdateProgress(job.ID, p, cost)
	})
	if err == nil && done == nil {
		err = fmt.Errorf("executor returned no result")
	}
	return done, err
}

// enqueuePendingID hands id to the workers. A full queue parks the send in
// a goroutine that Stop waits for; after Stop nothing is queued.
func (r *Registry) enqueuePendingID(id string) {
	select {
	case r.pendingIDs <- id:
		return
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.stopCh:
		return
	default:
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case r.pendingIDs <- id:
		case <-r.stopCh:
		}
	}()
}

func (r *Registry) markProcessing(id string, cancel context.CancelFunc) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.stopCh:
		return nil, false
	default:
	}
	job, ok := r.jobs[id]
	if !ok || job.Status != StatusPending {
		return nil, false
	}
	now := r.now()
	job.Status = StatusProcessing
	job.StartedAt = &now
	r.cancels[id] = cancel
	return cloneRecord(job), true
}

func (r *Registry) markCompleted(id string, done *Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	now := r.now()
	report := done.Report
	job.Status = StatusCompleted
	job.Progress = 1
	job.Result = done.Result
	job.TotalStrings = done.TotalStrings
	job.TranslatedStrings = done.TranslatedStrings
	job.CachedStrings = done.CachedStrings
	job.CurrentBatch = done.CompletedBatches
	job.TotalBatches = done.TotalBatches
	job.Stats = done.Stats
	job.ActualCost = done.ActualCost
	job.Report = &report
	job.ErrorMessage = report.Warning
	job.EndedAt = &now
	zero := 0
	job.ETASeconds = &zero
	job.Input = Input{}
	r.pruneTerminalJobsLocked()
}

func (r *Registry) markFailed(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	now := r.now()
	job.Status = StatusFailed
	if err != nil {
		job.ErrorMessage = err.Error()
	}
	job.EndedAt = &now
	job.ETASeconds = nil
	job.Input = Input{}
	r.pruneTerminalJobsLocked()
}

func (r *Registry) pruneTerminalJobsLocked() []string {
	if r.maxJobs <= 0 || len(r.jobs) <= r.maxJobs {
		return nil
	}

	terminal := make([]*Record, 0, len(r.jobs))
	for _, job := range r.jobs {
		if job.Status.Terminal() {
			terminal = append(terminal, job)
		}
	}
	if len(terminal) == 0 {
		return nil
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].CreatedAt.Before(terminal[j].CreatedAt)
	})

	toRemove := min(len(r.jobs)-r.maxJobs, len(terminal))
	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		delete(r.jobs, terminal[i].ID)
		pruned = append(pruned, terminal[i].ID)
	}
	return pruned
}
