package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/translator"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeWith(doc *tree.Node) Executor {
	return func(_ context.Context, _ *Record, _ ProgressFunc) (*Completion, error) {
		return &Completion{Result: doc, TotalStrings: 2, TranslatedStrings: 2, TotalBatches: 1, CompletedBatches: 1}, nil
	}
}

func waitStatus(t *testing.T, r *Registry, id string, want Status) *Record {
	t.Helper()
	var got *Record
	require.Eventually(t, func() bool {
		job, ok := r.Get(id)
		if !ok {
			return false
		}
		got = job
		return job.Status == want
	}, time.Second, 10*time.Millisecond)
	return got
}

func TestRegistry_CreateIsPending(t *testing.T) {
	r := NewRegistry(1)

	job := r.Create(Input{TargetLanguage: "es", Model: "m", EstimatedCost: 0.5})
	require.NotEmpty(t, job.ID)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "es", job.TargetLanguage)
	assert.InDelta(t, 0.5, job.EstimatedCost, 1e-9)
	assert.Nil(t, job.StartedAt)

	other := r.Create(Input{})
	assert.NotEqual(t, job.ID, other.ID)
}

func TestRegistry_Worker_CompletesJob(t *testing.T) {
	doc := tree.Object(tree.Member{Key: "a", Value: tree.String("Hola")})
	r := NewRegistry(1)
	r.Start(completeWith(doc))
	defer r.Stop()

	job := r.Create(Input{TargetLanguage: "es"})
	got := waitStatus(t, r, job.ID, StatusCompleted)

	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, 2, got.TranslatedStrings)
	require.NotNil(t, got.Report)

	res, err := r.Result(job.ID)
	require.NoError(t, err)
	assert.Same(t, doc, res)
}

func TestRegistry_Worker_FailedJobKeepsError(t *testing.T) {
	r := NewRegistry(1)
	r.Start(func(context.Context, *Record, ProgressFunc) (*Completion, error) {
		return nil, errors.New("reconstruct failed")
	})
	defer r.Stop()

	job := r.Create(Input{})
	got := waitStatus(t, r, job.ID, StatusFailed)
	assert.Equal(t, "reconstruct failed", got.ErrorMessage)
	assert.NotNil(t, got.EndedAt)

	_, err := r.Result(job.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRegistry_Worker_PanicFailsJob(t *testing.T) {
	r := NewRegistry(1)
	r.Start(func(context.Context, *Record, ProgressFunc) (*Completion, error) {
		panic("boom")
	})
	defer r.Stop()

	job := r.Create(Input{})
	got := waitStatus(t, r, job.ID, StatusFailed)
	assert.Contains(t, got.ErrorMessage, "boom")
}

func TestRegistry_TerminalStatusIsFinal(t *testing.T) {
	r := NewRegistry(1)
	r.Start(completeWith(tree.Object()))
	defer r.Stop()

	job := r.Create(Input{})
	waitStatus(t, r, job.ID, StatusCompleted)

	r.UpdateProgress(job.ID, translator.Progress{Progress: 0.1, CurrentBatch: 9}, 1)
	r.markFailed(job.ID, errors.New("late"))

	got, ok := r.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Empty(t, got.ErrorMessage)
}

func TestRegistry_ProgressVisibleMidRun(t *testing.T) {
	release := make(chan struct{})
	reported := make(chan struct{})
	r := NewRegistry(1)
	r.Start(func(_ context.Context, _ *Record, progress ProgressFunc) (*Completion, error) {
		eta := 4
		progress(translator.Progress{Progress: 0.5, TotalStrings: 10, TranslatedStrings: 5, CurrentBatch: 1, TotalBatches: 2, ETASeconds: &eta}, 0.02)
		close(reported)
		<-release
		return &Completion{Result: tree.Object()}, nil
	})
	defer r.Stop()

	job := r.Create(Input{})
	<-reported

	got, ok := r.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, 0.5, got.Progress)
	assert.Equal(t, 1, got.CurrentBatch)
	assert.InDelta(t, 0.02, got.ActualCost, 1e-9)
	require.NotNil(t, got.ETASeconds)
	assert.Equal(t, 4, *got.ETASeconds)

	// snapshots are independent copies
	*got.ETASeconds = 99
	again, _ := r.Get(job.ID)
	assert.Equal(t, 4, *again.ETASeconds)

	_, err := r.Result(job.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	close(release)
	waitStatus(t, r, job.ID, StatusCompleted)
}

func TestRegistry_DeleteCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	r := NewRegistry(1)
	r.Start(func(ctx context.Context, _ *Record, _ ProgressFunc) (*Completion, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})
	defer r.Stop()

	job := r.Create(Input{})
	<-started

	require.NoError(t, r.Delete(job.ID))
	_, ok := r.Get(job.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, r.Delete(job.ID), ErrNotFound)

	_, err := r.Result(job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_StopReleasesQueuedJobs(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	r := NewRegistry(1, withQueueSize(0))
	r.Start(func(ctx context.Context, _ *Record, _ ProgressFunc) (*Completion, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})

	running := r.Create(Input{})
	<-started
	waitStatus(t, r, running.ID, StatusProcessing)

	// the only worker is busy, so these sends wait in the background
	queued := []*Record{r.Create(Input{}), r.Create(Input{})}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while jobs were waiting for the queue")
	}

	late := r.Create(Input{})
	assert.Equal(t, StatusPending, late.Status)
	for _, job := range queued {
		got, ok := r.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, StatusPending, got.Status)
	}
}

func TestRegistry_PendingJobsRunAfterStart(t *testing.T) {
	r := NewRegistry(2)
	a := r.Create(Input{})
	b := r.Create(Input{})

	r.Start(completeWith(tree.Object()))
	defer r.Stop()

	waitStatus(t, r, a.ID, StatusCompleted)
	waitStatus(t, r, b.ID, StatusCompleted)
}

func TestRegistry_ListOrderedByCreation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(1, withNow(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	first := r.Create(Input{})
	second := r.Create(Input{})
	third := r.Create(Input{})

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestRegistry_PruneOlderThan(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(1, withNow(func() time.Time { return now }))

	old := r.Create(Input{})
	fresh := r.Create(Input{})
	pending := r.Create(Input{})

	r.mu.Lock()
	oldEnd := now.Add(-48 * time.Hour)
	freshEnd := now.Add(-time.Hour)
	r.jobs[old.ID].Status = StatusCompleted
	r.jobs[old.ID].EndedAt = &oldEnd
	r.jobs[fresh.ID].Status = StatusFailed
	r.jobs[fresh.ID].EndedAt = &freshEnd
	r.mu.Unlock()

	assert.Equal(t, 1, r.PruneOlderThan(24*time.Hour))

	_, ok := r.Get(old.ID)
	assert.False(t, ok)
	_, ok = r.Get(fresh.ID)
	assert.True(t, ok)
	_, ok = r.Get(pending.ID)
	assert.True(t, ok)
}

func TestRegistry_MaxJobsPrunesOldestTerminal(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(1, WithMaxJobs(2), withNow(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	a := r.Create(Input{})
	b := r.Create(Input{})
	r.mu.Lock()
	r.jobs[a.ID].Status = StatusCompleted
	r.mu.Unlock()

	c := r.Create(Input{})

	_, ok := r.Get(a.ID)
	assert.False(t, ok)
	_, ok = r.Get(b.ID)
	assert.True(t, ok)
	_, ok = r.Get(c.ID)
	assert.True(t, ok)
}
