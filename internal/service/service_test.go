package service

import (
	"testing"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/config"
	"github.com/fabio-bix/json-transcribe/internal/jobs"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	fake := &dictProvider{dict: spanishDict()}
	s := New(newTestPipeline(fake), jobs.NewRegistry(1), cron.New(), WithRetention(time.Hour))
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func TestService_SubmitRunsJobToCompletion(t *testing.T) {
	s := newTestService(t)

	job, err := s.Submit(Submission{
		Request:  Request{Document: parse(t, `{"a": "Hello", "b": {"c": "World {{name}}"}}`)},
		FileName: "en.json",
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, job.Status)
	assert.Equal(t, "es", job.TargetLanguage)
	assert.Equal(t, "gpt-4o-mini", job.Model)
	assert.Equal(t, "en.json", job.FileName)

	require.Eventually(t, func() bool {
		got, ok := s.Registry().Get(job.ID)
		return ok && got.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := s.Registry().Get(job.ID)
	assert.Equal(t, 2, got.TotalStrings)
	assert.Equal(t, 2, got.TranslatedStrings)
	assert.Equal(t, 1.0, got.Progress)

	result, err := s.Registry().Result(job.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"Hola","b":{"c":"Mundo {{name}}"}}`, marshal(t, result))
}

func TestService_SubmitRejectsInvalidDocument(t *testing.T) {
	s := newTestService(t)

	_, err := s.Submit(Submission{Request: Request{Document: tree.String("nope")}})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidDocument))
	assert.Empty(t, s.Registry().List())

	_, err = s.Submit(Submission{Request: Request{
		Document: tree.Object(),
		Existing: tree.String("nope"),
	}})
	assert.True(t, IsErrorType(err, ErrInvalidDocument))
}

func TestService_ApplyRuntimeSettings(t *testing.T) {
	s := newTestService(t)

	err := s.ApplyRuntimeSettings(config.RuntimeSettings{
		LLMModel:       "gpt-4o",
		TargetLanguage: "de",
		BatchSize:      20,
		Parallel:       2,
		PruneCronExpr:  "@every 1h",
	})
	require.NoError(t, err)

	o := s.Pipeline().Options()
	assert.Equal(t, "gpt-4o", o.Model)
	assert.Equal(t, "de", o.TargetLanguage)
	assert.Equal(t, 20, o.BatchSize)
	assert.Equal(t, 2, o.Parallel)

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	next, err := s.NextPrune(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), next)

	err = s.ApplyRuntimeSettings(config.RuntimeSettings{
		LLMModel:       "x",
		TargetLanguage: "de",
		BatchSize:      1,
		Parallel:       1,
		PruneCronExpr:  "whenever",
	})
	require.Error(t, err)
	assert.Equal(t, "gpt-4o", s.Pipeline().Options().Model)
}

func TestService_PruneJobs(t *testing.T) {
	s := newTestService(t)

	job, err := s.Submit(Submission{Request: Request{Document: parse(t, `{"a": "Hello"}`)}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, ok := s.Registry().Get(job.ID)
		return ok && got.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, s.PruneJobs())
	_, ok := s.Registry().Get(job.ID)
	assert.True(t, ok)
}
