package service

import (
	"context"
	"sync"
	"testing"

	"github.com/fabio-bix/json-transcribe/internal/cache"
	"github.com/fabio-bix/json-transcribe/internal/provider"
	"github.com/fabio-bix/json-transcribe/internal/translator"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dictProvider translates masked texts through a fixed dictionary and
// leaves out anything it does not know.
type dictProvider struct {
	mu    sync.Mutex
	dict  map[string]string
	calls []provider.Request
}

func (p *dictProvider) Translate(_ context.Context, req provider.Request) (provider.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	out := make(map[string]string)
	for _, it := range req.Items {
		if v, ok := p.dict[it.Text]; ok {
			out[it.Key] = v
		}
	}
	return provider.Result{
		Translations: out,
		Usage:        provider.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (p *dictProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func parse(t *testing.T, raw string) *tree.Node {
	t.Helper()
	n, err := tree.ParseDocument([]byte(raw))
	require.NoError(t, err)
	return n
}

func marshal(t *testing.T, n *tree.Node) string {
	t.Helper()
	data, err := n.MarshalJSON()
	require.NoError(t, err)
	return string(data)
}

func newTestPipeline(p provider.Client) *Pipeline {
	return NewPipeline(p, cache.NewManager(nil), nil, PipelineOptions{Model: "gpt-4o-mini", TargetLanguage: "es"})
}

func spanishDict() map[string]string {
	return map[string]string{
		"Hello":              "Hola",
		"World __PH_GG__0__": "Mundo __PH_GG__0__",
		"Save":               "Guardar",
	}
}

func TestPipeline_TranslatesDocument(t *testing.T) {
	fake := &dictProvider{dict: spanishDict()}
	p := newTestPipeline(fake)

	out, err := p.Run(context.Background(), Request{
		Document:       parse(t, `{"a": "Hello", "b": {"c": "World {{name}}"}}`),
		TargetLanguage: "es",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, `{"a":"Hola","b":{"c":"Mundo {{name}}"}}`, marshal(t, out.Result))
	assert.Equal(t, 2, out.TotalStrings)
	assert.Equal(t, 2, out.TranslatedStrings)
	assert.Equal(t, 0, out.Stats.Errors)
	assert.Empty(t, out.Report.Warning)
	assert.Zero(t, out.Report.FailedCount)
	assert.Greater(t, out.ActualCost, 0.0)
	assert.Equal(t, fake.callCount(), out.Stats.APICalls)
}

func TestPipeline_MissingKeyEndsOnSentinel(t *testing.T) {
	dict := spanishDict()
	delete(dict, "World __PH_GG__0__")
	fake := &dictProvider{dict: dict}
	p := newTestPipeline(fake)

	out, err := p.Run(context.Background(), Request{
		Document: parse(t, `{"a": "Hello", "b": {"c": "World {{name}}"}}`),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, `{"a":"Hola","b":{"c":"NEEDS_MANUAL_REVIEW"}}`, marshal(t, out.Result))
	assert.Equal(t, 1, out.Stats.Errors)
	assert.Equal(t, 1, out.Stats.ValidationErrors)
	assert.Equal(t, 1, out.TranslatedStrings)
	assert.Equal(t, []string{"b.c"}, out.Report.FailedKeys)
	assert.Equal(t, 1, out.Report.NeedsReviewCount)
	assert.Equal(t, "1 keys not translated and marked as 'NEEDS_MANUAL_REVIEW'", out.Report.Warning)
}

func TestPipeline_ProviderAlwaysEmptyFailsEveryEntry(t *testing.T) {
	fake := &dictProvider{dict: map[string]string{}}
	p := newTestPipeline(fake)

	doc := parse(t, `{"a": "One", "b": "Two", "c": {"d": "Three", "e": ["Four", "Five"]}}`)
	out, err := p.Run(context.Background(), Request{Document: doc}, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, out.Stats.Errors)
	assert.Equal(t, out.TotalStrings, out.Stats.Errors)
	for _, e := range tree.Flatten(out.Result) {
		v, _ := e.Text()
		assert.Equal(t, DefaultFailureSentinel, v, e.Key)
	}
	// batch call, one single call, one final retry per entry at most
	assert.LessOrEqual(t, fake.callCount(), 1+5*3)
}

func TestPipeline_DuplicateSourcesTranslatedOnce(t *testing.T) {
	fake := &dictProvider{dict: spanishDict()}
	p := newTestPipeline(fake)

	out, err := p.Run(context.Background(), Request{
		Document: parse(t, `{"x": "Save", "y": {"z": "Save"}}`),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, `{"x":"Guardar","y":{"z":"Guardar"}}`, marshal(t, out.Result))
	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, 1, out.TranslatedStrings)
	assert.Equal(t, 1, out.CachedStrings)
}

func TestPipeline_SecondRunServedFromCache(t *testing.T) {
	fake := &dictProvider{dict: spanishDict()}
	p := newTestPipeline(fake)
	doc := parse(t, `{"a": "Hello", "b": {"c": "World {{name}}"}}`)

	_, err := p.Run(context.Background(), Request{Document: doc}, nil)
	require.NoError(t, err)
	calls := fake.callCount()

	out, err := p.Run(context.Background(), Request{Document: doc}, nil)
	require.NoError(t, err)
	assert.Equal(t, calls, fake.callCount())
	assert.Equal(t, 2, out.CachedStrings)
	assert.Zero(t, out.TranslatedStrings)
	assert.Zero(t, out.Stats.APICalls)
	assert.Equal(t, `{"a":"Hola","b":{"c":"Mundo {{name}}"}}`, marshal(t, out.Result))
}

func TestPipeline_KeepsManualEdits(t *testing.T) {
	fake := &dictProvider{dict: spanishDict()}
	p := newTestPipeline(fake)

	out, err := p.Run(context.Background(), Request{
		Document: parse(t, `{"a": "Hello", "b": {"c": "World {{name}}"}, "d": "Save"}`),
		Existing: parse(t, `{"a": "¡Hola!", "b": {"c": "World {{name}}"}, "d": "NEEDS_MANUAL_REVIEW"}`),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, `{"a":"¡Hola!","b":{"c":"Mundo {{name}}"},"d":"Guardar"}`, marshal(t, out.Result))
	assert.Equal(t, 1, out.KeptStrings)
	assert.Equal(t, 2, out.TranslatedStrings)
	assert.Equal(t, 1, out.CachedStrings)
	for _, c := range fake.calls {
		for _, it := range c.Items {
			assert.NotEqual(t, "a", it.Key)
		}
	}
}

func TestPipeline_ReportsProgress(t *testing.T) {
	fake := &dictProvider{dict: spanishDict()}
	p := newTestPipeline(fake)

	var mu sync.Mutex
	var seen []translator.Progress
	_, err := p.Run(context.Background(), Request{
		Document: parse(t, `{"a": "Hello", "b": {"c": "World {{name}}"}}`),
	}, func(pr translator.Progress, cost float64) {
		mu.Lock()
		seen = append(seen, pr)
		mu.Unlock()
		assert.GreaterOrEqual(t, cost, 0.0)
	})
	require.NoError(t, err)

	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Equal(t, last.TotalBatches, last.CurrentBatch)
	assert.Equal(t, 1.0, last.Progress)
}

func TestPipeline_RejectsInvalidInput(t *testing.T) {
	p := newTestPipeline(&dictProvider{})

	_, err := p.Run(context.Background(), Request{Document: tree.String("hi")}, nil)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidDocument))

	_, err = p.Run(context.Background(), Request{Document: tree.Object(), TargetLanguage: "!!"}, nil)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrValidation))
}

func TestPipeline_RejectsCollidingKeyPaths(t *testing.T) {
	prov := &dictProvider{dict: spanishDict()}
	p := newTestPipeline(prov)
	n, err := tree.Parse([]byte(`{"a.b":"Hello","a":{"b":"Save"}}`))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Request{Document: n, TargetLanguage: "es"}, nil)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrInvalidDocument))
	assert.ErrorIs(t, err, tree.ErrPathCollision)
	assert.Zero(t, prov.callCount())
}

func TestPipeline_CancelledContextFails(t *testing.T) {
	p := newTestPipeline(&dictProvider{dict: spanishDict()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, Request{Document: parse(t, `{"a": "Hello"}`)}, nil)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrPipeline))
}

func TestPipeline_Estimate(t *testing.T) {
	p := newTestPipeline(&dictProvider{})

	est, err := p.Estimate(parse(t, `{"a": "abcdefgh", "b": ["12345678", 3, " "]}`), EstimateOptions{Parallel: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, est.TotalStrings)
	assert.Equal(t, 4, est.TotalEntries)
	assert.Equal(t, 1, est.EstimatedBatches)
	assert.Equal(t, 4, est.EstimatedTokensInput)
	assert.Equal(t, 4, est.EstimatedTokensOutput)
	assert.InDelta(t, 0.000003, est.EstimatedCostUSD, 1e-9)
	assert.Equal(t, 3, est.EstimatedTimeSeconds)
	assert.Equal(t, "es", est.TargetLanguage)
	assert.Equal(t, "und", est.SourceLanguage)
	assert.Equal(t, 50, est.BatchSize)
	assert.Equal(t, 1, est.Parallel)

	_, err = p.Estimate(tree.String("x"), EstimateOptions{})
	assert.True(t, IsErrorType(err, ErrInvalidDocument))
}

func TestPipeline_SetDefaults(t *testing.T) {
	p := newTestPipeline(&dictProvider{})
	p.SetDefaults("gpt-4o", "", 10, 0)

	o := p.Options()
	assert.Equal(t, "gpt-4o", o.Model)
	assert.Equal(t, "es", o.TargetLanguage)
	assert.Equal(t, 10, o.BatchSize)
	assert.Equal(t, 3, o.Parallel)
}
