package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/cache"
	"github.com/fabio-bix/json-transcribe/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider answers every request through fn and records the calls.
type fakeProvider struct {
	mu    sync.Mutex
	calls []provider.Request
	fn    func(req provider.Request) (map[string]string, error)
}

func (f *fakeProvider) Translate(_ context.Context, req provider.Request) (provider.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	translations, err := f.fn(req)
	if err != nil {
		return provider.Result{}, err
	}
	return provider.Result{
		Translations: translations,
		Usage:        provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) singleCallsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c.Items) == 1 && c.Items[0].Key == key {
			n++
		}
	}
	return n
}

func prefixAll(prefix string) func(provider.Request) (map[string]string, error) {
	return func(req provider.Request) (map[string]string, error) {
		out := make(map[string]string, len(req.Items))
		for _, it := range req.Items {
			out[it.Key] = prefix + it.Text
		}
		return out, nil
	}
}

func entries(pairs ...string) []Entry {
	ret := make([]Entry, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ret = append(ret, NewEntry(pairs[i], pairs[i+1]))
	}
	return ret
}

func TestDispatcher_TranslatesAndRestoresPlaceholders(t *testing.T) {
	fake := &fakeProvider{fn: prefixAll("ES ")}
	c := cache.New()
	d := NewDispatcher(fake, c, Config{TargetLanguage: "es", Model: "gpt-4o-mini"})

	work := Work{Entries: entries("a", "Hello", "b", "World {{name}} again"), TotalStrings: 2}
	report, err := d.Run(context.Background(), work)
	require.NoError(t, err)

	assert.Equal(t, Resolution{Outcome: Translated, Value: "ES Hello"}, report.Resolutions["a"])
	assert.Equal(t, Resolution{Outcome: Translated, Value: "ES World {{name}} again"}, report.Resolutions["b"])
	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, 2, report.Stats.Translated)
	assert.Equal(t, 1, report.Stats.APICalls)
	assert.Equal(t, 15, report.Stats.TotalTokens)

	v, ok := c.Get("World {{name}} again")
	require.True(t, ok)
	assert.Equal(t, "ES World {{name}} again", v)
}

func TestDispatcher_CacheHitMakesNoCall(t *testing.T) {
	fake := &fakeProvider{fn: prefixAll("ES ")}
	c := cache.NewFrom(map[string]string{"Hello": "Hola"})
	d := NewDispatcher(fake, c, Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("a", "Hello"), TotalStrings: 1})
	require.NoError(t, err)

	assert.Equal(t, 0, fake.callCount())
	assert.Equal(t, Resolution{Outcome: Cached, Value: "Hola"}, report.Resolutions["a"])
	assert.Equal(t, 1, report.Stats.Cached)
	assert.Equal(t, 0, report.TotalBatches)
}

func TestDispatcher_CorruptedCacheEntryIsRetranslated(t *testing.T) {
	fake := &fakeProvider{fn: prefixAll("ES ")}
	c := cache.NewFrom(map[string]string{"Hi {x}": "Hola __PH_ICU__0__"})
	d := NewDispatcher(fake, c, Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("a", "Hi {x}"), TotalStrings: 1})
	require.NoError(t, err)

	assert.Equal(t, "ES Hi {x}", report.Resolutions["a"].Value)
	v, ok := c.Get("Hi {x}")
	require.True(t, ok)
	assert.Equal(t, "ES Hi {x}", v)
}

func TestDispatcher_MissingKeyFallsBackToSingleCall(t *testing.T) {
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		out := map[string]string{}
		for _, it := range req.Items {
			if it.Key == "b" && len(req.Items) > 1 {
				continue
			}
			out[it.Key] = "ES " + it.Text
		}
		out["unexpected"] = "dropped"
		return out, nil
	}}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("a", "First", "b", "Second", "c", "Third"), TotalStrings: 3})
	require.NoError(t, err)

	assert.Equal(t, "ES Second", report.Resolutions["b"].Value)
	assert.Equal(t, 1, fake.singleCallsFor("b"))
	assert.Equal(t, 2, fake.callCount())
	assert.NotContains(t, report.Resolutions, "unexpected")
	assert.Equal(t, 3, report.Stats.Translated)
}

func TestDispatcher_BatchErrorRoutesEveryKeyIndividually(t *testing.T) {
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		if len(req.Items) > 1 {
			return nil, errors.New("connection reset")
		}
		return map[string]string{req.Items[0].Key: "ES " + req.Items[0].Text}, nil
	}}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("a", "First", "b", "Second"), TotalStrings: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, fake.callCount())
	assert.Equal(t, Translated, report.Resolutions["a"].Outcome)
	assert.Equal(t, Translated, report.Resolutions["b"].Outcome)
	assert.Equal(t, 2, report.Stats.APICalls)
}

func TestDispatcher_OversizedRetrySucceeds(t *testing.T) {
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		out := map[string]string{}
		for _, it := range req.Items {
			if len(req.Items) > 1 && it.Key == "b" {
				out[it.Key] = strings.Repeat("concatenated ", 10)
				continue
			}
			out[it.Key] = "ES " + it.Text
		}
		return out, nil
	}}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("a", "First", "b", "Second"), TotalStrings: 2})
	require.NoError(t, err)

	assert.Equal(t, Resolution{Outcome: Translated, Value: "ES Second"}, report.Resolutions["b"])
	assert.Equal(t, 1, fake.singleCallsFor("b"))
}

func TestDispatcher_OversizedRetryStillTooLongFails(t *testing.T) {
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		out := map[string]string{}
		for _, it := range req.Items {
			out[it.Key] = strings.Repeat("x", 40)
		}
		return out, nil
	}}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("a", "Hello world"), TotalStrings: 1})
	require.NoError(t, err)

	assert.Equal(t, Resolution{Outcome: Failed, Reason: Oversized}, report.Resolutions["a"])
	assert.Equal(t, 1, report.Stats.Errors)
	assert.Equal(t, 2, fake.callCount())
}

func TestDispatcher_OversizedRetryEmptyIsExhausted(t *testing.T) {
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		if len(req.Items) == 1 {
			return map[string]string{}, nil
		}
		out := map[string]string{}
		for _, it := range req.Items {
			out[it.Key] = strings.Repeat("y", 100)
		}
		return out, nil
	}}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("a", "First", "b", "Second"), TotalStrings: 2})
	require.NoError(t, err)

	assert.Equal(t, Resolution{Outcome: Failed, Reason: Exhausted}, report.Resolutions["a"])
}

func TestDispatcher_UnrestorablePlaceholderFails(t *testing.T) {
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		out := map[string]string{}
		for _, it := range req.Items {
			out[it.Key] = "Hola __PH_GG__7__"
		}
		return out, nil
	}}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("a", "Hello {{name}}"), TotalStrings: 1})
	require.NoError(t, err)

	assert.Equal(t, Resolution{Outcome: Failed, Reason: Placeholder}, report.Resolutions["a"])
	assert.Equal(t, 1, fake.callCount())
}

func TestDispatcher_MangledPlaceholderRepaired(t *testing.T) {
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		return map[string]string{req.Items[0].Key: "Hola __ph_gg__0__"}, nil
	}}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("a", "Hello {{name}}"), TotalStrings: 1})
	require.NoError(t, err)

	assert.Equal(t, Resolution{Outcome: Translated, Value: "Hola {{name}}"}, report.Resolutions["a"])
}

func TestDispatcher_IndividualRouteSkipsSharedCall(t *testing.T) {
	fake := &fakeProvider{fn: prefixAll("ES ")}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es"})

	report, err := d.Run(context.Background(), Work{Entries: entries("nav.home", "Home", "a.b.c", "Deep"), TotalStrings: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, fake.callCount())
	assert.Equal(t, 1, fake.singleCallsFor("nav.home"))
	assert.Equal(t, 1, fake.singleCallsFor("a.b.c"))
	assert.Equal(t, "ES Deep", report.Resolutions["a.b.c"].Value)
}

func TestDispatcher_ConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return prefixAll("ES ")(req)
	}}

	var pairs []string
	for i := 0; i < 40; i++ {
		pairs = append(pairs, fmt.Sprintf("k%d", i), fmt.Sprintf("Sentence number %d", i))
	}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es", BatchSize: 2, Parallel: 3})

	report, err := d.Run(context.Background(), Work{Entries: entries(pairs...), TotalStrings: 40})
	require.NoError(t, err)

	assert.Equal(t, 20, report.TotalBatches)
	assert.Equal(t, 20, report.CompletedBatches)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 40, report.Stats.Translated)
	assert.Equal(t, 20, report.Stats.APICalls)
}

func TestDispatcher_ConcurrencyCapDuringEscalation(t *testing.T) {
	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	singles := map[string]int{}
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)

		if len(req.Items) > 1 {
			return nil, errors.New("upstream timeout")
		}
		key := req.Items[0].Key
		mu.Lock()
		singles[key]++
		first := singles[key] == 1
		mu.Unlock()
		if first {
			return map[string]string{}, nil
		}
		return prefixAll("ES ")(req)
	}}

	var pairs []string
	for i := 0; i < 12; i++ {
		pairs = append(pairs, fmt.Sprintf("menu.items.k%d", i), fmt.Sprintf("Item %d", i))
		pairs = append(pairs, fmt.Sprintf("k%d", i), fmt.Sprintf("Sentence number %d in the list", i))
	}
	work := Work{Entries: entries(pairs...), TotalStrings: 24}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es", BatchSize: 4, Parallel: 3})

	report, err := d.Run(context.Background(), work)
	require.NoError(t, err)
	assert.Equal(t, 6, report.TotalBatches)
	assert.Equal(t, 24, report.Stats.Errors)
	for _, e := range work.Entries {
		assert.Equal(t, Resolution{Outcome: Failed, Reason: Exhausted}, report.Resolutions[e.Key], e.Key)
	}

	require.NoError(t, d.FinalRetry(context.Background(), work.Entries, report))
	assert.Equal(t, 24, report.Stats.Translated)
	assert.Equal(t, 0, report.Stats.Errors)
	assert.Equal(t, "ES Item 3", report.Resolutions["menu.items.k3"].Value)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestDispatcher_UnmaskableSourceFailsWithoutCall(t *testing.T) {
	fake := &fakeProvider{fn: prefixAll("ES ")}
	c := cache.New()
	d := NewDispatcher(fake, c, Config{TargetLanguage: "es"})

	work := Work{Entries: entries("a", "__PH_GG__0{{name}}_{{%__PH_", "b", "Hello there"), TotalStrings: 2}
	report, err := d.Run(context.Background(), work)
	require.NoError(t, err)

	assert.Equal(t, Resolution{Outcome: Failed, Reason: Placeholder}, report.Resolutions["a"])
	assert.Equal(t, "ES Hello there", report.Resolutions["b"].Value)
	assert.Equal(t, 1, report.Stats.Errors)
	assert.Equal(t, 1, fake.callCount())
	assert.Zero(t, fake.singleCallsFor("a"))

	require.NoError(t, d.FinalRetry(context.Background(), work.Entries, report))
	assert.Equal(t, 1, fake.callCount())
	_, ok := c.Get("__PH_GG__0{{name}}_{{%__PH_")
	assert.False(t, ok)
}

func TestDispatcher_ProgressAndCheckpoints(t *testing.T) {
	fake := &fakeProvider{fn: prefixAll("ES ")}

	var mu sync.Mutex
	var seen []Progress
	var checkpoints atomic.Int32

	var pairs []string
	for i := 0; i < 10; i++ {
		pairs = append(pairs, fmt.Sprintf("k%d", i), fmt.Sprintf("Sentence number %d", i))
	}
	d := NewDispatcher(fake, cache.New(),
		Config{TargetLanguage: "es", BatchSize: 1, Parallel: 1, CheckpointEvery: 5},
		WithProgress(func(p Progress) {
			mu.Lock()
			seen = append(seen, p)
			mu.Unlock()
		}),
		WithCheckpoint(func(context.Context) error {
			checkpoints.Add(1)
			return errors.New("disk full")
		}),
	)

	_, err := d.Run(context.Background(), Work{Entries: entries(pairs...), TotalStrings: 12, Carried: 2})
	require.NoError(t, err)

	require.Len(t, seen, 10)
	for i, p := range seen {
		assert.Equal(t, i+1, p.CurrentBatch)
		assert.Equal(t, 10, p.TotalBatches)
	}
	last := seen[len(seen)-1]
	assert.InDelta(t, 1.0, last.Progress, 1e-9)
	assert.Equal(t, 2, last.CachedStrings)
	assert.Equal(t, 10, last.TranslatedStrings)
	assert.Equal(t, int32(2), checkpoints.Load())
}

func TestDispatcher_CancelledContext(t *testing.T) {
	fake := &fakeProvider{fn: prefixAll("ES ")}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es", BatchSize: 1, Parallel: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Run(ctx, Work{Entries: entries("a", "First", "b", "Second"), TotalStrings: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_FinalRetry(t *testing.T) {
	var attempts atomic.Int32
	fake := &fakeProvider{fn: func(req provider.Request) (map[string]string, error) {
		// the first two calls for the key come back empty
		if attempts.Add(1) <= 2 {
			return map[string]string{}, nil
		}
		return map[string]string{req.Items[0].Key: "ES " + req.Items[0].Text}, nil
	}}
	d := NewDispatcher(fake, cache.New(), Config{TargetLanguage: "es"})
	work := Work{Entries: entries("a", "Hello world"), TotalStrings: 1}

	report, err := d.Run(context.Background(), work)
	require.NoError(t, err)
	require.Equal(t, Resolution{Outcome: Failed, Reason: Exhausted}, report.Resolutions["a"])
	require.Equal(t, 1, report.Stats.Errors)

	require.NoError(t, d.FinalRetry(context.Background(), work.Entries, report))
	assert.Equal(t, Resolution{Outcome: Translated, Value: "ES Hello world"}, report.Resolutions["a"])
	assert.Equal(t, 0, report.Stats.Errors)
	assert.Equal(t, 1, report.Stats.Translated)
	assert.Equal(t, 3, fake.callCount())
}
