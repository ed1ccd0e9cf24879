package translator

import (
	"context"
	"unicode/utf8"

	"github.com/fabio-bix/json-transcribe/internal/placeholder"
	"github.com/fabio-bix/json-transcribe/internal/provider"
	"github.com/fabio-bix/json-transcribe/pkg/log"
)

const (
	DefaultOversizeRatio      = 3.0
	DefaultRetryOversizeRatio = 2.5
)

// usageRecorder receives the usage of every successful provider call.
type usageRecorder func(provider.Usage)

// Chain escalates one entry from the shared batch result through single-key
// calls until it reaches a terminal outcome. Calls for one entry are strictly
// sequential and an entry makes at most two calls here.
type Chain struct {
	client        provider.Client
	lang          string
	model         string
	oversize      float64
	retryOversize float64
	record        usageRecorder
}

func NewChain(client provider.Client, lang, model string, oversize, retryOversize float64, record usageRecorder) *Chain {
	if oversize <= 0 {
		oversize = DefaultOversizeRatio
	}
	if retryOversize <= 0 {
		retryOversize = DefaultRetryOversizeRatio
	}
	if record == nil {
		record = func(provider.Usage) {}
	}
	return &Chain{
		client:        client,
		lang:          lang,
		model:         model,
		oversize:      oversize,
		retryOversize: retryOversize,
		record:        record,
	}
}

// ResolveShared starts from the value the shared call produced for e.
func (c *Chain) ResolveShared(ctx context.Context, e Entry, shared string) Resolution {
	if shared == "" {
		log.Debug("Key %s missing from shared result, translating on its own", e.Key)
		return c.run(ctx, e, Resolution{Outcome: NeedsIndividual})
	}
	return c.run(ctx, e, c.evaluate(e, shared, c.oversize))
}

// ResolveIndividual starts e at the single-key stage.
func (c *Chain) ResolveIndividual(ctx context.Context, e Entry) Resolution {
	return c.run(ctx, e, Resolution{Outcome: NeedsIndividual})
}

func (c *Chain) run(ctx context.Context, e Entry, res Resolution) Resolution {
	for !res.Outcome.Terminal() {
		switch res.Outcome {
		case NeedsIndividual:
			v := c.single(ctx, e)
			if v == "" {
				return failed(Exhausted)
			}
			res = c.evaluate(e, v, c.oversize)
		case NeedsRetry:
			log.Debug("Key %s came back oversized, retrying on its own", e.Key)
			v := c.single(ctx, e)
			if v == "" {
				return failed(Exhausted)
			}
			if restored, _ := placeholder.Restore(v, e.Tokens); oversized(e.Source, restored, c.retryOversize) {
				return failed(Oversized)
			}
			return c.restore(e, v)
		default:
			return failed(Exhausted)
		}
	}
	return res
}

// Retry is the last independent attempt for an entry that exhausted the
// chain. Length is not checked again.
func (c *Chain) Retry(ctx context.Context, e Entry) Resolution {
	v := c.single(ctx, e)
	if v == "" {
		return failed(Exhausted)
	}
	return c.restore(e, v)
}

func (c *Chain) evaluate(e Entry, masked string, ratio float64) Resolution {
	restored, _ := placeholder.Restore(masked, e.Tokens)
	if oversized(e.Source, restored, ratio) {
		return Resolution{Outcome: NeedsRetry}
	}
	return c.restore(e, masked)
}

func (c *Chain) restore(e Entry, masked string) Resolution {
	if v, ok := placeholder.Restore(masked, e.Tokens); ok {
		return resolved(v)
	}
	if v, ok := placeholder.SubstituteLiteral(masked, e.Tokens); ok {
		return resolved(v)
	}
	log.Debug("Placeholders not restored for key %s", e.Key)
	return failed(Placeholder)
}

func (c *Chain) single(ctx context.Context, e Entry) string {
	v, usage, err := provider.TranslateSingle(ctx, c.client, e.Key, e.Masked, c.lang, c.model)
	if err != nil {
		log.Warn("Single-key translation of %s failed: %v", e.Key, err)
		return ""
	}
	c.record(usage)
	return v
}

func oversized(source, translated string, ratio float64) bool {
	n := utf8.RuneCountInString(source)
	return n > 0 && float64(utf8.RuneCountInString(translated)) > float64(n)*ratio
}
