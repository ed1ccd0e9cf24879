package service

import (
	"fmt"
	"strings"

	"github.com/fabio-bix/json-transcribe/internal/jobs"
	"github.com/fabio-bix/json-transcribe/internal/placeholder"
	"github.com/fabio-bix/json-transcribe/internal/translator"
	"github.com/fabio-bix/json-transcribe/internal/tree"
)

// plan splits the string leaves of a document into kept manual values and
// distinct sources to translate.
type plan struct {
	keys    []string
	sources map[string]string
	kept    map[string]string
	entries []translator.Entry
	byKey   map[string]translator.Entry
	// repOf maps every translated key to the key that carries its source
	// through the dispatcher.
	repOf     map[string]string
	followers int
}

func buildPlan(doc, existing *tree.Node, sentinel string) *plan {
	strs := tree.Strings(tree.Flatten(doc))
	var previous map[string]string
	if existing != nil {
		previous = tree.StringMap(tree.Flatten(existing))
	}

	p := &plan{
		keys:    make([]string, 0, len(strs)),
		sources: make(map[string]string, len(strs)),
		kept:    make(map[string]string),
		byKey:   make(map[string]translator.Entry),
		repOf:   make(map[string]string, len(strs)),
	}
	firstKey := make(map[string]string)

	for _, e := range strs {
		source, _ := e.Text()
		p.keys = append(p.keys, e.Key)
		p.sources[e.Key] = source

		if prev, ok := previous[e.Key]; ok && !needsTranslation(source, prev, sentinel) {
			p.kept[e.Key] = prev
			continue
		}
		if rep, ok := firstKey[source]; ok {
			p.repOf[e.Key] = rep
			p.followers++
			continue
		}
		firstKey[source] = e.Key
		p.repOf[e.Key] = e.Key
		entry := translator.NewEntry(e.Key, source)
		p.entries = append(p.entries, entry)
		p.byKey[e.Key] = entry
	}
	return p
}

// needsTranslation decides whether a value from a previous output is
// replaced. Values equal to the source, empty or carrying the sentinel are
// retranslated; anything else is a manual edit and kept.
func needsTranslation(source, previous, sentinel string) bool {
	return previous == "" || previous == source || previous == sentinel
}

type sweepResult struct {
	values            map[string]string
	translated        int
	cached            int
	errors            int
	validationErrors  int
	placeholderErrors int
}

// sweep settles every string key of the plan. Missing and empty results are
// replaced by the sentinel, and so are values whose placeholders cannot be
// put back.
func sweep(p *plan, resolutions map[string]translator.Resolution, sentinel string) sweepResult {
	ret := sweepResult{values: make(map[string]string, len(p.keys))}

	for _, key := range p.keys {
		if v, ok := p.kept[key]; ok {
			ret.values[key] = v
			ret.cached++
			continue
		}

		rep := p.repOf[key]
		res := resolutions[rep]
		value := ""
		if res.Outcome == translator.Translated || res.Outcome == translator.Cached {
			value = res.Value
		}

		switch {
		case res.Outcome == translator.Failed && res.Reason == translator.Placeholder:
			ret.placeholderErrors++
			ret.errors++
			ret.values[key] = sentinel
			continue
		case value == "":
			ret.validationErrors++
			ret.errors++
			ret.values[key] = sentinel
			continue
		case placeholder.HasResidue(value):
			ret.placeholderErrors++
			fixed, ok := placeholder.SubstituteLiteral(value, p.byKey[rep].Tokens)
			if !ok {
				ret.errors++
				ret.values[key] = sentinel
				continue
			}
			value = fixed
		}

		ret.values[key] = value
		if res.Outcome == translator.Translated && key == rep {
			ret.translated++
		} else {
			ret.cached++
		}
	}
	return ret
}

func (r sweepResult) warning(sentinel string) string {
	parts := make([]string, 0, 2)
	if r.validationErrors > 0 {
		parts = append(parts, fmt.Sprintf("%d keys not translated and marked as '%s'", r.validationErrors, sentinel))
	}
	if r.placeholderErrors > 0 {
		parts = append(parts, fmt.Sprintf("%d keys with placeholder errors", r.placeholderErrors))
	}
	return strings.Join(parts, " | ")
}

// BuildReport lists the string leaves of result that carry the sentinel or
// are blank.
func BuildReport(result *tree.Node, sentinel, warning string) jobs.Report {
	var needsReview, empty []string
	for _, e := range tree.Flatten(result) {
		v, ok := e.Text()
		if !ok {
			continue
		}
		switch {
		case v == sentinel:
			needsReview = append(needsReview, e.Key)
		case strings.TrimSpace(v) == "":
			empty = append(empty, e.Key)
		}
	}

	failed := append(needsReview, empty...)
	report := jobs.Report{
		FailedCount:      len(failed),
		NeedsReviewCount: len(needsReview),
		EmptyCount:       len(empty),
		Warning:          warning,
	}
	if len(failed) > maxReportedKeys {
		failed = failed[:maxReportedKeys]
	}
	report.FailedKeys = failed
	return report
}
