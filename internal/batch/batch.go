// Package batch groups pending strings into provider requests.
package batch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultSize           = 50
	DefaultShortStringMax = 20
)

// Route tells whether an item is sent on its own or together with others.
type Route int

const (
	Shared Route = iota
	Individual
)

func (r Route) String() string {
	if r == Individual {
		return "individual"
	}
	return "shared"
}

// Item is one pending string. Text is the masked value sent to the provider.
type Item struct {
	Key    string
	Source string
	Text   string
}

// Batch is one unit of dispatch. Individual items are translated one request
// each, Shared items in a single request.
type Batch struct {
	Seq        int
	Individual []Item
	Shared     []Item
}

func (b Batch) Len() int {
	return len(b.Individual) + len(b.Shared)
}

// Policy decides which strings are too fragile to share a request.
type Policy struct {
	ShortStringMax int
}

func DefaultPolicy() Policy {
	return Policy{ShortStringMax: DefaultShortStringMax}
}

// Route applies the rules in order; the first that matches wins.
func (p Policy) Route(key, source string) Route {
	max := p.ShortStringMax
	if max <= 0 {
		max = DefaultShortStringMax
	}
	dots := strings.Count(key, ".")
	if dots >= 2 {
		return Individual
	}

	short := utf8.RuneCountInString(source) <= max
	if short && hasEdgeNoise(source) {
		return Individual
	}
	if short && dots >= 1 {
		return Individual
	}
	return Shared
}

// hasEdgeNoise reports leading or trailing whitespace or punctuation.
func hasEdgeNoise(s string) bool {
	trimmed := strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return trimmed != s
}

// Compose cuts items into windows of at most size, keeping their order, and
// routes each window's items with policy. Seq starts at 1.
func Compose(items []Item, size int, policy Policy) []Batch {
	if size <= 0 {
		size = DefaultSize
	}
	ret := make([]Batch, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		b := Batch{Seq: len(ret) + 1}
		for _, it := range items[start:end] {
			if policy.Route(it.Key, it.Source) == Individual {
				b.Individual = append(b.Individual, it)
			} else {
				b.Shared = append(b.Shared, it)
			}
		}
		ret = append(ret, b)
	}
	return ret
}
