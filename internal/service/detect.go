package service

import (
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"golang.org/x/text/language"
)

const (
	detectMinRunes   = 12
	detectMaxSamples = 200
)

// DetectSourceLanguage votes over the longer strings of a document and
// returns the most common language, or language.Und.
func DetectSourceLanguage(entries []tree.Entry) language.Tag {
	votes := make(map[string]int)
	samples := 0
	for _, e := range entries {
		text, ok := e.Text()
		if !ok || utf8.RuneCountInString(text) < detectMinRunes {
			continue
		}
		code := whatlanggo.DetectLang(text).Iso6391()
		if code == "" {
			continue
		}
		votes[code]++
		samples++
		if samples >= detectMaxSamples {
			break
		}
	}

	var top string
	var topCount int
	for lang, count := range votes {
		if count > topCount || (count == topCount && lang < top) {
			top = lang
			topCount = count
		}
	}
	if top == "" {
		return language.Und
	}
	tag, err := language.Parse(top)
	if err != nil {
		return language.Und
	}
	return tag
}
