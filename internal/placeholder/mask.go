// Package placeholder protects format markers such as {{name}}, {count} and
// %s from translation by swapping them for opaque tokens.
package placeholder

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxRestorePasses bounds Restore on pathological nested-token inputs.
const MaxRestorePasses = 5

const (
	TagDoubleBrace = "__PH_GG__"
	TagSingleBrace = "__PH_ICU__"
	TagPrintf      = "__PH_PRINTF__"

	// Marker prefixes every token.
	Marker = "__PH_"
)

// Token records one substitution made by Mask.
type Token struct {
	Token    string `json:"token"`
	Original string `json:"original"`
}

type pattern struct {
	re  *regexp.Regexp
	tag string
}

// Patterns run in this order so wider matches are replaced first.
var patterns = []pattern{
	{re: regexp.MustCompile(`\{\{\s*[\p{L}\p{N}_.\-]+\s*\}\}`), tag: TagDoubleBrace},
	{re: regexp.MustCompile(`\{\s*[\p{L}\p{N}_.\-]+\s*\}`), tag: TagSingleBrace},
	{re: regexp.MustCompile(`%[sd]`), tag: TagPrintf},
}

// tokenRe also matches tokens whose case or spacing the model altered.
var tokenRe = regexp.MustCompile(`(?i)__\s*PH_\s*(?:GG|ICU|PRINTF)\s*__\s*(\d+)\s*__`)

// Mask replaces every placeholder in text with a token. Ordinals increase
// across all pattern classes within one call.
func Mask(text string) (string, []Token) {
	tokens := make([]Token, 0)
	masked := text
	for _, p := range patterns {
		masked = p.re.ReplaceAllStringFunc(masked, func(match string) string {
			tok := p.tag + strconv.Itoa(len(tokens)) + "__"
			tokens = append(tokens, Token{Token: tok, Original: match})
			return tok
		})
	}
	return masked, tokens
}

// Restore puts the original placeholders back, newest token first, for at
// most MaxRestorePasses passes. It reports false when tokens remain.
func Restore(text string, tokens []Token) (string, bool) {
	if len(tokens) == 0 {
		return text, !HasResidue(text)
	}

	result := text
	for pass := 0; pass < MaxRestorePasses && strings.Contains(result, Marker); pass++ {
		for i := len(tokens) - 1; i >= 0; i-- {
			result = strings.ReplaceAll(result, tokens[i].Token, tokens[i].Original)
		}
	}
	return result, !HasResidue(result)
}

// SubstituteLiteral is the last-resort pass over a string that still carries
// tokens after Restore. Exact tokens are replaced in mask order, then tokens
// whose spelling was altered are matched by ordinal.
func SubstituteLiteral(text string, tokens []Token) (string, bool) {
	result := text
	for _, t := range tokens {
		result = strings.ReplaceAll(result, t.Token, t.Original)
	}
	if !HasResidue(result) {
		return result, true
	}

	result = tokenRe.ReplaceAllStringFunc(result, func(match string) string {
		sub := tokenRe.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 0 || n >= len(tokens) {
			return match
		}
		return tokens[n].Original
	})
	return result, !HasResidue(result)
}

// HasResidue reports whether text contains a placeholder token, exact or mangled.
func HasResidue(text string) bool {
	return tokenRe.MatchString(text)
}

// Conflicts reports whether text already contains token-shaped text. Such a
// source cannot be masked and restored unambiguously.
func Conflicts(text string) bool {
	return strings.Contains(text, Marker) || HasResidue(text)
}

// HasTokens reports whether any of the given strings carries a token.
func HasTokens(texts ...string) bool {
	for _, t := range texts {
		if strings.Contains(t, Marker) {
			return true
		}
	}
	return false
}
