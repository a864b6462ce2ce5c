// Package keywords provides the token-overlap scoring used for episode recall
// and answer reuse. Scoring is purely lexical.
package keywords

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "have": {}, "how": {}, "i": {}, "in": {},
	"is": {}, "it": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "our": {},
	"please": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "we": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

// Tokenize lowercases text, splits on anything that is not a letter or digit,
// and drops stopwords, single characters and duplicates. Order of first
// occurrence is preserved.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Overlap counts tokens present in both sets.
func Overlap(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	n := 0
	for _, t := range a {
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

// Jaccard returns |a∩b| / |a∪b| for two token sets, or 0 when both are empty.
func Jaccard(a, b []string) float64 {
	inter := Overlap(a, b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Tag joins the tokens of text with spaces and truncates the result to maxLen
// bytes on a token boundary.
func Tag(text string, maxLen int) string {
	var b strings.Builder
	for _, t := range Tokenize(text) {
		extra := len(t)
		if b.Len() > 0 {
			extra++
		}
		if b.Len()+extra > maxLen {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}
