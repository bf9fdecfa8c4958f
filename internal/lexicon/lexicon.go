// Package lexicon matches whole-word keywords in free text.
//
// Matching is case-insensitive and Unicode-aware: a keyword matches only
// when it is not preceded or followed by a letter, digit or underscore, so
// "não" matches in "não, obrigado" but "sim" does not match in "simples".
// Input is NFC-normalised first so decomposed accents compare equal to
// precomposed keywords.
package lexicon

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Keyword is a single compiled whole-word pattern.
type Keyword struct {
	Text string
	re   *regexp.Regexp
}

// Compile builds a matcher for kw. Runs of whitespace inside a multi-word
// keyword match any run of whitespace in the text.
func Compile(kw string) Keyword {
	fields := strings.Fields(Normalize(kw))
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}
	pattern := `(?:^|[^\p{L}\p{M}\p{N}_])` + strings.Join(quoted, `\s+`) + `(?:$|[^\p{L}\p{M}\p{N}_])`
	return Keyword{Text: kw, re: regexp.MustCompile(pattern)}
}

// In reports whether the keyword occurs as a whole word in normalised text.
func (k Keyword) In(normalized string) bool {
	if k.re == nil {
		return false
	}
	return k.re.MatchString(normalized)
}

// Normalize lowercases and NFC-composes text for matching.
func Normalize(text string) string {
	return strings.ToLower(norm.NFC.String(text))
}

// Table maps an ordered set of categories onto keyword lists.
type Table[K comparable] struct {
	order    []K
	keywords map[K][]Keyword
}

// NewTable compiles a keyword table. order fixes iteration order; categories
// in order with no entry in words simply never match.
func NewTable[K comparable](order []K, words map[K][]string) *Table[K] {
	t := &Table[K]{
		order:    append([]K(nil), order...),
		keywords: make(map[K][]Keyword, len(words)),
	}
	for k, list := range words {
		compiled := make([]Keyword, 0, len(list))
		for _, w := range list {
			compiled = append(compiled, Compile(w))
		}
		t.keywords[k] = compiled
	}
	return t
}

// Count returns, per category, how many distinct keywords occur in text.
// Categories without matches are absent from the result.
func (t *Table[K]) Count(text string) map[K]int {
	normalized := Normalize(text)
	counts := make(map[K]int)
	for _, k := range t.order {
		for _, kw := range t.keywords[k] {
			if kw.In(normalized) {
				counts[k]++
			}
		}
	}
	return counts
}

// Matched returns the categories with at least one keyword in text, in
// table order. Scanning a category stops at its first hit.
func (t *Table[K]) Matched(text string) []K {
	normalized := Normalize(text)
	var matched []K
	for _, k := range t.order {
		for _, kw := range t.keywords[k] {
			if kw.In(normalized) {
				matched = append(matched, k)
				break
			}
		}
	}
	return matched
}

// Keywords returns the raw keyword strings of category k.
func (t *Table[K]) Keywords(k K) []string {
	out := make([]string, 0, len(t.keywords[k]))
	for _, kw := range t.keywords[k] {
		out = append(out, kw.Text)
	}
	return out
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
