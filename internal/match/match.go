// Package match attributes model-produced text back to a span of a source
// chunk, tolerating paraphrase, truncation and reformatting.
package match

import (
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// Threshold is the similarity ratio a candidate span must exceed.
const Threshold = 0.8

// Span is a half-open [Start, End) interval of character (rune) offsets into
// a chunk's content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NoMatch is the sentinel span for an answer that could not be attributed.
var NoMatch = Span{Start: -1, End: -1}

// Found reports whether s is a real span rather than NoMatch.
func (s Span) Found() bool {
	return s.Start >= 0 && s.End >= s.Start
}

// Len returns the span width in characters, or 0 for NoMatch.
func (s Span) Len() int {
	if !s.Found() {
		return 0
	}
	return s.End - s.Start
}

// Slice returns the characters of text covered by s, clamped to the end of
// text. Use it on the original-case text to recover the exact substring.
func (s Span) Slice(text string) string {
	if !s.Found() {
		return ""
	}
	r := []rune(text)
	start, end := clamp(s.Start, len(r)), clamp(s.End, len(r))
	return string(r[start:end])
}

// Pair returns the span as the (start, end) pair used by JSON clients.
func (s Span) Pair() [2]int {
	return [2]int{s.Start, s.End}
}

// FindMatch finds the first span of text that fuzzily matches pattern.
//
// Both inputs are lower-cased rune by rune, so offsets are valid for the
// original text as well. Candidate start offsets come from the matching
// blocks between pattern and text, in the order the block matcher yields
// them; the first candidate whose window text[s:s+len(pattern)] has a
// similarity ratio above Threshold wins. An empty pattern never matches.
func FindMatch(pattern, text string) Span {
	p := lowerRunes(pattern)
	if len(p) == 0 {
		return NoMatch
	}
	t := lowerRunes(text)

	pe, te := elements(p), elements(t)
	blocks := newMatcher(pe, te).GetMatchingBlocks()
	for _, b := range blocks {
		s := b.B
		end := clamp(s+len(p), len(t))
		window := te[clamp(s, len(t)):end]
		if newMatcher(pe, window).Ratio() > Threshold {
			return Span{Start: s, End: s + len(p)}
		}
	}
	return NoMatch
}

// Ratio returns the case-insensitive similarity of a and b in [0, 1],
// computed as 2*M/T over the matching blocks.
func Ratio(a, b string) float64 {
	return newMatcher(elements(lowerRunes(a)), elements(lowerRunes(b))).Ratio()
}

// newMatcher builds a sequence matcher with junk heuristics disabled:
// document text legitimately contains long runs of whitespace and
// punctuation that autojunk would discount.
func newMatcher(a, b []string) *difflib.SequenceMatcher {
	return difflib.NewMatcherWithJunk(a, b, false, nil)
}

func lowerRunes(s string) []rune {
	r := []rune(s)
	for i, c := range r {
		r[i] = unicode.ToLower(c)
	}
	return r
}

// elements turns runes into the string-per-element form difflib compares.
func elements(r []rune) []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = string(c)
	}
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
