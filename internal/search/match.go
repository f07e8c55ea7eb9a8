package search

import (
	"slices"
	"strings"
	"unicode"

	fuzzysearch "github.com/lithammer/fuzzysearch/fuzzy"
)

// Match scores (lower is better)
const (
	scoreExact     = 0
	scorePrefix    = 10
	scoreLonger    = 20 // Query token extends past the title word
	scoreInfix     = 50
	scoreTypo      = 100
	scoreTypoStep  = 20
	scoreSubstring = 150
	scoreExtraWord = 5
)

type token struct {
	text       string
	start, end int // Rune offsets in the original title
}

// tokenize splits text into lowercase words, tracking rune positions
func tokenize(text string) []token {
	var tokens []token
	runes := []rune(strings.ToLower(text))
	start := -1
	for i, r := range runes {
		word := unicode.IsLetter(r) || unicode.IsDigit(r)
		switch {
		case word && start < 0:
			start = i
		case !word && start >= 0:
			tokens = append(tokens, token{text: string(runes[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: string(runes[start:]), start: start, end: len(runes)})
	}
	return tokens
}

// typoBudget allows 0 typos up to 3 runes, 1 up to 6, then 2
func typoBudget(n int) int {
	switch {
	case n <= 3:
		return 0
	case n <= 6:
		return 1
	default:
		return 2
	}
}

// wordMatch scores one query word against one title word; ok is false on no match
func wordMatch(q string, w token) (score int, positions []int, ok bool) {
	qLen := len([]rune(q))
	switch {
	case q == w.text:
		return scoreExact, span(w.start, w.end), true
	case strings.HasPrefix(w.text, q):
		return scorePrefix, span(w.start, w.start+qLen), true
	case strings.HasPrefix(q, w.text):
		return scoreLonger, span(w.start, w.end), true
	}
	if idx := strings.Index(w.text, q); idx >= 0 {
		at := w.start + len([]rune(w.text[:idx]))
		return scoreInfix + idx, span(at, at+qLen), true
	}
	if budget := typoBudget(qLen); budget > 0 {
		if d := fuzzysearch.LevenshteinDistance(q, w.text); d <= budget {
			return scoreTypo + d*scoreTypoStep, span(w.start, w.end), true
		}
	}
	return 0, nil, false
}

// matchTitle requires every query word to match a distinct title word (in
// any order), falling back to a raw substring hit for words that span
// punctuation
func matchTitle(title string, query []token) (int, []int, bool) {
	lower := strings.ToLower(title)
	words := tokenize(title)
	used := make([]bool, len(words))

	total := 0
	var positions []int
	for _, q := range query {
		best, bestIdx := -1, -1
		var bestPos []int
		for i, w := range words {
			if used[i] {
				continue
			}
			if score, pos, ok := wordMatch(q.text, w); ok && (best < 0 || score < best) {
				best, bestIdx, bestPos = score, i, pos
			}
		}
		if best < 0 {
			idx := strings.Index(lower, q.text)
			if idx < 0 {
				return 0, nil, false
			}
			at := len([]rune(lower[:idx]))
			best, bestPos = scoreSubstring+at, span(at, at+len([]rune(q.text)))
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
		}
		total += best
		positions = append(positions, bestPos...)
	}

	if extra := len(words) - len(query); extra > 0 {
		total += extra * scoreExtraWord
	}
	slices.Sort(positions)
	return total, slices.Compact(positions), true
}

func span(start, end int) []int {
	out := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}
