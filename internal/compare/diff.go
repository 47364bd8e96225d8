package compare

import (
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ComputeDiff returns the word-level diff from DocA's plaintext to DocB's. A missing side
// diffs as empty text. Concatenating the unflagged and removed values rebuilds A, and the
// unflagged and added values rebuild B.
func ComputeDiff(pair MatchedPair, pairIndex int) PairDiff {
	var textA, textB string
	var wordsA, wordsB int
	if pair.DocA != nil {
		textA, wordsA = pair.DocA.Plaintext, pair.DocA.WordCount
	}
	if pair.DocB != nil {
		textB, wordsB = pair.DocB.Plaintext, pair.DocB.WordCount
	}

	return PairDiff{
		PairIndex:  pairIndex,
		Changes:    diffWords(textA, textB),
		WordCountA: wordsA,
		WordCountB: wordsB,
	}
}

func diffWords(a, b string) []DiffChange {
	enc := newTokenEncoder()
	runesA := enc.encode(a)
	runesB := enc.encode(b)

	dmp := diffmatchpatch.New()
	// No deadline: a timed-out diff would make output depend on machine speed.
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(runesA, runesB, false)

	changes := make([]DiffChange, 0, len(diffs))
	for _, d := range diffs {
		value := enc.decode(d.Text)
		if value == "" {
			continue
		}
		change := DiffChange{Value: value}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			change.Added = true
		case diffmatchpatch.DiffDelete:
			change.Removed = true
		}
		changes = append(changes, change)
	}
	return changes
}

// tokenEncoder maps each distinct word or whitespace run to one rune so the character diff
// in diffmatchpatch operates on whole tokens.
type tokenEncoder struct {
	tokens []string
	index  map[string]rune
}

func newTokenEncoder() *tokenEncoder {
	return &tokenEncoder{index: make(map[string]rune)}
}

func (e *tokenEncoder) encode(text string) []rune {
	tokens := tokenize(text)
	out := make([]rune, len(tokens))
	for i, tok := range tokens {
		r, ok := e.index[tok]
		if !ok {
			r = tokenRune(len(e.tokens))
			e.index[tok] = r
			e.tokens = append(e.tokens, tok)
		}
		out[i] = r
	}
	return out
}

func (e *tokenEncoder) decode(encoded string) string {
	var sb strings.Builder
	for _, r := range encoded {
		sb.WriteString(e.tokens[runeIndex(r)])
	}
	return sb.String()
}

// Token ids skip the UTF-16 surrogate block, which is not valid as a rune.
const (
	surrogateMin  = 0xD800
	surrogateSpan = 0x800
)

func tokenRune(i int) rune {
	r := rune(i + 1)
	if r >= surrogateMin {
		r += surrogateSpan
	}
	return r
}

func runeIndex(r rune) int {
	if r >= surrogateMin+surrogateSpan {
		r -= surrogateSpan
	}
	return int(r) - 1
}

// tokenize splits text into alternating runs of whitespace and non-whitespace.
func tokenize(text string) []string {
	var tokens []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if i > start && space != inSpace {
			tokens = append(tokens, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		tokens = append(tokens, text[start:])
	}
	return tokens
}
