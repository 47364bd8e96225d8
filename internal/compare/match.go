package compare

import (
	"strings"
	"unicode/utf8"
)

const (
	fuzzyTitleThreshold = 0.7
	contentThreshold    = 0.3
)

// MatchDocuments pairs the documents of two manuscripts. Pairing runs in phases: exact
// normalized title, title containment, then greedy global content similarity. The result
// lists every A document in A's order (matched or not) followed by the unmatched B documents
// in B's order. It is a pure function of its inputs.
func MatchDocuments(docsA, docsB []ComparableDocument) []MatchedPair {
	m := matcher{
		docsA:     docsA,
		docsB:     docsB,
		consumedA: make(map[string]struct{}, len(docsA)),
		consumedB: make(map[string]struct{}, len(docsB)),
		byA:       make(map[string]MatchedPair, len(docsA)),
	}
	m.matchExactTitles()
	m.matchFuzzyTitles()
	m.matchContent()
	return m.assemble()
}

type matcher struct {
	docsA, docsB         []ComparableDocument
	consumedA, consumedB map[string]struct{}
	byA                  map[string]MatchedPair
}

func (m *matcher) pair(a, b *ComparableDocument, method MatchMethod, similarity, titleSimilarity float64) {
	m.consumedA[a.ID] = struct{}{}
	m.consumedB[b.ID] = struct{}{}
	m.byA[a.ID] = MatchedPair{
		DocA:            a,
		DocB:            b,
		Method:          method,
		Similarity:      similarity,
		TitleSimilarity: titleSimilarity,
	}
}

func (m *matcher) isConsumedA(id string) bool {
	_, ok := m.consumedA[id]
	return ok
}

func (m *matcher) isConsumedB(id string) bool {
	_, ok := m.consumedB[id]
	return ok
}

// First B document in B's order with an identical normalized title wins.
func (m *matcher) matchExactTitles() {
	for i := range m.docsA {
		a := &m.docsA[i]
		if m.isConsumedA(a.ID) {
			continue
		}
		normA := NormalizeTitle(a.Title)
		if normA == "" {
			continue
		}
		for j := range m.docsB {
			b := &m.docsB[j]
			if m.isConsumedB(b.ID) {
				continue
			}
			if NormalizeTitle(b.Title) == normA {
				m.pair(a, b, MethodExactTitle, Jaccard(a.Plaintext, b.Plaintext), 1.0)
				break
			}
		}
	}
}

// One normalized title must contain the other and the length ratio must exceed the
// threshold. The highest ratio wins; ties keep the earliest B document.
func (m *matcher) matchFuzzyTitles() {
	for i := range m.docsA {
		a := &m.docsA[i]
		if m.isConsumedA(a.ID) {
			continue
		}
		normA := NormalizeTitle(a.Title)
		if normA == "" {
			continue
		}

		var best *ComparableDocument
		bestSim := 0.0
		for j := range m.docsB {
			b := &m.docsB[j]
			if m.isConsumedB(b.ID) {
				continue
			}
			normB := NormalizeTitle(b.Title)
			if normB == "" || !containsEither(normA, normB) {
				continue
			}
			sim := lengthRatio(normA, normB)
			if sim > fuzzyTitleThreshold && (best == nil || sim > bestSim) {
				best, bestSim = b, sim
			}
		}
		if best != nil {
			m.pair(a, best, MethodFuzzyTitle, Jaccard(a.Plaintext, best.Plaintext), bestSim)
		}
	}
}

// Repeatedly takes the single best-scoring remaining pair across all candidates until none
// reaches the threshold. Ties keep the first pair found scanning A then B.
func (m *matcher) matchContent() {
	for {
		var bestA, bestB *ComparableDocument
		bestSim := 0.0
		for i := range m.docsA {
			a := &m.docsA[i]
			if m.isConsumedA(a.ID) {
				continue
			}
			for j := range m.docsB {
				b := &m.docsB[j]
				if m.isConsumedB(b.ID) {
					continue
				}
				sim := Jaccard(a.Plaintext, b.Plaintext)
				if sim >= contentThreshold && (bestA == nil || sim > bestSim) {
					bestA, bestB, bestSim = a, b, sim
				}
			}
		}
		if bestA == nil {
			return
		}
		m.pair(bestA, bestB, MethodContentSimilarity, bestSim, 0)
	}
}

func (m *matcher) assemble() []MatchedPair {
	result := make([]MatchedPair, 0, len(m.docsA)+len(m.docsB))
	for i := range m.docsA {
		a := &m.docsA[i]
		if matched, ok := m.byA[a.ID]; ok {
			result = append(result, matched)
			continue
		}
		result = append(result, MatchedPair{DocA: a, Method: MethodUnmatchedA})
	}
	for j := range m.docsB {
		b := &m.docsB[j]
		if m.isConsumedB(b.ID) {
			continue
		}
		result = append(result, MatchedPair{DocB: b, Method: MethodUnmatchedB})
	}
	return result
}

func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// lengthRatio compares lengths in characters, not bytes.
func lengthRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la > lb {
		la, lb = lb, la
	}
	return float64(la) / float64(lb)
}
