// Package compare aligns the documents of two manuscripts, diffs matched pairs and merges
// a reviewer's choices into a new manuscript.
package compare

import "fmt"

// ComparableDocument is one document of a manuscript, flattened out of the folder tree with
// its plaintext already derived from the stored html.
type ComparableDocument struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ManuscriptID string `json:"manuscriptId"`
	WordCount    int    `json:"wordCount"`
	Plaintext    string `json:"plaintext"`
	HTML         string `json:"html"`
}

type MatchMethod string

const (
	MethodExactTitle        MatchMethod = "exact_title"
	MethodFuzzyTitle        MatchMethod = "fuzzy_title"
	MethodContentSimilarity MatchMethod = "content_similarity"
	MethodUnmatchedA        MatchMethod = "unmatched_a"
	MethodUnmatchedB        MatchMethod = "unmatched_b"
)

// MatchedPair holds both sides of a match. DocA is nil only for unmatched_b and DocB is nil
// only for unmatched_a.
type MatchedPair struct {
	DocA            *ComparableDocument `json:"docA"`
	DocB            *ComparableDocument `json:"docB"`
	Method          MatchMethod         `json:"method"`
	Similarity      float64             `json:"similarity"`
	TitleSimilarity float64             `json:"titleSimilarity"`
}

// DiffChange is one contiguous run of a word diff. Neither flag set means the run is in both texts.
type DiffChange struct {
	Value   string `json:"value"`
	Added   bool   `json:"added,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

type PairDiff struct {
	PairIndex  int          `json:"pairIndex"`
	Changes    []DiffChange `json:"changes"`
	WordCountA int          `json:"wordCountA"`
	WordCountB int          `json:"wordCountB"`
}

// Choice is what the reviewer decided to keep for one pair.
type Choice string

const (
	ChoiceA    Choice = "a"
	ChoiceB    Choice = "b"
	ChoiceBoth Choice = "both"
	ChoiceSkip Choice = "skip"
)

func (c Choice) Valid() bool {
	switch c {
	case ChoiceA, ChoiceB, ChoiceBoth, ChoiceSkip:
		return true
	default:
		return false
	}
}

type MergeInstruction struct {
	PairIndex int    `json:"pairIndex"`
	Choice    Choice `json:"choice"`
}

// MergeReport summarizes a completed merge. It is returned once and never stored.
type MergeReport struct {
	ManuscriptID     string `json:"manuscriptId"`
	Title            string `json:"title"`
	DocumentsCreated int    `json:"documentsCreated"`
	FoldersCreated   int    `json:"foldersCreated"`
	VariantFolders   int    `json:"variantFolders"`
	TotalWordCount   int    `json:"totalWordCount"`
}

// ValidationError rejects a merge request before anything is written. PairIndex is -1 when
// the problem is not tied to a single instruction.
type ValidationError struct {
	PairIndex int
	Message   string
}

func (e *ValidationError) Error() string {
	if e.PairIndex < 0 {
		return e.Message
	}
	return fmt.Sprintf("instruction for pair %d: %s", e.PairIndex, e.Message)
}
