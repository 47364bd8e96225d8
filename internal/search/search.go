package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	ManuscriptID string `json:"manuscriptId"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text               string
	FilterManuscriptID string
	Limit              int
	Offset             int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document: its title and plaintext body.
type DocumentRecord struct {
	ID           string `json:"id"`
	ManuscriptID string `json:"manuscriptId"`
	Title        string `json:"title"`
	Content      string `json:"content"`
}
