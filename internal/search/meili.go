package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxDocuments = "scriptorium_documents"

// Meili implements Searcher and indexing via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the document index. An unreachable
// server is not an error: the client reports unhealthy and keeps probing.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxDocuments,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxDocuments), zap.Error(err))
	}

	index := m.client.Index(idxDocuments)
	filterable := []interface{}{"manuscriptId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxDocuments), zap.Error(err))
	}
	searchable := []string{"title", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxDocuments), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxDocuments,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title", "content"},
		AttributesToCrop:      []string{"content"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filter := manuscriptFilter(q.FilterManuscriptID); filter != "" {
		sr.Filter = filter
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, r := range resp.Results {
		total += int(r.EstimatedTotalHits)
		for _, hit := range r.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func manuscriptFilter(manuscriptID string) string {
	if manuscriptID == "" {
		return ""
	}
	return fmt.Sprintf("manuscriptId = %q", manuscriptID)
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:           decodeString(hit, "id"),
		ManuscriptID: decodeString(hit, "manuscriptId"),
		Title:        firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:      firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content")),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexDocument adds or updates a document in the search index.
func (m *Meili) IndexDocument(doc DocumentRecord) error {
	_, err := m.client.Index(idxDocuments).AddDocuments([]DocumentRecord{doc}, nil)
	return err
}

// IndexDocuments bulk-indexes documents.
func (m *Meili) IndexDocuments(documents []DocumentRecord) error {
	if len(documents) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDocuments).AddDocuments(documents, nil)
	return err
}
