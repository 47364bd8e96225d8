package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks document_search rows of live documents with plainto_tsquery and ts_rank,
// using ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `s.fts @@ plainto_tsquery('english', $1)
		AND d.deleted_at IS NULL AND m.deleted_at IS NULL`
	args := []any{q.Text}
	if q.FilterManuscriptID != "" {
		where += " AND s.manuscript_id = $2"
		args = append(args, q.FilterManuscriptID)
	}
	from := `FROM document_search s
		JOIN documents d ON d.id = s.document_id
		JOIN manuscripts m ON m.id = s.manuscript_id
		WHERE ` + where

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) "+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT s.document_id, s.manuscript_id, s.title,
			ts_headline('english', s.content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		%s
		ORDER BY ts_rank(s.fts, plainto_tsquery('english', $1)) DESC, s.document_id
		LIMIT %d OFFSET %d`, from, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ManuscriptID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable document for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.document_id, s.manuscript_id, s.title, s.content
		FROM document_search s
		JOIN documents d ON d.id = s.document_id
		WHERE d.deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		if err := rows.Scan(&d.ID, &d.ManuscriptID, &d.Title, &d.Content); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}
