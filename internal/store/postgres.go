package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// GetManuscript returns a manuscript that is not soft-deleted, or sql.ErrNoRows.
func (s *PostgresStore) GetManuscript(ctx context.Context, manuscriptID string) (Manuscript, error) {
	var item Manuscript
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, subtitle, status, created_at, updated_at
		FROM manuscripts
		WHERE id=$1 AND deleted_at IS NULL
	`, manuscriptID).Scan(&item.ID, &item.Title, &item.Subtitle, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Manuscript{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListFolders(ctx context.Context, manuscriptID string) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, manuscript_id, parent_id, title, COALESCE(folder_type, ''), sort_order, created_at, updated_at
		FROM folders
		WHERE manuscript_id=$1 AND deleted_at IS NULL
		ORDER BY sort_order
	`, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var item Folder
		var parentID sql.NullString
		if err := rows.Scan(&item.ID, &item.ManuscriptID, &parentID, &item.Title, &item.FolderType, &item.SortOrder, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		item.ParentID = nullableString(parentID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, manuscriptID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, manuscript_id, parent_id, title, synopsis, word_count, compile_include, sort_order, created_at, updated_at
		FROM documents
		WHERE manuscript_id=$1 AND deleted_at IS NULL
		ORDER BY sort_order
	`, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// GetDocument returns a live document belonging to manuscriptID, or sql.ErrNoRows.
func (s *PostgresStore) GetDocument(ctx context.Context, manuscriptID, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, manuscript_id, parent_id, title, synopsis, word_count, compile_include, sort_order, created_at, updated_at
		FROM documents
		WHERE id=$1 AND manuscript_id=$2 AND deleted_at IS NULL
	`, documentID, manuscriptID)
	return scanDocument(row)
}

// InTx runs fn inside one SQL transaction. Any error from fn, or a panic, rolls the transaction back.
func (s *PostgresStore) InTx(ctx context.Context, fn func(TxWriter) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	var parentID sql.NullString
	err := row.Scan(
		&item.ID,
		&item.ManuscriptID,
		&parentID,
		&item.Title,
		&item.Synopsis,
		&item.WordCount,
		&item.CompileInclude,
		&item.SortOrder,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	item.ParentID = nullableString(parentID)
	return item, nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
