package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// TxWriter is the set of writes a merge performs inside one transaction.
type TxWriter interface {
	InsertManuscript(context.Context, Manuscript) error
	InsertFolder(context.Context, Folder) error
	InsertDocument(context.Context, Document) error
	InsertSearchText(context.Context, SearchText) error
	InsertAuditEntry(context.Context, AuditEntry) error
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) InsertManuscript(ctx context.Context, item Manuscript) error {
	status := item.Status
	if status == "" {
		status = "draft"
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO manuscripts (id, title, subtitle, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Title, item.Subtitle, status, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert manuscript: %w", err)
	}
	return nil
}

func (t *pgTx) InsertFolder(ctx context.Context, item Folder) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO folders (id, manuscript_id, parent_id, title, folder_type, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
	`, item.ID, item.ManuscriptID, item.ParentID, item.Title, item.FolderType, item.SortOrder, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (t *pgTx) InsertDocument(ctx context.Context, item Document) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO documents (id, manuscript_id, parent_id, title, synopsis, word_count, compile_include, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.ManuscriptID, item.ParentID, item.Title, item.Synopsis, item.WordCount, item.CompileInclude, item.SortOrder, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (t *pgTx) InsertSearchText(ctx context.Context, item SearchText) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO document_search (document_id, manuscript_id, title, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO UPDATE SET title=EXCLUDED.title, content=EXCLUDED.content
	`, item.DocumentID, item.ManuscriptID, item.Title, item.Content)
	if err != nil {
		return fmt.Errorf("insert search text: %w", err)
	}
	return nil
}

func (t *pgTx) InsertAuditEntry(ctx context.Context, entry AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6::jsonb, $7)
	`, entry.ID, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, string(encoded), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
