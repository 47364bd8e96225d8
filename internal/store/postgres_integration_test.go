package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"), zap.NewNop()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestInTxRollsBackEveryWriteOnError(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	now := time.Now().UTC()
	boom := errors.New("content write failed")

	err := s.InTx(ctx, func(tx TxWriter) error {
		if err := tx.InsertManuscript(ctx, Manuscript{ID: "man_rollback", Title: "Merged", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertDocument(ctx, Document{ID: "doc_rollback", ManuscriptID: "man_rollback", Title: "One", CompileInclude: true, SortOrder: 1, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want %v", err, boom)
	}

	if _, err := s.GetManuscript(ctx, "man_rollback"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected manuscript to be absent after rollback, got %v", err)
	}
	docs, err := s.ListDocuments(ctx, "man_rollback")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no documents after rollback, got %d", len(docs))
	}
}

func TestInTxCommitsManuscriptTree(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	now := time.Now().UTC()
	folderID := "fld_variant"

	err := s.InTx(ctx, func(tx TxWriter) error {
		if err := tx.InsertManuscript(ctx, Manuscript{ID: "man_commit", Title: "Merged", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertFolder(ctx, Folder{ID: folderID, ManuscriptID: "man_commit", Title: "Chapter 2", FolderType: FolderTypeVariant, SortOrder: 2, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertDocument(ctx, Document{ID: "doc_top", ManuscriptID: "man_commit", Title: "Chapter 1", Synopsis: "From: Draft A", WordCount: 3, CompileInclude: true, SortOrder: 1, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertDocument(ctx, Document{ID: "doc_child", ManuscriptID: "man_commit", ParentID: &folderID, Title: "Chapter 2 — from Draft A", SortOrder: 1, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertSearchText(ctx, SearchText{DocumentID: "doc_top", ManuscriptID: "man_commit", Title: "Chapter 1", Content: "the quick fox"}); err != nil {
			return err
		}
		return tx.InsertAuditEntry(ctx, AuditEntry{ID: "aud_1", ActorID: "usr_1", Action: "manuscript.merge", EntityType: "manuscript", EntityID: "man_commit", Details: map[string]any{"documentsCreated": 2}, CreatedAt: now})
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	if _, err := s.GetManuscript(ctx, "man_commit"); err != nil {
		t.Fatalf("get manuscript: %v", err)
	}
	folders, err := s.ListFolders(ctx, "man_commit")
	if err != nil {
		t.Fatalf("list folders: %v", err)
	}
	if len(folders) != 1 || folders[0].FolderType != FolderTypeVariant {
		t.Fatalf("unexpected folders: %+v", folders)
	}
	docs, err := s.ListDocuments(ctx, "man_commit")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	child, err := s.GetDocument(ctx, "man_commit", "doc_child")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if child.CompileInclude || child.ParentID == nil || *child.ParentID != folderID {
		t.Fatalf("unexpected variant child: %+v", child)
	}
}
