package compare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scriptorium/internal/plaintext"
	"scriptorium/internal/search"
	"scriptorium/internal/store"
	"scriptorium/internal/util"
)

// ErrMergeFailed wraps every failure after validation. Nothing from the merge is left behind.
var ErrMergeFailed = errors.New("merge failed, no changes made")

const (
	AuditActionMerge      = "manuscript.merge"
	auditEntityManuscript = "manuscript"
	variantFallbackTitle  = "Variant"
)

// MergeStore runs fn in one transaction; an error from fn rolls everything back.
type MergeStore interface {
	InTx(ctx context.Context, fn func(store.TxWriter) error) error
}

type ContentWriter interface {
	Write(ctx context.Context, manuscriptID, documentID, html string) error
	RemoveManuscript(ctx context.Context, manuscriptID string) error
}

// Indexer receives merged documents after commit. Implementations must not block.
type Indexer interface {
	IndexDocument(doc search.DocumentRecord)
}

type MergeRequest struct {
	Title        string
	Pairs        []MatchedPair
	Instructions []MergeInstruction
	SourceATitle string
	SourceBTitle string
	ActorID      string
}

type Executor struct {
	store   MergeStore
	content ContentWriter
	indexer Indexer
	logger  *zap.Logger
	now     func() time.Time
	newID   func(prefix string) string
}

// NewExecutor wires a merge executor. indexer may be nil.
func NewExecutor(mergeStore MergeStore, writer ContentWriter, indexer Indexer, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:   mergeStore,
		content: writer,
		indexer: indexer,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   util.NewID,
	}
}

// Execute creates a new manuscript from the reviewer's instructions. Instructions are applied
// in the order given. Rows, search text and the audit entry commit together; content bodies
// are written before commit and removed again if the merge fails.
func (e *Executor) Execute(ctx context.Context, req MergeRequest) (MergeReport, error) {
	if err := validateTitle(req.Title); err != nil {
		return MergeReport{}, err
	}
	if err := ValidateInstructions(len(req.Pairs), req.Instructions); err != nil {
		return MergeReport{}, err
	}

	run := &mergeRun{
		exec:        e,
		req:         req,
		now:         e.now(),
		report:      MergeReport{ManuscriptID: e.newID("man"), Title: req.Title},
		rootSortKey: 1.0,
	}

	err := e.store.InTx(ctx, func(tx store.TxWriter) error {
		return run.apply(ctx, tx)
	})
	if err != nil {
		if cleanupErr := e.content.RemoveManuscript(context.WithoutCancel(ctx), run.report.ManuscriptID); cleanupErr != nil {
			e.logger.Error("merge content cleanup failed",
				zap.String("manuscript_id", run.report.ManuscriptID),
				zap.Error(cleanupErr),
			)
		}
		e.logger.Warn("merge rolled back", zap.String("manuscript_id", run.report.ManuscriptID), zap.Error(err))
		return MergeReport{}, fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}

	if e.indexer != nil {
		for _, record := range run.indexed {
			e.indexer.IndexDocument(record)
		}
	}

	e.logger.Info("merge completed",
		zap.String("manuscript_id", run.report.ManuscriptID),
		zap.String("actor_id", req.ActorID),
		zap.Int("documents_created", run.report.DocumentsCreated),
		zap.Int("folders_created", run.report.FoldersCreated),
		zap.Int("variant_folders", run.report.VariantFolders),
	)
	return run.report, nil
}

// mergeRun is the state of one Execute call.
type mergeRun struct {
	exec        *Executor
	req         MergeRequest
	now         time.Time
	report      MergeReport
	rootSortKey float64
	indexed     []search.DocumentRecord
}

func (r *mergeRun) apply(ctx context.Context, tx store.TxWriter) error {
	manuscriptID := r.report.ManuscriptID
	if err := tx.InsertManuscript(ctx, store.Manuscript{
		ID:        manuscriptID,
		Title:     r.req.Title,
		Status:    "draft",
		CreatedAt: r.now,
		UpdatedAt: r.now,
	}); err != nil {
		return err
	}

	for _, inst := range r.req.Instructions {
		pair := r.req.Pairs[inst.PairIndex]
		var err error
		switch inst.Choice {
		case ChoiceA:
			err = r.placeRoot(ctx, tx, pair.DocA, r.req.SourceATitle)
		case ChoiceB:
			err = r.placeRoot(ctx, tx, pair.DocB, r.req.SourceBTitle)
		case ChoiceBoth:
			err = r.placeVariants(ctx, tx, pair)
		case ChoiceSkip:
		default:
			err = fmt.Errorf("unhandled choice %q", inst.Choice)
		}
		if err != nil {
			return err
		}
	}

	return tx.InsertAuditEntry(ctx, store.AuditEntry{
		ID:         r.exec.newID("aud"),
		ActorID:    r.req.ActorID,
		Action:     AuditActionMerge,
		EntityType: auditEntityManuscript,
		EntityID:   manuscriptID,
		Details: map[string]any{
			"sourceA":          r.req.SourceATitle,
			"sourceB":          r.req.SourceBTitle,
			"documentsCreated": r.report.DocumentsCreated,
			"foldersCreated":   r.report.FoldersCreated,
			"variantFolders":   r.report.VariantFolders,
		},
		CreatedAt: r.now,
	})
}

// placeRoot copies one side of a pair to the manuscript root. A missing side creates nothing
// and keeps the sort key.
func (r *mergeRun) placeRoot(ctx context.Context, tx store.TxWriter, doc *ComparableDocument, sourceTitle string) error {
	if doc == nil {
		return nil
	}
	if err := r.writeDocument(ctx, tx, doc, nil, doc.Title, sourceTitle, r.rootSortKey, true); err != nil {
		return err
	}
	r.rootSortKey += 1.0
	return nil
}

// placeVariants groups both sides under a variant folder. Variants are alternatives, so they
// are excluded from compilation.
func (r *mergeRun) placeVariants(ctx context.Context, tx store.TxWriter, pair MatchedPair) error {
	folderID := r.exec.newID("fld")
	if err := tx.InsertFolder(ctx, store.Folder{
		ID:           folderID,
		ManuscriptID: r.report.ManuscriptID,
		Title:        variantFolderTitle(pair),
		FolderType:   store.FolderTypeVariant,
		SortOrder:    r.rootSortKey,
		CreatedAt:    r.now,
		UpdatedAt:    r.now,
	}); err != nil {
		return err
	}
	r.report.FoldersCreated++
	r.report.VariantFolders++
	r.rootSortKey += 1.0

	childSortKey := 1.0
	sides := []struct {
		doc    *ComparableDocument
		source string
	}{
		{pair.DocA, r.req.SourceATitle},
		{pair.DocB, r.req.SourceBTitle},
	}
	for _, side := range sides {
		if side.doc == nil {
			continue
		}
		title := fmt.Sprintf("%s — from %s", side.doc.Title, side.source)
		if err := r.writeDocument(ctx, tx, side.doc, &folderID, title, side.source, childSortKey, false); err != nil {
			return err
		}
		childSortKey += 1.0
	}
	return nil
}

func (r *mergeRun) writeDocument(ctx context.Context, tx store.TxWriter, doc *ComparableDocument, parentID *string, title, sourceTitle string, sortKey float64, compile bool) error {
	manuscriptID := r.report.ManuscriptID
	documentID := r.exec.newID("doc")
	words := plaintext.CountWords(doc.Plaintext)

	if err := tx.InsertDocument(ctx, store.Document{
		ID:             documentID,
		ManuscriptID:   manuscriptID,
		ParentID:       parentID,
		Title:          title,
		Synopsis:       "From: " + sourceTitle,
		WordCount:      words,
		CompileInclude: compile,
		SortOrder:      sortKey,
		CreatedAt:      r.now,
		UpdatedAt:      r.now,
	}); err != nil {
		return err
	}
	if err := r.exec.content.Write(ctx, manuscriptID, documentID, doc.HTML); err != nil {
		return fmt.Errorf("write content %s: %w", documentID, err)
	}
	if err := tx.InsertSearchText(ctx, store.SearchText{
		DocumentID:   documentID,
		ManuscriptID: manuscriptID,
		Title:        title,
		Content:      doc.Plaintext,
	}); err != nil {
		return err
	}

	r.indexed = append(r.indexed, search.DocumentRecord{
		ID:           documentID,
		ManuscriptID: manuscriptID,
		Title:        title,
		Content:      doc.Plaintext,
	})
	r.report.DocumentsCreated++
	r.report.TotalWordCount += words
	return nil
}

func variantFolderTitle(pair MatchedPair) string {
	if pair.DocA != nil && pair.DocA.Title != "" {
		return pair.DocA.Title
	}
	if pair.DocB != nil && pair.DocB.Title != "" {
		return pair.DocB.Title
	}
	return variantFallbackTitle
}
