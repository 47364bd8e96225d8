package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scriptorium/internal/auth"
	"scriptorium/internal/compare"
	"scriptorium/internal/config"
	"scriptorium/internal/content"
	"scriptorium/internal/lock"
	"scriptorium/internal/search"
	"scriptorium/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type ManuscriptRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type CompareResult struct {
	Pairs       []compare.MatchedPair `json:"pairs"`
	ManuscriptA ManuscriptRef         `json:"manuscriptA"`
	ManuscriptB ManuscriptRef         `json:"manuscriptB"`
}

// DiffInput selects what to diff: two concrete documents when DocumentIDA or DocumentIDB
// is set, otherwise the pair at PairIndex of a fresh matching.
type DiffInput struct {
	ManuscriptIDA string `json:"manuscriptIdA"`
	DocumentIDA   string `json:"documentIdA"`
	ManuscriptIDB string `json:"manuscriptIdB"`
	DocumentIDB   string `json:"documentIdB"`
	PairIndex     *int   `json:"pairIndex"`
}

type MergeInput struct {
	ManuscriptIDA string                     `json:"manuscriptIdA"`
	ManuscriptIDB string                     `json:"manuscriptIdB"`
	MergedTitle   string                     `json:"mergedTitle"`
	Instructions  []compare.MergeInstruction `json:"instructions"`
}

type dataStore interface {
	GetManuscript(context.Context, string) (store.Manuscript, error)
	GetDocument(context.Context, string, string) (store.Document, error)
	ListFolders(context.Context, string) ([]store.Folder, error)
	ListDocuments(context.Context, string) ([]store.Document, error)
	Ping(context.Context) error
}

type contentReader interface {
	Read(ctx context.Context, manuscriptID, documentID string) (string, error)
}

type mergeExecutor interface {
	Execute(context.Context, compare.MergeRequest) (compare.MergeReport, error)
}

type searchService interface {
	Search(search.Query) search.Response
}

type Service struct {
	cfg       config.Config
	store     dataStore
	content   contentReader
	collector *compare.Collector
	merger    mergeExecutor
	locker    lock.Locker
	search    searchService
	logger    *zap.Logger
}

func New(cfg config.Config, dataStore dataStore, reader contentReader, merger mergeExecutor, locker lock.Locker, searcher searchService, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		content:   reader,
		collector: compare.NewCollector(dataStore, reader),
		merger:    merger,
		locker:    locker,
		search:    searcher,
		logger:    logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingLocker checks a shared lock backend. In-process lockers have nothing to check.
func (s *Service) PingLocker(ctx context.Context) error {
	pinger, ok := s.locker.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.Ping(ctx)
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
	}, nil
}

// sides is the freshly collected state of the two manuscripts being compared.
type sides struct {
	manuscriptA store.Manuscript
	manuscriptB store.Manuscript
	docsA       []compare.ComparableDocument
	docsB       []compare.ComparableDocument
}

func (s *Service) CompareManuscripts(ctx context.Context, manuscriptIDA, manuscriptIDB string) (CompareResult, error) {
	loaded, err := s.loadSides(ctx, manuscriptIDA, manuscriptIDB)
	if err != nil {
		return CompareResult{}, err
	}
	return CompareResult{
		Pairs:       nonNilPairs(compare.MatchDocuments(loaded.docsA, loaded.docsB)),
		ManuscriptA: ManuscriptRef{ID: loaded.manuscriptA.ID, Title: loaded.manuscriptA.Title},
		ManuscriptB: ManuscriptRef{ID: loaded.manuscriptB.ID, Title: loaded.manuscriptB.Title},
	}, nil
}

func (s *Service) DiffDocuments(ctx context.Context, input DiffInput) (compare.PairDiff, error) {
	if strings.TrimSpace(input.DocumentIDA) != "" || strings.TrimSpace(input.DocumentIDB) != "" {
		return s.diffByDocuments(ctx, input)
	}
	if input.PairIndex == nil {
		return compare.PairDiff{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pairIndex or documentIdA and documentIdB are required", nil)
	}

	loaded, err := s.loadSides(ctx, input.ManuscriptIDA, input.ManuscriptIDB)
	if err != nil {
		return compare.PairDiff{}, err
	}
	pairs := compare.MatchDocuments(loaded.docsA, loaded.docsB)
	index := *input.PairIndex
	if index < 0 || index >= len(pairs) {
		return compare.PairDiff{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("pairIndex %d out of range", index), map[string]any{"pairIndex": index, "pairCount": len(pairs)})
	}
	return compare.ComputeDiff(pairs[index], index), nil
}

func (s *Service) diffByDocuments(ctx context.Context, input DiffInput) (compare.PairDiff, error) {
	ids := []string{input.ManuscriptIDA, input.DocumentIDA, input.ManuscriptIDB, input.DocumentIDB}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return compare.PairDiff{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"manuscriptIdA, documentIdA, manuscriptIdB and documentIdB are required", nil)
		}
	}

	docA, err := s.loadDocument(ctx, input.ManuscriptIDA, input.DocumentIDA)
	if err != nil {
		return compare.PairDiff{}, err
	}
	docB, err := s.loadDocument(ctx, input.ManuscriptIDB, input.DocumentIDB)
	if err != nil {
		return compare.PairDiff{}, err
	}
	return compare.ComputeDiff(compare.MatchedPair{DocA: &docA, DocB: &docB}, 0), nil
}

// loadDocument requires both the row and its stored body.
func (s *Service) loadDocument(ctx context.Context, manuscriptID, documentID string) (compare.ComparableDocument, error) {
	row, err := s.store.GetDocument(ctx, manuscriptID, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return compare.ComparableDocument{}, domainError(http.StatusNotFound, "NOT_FOUND", "document not found",
				map[string]any{"manuscriptId": manuscriptID, "documentId": documentID})
		}
		return compare.ComparableDocument{}, fmt.Errorf("get document %s: %w", documentID, err)
	}
	html, err := s.content.Read(ctx, manuscriptID, documentID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return compare.ComparableDocument{}, domainError(http.StatusNotFound, "NOT_FOUND", "content not found",
				map[string]any{"manuscriptId": manuscriptID, "documentId": documentID})
		}
		return compare.ComparableDocument{}, fmt.Errorf("read content %s: %w", documentID, err)
	}
	return compare.NewComparableDocument(manuscriptID, row.ID, row.Title, html), nil
}

// MergeManuscripts recomputes the matching from the current state of both manuscripts
// and creates the merged manuscript. Merges of the same source pair are serialized.
func (s *Service) MergeManuscripts(ctx context.Context, actorID string, input MergeInput) (compare.MergeReport, error) {
	if strings.TrimSpace(input.MergedTitle) == "" {
		return compare.MergeReport{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "mergedTitle is required", nil)
	}
	if err := requireManuscriptIDs(input.ManuscriptIDA, input.ManuscriptIDB); err != nil {
		return compare.MergeReport{}, err
	}

	release, err := s.locker.Acquire(ctx, mergeLockKey(input.ManuscriptIDA, input.ManuscriptIDB), s.mergeLockTTL())
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return compare.MergeReport{}, domainError(http.StatusConflict, "MERGE_IN_PROGRESS", "A merge of these manuscripts is already running", nil)
		}
		return compare.MergeReport{}, fmt.Errorf("acquire merge lock: %w", err)
	}
	defer release()

	loaded, err := s.loadSides(ctx, input.ManuscriptIDA, input.ManuscriptIDB)
	if err != nil {
		return compare.MergeReport{}, err
	}

	report, err := s.merger.Execute(ctx, compare.MergeRequest{
		Title:        strings.TrimSpace(input.MergedTitle),
		Pairs:        compare.MatchDocuments(loaded.docsA, loaded.docsB),
		Instructions: input.Instructions,
		SourceATitle: loaded.manuscriptA.Title,
		SourceBTitle: loaded.manuscriptB.Title,
		ActorID:      actorID,
	})
	if err != nil {
		return compare.MergeReport{}, err
	}
	return report, nil
}

func (s *Service) Search(query search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query.Text}
	}
	return s.search.Search(query)
}

// loadSides fetches both manuscripts and collects their documents concurrently.
func (s *Service) loadSides(ctx context.Context, manuscriptIDA, manuscriptIDB string) (sides, error) {
	if err := requireManuscriptIDs(manuscriptIDA, manuscriptIDB); err != nil {
		return sides{}, err
	}

	var loaded sides
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		manuscript, docs, err := s.loadSide(groupCtx, manuscriptIDA)
		loaded.manuscriptA, loaded.docsA = manuscript, docs
		return err
	})
	group.Go(func() error {
		manuscript, docs, err := s.loadSide(groupCtx, manuscriptIDB)
		loaded.manuscriptB, loaded.docsB = manuscript, docs
		return err
	})
	if err := group.Wait(); err != nil {
		return sides{}, err
	}
	return loaded, nil
}

func (s *Service) loadSide(ctx context.Context, manuscriptID string) (store.Manuscript, []compare.ComparableDocument, error) {
	manuscript, err := s.store.GetManuscript(ctx, manuscriptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Manuscript{}, nil, domainError(http.StatusNotFound, "NOT_FOUND", "manuscript not found",
				map[string]any{"manuscriptId": manuscriptID})
		}
		return store.Manuscript{}, nil, fmt.Errorf("get manuscript %s: %w", manuscriptID, err)
	}
	docs, err := s.collector.Collect(ctx, manuscriptID)
	if err != nil {
		return store.Manuscript{}, nil, fmt.Errorf("collect manuscript %s: %w", manuscriptID, err)
	}
	return manuscript, docs, nil
}

func (s *Service) mergeLockTTL() time.Duration {
	if s.cfg.MergeLockTTL > 0 {
		return s.cfg.MergeLockTTL
	}
	return 2 * time.Minute
}

func requireManuscriptIDs(manuscriptIDA, manuscriptIDB string) error {
	if strings.TrimSpace(manuscriptIDA) == "" || strings.TrimSpace(manuscriptIDB) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "manuscriptIdA and manuscriptIdB are required", nil)
	}
	return nil
}

func mergeLockKey(manuscriptIDA, manuscriptIDB string) string {
	return "merge:" + manuscriptIDA + ":" + manuscriptIDB
}

func nonNilPairs(pairs []compare.MatchedPair) []compare.MatchedPair {
	if pairs == nil {
		return []compare.MatchedPair{}
	}
	return pairs
}
