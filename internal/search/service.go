package search

import (
	"context"

	"go.uber.org/zap"
)

type primaryBackend interface {
	Searcher
	IndexDocument(doc DocumentRecord) error
	IndexDocuments(documents []DocumentRecord) error
}

type fallbackBackend interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]DocumentRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  primaryBackend
	fallback fallbackBackend
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{logger: logger}
	if meili != nil {
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.IndexDocument(doc); err != nil {
			s.logger.Warn("index document failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every document_search row into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.primaryHealthy() || s.fallback == nil {
		return
	}
	documents, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.primary.IndexDocuments(documents); err != nil {
		s.logger.Error("reindex documents failed", zap.Error(err))
		return
	}
	s.logger.Info("search index rebuilt", zap.Int("documents", len(documents)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
