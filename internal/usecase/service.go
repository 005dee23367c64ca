package usecase

import (
	"context"
	"errors"
	"fmt"

	"localrag/internal/domain"
	"localrag/internal/port"
)

// Service is the facade consumed by the HTTP and CLI layers. It owns the
// three stores and closes them together.
type Service struct {
	Index  *IndexUseCase
	Search *SearchUseCase
	Repair *RepairUseCase
	Ingest *IngestUseCase

	store       port.MetadataStore
	vectorIndex port.VectorIndex
	docs        port.DocumentCache
	embedder    port.Embedder
}

func NewService(
	store port.MetadataStore,
	vectorIndex port.VectorIndex,
	docs port.DocumentCache,
	embedder port.Embedder,
	index *IndexUseCase,
	search *SearchUseCase,
	repair *RepairUseCase,
	ingest *IngestUseCase,
) *Service {
	return &Service{
		Index:       index,
		Search:      search,
		Repair:      repair,
		Ingest:      ingest,
		store:       store,
		vectorIndex: vectorIndex,
		docs:        docs,
		embedder:    embedder,
	}
}

// AddDocument stores or replaces the document under filePath.
func (s *Service) AddDocument(ctx context.Context, req AddRequest) (*AddResult, error) {
	return s.Index.Add(ctx, req)
}

// DeleteDocument reports whether a document existed and was removed.
func (s *Service) DeleteDocument(ctx context.Context, filePath string) (bool, error) {
	return s.Index.Delete(ctx, filePath)
}

// SearchDocuments runs a similarity search. A nil limit uses the configured
// default.
func (s *Service) SearchDocuments(ctx context.Context, query string, limit *int) ([]domain.SearchResult, error) {
	n := s.Search.DefaultLimit()
	if limit != nil {
		n = *limit
	}
	return s.Search.Search(ctx, query, n)
}

// GetDocumentInfo lists the cached documents. total_chunks is the size of
// the vector index, which equals the number of chunk rows at rest.
func (s *Service) GetDocumentInfo() domain.Info {
	docs := s.docs.All()
	return domain.Info{
		TotalDocuments: len(docs),
		TotalChunks:    s.vectorIndex.Len(),
		Documents:      docs,
	}
}

// GetDocument returns the summary of one document.
func (s *Service) GetDocument(filePath string) (domain.DocumentSummary, error) {
	summary, ok := s.docs.Get(filePath)
	if !ok {
		return domain.DocumentSummary{}, fmt.Errorf("%w: document %q", domain.ErrNotFound, filePath)
	}
	return summary, nil
}

// EmbeddingModel returns the model identifier and dimension in use.
func (s *Service) EmbeddingModel() (string, int) {
	return s.embedder.ModelName(), s.embedder.Dimension()
}

// Close flushes the mirrors and releases the stores.
func (s *Service) Close() error {
	var errs []error
	if err := flushMirrors(s.vectorIndex, s.docs, s.Index.logger); err != nil {
		errs = append(errs, err)
	}
	if err := s.vectorIndex.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
