package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"localrag/internal/adapter/cache"
	"localrag/internal/domain"
	"localrag/internal/logging"
	"localrag/internal/monitoring"
	"localrag/internal/port"
)

// IndexUseCase adds, replaces and deletes documents. It keeps the metadata
// store, the vector index and the document cache in step.
type IndexUseCase struct {
	store    port.MetadataStore
	index    port.VectorIndex
	docs     port.DocumentCache
	chunker  port.Chunker
	embedder port.Embedder
	results  *cache.QueryCache
	locks    *keyedMutex
	logger   *logging.Logger
	now      func() time.Time
}

// NewIndexUseCase creates a new index use case. results may be nil.
func NewIndexUseCase(
	store port.MetadataStore,
	index port.VectorIndex,
	docs port.DocumentCache,
	chunker port.Chunker,
	embedder port.Embedder,
	results *cache.QueryCache,
	logger *logging.Logger,
) *IndexUseCase {
	if logger == nil {
		logger = logging.Nop()
	}
	return &IndexUseCase{
		store:    store,
		index:    index,
		docs:     docs,
		chunker:  chunker,
		embedder: embedder,
		results:  results,
		locks:    newKeyedMutex(),
		logger:   logger,
		now:      time.Now,
	}
}

// AddRequest describes one document revision.
type AddRequest struct {
	FilePath string
	Content  string
	Title    string // defaults to the last path element
	Type     string // defaults to "text"
}

// AddResult reports what an add wrote.
type AddResult struct {
	DocumentID int64
	Chunks     int
	Replaced   bool
}

// Add chunks and embeds the content, then writes the document, its chunks
// and their embeddings in one store transaction that also removes the
// previous revision. The in-memory index and cache change only after that
// transaction commits, so a failure leaves every tier as it was.
//
// A caller cancelling ctx does not abort an add in progress.
//
// When the mirrors cannot be flushed the add has still happened: the result
// is returned together with an ErrDurability error.
func (u *IndexUseCase) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	ctx = context.WithoutCancel(ctx)

	res, err := u.add(ctx, req)
	switch {
	case err == nil, errors.Is(err, domain.ErrDurability):
		monitoring.DocumentsAdded.WithLabelValues(monitoring.ResultOK).Inc()
	default:
		monitoring.DocumentsAdded.WithLabelValues(monitoring.ResultError).Inc()
	}
	return res, err
}

func (u *IndexUseCase) add(ctx context.Context, req AddRequest) (*AddResult, error) {
	if req.FilePath == "" {
		return nil, fmt.Errorf("%w: file path is required", domain.ErrValidation)
	}
	if req.Title == "" {
		req.Title = filepath.Base(req.FilePath)
	}
	if req.Type == "" {
		req.Type = domain.DefaultDocumentType
	}

	unlock := u.locks.Lock(req.FilePath)
	defer unlock()

	chunks := u.chunker.Split(req.Content)
	vectors, err := embedAll(ctx, u.embedder, chunks)
	if err != nil {
		u.logger.WarnKV("add rejected", "path", req.FilePath, "error", err)
		return nil, err
	}

	now := u.now().UTC()
	var (
		result      = &AddResult{Chunks: len(chunks)}
		oldChunkIDs []int64
		newChunkIDs = make([]int64, len(chunks))
	)

	// The store transaction and the index swap form one step for searches.
	err = u.index.Commit(func() ([]int64, map[int64][]float32, error) {
		err := u.store.WithTx(ctx, func(tx port.MetadataTx) error {
			prevID, exists, err := tx.FindDocumentIDByPath(req.FilePath)
			if err != nil {
				return err
			}
			if exists {
				result.Replaced = true
				if oldChunkIDs, err = tx.ListChunkIDsForDocument(prevID); err != nil {
					return err
				}
				if err := tx.DeleteChunksForDocument(prevID); err != nil {
					return err
				}
			}

			docID, err := tx.UpsertDocument(domain.Document{
				FilePath:  req.FilePath,
				Content:   req.Content,
				Title:     req.Title,
				Type:      req.Type,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			result.DocumentID = docID

			for i, text := range chunks {
				chunkID, err := tx.InsertChunk(docID, text, i)
				if err != nil {
					return err
				}
				if _, err := tx.InsertEmbedding(chunkID, vectors[i]); err != nil {
					return err
				}
				newChunkIDs[i] = chunkID
			}
			return nil
		})
		if err != nil {
			u.logger.WarnKV("add rolled back", "path", req.FilePath, "error", err)
			return nil, nil, storeError(err)
		}

		fresh := make(map[int64][]float32, len(newChunkIDs))
		for i, id := range newChunkIDs {
			fresh[id] = vectors[i]
		}
		return oldChunkIDs, fresh, nil
	})
	if err != nil {
		// Vectors were checked against the dimension before the commit.
		return nil, err
	}
	u.docs.Put(req.FilePath, domain.DocumentSummary{
		ID:         result.DocumentID,
		Title:      req.Title,
		Type:       req.Type,
		ChunkCount: len(chunks),
		UpdatedAt:  now,
	})
	u.invalidate()

	u.logger.InfoKV("document added", "path", req.FilePath, "id", result.DocumentID,
		"chunks", result.Chunks, "replaced", result.Replaced)

	return result, u.flush()
}

// Delete removes the document stored under filePath. It reports false, and
// changes nothing, when there is no such document.
func (u *IndexUseCase) Delete(ctx context.Context, filePath string) (bool, error) {
	ctx = context.WithoutCancel(ctx)

	removed, err := u.delete(ctx, filePath)
	switch {
	case err != nil && !errors.Is(err, domain.ErrDurability):
		monitoring.DocumentsDeleted.WithLabelValues(monitoring.ResultError).Inc()
	case !removed:
		monitoring.DocumentsDeleted.WithLabelValues("missing").Inc()
	default:
		monitoring.DocumentsDeleted.WithLabelValues(monitoring.ResultOK).Inc()
	}
	return removed, err
}

func (u *IndexUseCase) delete(ctx context.Context, filePath string) (bool, error) {
	if filePath == "" {
		return false, fmt.Errorf("%w: file path is required", domain.ErrValidation)
	}

	unlock := u.locks.Lock(filePath)
	defer unlock()

	var (
		found    bool
		chunkIDs []int64
	)
	err := u.index.Commit(func() ([]int64, map[int64][]float32, error) {
		err := u.store.WithTx(ctx, func(tx port.MetadataTx) error {
			docID, ok, err := tx.FindDocumentIDByPath(filePath)
			if err != nil || !ok {
				return err
			}
			found = true
			if chunkIDs, err = tx.ListChunkIDsForDocument(docID); err != nil {
				return err
			}
			return tx.DeleteCascadeByDocumentID(docID)
		})
		if err != nil {
			u.logger.WarnKV("delete rolled back", "path", filePath, "error", err)
			return nil, nil, storeError(err)
		}
		return chunkIDs, nil, nil
	})
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	u.docs.Remove(filePath)
	u.invalidate()

	u.logger.InfoKV("document deleted", "path", filePath, "chunks", len(chunkIDs))

	return true, u.flush()
}

// embedAll embeds texts and checks the provider's answer.
func embedAll(ctx context.Context, embedder port.Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	monitoring.ChunksEmbedded.Add(float64(len(texts)))

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts",
			domain.ErrEmbedding, len(vectors), len(texts))
	}
	dim := embedder.Dimension()
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d",
				domain.ErrEmbedding, i, len(vec), dim)
		}
	}
	return vectors, nil
}

// flush writes both mirrors, attempting both even if the first fails.
func (u *IndexUseCase) flush() error {
	return flushMirrors(u.index, u.docs, u.logger)
}

func flushMirrors(index port.VectorIndex, docs port.DocumentCache, logger *logging.Logger) error {
	var errs []error
	if err := index.Save(); err != nil {
		monitoring.MirrorFlushFailures.WithLabelValues("vector_index").Inc()
		logger.ErrorKV("vector index flush failed", "error", err)
		errs = append(errs, err)
	}
	if err := docs.Save(); err != nil {
		monitoring.MirrorFlushFailures.WithLabelValues("document_cache").Inc()
		logger.ErrorKV("document cache flush failed", "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}

	err := errors.Join(errs...)
	if !errors.Is(err, domain.ErrDurability) {
		err = fmt.Errorf("%w: %w", domain.ErrDurability, err)
	}
	return err
}

func (u *IndexUseCase) invalidate() {
	if u.results != nil {
		u.results.Invalidate()
	}
}

// storeError tags err as a store error unless it already carries a kind.
func storeError(err error) error {
	if errors.Is(err, domain.ErrStore) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStore, err)
}
