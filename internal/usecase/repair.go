package usecase

import (
	"context"
	"errors"
	"fmt"

	"localrag/internal/domain"
	"localrag/internal/logging"
	"localrag/internal/monitoring"
	"localrag/internal/port"
)

// RepairUseCase reconciles the vector index and the document cache with the
// metadata store, which is the source of truth. It is run at startup and is
// idempotent.
type RepairUseCase struct {
	store     port.MetadataStore
	index     port.VectorIndex
	docs      port.DocumentCache
	embedder  port.Embedder
	batchSize int
	logger    *logging.Logger
}

func NewRepairUseCase(
	store port.MetadataStore,
	index port.VectorIndex,
	docs port.DocumentCache,
	embedder port.Embedder,
	batchSize int,
	logger *logging.Logger,
) *RepairUseCase {
	if batchSize <= 0 {
		batchSize = 32
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RepairUseCase{
		store:     store,
		index:     index,
		docs:      docs,
		embedder:  embedder,
		batchSize: batchSize,
		logger:    logger,
	}
}

// RepairReport counts what a repair pass changed.
type RepairReport struct {
	OrphansPruned     int64 `json:"orphans_pruned"`
	StaleRemoved      int   `json:"stale_removed"`
	Reembedded        int   `json:"reembedded"`
	RestoredFromStore int   `json:"restored_from_store"`
	EmbeddingsWritten int   `json:"embeddings_written"`
	Documents         int   `json:"documents"`
	Chunks            int   `json:"chunks"`
}

// Changed reports whether the pass had anything to fix.
func (r *RepairReport) Changed() bool {
	return r.OrphansPruned > 0 || r.StaleRemoved > 0 || r.Reembedded > 0 ||
		r.RestoredFromStore > 0 || r.EmbeddingsWritten > 0
}

// ProgressFunc is called after each re-embedded batch with the number of
// chunks done and the total to do.
type ProgressFunc func(done, total int)

// Run performs one repair pass:
//
//  1. delete orphan chunk and embedding rows,
//  2. drop index entries with no chunk row,
//  3. re-embed chunks missing from the index, falling back to the stored
//     embedding row when the provider fails,
//  4. write missing embedding rows,
//  5. rebuild the document cache and flush both mirrors.
func (u *RepairUseCase) Run(ctx context.Context, progress ProgressFunc) (*RepairReport, error) {
	report := &RepairReport{}

	pruned, err := u.store.PruneOrphans(ctx)
	if err != nil {
		return nil, err
	}
	report.OrphansPruned = pruned

	chunks, err := u.store.ListChunks(ctx)
	if err != nil {
		return nil, err
	}
	report.Chunks = len(chunks)

	inStore := make(map[int64]struct{}, len(chunks))
	for _, c := range chunks {
		inStore[c.ID] = struct{}{}
	}

	var stale []int64
	for _, id := range u.index.Keys() {
		if _, ok := inStore[id]; !ok {
			stale = append(stale, id)
		}
	}
	u.index.Remove(stale...)
	report.StaleRemoved = len(stale)

	var missing, withoutRow []domain.StoredChunk
	for _, c := range chunks {
		if _, ok := u.index.Get(c.ID); !ok {
			missing = append(missing, c)
		} else if !c.HasEmbedding {
			withoutRow = append(withoutRow, c)
		}
	}

	for start := 0; start < len(missing); start += u.batchSize {
		batch := missing[start:min(start+u.batchSize, len(missing))]
		if err := u.restoreBatch(ctx, batch, report); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(min(start+u.batchSize, len(missing)), len(missing))
		}
	}

	if len(withoutRow) > 0 {
		err := u.store.WithTx(ctx, func(tx port.MetadataTx) error {
			for _, c := range withoutRow {
				vec, _ := u.index.Get(c.ID)
				if err := tx.ReplaceEmbedding(c.ID, vec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, storeError(err)
		}
		report.EmbeddingsWritten += len(withoutRow)
	}

	records, err := u.store.ListDocumentSummaries(ctx)
	if err != nil {
		return nil, err
	}
	u.docs.Replace(records)
	report.Documents = len(records)

	monitoring.RepairActions.WithLabelValues("orphans_pruned").Add(float64(report.OrphansPruned))
	monitoring.RepairActions.WithLabelValues("stale_removed").Add(float64(report.StaleRemoved))
	monitoring.RepairActions.WithLabelValues("reembedded").Add(float64(report.Reembedded))
	monitoring.RepairActions.WithLabelValues("restored_from_store").Add(float64(report.RestoredFromStore))
	monitoring.RepairActions.WithLabelValues("embeddings_written").Add(float64(report.EmbeddingsWritten))

	if report.Changed() {
		u.logger.WarnKV("repaired index", "orphans", report.OrphansPruned, "stale", report.StaleRemoved,
			"reembedded", report.Reembedded, "restored", report.RestoredFromStore,
			"rows_written", report.EmbeddingsWritten)
	} else {
		u.logger.DebugKV("index consistent", "documents", report.Documents, "chunks", report.Chunks)
	}

	if err := flushMirrors(u.index, u.docs, u.logger); err != nil {
		return report, err
	}
	return report, nil
}

// restoreBatch puts vectors for chunks missing from the index. Fresh
// embeddings are preferred and also written back to the store; when the
// provider fails the stored rows are used instead.
func (u *RepairUseCase) restoreBatch(ctx context.Context, batch []domain.StoredChunk, report *RepairReport) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	vectors, embedErr := embedAll(ctx, u.embedder, texts)
	if embedErr == nil {
		err := u.store.WithTx(ctx, func(tx port.MetadataTx) error {
			for i, c := range batch {
				if err := tx.ReplaceEmbedding(c.ID, vectors[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return storeError(err)
		}
		for i, c := range batch {
			if err := u.index.Put(c.ID, vectors[i]); err != nil {
				return err
			}
			if !c.HasEmbedding {
				report.EmbeddingsWritten++
			}
		}
		report.Reembedded += len(batch)
		return nil
	}

	u.logger.WarnKV("re-embedding failed, using stored vectors", "chunks", len(batch), "error", embedErr)

	ids := make([]int64, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
	}
	stored, err := u.store.LoadEmbeddings(ctx, ids)
	if err != nil {
		return err
	}

	dim := u.embedder.Dimension()
	for _, c := range batch {
		vec, ok := stored[c.ID]
		if !ok || len(vec) != dim {
			return errors.Join(embedErr,
				fmt.Errorf("%w: chunk %d has no usable stored embedding", domain.ErrInconsistency, c.ID))
		}
		if err := u.index.Put(c.ID, vec); err != nil {
			return err
		}
		report.RestoredFromStore++
	}
	return nil
}
