package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"localrag/internal/adapter/cache"
	"localrag/internal/domain"
	"localrag/internal/logging"
	"localrag/internal/monitoring"
	"localrag/internal/port"
)

// SearchUseCase ranks every indexed chunk by cosine similarity to the query.
type SearchUseCase struct {
	store        port.MetadataStore
	index        port.VectorIndex
	embedder     port.Embedder
	results      *cache.QueryCache
	defaultLimit int
	logger       *logging.Logger
}

// NewSearchUseCase creates a new search use case. results may be nil.
func NewSearchUseCase(
	store port.MetadataStore,
	index port.VectorIndex,
	embedder port.Embedder,
	results *cache.QueryCache,
	defaultLimit int,
	logger *logging.Logger,
) *SearchUseCase {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SearchUseCase{
		store:        store,
		index:        index,
		embedder:     embedder,
		results:      results,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

func (u *SearchUseCase) DefaultLimit() int {
	return u.defaultLimit
}

type scoredChunk struct {
	id    int64
	score float64
}

// Search returns up to limit results ordered by similarity, highest first,
// ties broken by ascending chunk id. A limit of zero returns nothing; a
// negative limit is rejected.
func (u *SearchUseCase) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative, got %d", domain.ErrValidation, limit)
	}
	if limit == 0 || u.index.Len() == 0 {
		return []domain.SearchResult{}, nil
	}

	start := time.Now()
	defer func() { monitoring.SearchDuration.Observe(time.Since(start).Seconds()) }()

	var gen uint64
	if u.results != nil {
		if cached, ok := u.results.Get(query, limit); ok {
			monitoring.SearchCache.WithLabelValues("hit").Inc()
			return cached, nil
		}
		monitoring.SearchCache.WithLabelValues("miss").Inc()
		gen = u.results.Generation()
	}

	vectors, err := u.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", domain.ErrEmbedding, err)
	}
	if len(vectors) != 1 || len(vectors[0]) != u.embedder.Dimension() {
		return nil, fmt.Errorf("%w: provider returned a malformed query vector", domain.ErrEmbedding)
	}

	// Scoring and lookups see one committed state of the index and store.
	var results []domain.SearchResult
	u.index.View(func() {
		results, err = u.collect(ctx, u.rank(vectors[0]), limit)
	})
	if err != nil {
		return nil, err
	}

	if u.results != nil {
		u.results.Put(query, limit, gen, results)
	}
	return results, nil
}

// collect resolves ranked chunks to results until limit is reached.
func (u *SearchUseCase) collect(ctx context.Context, ranked []scoredChunk, limit int) ([]domain.SearchResult, error) {
	results := make([]domain.SearchResult, 0, min(limit, len(ranked)))
	for _, sc := range ranked {
		if len(results) == limit {
			break
		}
		hit, ok, err := u.store.LookupChunkWithDocument(ctx, sc.id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Deleted after scoring; the next chunk takes its place.
			u.logger.DebugKV("skipping vanished chunk", "chunk_id", sc.id)
			continue
		}
		results = append(results, domain.SearchResult{
			FilePath:     hit.FilePath,
			Title:        hit.Title,
			ChunkContent: hit.Content,
			ChunkIndex:   hit.Index,
			Similarity:   sc.score,
		})
	}
	return results, nil
}

// rank scores every vector in the index against q.
func (u *SearchUseCase) rank(q []float32) []scoredChunk {
	qNorm := norm(q)

	scored := make([]scoredChunk, 0, u.index.Len())
	u.index.Iter(func(id int64, v []float32) bool {
		scored = append(scored, scoredChunk{id: id, score: cosine(q, qNorm, v)})
		return true
	})

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].id < scored[j].id
	})
	return scored
}

// cosine computes q·v / (|q| |v|) in float64, or 0 if either norm is zero.
func cosine(q []float32, qNorm float64, v []float32) float64 {
	if qNorm == 0 || len(q) != len(v) {
		return 0
	}
	var dot, vv float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
		vv += float64(v[i]) * float64(v[i])
	}
	if vv == 0 {
		return 0
	}
	return dot / (qNorm * math.Sqrt(vv))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
