package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"localrag/internal/adapter/cache"
	"localrag/internal/adapter/chunker"
	"localrag/internal/adapter/doccache"
	"localrag/internal/adapter/embedding"
	"localrag/internal/adapter/memstore"
	"localrag/internal/adapter/vectorindex"
	"localrag/internal/port"
)

const testDim = 64

// harness wires the use cases over an in-memory store and real mirrors in
// a temp directory.
type harness struct {
	dir      string
	store    *memstore.MemoryStore
	index    *vectorindex.MemoryIndex
	docs     *doccache.JSONCache
	results  *cache.QueryCache
	embedder port.Embedder

	indexUC  *IndexUseCase
	searchUC *SearchUseCase
	repairUC *RepairUseCase
	service  *Service
}

type harnessOptions struct {
	chunkSize, overlap int
	embedder           port.Embedder
	mirrorDir          string
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, harnessOptions{})
}

func newHarnessWith(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.chunkSize == 0 {
		opts.chunkSize, opts.overlap = 1000, 200
	}
	if opts.embedder == nil {
		e, err := embedding.NewHashEmbedder(embedding.HashModelName, testDim)
		require.NoError(t, err)
		opts.embedder = e
	}
	dir := t.TempDir()
	if opts.mirrorDir == "" {
		opts.mirrorDir = dir
	}

	h := &harness{dir: dir, store: memstore.NewMemoryStore(), embedder: opts.embedder}
	h.reopen(t, opts)
	return h
}

// reopen rebuilds everything except the metadata store from the mirrors on
// disk, as a process restart would.
func (h *harness) reopen(t *testing.T, opts harnessOptions) {
	t.Helper()
	if opts.chunkSize == 0 {
		opts.chunkSize, opts.overlap = 1000, 200
	}
	if opts.embedder == nil {
		opts.embedder = h.embedder
	}
	if opts.mirrorDir == "" {
		opts.mirrorDir = h.dir
	}

	ch, err := chunker.NewWindowChunker(opts.chunkSize, opts.overlap)
	require.NoError(t, err)

	h.embedder = opts.embedder
	h.index = vectorindex.NewMemoryIndex(testDim,
		vectorindex.NewBlobMirror(filepath.Join(opts.mirrorDir, "embeddings.bin"), testDim))
	h.docs = doccache.NewJSONCache(filepath.Join(opts.mirrorDir, "documents.json"))
	h.results = cache.NewQueryCache(16, time.Minute)

	_ = h.index.Load()
	_ = h.docs.Load()

	h.indexUC = NewIndexUseCase(h.store, h.index, h.docs, ch, h.embedder, h.results, nil)
	h.searchUC = NewSearchUseCase(h.store, h.index, h.embedder, h.results, 5, nil)
	h.repairUC = NewRepairUseCase(h.store, h.index, h.docs, h.embedder, 2, nil)
	h.service = NewService(h.store, h.index, h.docs, h.embedder, h.indexUC, h.searchUC, h.repairUC, nil)
}

func (h *harness) add(t *testing.T, path, content string) *AddResult {
	t.Helper()
	res, err := h.service.AddDocument(context.Background(), AddRequest{FilePath: path, Content: content})
	require.NoError(t, err)
	return res
}

func (h *harness) search(t *testing.T, query string, limit int) []string {
	t.Helper()
	results, err := h.service.SearchDocuments(context.Background(), query, &limit)
	require.NoError(t, err)
	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.FilePath
	}
	return paths
}

// failingEmbedder fails every call.
type failingEmbedder struct {
	dim int
	err error
}

func (e *failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, e.err
}
func (e *failingEmbedder) Dimension() int    { return e.dim }
func (e *failingEmbedder) ModelName() string { return embedding.HashModelName }

// shortEmbedder returns vectors one element too short.
type shortEmbedder struct{ dim int }

func (e *shortEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dim-1)
	}
	return out, nil
}
func (e *shortEmbedder) Dimension() int    { return e.dim }
func (e *shortEmbedder) ModelName() string { return "short" }

var errProvider = errors.New("provider unavailable")
