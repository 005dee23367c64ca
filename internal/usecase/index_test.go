package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localrag/internal/adapter/memstore"
	"localrag/internal/domain"
)

func TestAdd_SingleDocumentAndSearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.service.AddDocument(ctx, AddRequest{
		FilePath: "doc_a",
		Content:  "Chonost is an intelligent writing platform. It features indexing and search.",
		Title:    "A",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.False(t, res.Replaced)

	info := h.service.GetDocumentInfo()
	assert.Equal(t, 1, info.TotalDocuments)
	assert.Equal(t, 1, info.TotalChunks)
	assert.Equal(t, "A", info.Documents["doc_a"].Title)
	assert.Equal(t, domain.DefaultDocumentType, info.Documents["doc_a"].Type)

	limit := 5
	results, err := h.service.SearchDocuments(ctx, "intelligent writing", &limit)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc_a", results[0].FilePath)
	assert.Equal(t, "A", results[0].Title)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.Greater(t, results[0].Similarity, 0.0)
}

func TestAdd_TitleDefaultsToBaseName(t *testing.T) {
	h := newHarness(t)
	h.add(t, "notes/guide.md", "some content")

	doc, err := h.service.GetDocument("notes/guide.md")
	require.NoError(t, err)
	assert.Equal(t, "guide.md", doc.Title)
	assert.Equal(t, 1, doc.ChunkCount)
}

func TestAdd_ReplacesPreviousRevision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.add(t, "doc_b", "first revision text")
	second := h.add(t, "doc_b", "completely different later revision")
	assert.True(t, second.Replaced)
	assert.Equal(t, first.DocumentID, second.DocumentID)

	info := h.service.GetDocumentInfo()
	assert.Equal(t, 1, info.TotalDocuments)
	assert.Equal(t, 1, info.TotalChunks)

	results, err := h.searchUC.Search(ctx, "first revision", 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotContains(t, r.ChunkContent, "first revision")
	}

	chunks, err := h.store.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "completely different later revision", chunks[0].Content)
	assert.Equal(t, 1, h.store.EmbeddingRowCount())
}

func TestAdd_ChunkIndexesAreSequential(t *testing.T) {
	h := newHarnessWith(t, harnessOptions{chunkSize: 50, overlap: 10})
	ctx := context.Background()

	res := h.add(t, "dots", strings.Repeat("A.", 60))
	assert.Equal(t, 3, res.Chunks)

	chunks, err := h.store.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, len([]rune(c.Content)), 50)
	}
	assert.Equal(t, 3, h.index.Len())
}

func TestAdd_EmptyContentStoresDocumentWithoutChunks(t *testing.T) {
	h := newHarness(t)

	res := h.add(t, "empty", "")
	assert.Equal(t, 0, res.Chunks)

	info := h.service.GetDocumentInfo()
	assert.Equal(t, 1, info.TotalDocuments)
	assert.Equal(t, 0, info.TotalChunks)
	assert.Equal(t, 0, info.Documents["empty"].ChunkCount)
	assert.Empty(t, h.search(t, "anything", 5))
}

func TestAdd_RejectsEmptyPath(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.AddDocument(context.Background(), AddRequest{Content: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, h.service.GetDocumentInfo().TotalDocuments)
}

func TestAdd_EmbeddingFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.add(t, "keep", "original content that must survive")

	h.reopen(t, harnessOptions{embedder: &failingEmbedder{dim: testDim, err: errProvider}})

	_, err := h.service.AddDocument(context.Background(), AddRequest{FilePath: "keep", Content: "replacement"})
	require.ErrorIs(t, err, domain.ErrEmbedding)
	assert.ErrorIs(t, err, errProvider)

	_, err = h.service.AddDocument(context.Background(), AddRequest{FilePath: "new", Content: "never stored"})
	require.ErrorIs(t, err, domain.ErrEmbedding)

	info := h.service.GetDocumentInfo()
	assert.Equal(t, 1, info.TotalDocuments)
	assert.Equal(t, 1, info.TotalChunks)
	chunks, err := h.store.ListChunks(context.Background())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "original content that must survive", chunks[0].Content)
}

func TestAdd_WrongDimensionIsEmbeddingError(t *testing.T) {
	h := newHarness(t)
	h.reopen(t, harnessOptions{embedder: &shortEmbedder{dim: testDim}})

	_, err := h.service.AddDocument(context.Background(), AddRequest{FilePath: "x", Content: "text"})
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Equal(t, 0, h.index.Len())
}

func TestAdd_StoreFailureRollsBackEveryTier(t *testing.T) {
	for _, op := range []string{memstore.OpInsertEmbedding, memstore.OpInsertChunk, memstore.OpDeleteChunks, memstore.OpCommit} {
		t.Run(op, func(t *testing.T) {
			h := newHarnessWith(t, harnessOptions{chunkSize: 50, overlap: 10})
			ctx := context.Background()
			original := h.add(t, "doc", strings.Repeat("original sentence. ", 6))
			before := h.index.Keys()
			_ = h.search(t, "original", 5) // populate the result cache

			h.store.InjectFailure(op, 0, errors.New("disk full"))
			_, err := h.service.AddDocument(ctx, AddRequest{FilePath: "doc", Content: strings.Repeat("replacement text. ", 6)})
			require.ErrorIs(t, err, domain.ErrStore)
			h.store.ClearFailures()

			assert.Equal(t, before, h.index.Keys())
			doc, err := h.service.GetDocument("doc")
			require.NoError(t, err)
			assert.Equal(t, original.Chunks, doc.ChunkCount)

			chunks, err := h.store.ListChunks(ctx)
			require.NoError(t, err)
			assert.Len(t, chunks, original.Chunks)
			for _, c := range chunks {
				assert.Contains(t, c.Content, "original")
			}
			assert.Equal(t, []string{"doc"}, h.search(t, "original", 5))
		})
	}
}

func TestAdd_DurabilityFailureStillApplies(t *testing.T) {
	// The mirror directory sits under a regular file, so every flush fails
	// while the add itself succeeds.
	h := newHarness(t)
	blocker := filepath.Join(h.dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	h.reopen(t, harnessOptions{mirrorDir: filepath.Join(blocker, "data")})

	res, err := h.service.AddDocument(context.Background(), AddRequest{FilePath: "a", Content: "durable enough"})
	require.ErrorIs(t, err, domain.ErrDurability)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Chunks)

	assert.Equal(t, 1, h.service.GetDocumentInfo().TotalDocuments)
	assert.Equal(t, []string{"a"}, h.search(t, "durable", 5))
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, "doc_a", "Chonost is an intelligent writing platform. It features indexing and search.")

	removed, err := h.service.DeleteDocument(ctx, "doc_a")
	require.NoError(t, err)
	assert.True(t, removed)

	info := h.service.GetDocumentInfo()
	assert.Equal(t, 0, info.TotalDocuments)
	assert.Equal(t, 0, info.TotalChunks)
	assert.Empty(t, h.search(t, "intelligent writing", 5))
	assert.Equal(t, 0, h.store.EmbeddingRowCount())

	_, err = h.service.GetDocument("doc_a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelete_MissingDocument(t *testing.T) {
	h := newHarness(t)
	h.add(t, "keep", "content")

	removed, err := h.service.DeleteDocument(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1, h.service.GetDocumentInfo().TotalDocuments)
}

func TestDelete_StoreFailureKeepsDocument(t *testing.T) {
	h := newHarness(t)
	h.add(t, "keep", "content")

	h.store.InjectFailure(memstore.OpDeleteCascade, 0, errors.New("locked"))
	removed, err := h.service.DeleteDocument(context.Background(), "keep")
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.False(t, removed)
	assert.Equal(t, 1, h.index.Len())
	assert.Equal(t, 1, h.service.GetDocumentInfo().TotalDocuments)
}

func TestAdd_ConcurrentWritersOnSamePath(t *testing.T) {
	h := newHarnessWith(t, harnessOptions{chunkSize: 50, overlap: 10})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := strings.Repeat(fmt.Sprintf("writer %d says hello. ", i), i+1)
			_, err := h.service.AddDocument(ctx, AddRequest{FilePath: "shared", Content: content})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	chunks, err := h.store.ListChunks(ctx)
	require.NoError(t, err)
	doc, err := h.service.GetDocument("shared")
	require.NoError(t, err)

	assert.Len(t, chunks, doc.ChunkCount)
	assert.Equal(t, doc.ChunkCount, h.index.Len())
	for _, c := range chunks {
		_, ok := h.index.Get(c.ID)
		assert.True(t, ok, "chunk %d missing from index", c.ID)
	}
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Len(t, k.locks, 2)

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		unlock()
		close(done)
	}()

	unlockA()
	<-done
	unlockB()
	assert.Empty(t, k.locks)
}
