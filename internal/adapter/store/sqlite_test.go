package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localrag/internal/domain"
	"localrag/internal/port"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rag_database.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// addDocument writes a document with one embedded chunk per content string.
func addDocument(t *testing.T, s *SQLiteStore, path string, contents ...string) (int64, []int64) {
	t.Helper()
	var (
		docID    int64
		chunkIDs []int64
	)
	err := s.WithTx(context.Background(), func(tx port.MetadataTx) error {
		var err error
		docID, err = tx.UpsertDocument(domain.Document{
			FilePath: path,
			Content:  path + " content",
			Title:    filepath.Base(path),
			Type:     domain.DefaultDocumentType,
		})
		if err != nil {
			return err
		}
		for i, c := range contents {
			id, err := tx.InsertChunk(docID, c, i)
			if err != nil {
				return err
			}
			if _, err := tx.InsertEmbedding(id, []float32{float32(i), 1}); err != nil {
				return err
			}
			chunkIDs = append(chunkIDs, id)
		}
		return nil
	})
	require.NoError(t, err)
	return docID, chunkIDs
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)

	info, err := s.GetSchemaInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, info.Version)

	// Reopening must not re-run migrations.
	path := s.Path()
	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
}

func TestWithTx_CommitAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, chunkIDs := addDocument(t, s, "notes/a.md", "alpha", "beta")
	require.Len(t, chunkIDs, 2)

	hit, ok, err := s.LookupChunkWithDocument(ctx, chunkIDs[1])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "beta", hit.Content)
	assert.Equal(t, "notes/a.md", hit.FilePath)
	assert.Equal(t, "a.md", hit.Title)
	assert.Equal(t, 1, hit.Index)

	_, ok, err = s.LookupChunkWithDocument(ctx, 9999)
	require.NoError(t, err)
	assert.False(t, ok)

	vecs, err := s.LoadEmbeddings(ctx, chunkIDs)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, vecs[chunkIDs[1]])
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx port.MetadataTx) error {
		id, err := tx.UpsertDocument(domain.Document{FilePath: "x", Title: "x", Type: "text"})
		require.NoError(t, err)
		_, err = tx.InsertChunk(id, "partial", 0)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	docs, err := s.ListDocumentSummaries(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)

	chunks, err := s.ListChunks(ctx)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestWithTx_ConcurrentWritersOnDistinctPaths(t *testing.T) {
	s := openTestStore(t)
	const writers = 32

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := fmt.Sprintf("docs/doc_%02d.md", i)
			errs <- s.WithTx(context.Background(), func(tx port.MetadataTx) error {
				// Read first, then write: the same shape as an add.
				if _, _, err := tx.FindDocumentIDByPath(path); err != nil {
					return err
				}
				docID, err := tx.UpsertDocument(domain.Document{
					FilePath: path,
					Content:  "content of " + path,
					Title:    path,
					Type:     domain.DefaultDocumentType,
				})
				if err != nil {
					return err
				}
				chunkID, err := tx.InsertChunk(docID, "content of "+path, 0)
				if err != nil {
					return err
				}
				_, err = tx.InsertEmbedding(chunkID, []float32{float32(i), 1})
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	records, err := s.ListDocumentSummaries(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, writers)
}

func TestUpsertDocument_ReplacesInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	firstID, _ := addDocument(t, s, "doc_b", "first revision text")

	var secondID int64
	err := s.WithTx(ctx, func(tx port.MetadataTx) error {
		id, ok, err := tx.FindDocumentIDByPath("doc_b")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.DeleteChunksForDocument(id))

		secondID, err = tx.UpsertDocument(domain.Document{
			FilePath:  "doc_b",
			Content:   "completely different later revision",
			Title:     "B",
			Type:      "markdown",
			UpdatedAt: time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertChunk(secondID, "completely different later revision", 0)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID, "the row id is reused on replacement")

	docs, err := s.ListDocumentSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "B", docs[0].Title)
	assert.Equal(t, "markdown", docs[0].Type)
	assert.Equal(t, 1, docs[0].ChunkCount)
	assert.True(t, docs[0].UpdatedAt.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))

	chunks, err := s.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "completely different later revision", chunks[0].Content)
	assert.False(t, chunks[0].HasEmbedding)
}

func TestDeleteCascadeByDocumentID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keepID, keepChunks := addDocument(t, s, "keep", "k0")
	dropID, dropChunks := addDocument(t, s, "drop", "d0", "d1")
	require.NotEqual(t, keepID, dropID)

	err := s.WithTx(ctx, func(tx port.MetadataTx) error {
		ids, err := tx.ListChunkIDsForDocument(dropID)
		require.NoError(t, err)
		assert.Equal(t, dropChunks, ids)
		return tx.DeleteCascadeByDocumentID(dropID)
	})
	require.NoError(t, err)

	chunks, err := s.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, keepChunks[0], chunks[0].ID)
	assert.True(t, chunks[0].HasEmbedding)

	vecs, err := s.LoadEmbeddings(ctx, dropChunks)
	require.NoError(t, err)
	assert.Empty(t, vecs)

	err = s.WithTx(ctx, func(tx port.MetadataTx) error {
		_, ok, err := tx.FindDocumentIDByPath("drop")
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)
}

func TestReplaceEmbedding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, chunkIDs := addDocument(t, s, "doc", "c0")

	err := s.WithTx(ctx, func(tx port.MetadataTx) error {
		return tx.ReplaceEmbedding(chunkIDs[0], []float32{9, 9})
	})
	require.NoError(t, err)

	vecs, err := s.LoadEmbeddings(ctx, chunkIDs)
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9}, vecs[chunkIDs[0]])
}

func TestPruneOrphans(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, chunkIDs := addDocument(t, s, "doc", "c0", "c1")

	// Simulate rows left behind by a build without foreign keys.
	conn, err := s.db.Connx(ctx)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `PRAGMA foreign_keys = OFF`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO chunks (document_id, content, chunk_index) VALUES (424242, 'lost', 0)`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO embeddings (chunk_id, vector, created_at) VALUES (434343, x'00000000', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	pruned, err := s.PruneOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	chunks, err := s.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, chunkIDs[0], chunks[0].ID)
}

func TestEnsureEmbeddingModel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, EnsureEmbeddingModel(ctx, s, "hash-bow-v1", 384))
	require.NoError(t, EnsureEmbeddingModel(ctx, s, "hash-bow-v1", 384))

	err := EnsureEmbeddingModel(ctx, s, "hash-bow-v1", 768)
	assert.ErrorIs(t, err, domain.ErrModelMismatch)
	assert.ErrorIs(t, err, domain.ErrValidation)

	info, err := s.GetSchemaInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hash-bow-v1", info.EmbeddingModel)
	assert.Equal(t, 384, info.EmbeddingDimension)
}
