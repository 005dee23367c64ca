package port

import (
	"context"

	"localrag/internal/domain"
)

// MetadataStore is the durable store of record for documents, chunks and
// embeddings.
type MetadataStore interface {
	// WithTx runs fn inside a single transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx MetadataTx) error) error

	// LookupChunkWithDocument joins a chunk with its parent document.
	// The boolean is false when the chunk no longer exists.
	LookupChunkWithDocument(ctx context.Context, chunkID int64) (domain.ChunkHit, bool, error)

	// ListChunks returns every chunk row ordered by id.
	ListChunks(ctx context.Context) ([]domain.StoredChunk, error)

	// LoadEmbeddings returns the stored vectors for the given chunks.
	LoadEmbeddings(ctx context.Context, chunkIDs []int64) (map[int64][]float32, error)

	// ListDocumentSummaries rebuilds document summaries from the rows.
	ListDocumentSummaries(ctx context.Context) ([]domain.DocumentRecord, error)

	// PruneOrphans removes chunk rows without a document and embedding rows
	// without a chunk, returning how many rows were deleted.
	PruneOrphans(ctx context.Context) (int64, error)

	// GetMeta and SetMeta access the store's key/value metadata.
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}

// MetadataTx exposes the row operations used by the indexing pipeline.
type MetadataTx interface {
	// UpsertDocument inserts the document or replaces the row with the same
	// file path, returning its id. Dependent rows are not touched.
	UpsertDocument(doc domain.Document) (int64, error)

	InsertChunk(documentID int64, content string, chunkIndex int) (int64, error)

	InsertEmbedding(chunkID int64, vector []float32) (int64, error)

	// ReplaceEmbedding writes the single embedding row of a chunk.
	ReplaceEmbedding(chunkID int64, vector []float32) error

	FindDocumentIDByPath(filePath string) (int64, bool, error)

	ListChunkIDsForDocument(documentID int64) ([]int64, error)

	// DeleteChunksForDocument removes embeddings, then chunks, of a document.
	DeleteChunksForDocument(documentID int64) error

	// DeleteCascadeByDocumentID removes embeddings, chunks, then the document.
	DeleteCascadeByDocumentID(documentID int64) error
}
