package domain

import "time"

// DefaultDocumentType is used when a document is added without a type tag.
const DefaultDocumentType = "text"

type Document struct {
	ID        int64
	FilePath  string
	Content   string
	Title     string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Chunk struct {
	ID         int64
	DocumentID int64
	Content    string
	Index      int
}

type Embedding struct {
	ID        int64
	ChunkID   int64
	Vector    []float32
	CreatedAt time.Time
}

// StoredChunk is a chunk row as seen by the repair procedure.
type StoredChunk struct {
	Chunk
	HasEmbedding bool
}

// ChunkHit is a chunk joined with its parent document, as returned to search.
type ChunkHit struct {
	ChunkID  int64
	Content  string
	FilePath string
	Title    string
	Index    int
}

// DocumentSummary is the cached projection of a document row.
type DocumentSummary struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Type       string    `json:"type"`
	ChunkCount int       `json:"chunks"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DocumentRecord pairs a summary with the path it is keyed by.
type DocumentRecord struct {
	FilePath string
	DocumentSummary
}

type SearchResult struct {
	FilePath     string  `json:"file_path"`
	Title        string  `json:"title"`
	ChunkContent string  `json:"content"`
	ChunkIndex   int     `json:"chunk_index"`
	Similarity   float64 `json:"similarity"`
}

type Info struct {
	TotalDocuments int                        `json:"total_documents"`
	TotalChunks    int                        `json:"total_chunks"`
	Documents      map[string]DocumentSummary `json:"documents"`
}
