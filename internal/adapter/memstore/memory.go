// Package memstore is an in-memory port.MetadataStore. Transactions work on a
// copy of the state that replaces the original on commit. Individual
// operations can be made to fail, which the use-case tests rely on to
// exercise rollback paths.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"localrag/internal/domain"
	"localrag/internal/port"
)

// Operation names accepted by InjectFailure.
const (
	OpUpsertDocument   = "UpsertDocument"
	OpInsertChunk      = "InsertChunk"
	OpInsertEmbedding  = "InsertEmbedding"
	OpReplaceEmbedding = "ReplaceEmbedding"
	OpDeleteChunks     = "DeleteChunksForDocument"
	OpDeleteCascade    = "DeleteCascadeByDocumentID"
	OpLookup           = "LookupChunkWithDocument"
	OpCommit           = "Commit"
)

type state struct {
	docs       map[int64]domain.Document
	byPath     map[string]int64
	chunks     map[int64]domain.Chunk
	embeddings map[int64][]float32 // keyed by chunk id
	nextDoc    int64
	nextChunk  int64
	nextEmb    int64
}

func newState() *state {
	return &state{
		docs:       make(map[int64]domain.Document),
		byPath:     make(map[string]int64),
		chunks:     make(map[int64]domain.Chunk),
		embeddings: make(map[int64][]float32),
	}
}

func (s *state) clone() *state {
	c := &state{
		docs:       make(map[int64]domain.Document, len(s.docs)),
		byPath:     make(map[string]int64, len(s.byPath)),
		chunks:     make(map[int64]domain.Chunk, len(s.chunks)),
		embeddings: make(map[int64][]float32, len(s.embeddings)),
		nextDoc:    s.nextDoc,
		nextChunk:  s.nextChunk,
		nextEmb:    s.nextEmb,
	}
	for k, v := range s.docs {
		c.docs[k] = v
	}
	for k, v := range s.byPath {
		c.byPath[k] = v
	}
	for k, v := range s.chunks {
		c.chunks[k] = v
	}
	for k, v := range s.embeddings {
		c.embeddings[k] = v
	}
	return c
}

type failure struct {
	after int
	err   error
}

type MemoryStore struct {
	mu       sync.Mutex
	st       *state
	meta     map[string]string
	calls    map[string]int
	failures map[string]failure
}

var _ port.MetadataStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		st:       newState(),
		meta:     make(map[string]string),
		calls:    make(map[string]int),
		failures: make(map[string]failure),
	}
}

// InjectFailure makes op return err once it has succeeded `after` times.
func (s *MemoryStore) InjectFailure(op string, after int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = failure{after: after, err: err}
	s.calls[op] = 0
}

func (s *MemoryStore) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]failure)
	s.calls = make(map[string]int)
}

// check must be called with mu held.
func (s *MemoryStore) check(op string) error {
	f, ok := s.failures[op]
	if !ok {
		return nil
	}
	s.calls[op]++
	if s.calls[op] > f.after {
		return fmt.Errorf("%w: %s: %w", domain.ErrStore, op, f.err)
	}
	return nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx port.MetadataTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: begin transaction: %w", domain.ErrStore, err)
	}

	work := s.st.clone()
	if err := fn(&memTx{store: s, st: work}); err != nil {
		return err
	}
	if err := s.check(OpCommit); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *MemoryStore) LookupChunkWithDocument(_ context.Context, chunkID int64) (domain.ChunkHit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpLookup); err != nil {
		return domain.ChunkHit{}, false, err
	}
	c, ok := s.st.chunks[chunkID]
	if !ok {
		return domain.ChunkHit{}, false, nil
	}
	d, ok := s.st.docs[c.DocumentID]
	if !ok {
		return domain.ChunkHit{}, false, nil
	}
	return domain.ChunkHit{
		ChunkID:  c.ID,
		Content:  c.Content,
		FilePath: d.FilePath,
		Title:    d.Title,
		Index:    c.Index,
	}, true, nil
}

func (s *MemoryStore) ListChunks(context.Context) ([]domain.StoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.StoredChunk, 0, len(s.st.chunks))
	for id, c := range s.st.chunks {
		_, has := s.st.embeddings[id]
		out = append(out, domain.StoredChunk{Chunk: c, HasEmbedding: has})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) LoadEmbeddings(_ context.Context, chunkIDs []int64) (map[int64][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64][]float32, len(chunkIDs))
	for _, id := range chunkIDs {
		if vec, ok := s.st.embeddings[id]; ok {
			out[id] = vec
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDocumentSummaries(context.Context) ([]domain.DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[int64]int)
	for _, c := range s.st.chunks {
		counts[c.DocumentID]++
	}

	out := make([]domain.DocumentRecord, 0, len(s.st.docs))
	for id, d := range s.st.docs {
		out = append(out, domain.DocumentRecord{
			FilePath: d.FilePath,
			DocumentSummary: domain.DocumentSummary{
				ID:         id,
				Title:      d.Title,
				Type:       d.Type,
				ChunkCount: counts[id],
				UpdatedAt:  d.UpdatedAt,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (s *MemoryStore) PruneOrphans(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for id, c := range s.st.chunks {
		if _, ok := s.st.docs[c.DocumentID]; !ok {
			delete(s.st.chunks, id)
			pruned++
		}
	}
	for id := range s.st.embeddings {
		if _, ok := s.st.chunks[id]; !ok {
			delete(s.st.embeddings, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) GetMeta(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.meta[key]
	return v, ok, nil
}

func (s *MemoryStore) SetMeta(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// DropEmbeddingRows deletes embedding rows behind the pipeline's back, the
// way an interrupted external process might.
func (s *MemoryStore) DropEmbeddingRows(chunkIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.st.embeddings, id)
	}
}

// EmbeddingRowCount returns the number of embedding rows.
func (s *MemoryStore) EmbeddingRowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.embeddings)
}

type memTx struct {
	store *MemoryStore
	st    *state
}

func (t *memTx) UpsertDocument(doc domain.Document) (int64, error) {
	if err := t.store.check(OpUpsertDocument); err != nil {
		return 0, err
	}

	now := doc.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	if id, ok := t.st.byPath[doc.FilePath]; ok {
		prev := t.st.docs[id]
		doc.ID = id
		doc.CreatedAt = prev.CreatedAt
		doc.UpdatedAt = now
		t.st.docs[id] = doc
		return id, nil
	}

	t.st.nextDoc++
	doc.ID = t.st.nextDoc
	doc.CreatedAt = now
	doc.UpdatedAt = now
	t.st.docs[doc.ID] = doc
	t.st.byPath[doc.FilePath] = doc.ID
	return doc.ID, nil
}

func (t *memTx) InsertChunk(documentID int64, content string, chunkIndex int) (int64, error) {
	if err := t.store.check(OpInsertChunk); err != nil {
		return 0, err
	}
	if _, ok := t.st.docs[documentID]; !ok {
		return 0, fmt.Errorf("%w: document %d does not exist", domain.ErrStore, documentID)
	}
	for _, c := range t.st.chunks {
		if c.DocumentID == documentID && c.Index == chunkIndex {
			return 0, fmt.Errorf("%w: chunk %d of document %d already exists", domain.ErrStore, chunkIndex, documentID)
		}
	}

	t.st.nextChunk++
	id := t.st.nextChunk
	t.st.chunks[id] = domain.Chunk{ID: id, DocumentID: documentID, Content: content, Index: chunkIndex}
	return id, nil
}

func (t *memTx) InsertEmbedding(chunkID int64, vector []float32) (int64, error) {
	if err := t.store.check(OpInsertEmbedding); err != nil {
		return 0, err
	}
	if _, ok := t.st.chunks[chunkID]; !ok {
		return 0, fmt.Errorf("%w: chunk %d does not exist", domain.ErrStore, chunkID)
	}
	if _, ok := t.st.embeddings[chunkID]; ok {
		return 0, fmt.Errorf("%w: chunk %d already has an embedding", domain.ErrStore, chunkID)
	}

	t.st.nextEmb++
	t.st.embeddings[chunkID] = vector
	return t.st.nextEmb, nil
}

func (t *memTx) ReplaceEmbedding(chunkID int64, vector []float32) error {
	if err := t.store.check(OpReplaceEmbedding); err != nil {
		return err
	}
	if _, ok := t.st.chunks[chunkID]; !ok {
		return fmt.Errorf("%w: chunk %d does not exist", domain.ErrStore, chunkID)
	}
	t.st.embeddings[chunkID] = vector
	return nil
}

func (t *memTx) FindDocumentIDByPath(filePath string) (int64, bool, error) {
	id, ok := t.st.byPath[filePath]
	return id, ok, nil
}

func (t *memTx) ListChunkIDsForDocument(documentID int64) ([]int64, error) {
	var chunks []domain.Chunk
	for _, c := range t.st.chunks {
		if c.DocumentID == documentID {
			chunks = append(chunks, c)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids, nil
}

func (t *memTx) DeleteChunksForDocument(documentID int64) error {
	if err := t.store.check(OpDeleteChunks); err != nil {
		return err
	}
	for id, c := range t.st.chunks {
		if c.DocumentID == documentID {
			delete(t.st.embeddings, id)
			delete(t.st.chunks, id)
		}
	}
	return nil
}

func (t *memTx) DeleteCascadeByDocumentID(documentID int64) error {
	if err := t.store.check(OpDeleteCascade); err != nil {
		return err
	}
	if err := t.DeleteChunksForDocument(documentID); err != nil {
		return err
	}
	if d, ok := t.st.docs[documentID]; ok {
		delete(t.st.byPath, d.FilePath)
		delete(t.st.docs, documentID)
	}
	return nil
}
