package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"localrag/internal/adapter/store/migrations"
	"localrag/internal/domain"
	"localrag/internal/port"
)

// inBatch bounds the number of bound parameters per IN (...) query.
const inBatch = 500

// SQLiteStore is the metadata store of record.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

var _ port.MetadataStore = (*SQLiteStore)(nil)

// Open opens (creating if needed) the SQLite database at path and applies
// pending migrations.
func Open(path string) (*SQLiteStore, error) {
	// Write transactions take the lock at BEGIN so concurrent writers wait on
	// busy_timeout instead of failing on the read-to-write upgrade.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", domain.ErrStore, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: opening database: %w", domain.ErrStore, err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %w", domain.ErrStore, err)
	}
	return s, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx port.MetadataTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", domain.ErrStore, err)
	}

	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("%w: rollback: %w", domain.ErrStore, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrStore, err)
	}
	return nil
}

type chunkHitRow struct {
	ChunkID  int64  `db:"chunk_id"`
	Content  string `db:"content"`
	Index    int    `db:"chunk_index"`
	FilePath string `db:"file_path"`
	Title    string `db:"title"`
}

func (s *SQLiteStore) LookupChunkWithDocument(ctx context.Context, chunkID int64) (domain.ChunkHit, bool, error) {
	var row chunkHitRow
	err := s.db.GetContext(ctx, &row, `
		SELECT c.id AS chunk_id, c.content, c.chunk_index, d.file_path, d.title
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id = ?`, chunkID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChunkHit{}, false, nil
	}
	if err != nil {
		return domain.ChunkHit{}, false, fmt.Errorf("%w: lookup chunk %d: %w", domain.ErrStore, chunkID, err)
	}
	return domain.ChunkHit{
		ChunkID:  row.ChunkID,
		Content:  row.Content,
		FilePath: row.FilePath,
		Title:    row.Title,
		Index:    row.Index,
	}, true, nil
}

type storedChunkRow struct {
	ID           int64  `db:"id"`
	DocumentID   int64  `db:"document_id"`
	Content      string `db:"content"`
	Index        int    `db:"chunk_index"`
	HasEmbedding bool   `db:"has_embedding"`
}

func (s *SQLiteStore) ListChunks(ctx context.Context) ([]domain.StoredChunk, error) {
	var rows []storedChunkRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT c.id, c.document_id, c.content, c.chunk_index, e.id IS NOT NULL AS has_embedding
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list chunks: %w", domain.ErrStore, err)
	}

	chunks := make([]domain.StoredChunk, len(rows))
	for i, r := range rows {
		chunks[i] = domain.StoredChunk{
			Chunk: domain.Chunk{
				ID:         r.ID,
				DocumentID: r.DocumentID,
				Content:    r.Content,
				Index:      r.Index,
			},
			HasEmbedding: r.HasEmbedding,
		}
	}
	return chunks, nil
}

type embeddingRow struct {
	ChunkID int64  `db:"chunk_id"`
	Vector  []byte `db:"vector"`
}

func (s *SQLiteStore) LoadEmbeddings(ctx context.Context, chunkIDs []int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(chunkIDs))

	for start := 0; start < len(chunkIDs); start += inBatch {
		batch := chunkIDs[start:min(start+inBatch, len(chunkIDs))]

		query, args, err := sqlx.In(`SELECT chunk_id, vector FROM embeddings WHERE chunk_id IN (?)`, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: load embeddings: %w", domain.ErrStore, err)
		}

		var rows []embeddingRow
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("%w: load embeddings: %w", domain.ErrStore, err)
		}
		for _, r := range rows {
			vec, err := domain.DecodeVector(r.Vector)
			if err != nil {
				return nil, fmt.Errorf("%w: embedding of chunk %d: %w", domain.ErrInconsistency, r.ChunkID, err)
			}
			out[r.ChunkID] = vec
		}
	}
	return out, nil
}

type summaryRow struct {
	FilePath   string `db:"file_path"`
	ID         int64  `db:"id"`
	Title      string `db:"title"`
	Type       string `db:"type"`
	UpdatedAt  string `db:"updated_at"`
	ChunkCount int    `db:"chunk_count"`
}

func (s *SQLiteStore) ListDocumentSummaries(ctx context.Context) ([]domain.DocumentRecord, error) {
	var rows []summaryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT d.file_path, d.id, d.title, d.type, d.updated_at, COUNT(c.id) AS chunk_count
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		GROUP BY d.id
		ORDER BY d.file_path`)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %w", domain.ErrStore, err)
	}

	records := make([]domain.DocumentRecord, 0, len(rows))
	for _, r := range rows {
		updatedAt, err := parseTime(r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: document %s: %w", domain.ErrStore, r.FilePath, err)
		}
		records = append(records, domain.DocumentRecord{
			FilePath: r.FilePath,
			DocumentSummary: domain.DocumentSummary{
				ID:         r.ID,
				Title:      r.Title,
				Type:       r.Type,
				ChunkCount: r.ChunkCount,
				UpdatedAt:  updatedAt,
			},
		})
	}
	return records, nil
}

func (s *SQLiteStore) PruneOrphans(ctx context.Context) (int64, error) {
	var pruned int64
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %w", domain.ErrStore, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM chunks WHERE document_id NOT IN (SELECT id FROM documents)`,
		`DELETE FROM embeddings WHERE chunk_id NOT IN (SELECT id FROM chunks)`,
	} {
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return 0, fmt.Errorf("%w: prune orphans: %w", domain.ErrStore, err)
		}
		n, _ := res.RowsAffected()
		pruned += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", domain.ErrStore, err)
	}
	return pruned, nil
}

func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM meta WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: read meta %s: %w", domain.ErrStore, key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: write meta %s: %w", domain.ErrStore, key, err)
	}
	return nil
}

// sqliteTx implements port.MetadataTx on top of one database transaction.
type sqliteTx struct {
	ctx context.Context
	tx  *sqlx.Tx
}

func (t *sqliteTx) UpsertDocument(doc domain.Document) (int64, error) {
	now := doc.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	ts := formatTime(now)

	var id int64
	err := t.tx.GetContext(t.ctx, &id, `
		INSERT INTO documents (file_path, content, title, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_path) DO UPDATE SET
			content = excluded.content,
			title = excluded.title,
			type = excluded.type,
			updated_at = excluded.updated_at
		RETURNING id`,
		doc.FilePath, doc.Content, doc.Title, doc.Type, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert document %s: %w", domain.ErrStore, doc.FilePath, err)
	}
	return id, nil
}

func (t *sqliteTx) InsertChunk(documentID int64, content string, chunkIndex int) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO chunks (document_id, content, chunk_index) VALUES (?, ?, ?)`,
		documentID, content, chunkIndex)
	if err != nil {
		return 0, fmt.Errorf("%w: insert chunk %d of document %d: %w", domain.ErrStore, chunkIndex, documentID, err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) InsertEmbedding(chunkID int64, vector []float32) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO embeddings (chunk_id, vector, created_at) VALUES (?, ?, ?)`,
		chunkID, domain.EncodeVector(vector), formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("%w: insert embedding for chunk %d: %w", domain.ErrStore, chunkID, err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) ReplaceEmbedding(chunkID int64, vector []float32) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO embeddings (chunk_id, vector, created_at) VALUES (?, ?, ?)
		ON CONFLICT (chunk_id) DO UPDATE SET vector = excluded.vector, created_at = excluded.created_at`,
		chunkID, domain.EncodeVector(vector), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("%w: replace embedding for chunk %d: %w", domain.ErrStore, chunkID, err)
	}
	return nil
}

func (t *sqliteTx) FindDocumentIDByPath(filePath string) (int64, bool, error) {
	var id int64
	err := t.tx.GetContext(t.ctx, &id, `SELECT id FROM documents WHERE file_path = ?`, filePath)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: find document %s: %w", domain.ErrStore, filePath, err)
	}
	return id, true, nil
}

func (t *sqliteTx) ListChunkIDsForDocument(documentID int64) ([]int64, error) {
	var ids []int64
	err := t.tx.SelectContext(t.ctx, &ids,
		`SELECT id FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list chunks of document %d: %w", domain.ErrStore, documentID, err)
	}
	return ids, nil
}

func (t *sqliteTx) DeleteChunksForDocument(documentID int64) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, documentID); err != nil {
		return fmt.Errorf("%w: delete embeddings of document %d: %w", domain.ErrStore, documentID, err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("%w: delete chunks of document %d: %w", domain.ErrStore, documentID, err)
	}
	return nil
}

func (t *sqliteTx) DeleteCascadeByDocumentID(documentID int64) error {
	if err := t.DeleteChunksForDocument(documentID); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return fmt.Errorf("%w: delete document %d: %w", domain.ErrStore, documentID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
