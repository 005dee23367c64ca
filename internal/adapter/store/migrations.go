package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"localrag/internal/domain"
	"localrag/internal/port"
)

// CurrentSchemaVersion is the highest migration shipped with this build.
// Increment this when adding a migration file.
const CurrentSchemaVersion = 1

// Keys of the meta table.
const (
	MetaEmbeddingModel     = "embedding_model"
	MetaEmbeddingDimension = "embedding_dimension"
)

// SchemaInfo describes what a data directory was written with.
type SchemaInfo struct {
	Version            int
	EmbeddingModel     string
	EmbeddingDimension int
}

// migrate runs all pending *.up.sql migrations in version order, each in its
// own transaction together with its schema_migrations row.
func (s *SQLiteStore) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("%w: database created by newer version (v%d > v%d)",
			domain.ErrValidation, currentVersion, CurrentSchemaVersion)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Beginx()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}

	return nil
}

// GetSchemaInfo reads the schema version and the recorded embedding model.
func (s *SQLiteStore) GetSchemaInfo(ctx context.Context) (*SchemaInfo, error) {
	info := &SchemaInfo{}
	if err := s.db.GetContext(ctx, &info.Version, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return nil, fmt.Errorf("%w: reading schema version: %w", domain.ErrStore, err)
	}

	model, dim, err := readModel(ctx, s)
	if err != nil {
		return nil, err
	}
	info.EmbeddingModel = model
	info.EmbeddingDimension = dim
	return info, nil
}

// EnsureEmbeddingModel records (model, dimension) on first use and rejects a
// store that was written with a different pair.
func EnsureEmbeddingModel(ctx context.Context, meta port.MetadataStore, model string, dimension int) error {
	storedModel, storedDim, err := readModel(ctx, meta)
	if err != nil {
		return err
	}

	if storedModel == "" && storedDim == 0 {
		if err := meta.SetMeta(ctx, MetaEmbeddingModel, model); err != nil {
			return err
		}
		return meta.SetMeta(ctx, MetaEmbeddingDimension, strconv.Itoa(dimension))
	}

	if storedModel != model || storedDim != dimension {
		return fmt.Errorf("%w: %w: data directory uses %s/%d, configured %s/%d",
			domain.ErrValidation, domain.ErrModelMismatch, storedModel, storedDim, model, dimension)
	}
	return nil
}

func readModel(ctx context.Context, meta port.MetadataStore) (string, int, error) {
	model, _, err := meta.GetMeta(ctx, MetaEmbeddingModel)
	if err != nil {
		return "", 0, err
	}

	rawDim, ok, err := meta.GetMeta(ctx, MetaEmbeddingDimension)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return model, 0, nil
	}

	dim, err := strconv.Atoi(rawDim)
	if err != nil {
		return "", 0, fmt.Errorf("%w: meta %s=%q is not an integer", domain.ErrInconsistency, MetaEmbeddingDimension, rawDim)
	}
	return model, dim, nil
}
