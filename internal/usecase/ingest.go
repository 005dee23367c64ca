package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"localrag/internal/adapter/fs"
	"localrag/internal/domain"
	"localrag/internal/logging"
	"localrag/internal/port"
)

// IngestUseCase indexes the files of a directory tree through IndexUseCase.
type IngestUseCase struct {
	walker port.FileWalker
	index  *IndexUseCase
	docs   port.DocumentCache
	logger *logging.Logger
}

func NewIngestUseCase(walker port.FileWalker, index *IndexUseCase, docs port.DocumentCache, logger *logging.Logger) *IngestUseCase {
	if logger == nil {
		logger = logging.Nop()
	}
	return &IngestUseCase{
		walker: walker,
		index:  index,
		docs:   docs,
		logger: logger,
	}
}

// IngestOptions controls a directory ingest.
type IngestOptions struct {
	// Prefix is prepended to each relative path to form the document key.
	Prefix string
	// Force re-indexes files even when the cached revision is newer.
	Force bool
	// Prune deletes documents under Prefix whose file no longer exists.
	Prune bool
	// Progress, when set, is called after each file.
	Progress func(done, total int, key string)
}

// IngestResult contains the results of an ingest.
type IngestResult struct {
	FilesIndexed  int      `json:"files_indexed"`
	FilesSkipped  int      `json:"files_skipped"`
	FilesDeleted  int      `json:"files_deleted"`
	ChunksCreated int      `json:"chunks_created"`
	Errors        []string `json:"errors,omitempty"`
}

// Ingest walks root and adds every matching file. Per-file failures are
// collected in the result; only walk failures and cancellation abort the
// run. Durability errors are reported once at the end.
func (u *IngestUseCase) Ingest(ctx context.Context, root string, opts IngestOptions) (*IngestResult, error) {
	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	result := &IngestResult{}
	seen := make(map[string]bool, len(files))
	var durability error

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		key := opts.Prefix + file.RelPath
		seen[key] = true

		if opts.Progress != nil {
			opts.Progress(i+1, len(files), key)
		}

		if !opts.Force {
			if cached, ok := u.docs.Get(key); ok && cached.UpdatedAt.Unix() >= file.ModTime {
				result.FilesSkipped++
				continue
			}
		}

		content, err := fs.ReadFile(file.Path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to read %s: %v", file.RelPath, err))
			continue
		}

		res, err := u.index.Add(ctx, AddRequest{
			FilePath: key,
			Content:  content,
			Title:    path.Base(file.RelPath),
			Type:     documentType(file.RelPath),
		})
		if err != nil && !errors.Is(err, domain.ErrDurability) {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to index %s: %v", file.RelPath, err))
			continue
		}
		if err != nil {
			durability = err
		}
		result.FilesIndexed++
		result.ChunksCreated += res.Chunks
	}

	if opts.Prune {
		var stale []string
		for key := range u.docs.All() {
			if strings.HasPrefix(key, opts.Prefix) && !seen[key] {
				stale = append(stale, key)
			}
		}
		sort.Strings(stale)

		for _, key := range stale {
			removed, err := u.index.Delete(ctx, key)
			if err != nil && !errors.Is(err, domain.ErrDurability) {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to delete %s: %v", key, err))
				continue
			}
			if err != nil {
				durability = err
			}
			if removed {
				result.FilesDeleted++
			}
		}
	}

	u.logger.InfoKV("ingest finished", "root", root, "indexed", result.FilesIndexed,
		"skipped", result.FilesSkipped, "deleted", result.FilesDeleted, "errors", len(result.Errors))

	return result, durability
}

var extensionTypes = map[string]string{
	".md":       "markdown",
	".markdown": "markdown",
	".txt":      "text",
	".rst":      "restructuredtext",
	".html":     "html",
	".htm":      "html",
	".json":     "json",
	".yaml":     "yaml",
	".yml":      "yaml",
	".go":       "go",
	".py":       "python",
	".js":       "javascript",
	".ts":       "typescript",
}

func documentType(relPath string) string {
	if t, ok := extensionTypes[strings.ToLower(path.Ext(relPath))]; ok {
		return t
	}
	return domain.DefaultDocumentType
}
