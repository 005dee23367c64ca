// Package app assembles the service from configuration: it opens the three
// stores, checks the embedding model and reconciles the stores before the
// service is handed out.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"localrag/config"
	"localrag/internal/adapter/cache"
	"localrag/internal/adapter/chunker"
	"localrag/internal/adapter/doccache"
	"localrag/internal/adapter/embedding"
	"localrag/internal/adapter/fs"
	"localrag/internal/adapter/store"
	"localrag/internal/adapter/vectorindex"
	"localrag/internal/domain"
	"localrag/internal/logging"
	"localrag/internal/port"
	"localrag/internal/usecase"
)

// Options tune Open. The zero value is usable.
type Options struct {
	Logger *logging.Logger

	// Embedder overrides the provider built from the configuration.
	Embedder port.Embedder

	// RepairProgress receives progress of the startup re-embedding.
	RepairProgress usecase.ProgressFunc
}

// App is an opened data directory.
type App struct {
	Config  *config.Config
	Service *usecase.Service

	// StartupRepair is what the reconciliation at open time changed.
	StartupRepair *usecase.RepairReport

	logger *logging.Logger
}

// Open validates cfg, opens the data directory and runs a repair pass.
//
// A mirror that cannot be read is logged and rebuilt from the metadata
// store. A store written with a different embedding model or dimension is
// refused with ErrModelMismatch.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	embedder := opts.Embedder
	if embedder == nil {
		var err error
		if embedder, err = embedding.New(cfg.Embedding); err != nil {
			return nil, err
		}
	}
	if embedder.Dimension() != cfg.Embedding.Dimension {
		return nil, fmt.Errorf("%w: embedder %s produces dimension %d, configured %d",
			domain.ErrValidation, embedder.ModelName(), embedder.Dimension(), cfg.Embedding.Dimension)
	}

	ch, err := chunker.NewWindowChunker(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %w", domain.ErrStore, err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	if err := store.EnsureEmbeddingModel(ctx, st, embedder.ModelName(), embedder.Dimension()); err != nil {
		st.Close()
		return nil, err
	}

	mirror, err := openMirror(cfg, embedder.Dimension())
	if err != nil {
		st.Close()
		return nil, err
	}

	index := vectorindex.NewMemoryIndex(embedder.Dimension(), mirror)
	if err := index.Load(); err != nil {
		logger.WarnKV("vector index unreadable, rebuilding from store", "path", cfg.VectorMirrorPath(), "error", err)
	}

	docs := doccache.NewJSONCache(cfg.DocumentCachePath())
	if err := docs.Load(); err != nil {
		logger.WarnKV("document cache unreadable, rebuilding from store", "path", cfg.DocumentCachePath(), "error", err)
	}

	var results *cache.QueryCache
	if cfg.Search.CacheSize > 0 {
		results = cache.NewQueryCache(cfg.Search.CacheSize, time.Duration(cfg.Search.CacheTTLSecs)*time.Second)
	}

	indexUC := usecase.NewIndexUseCase(st, index, docs, ch, embedder, results, logger.WithName("index"))
	searchUC := usecase.NewSearchUseCase(st, index, embedder, results, cfg.Search.DefaultLimit, logger.WithName("search"))
	repairUC := usecase.NewRepairUseCase(st, index, docs, embedder, cfg.Embedding.BatchSize, logger.WithName("repair"))
	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
	ingestUC := usecase.NewIngestUseCase(walker, indexUC, docs, logger.WithName("ingest"))

	svc := usecase.NewService(st, index, docs, embedder, indexUC, searchUC, repairUC, ingestUC)

	report, err := repairUC.Run(ctx, opts.RepairProgress)
	if err != nil && !errors.Is(err, domain.ErrDurability) {
		svc.Close()
		return nil, fmt.Errorf("reconciling stores: %w", err)
	}
	if err != nil {
		logger.WarnKV("startup flush failed", "error", err)
	}

	logger.InfoKV("data directory opened", "dir", cfg.DataDirectory, "model", embedder.ModelName(),
		"dimension", embedder.Dimension(), "documents", report.Documents, "chunks", report.Chunks)

	return &App{
		Config:        cfg,
		Service:       svc,
		StartupRepair: report,
		logger:        logger,
	}, nil
}

func openMirror(cfg *config.Config, dimension int) (port.VectorMirror, error) {
	switch cfg.VectorIndex.Backend {
	case config.BackendBolt:
		m, err := vectorindex.OpenBoltMirror(cfg.VectorMirrorPath(), dimension)
		if err != nil {
			return nil, fmt.Errorf("%w: opening vector mirror: %w", domain.ErrStore, err)
		}
		return m, nil
	default:
		return vectorindex.NewBlobMirror(cfg.VectorMirrorPath(), dimension), nil
	}
}

// Close flushes and releases every store.
func (a *App) Close() error {
	err := a.Service.Close()
	if err != nil {
		a.logger.ErrorKV("close failed", "error", err)
	}
	return err
}
