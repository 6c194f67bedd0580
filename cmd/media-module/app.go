package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/media-module/internal/config"
	"github.com/bigkaa/goartstore/media-module/internal/database"
	"github.com/bigkaa/goartstore/media-module/internal/media"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/service"
	"github.com/bigkaa/goartstore/media-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/media-module/internal/storage/wal"
)

// core — компоненты, общие для serve и reconcile: каталог, хранилище,
// журнал загрузок и сервис приёма (он же разбирает журнал при старте).
type core struct {
	pool    *pgxpool.Pool
	store   *filestore.FileStore
	journal *wal.WAL
	repo    repository.AssetRepository
	ingest  *service.IngestService
}

// openCore подключается к PostgreSQL и открывает хранилище blob-ов и WAL.
func openCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Хранилище изображений готово", slog.String("data_dir", cfg.DataDir))

	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	repo := repository.NewAssetRepository(pool)
	policy := media.Policy{
		MaxFileSize:  cfg.MaxFileSize,
		MaxBatchSize: cfg.MaxBatchSize,
	}
	ingest := service.NewIngestService(
		repo, store, journal,
		policy,
		media.NewTransformer(cfg.ThumbnailMaxWidth, cfg.ThumbnailMaxHeight, cfg.MaxPixels),
		media.NewExtractor(logger),
		cfg.UploadWorkers,
		logger,
	)

	return &core{
		pool:    pool,
		store:   store,
		journal: journal,
		repo:    repo,
		ingest:  ingest,
	}, nil
}

// recoverJournal закрывает транзакции, прерванные предыдущим запуском.
func (c *core) recoverJournal(ctx context.Context, logger *slog.Logger) error {
	result, err := c.ingest.RecoverJournal(ctx)
	if err != nil {
		return err
	}
	logger.Info("Журнал загрузок разобран",
		slog.Int("committed", result.Committed),
		slog.Int("rolled_back", result.RolledBack),
		slog.Int("skipped", result.Skipped),
	)
	return nil
}

func (c *core) close() {
	c.pool.Close()
}
