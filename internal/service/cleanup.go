// cleanup.go — удаление изображения: сначала строка каталога, затем пара blob-ов.
// Ошибки удаления blob-ов не возвращаются вызывающему: оставшиеся файлы
// без записи в каталоге подберёт SweepService.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/media-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/media-module/internal/storage/wal"
)

// CleanupService — сервис удаления изображений.
type CleanupService struct {
	repo    repository.AssetRepository
	store   *filestore.FileStore
	journal *wal.WAL
	logger  *slog.Logger
}

// NewCleanupService создаёт сервис удаления.
func NewCleanupService(
	repo repository.AssetRepository,
	store *filestore.FileStore,
	journal *wal.WAL,
	logger *slog.Logger,
) *CleanupService {
	return &CleanupService{
		repo:    repo,
		store:   store,
		journal: journal,
		logger:  logger.With(slog.String("component", "cleanup_service")),
	}
}

// Delete удаляет изображение. Повторное удаление — ErrNotFound.
func (s *CleanupService) Delete(ctx context.Context, caller rbac.Caller, id string) error {
	asset, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !caller.CanDelete(asset.OwnerID) {
		return fmt.Errorf("%w: удалять изображение может владелец или администратор", ErrForbidden)
	}

	// Журнал страхует от падения между удалением строки и файлов.
	// Без журнала удаление продолжается: сироты подберёт сборщик.
	var txID string
	entry, err := s.journal.StartTransaction(wal.OpAssetDelete, wal.BlobPair{
		Filename:      asset.Filename,
		OriginalPath:  asset.OriginalPath,
		ThumbnailPath: asset.ThumbnailPath,
	}, caller.UserID)
	if err != nil {
		s.logger.Warn("Не удалось создать WAL-запись удаления",
			slog.String("asset_id", id),
			slog.String("error", err.Error()),
		)
	} else {
		txID = entry.TransactionID
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		s.finish(txID, false)
		if errors.Is(err, repository.ErrNotFound) {
			// Параллельное удаление успело раньше
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	assetDeletionsTotal.Inc()

	if err := s.store.DeletePair(deleted.OriginalPath, deleted.ThumbnailPath); err != nil {
		blobCleanupFailuresTotal.Inc()
		s.logger.Warn("Не удалось удалить файлы изображения, их подберёт сборщик сирот",
			slog.String("asset_id", id),
			slog.String("original_path", deleted.OriginalPath),
			slog.String("thumbnail_path", deleted.ThumbnailPath),
			slog.String("error", err.Error()),
		)
	}
	s.finish(txID, true)

	s.logger.Info("Изображение удалено",
		slog.String("asset_id", id),
		slog.String("user_id", caller.UserID),
	)
	return nil
}

func (s *CleanupService) finish(txID string, committed bool) {
	if txID == "" {
		return
	}
	var err error
	if committed {
		err = s.journal.Commit(txID)
	} else {
		err = s.journal.Rollback(txID)
	}
	if err != nil {
		s.logger.Error("Ошибка закрытия WAL-транзакции удаления",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}
