// ingest.go — пакетная загрузка изображений.
//
// Каждый элемент пакета проходит конвейер независимо от остальных:
//
//	валидация → декодирование и миниатюра → EXIF → журнал → пара blob-ов → каталог
//
// Элементы обрабатываются пулом фиксированного размера (errgroup.SetLimit).
// Ошибка элемента фиксируется только в его результате.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/media-module/internal/domain/upload"
	"github.com/bigkaa/goartstore/media-module/internal/media"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/media-module/internal/storage/wal"
)

// ItemResult — итог обработки одного элемента, в порядке подачи.
type ItemResult struct {
	Index    int
	Filename string
	Status   upload.Status
	AssetID  string
	Err      error
}

// IngestService — сервис пакетной загрузки.
type IngestService struct {
	repo        repository.AssetRepository
	store       *filestore.FileStore
	journal     *wal.WAL
	policy      media.Policy
	transformer *media.Transformer
	extractor   *media.Extractor
	workers     int
	logger      *slog.Logger
}

// NewIngestService создаёт сервис загрузки.
// workers <= 0 — по числу CPU.
func NewIngestService(
	repo repository.AssetRepository,
	store *filestore.FileStore,
	journal *wal.WAL,
	policy media.Policy,
	transformer *media.Transformer,
	extractor *media.Extractor,
	workers int,
	logger *slog.Logger,
) *IngestService {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &IngestService{
		repo:        repo,
		store:       store,
		journal:     journal,
		policy:      policy,
		transformer: transformer,
		extractor:   extractor,
		workers:     workers,
		logger:      logger.With(slog.String("component", "ingest_service")),
	}
}

// UploadBatch обрабатывает элементы пакета и возвращает результат на каждый.
// Ошибка возвращается только если пакет отклонён целиком (нет прав).
func (s *IngestService) UploadBatch(ctx context.Context, caller rbac.Caller, items []*upload.Item) ([]ItemResult, error) {
	if !caller.CanUpload() {
		return nil, fmt.Errorf("%w: загрузка доступна ролям editor и admin", ErrForbidden)
	}

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, it := range items {
		if err := s.policy.CheckBatchPosition(it.Index); err != nil {
			s.fail(it, fmt.Errorf("%w: %v", ErrValidation, err))
			continue
		}
		g.Go(func() error {
			s.processItem(ctx, caller, it)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]ItemResult, len(items))
	for i, it := range items {
		status, assetID, err := it.Outcome()
		results[i] = ItemResult{
			Index:    it.Index,
			Filename: it.Filename,
			Status:   status,
			AssetID:  assetID,
			Err:      err,
		}
	}

	s.logger.Info("Пакет загрузки обработан",
		slog.String("owner_id", caller.UserID),
		slog.Int("items", len(items)),
		slog.Int("completed", countCompleted(results)),
	)
	return results, nil
}

// processItem проводит элемент через конвейер и фиксирует итог.
func (s *IngestService) processItem(ctx context.Context, caller rbac.Caller, it *upload.Item) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		s.fail(it, fmt.Errorf("%w: загрузка отменена до начала обработки: %v", ErrStorage, err))
		return
	}
	if err := it.Start(); err != nil {
		s.logger.Error("Ошибка перехода элемента загрузки", slog.String("error", err.Error()))
		return
	}

	assetID, err := s.ingest(ctx, caller, it)
	uploadItemDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.fail(it, err)
		return
	}

	if err := it.Complete(assetID); err != nil {
		s.logger.Error("Ошибка перехода элемента загрузки", slog.String("error", err.Error()))
		return
	}
	uploadItemsTotal.WithLabelValues(string(upload.StatusCompleted), "").Inc()
	s.logger.Info("Изображение загружено",
		slog.Int("index", it.Index),
		slog.String("asset_id", assetID),
		slog.String("owner_id", caller.UserID),
	)
}

func (s *IngestService) fail(it *upload.Item, cause error) {
	if err := it.Fail(cause); err != nil {
		s.logger.Error("Ошибка перехода элемента загрузки", slog.String("error", err.Error()))
		return
	}
	code := ErrorCode(cause)
	uploadItemsTotal.WithLabelValues(string(upload.StatusError), code).Inc()
	s.logger.Warn("Элемент загрузки отклонён",
		slog.Int("index", it.Index),
		slog.String("filename", it.Filename),
		slog.String("code", code),
		slog.String("error", cause.Error()),
	)
}

// ingest — конвейер одного элемента. Возвращает id записи каталога.
func (s *IngestService) ingest(ctx context.Context, caller rbac.Caller, it *upload.Item) (string, error) {
	// 1. Размер по заголовку части — до чтения содержимого
	if it.Size > 0 {
		if err := s.policy.CheckSize(it.Size); err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	data, err := s.readItem(it)
	if err != nil {
		return "", err
	}

	// 2. Политика приёма по фактическому размеру и типу
	if _, err := s.policy.Validate(it.Filename, it.DeclaredType, int64(len(data)), data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	privacy, albumID, err := validateMeta(it.Meta)
	if err != nil {
		return "", err
	}

	// 3. Декодирование и миниатюра
	res, err := s.transformer.Transform(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessing, err)
	}

	// 4. EXIF — без ошибок, в худшем случае «отсутствуют»
	captured := s.extractor.Extract(it.Filename, data)

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: загрузка отменена: %v", ErrStorage, err)
	}

	// 5. Журнал и пара blob-ов
	ext := res.OriginalExt(media.ExtOf(it.Filename))
	filename := filestore.NewName(ext)
	thumbName := filestore.ThumbnailName(filename, res.ThumbnailExt(ext))
	pair := wal.BlobPair{
		Filename:      filename,
		OriginalPath:  filestore.OriginalPath(filename),
		ThumbnailPath: filestore.ThumbnailPath(thumbName),
	}

	entry, err := s.journal.StartTransaction(wal.OpAssetIngest, pair, caller.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	saved, err := s.store.SavePair(ctx, filename, bytes.NewReader(data), thumbName, bytes.NewReader(res.Thumbnail))
	if err != nil {
		// SavePair уже удалил частично записанное
		s.rollbackJournal(entry.TransactionID)
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := ctx.Err(); err != nil {
		s.compensate(entry.TransactionID, pair, "cancelled")
		return "", fmt.Errorf("%w: загрузка отменена после записи файлов: %v", ErrStorage, err)
	}

	// 6. Запись в каталог
	asset := &model.Asset{
		Title:         defaultTitle(it.Meta.Title, it.Filename),
		Caption:       it.Meta.Caption,
		AltText:       it.Meta.AltText,
		License:       it.Meta.License,
		Filename:      saved.Filename,
		OriginalPath:  saved.OriginalPath,
		ThumbnailPath: saved.ThumbnailPath,
		MimeType:      res.MimeType,
		Width:         res.Width,
		Height:        res.Height,
		SizeBytes:     saved.OriginalSize,
		Captured:      captured,
		OwnerID:       caller.UserID,
		AlbumID:       albumID,
		Tags:          normalizeTags(it.Meta.Tags),
		Privacy:       privacy,
	}

	if err := s.repo.Create(ctx, asset); err != nil {
		return s.recoverCatalogFailure(ctx, entry.TransactionID, pair, err)
	}

	if err := s.journal.Commit(entry.TransactionID); err != nil {
		// Запись и blob-ы на месте; незакрытую транзакцию закроет восстановление
		s.logger.Error("Ошибка фиксации WAL",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}
	return asset.ID, nil
}

// readItem читает содержимое элемента не более MaxFileSize+1 байт.
func (s *IngestService) readItem(it *upload.Item) ([]byte, error) {
	rc, err := it.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: не удалось прочитать файл: %v", ErrValidation, err)
	}
	defer rc.Close()

	limit := s.policy.MaxFileSize
	if limit <= 0 {
		limit = 1 << 62
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: не удалось прочитать файл: %v", ErrValidation, err)
	}
	return data, nil
}

// recoverCatalogFailure разбирает ошибку вставки в каталог.
// Строка могла быть записана, а ошибка — прийти после (обрыв соединения,
// отмена запроса), поэтому сначала проверяется фактическое состояние.
func (s *IngestService) recoverCatalogFailure(ctx context.Context, txID string, pair wal.BlobPair, cause error) (string, error) {
	bg := context.WithoutCancel(ctx)

	existing, err := s.repo.GetByFilename(bg, pair.Filename)
	switch {
	case err == nil:
		s.logger.Warn("Запись каталога создана несмотря на ошибку",
			slog.String("asset_id", existing.ID),
			slog.String("error", cause.Error()),
		)
		if err := s.journal.Commit(txID); err != nil {
			s.logger.Error("Ошибка фиксации WAL", slog.String("tx_id", txID), slog.String("error", err.Error()))
		}
		return existing.ID, nil

	case !errors.Is(err, repository.ErrNotFound):
		// Состояние каталога неизвестно: blob-ы остаются, транзакция —
		// pending, её разберёт восстановление журнала.
		s.logger.Error("Не удалось проверить запись каталога, компенсация отложена",
			slog.String("tx_id", txID),
			slog.String("filename", pair.Filename),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", ErrPersistence, cause)
	}

	s.compensate(txID, pair, "catalog_failure")

	if errors.Is(cause, repository.ErrInvalidReference) {
		return "", fmt.Errorf("%w: альбом не найден", ErrValidation)
	}
	return "", fmt.Errorf("%w: %v", ErrPersistence, cause)
}

// compensate удаляет пару blob-ов и откатывает транзакцию журнала.
// Если удаление не удалось, транзакция остаётся pending.
func (s *IngestService) compensate(txID string, pair wal.BlobPair, reason string) {
	compensationsTotal.WithLabelValues(reason).Inc()

	if err := s.store.DeletePair(pair.OriginalPath, pair.ThumbnailPath); err != nil {
		blobCleanupFailuresTotal.Inc()
		s.logger.Error("Ошибка компенсирующего удаления blob-ов",
			slog.String("tx_id", txID),
			slog.String("filename", pair.Filename),
			slog.String("error", err.Error()),
		)
		// Запись остаётся pending: её закроет сборщик после grace period
		return
	}
	s.rollbackJournal(txID)
}

func (s *IngestService) rollbackJournal(txID string) {
	if err := s.journal.Rollback(txID); err != nil {
		s.logger.Error("Ошибка отката WAL",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

// RecoverResult — итог разбора журнала при старте.
type RecoverResult struct {
	Committed  int
	RolledBack int
	Skipped    int
}

// RecoverJournal закрывает транзакции, оставшиеся pending после падения.
// Вызывается при старте до приёма запросов.
func (s *IngestService) RecoverJournal(ctx context.Context) (*RecoverResult, error) {
	entries, err := s.journal.RecoverPending()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения WAL: %w", err)
	}
	return recoverEntries(ctx, entries, s.repo, s.store, s.journal, s.logger), nil
}

// recoverEntries разбирает pending-записи журнала по состоянию каталога.
//
//	ingest: строка есть → commit; строки нет → удалить blob-ы, rollback
//	delete: строки нет → удалить blob-ы, commit; строка есть → rollback
func recoverEntries(
	ctx context.Context,
	entries []*wal.Entry,
	repo repository.AssetRepository,
	store *filestore.FileStore,
	journal *wal.WAL,
	logger *slog.Logger,
) *RecoverResult {
	result := &RecoverResult{}

	for _, e := range entries {
		_, err := repo.GetByFilename(ctx, e.Blobs.Filename)
		rowExists := err == nil
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			logger.Error("Восстановление WAL: не удалось проверить каталог",
				slog.String("tx_id", e.TransactionID),
				slog.String("error", err.Error()),
			)
			result.Skipped++
			continue
		}

		var finishErr error
		switch {
		case rowExists && e.Operation == wal.OpAssetIngest:
			finishErr = journal.Commit(e.TransactionID)
			result.Committed++
		case rowExists:
			finishErr = journal.Rollback(e.TransactionID)
			result.RolledBack++
		default:
			if err := store.DeletePair(e.Blobs.OriginalPath, e.Blobs.ThumbnailPath); err != nil {
				logger.Error("Восстановление WAL: не удалось удалить blob-ы",
					slog.String("tx_id", e.TransactionID),
					slog.String("error", err.Error()),
				)
				result.Skipped++
				continue
			}
			if e.Operation == wal.OpAssetIngest {
				finishErr = journal.Rollback(e.TransactionID)
				result.RolledBack++
			} else {
				finishErr = journal.Commit(e.TransactionID)
				result.Committed++
			}
		}
		if finishErr != nil {
			logger.Error("Восстановление WAL: ошибка закрытия транзакции",
				slog.String("tx_id", e.TransactionID),
				slog.String("error", finishErr.Error()),
			)
		}
	}

	logger.Info("Восстановление WAL завершено",
		slog.Int("committed", result.Committed),
		slog.Int("rolled_back", result.RolledBack),
		slog.Int("skipped", result.Skipped),
	)
	return result
}

// validateMeta проверяет privacy и album_id из метаданных элемента.
func validateMeta(meta upload.Meta) (model.Privacy, *string, error) {
	privacy, err := model.ParsePrivacy(meta.Privacy)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if meta.AlbumID == "" {
		return privacy, nil, nil
	}
	if _, err := uuid.Parse(meta.AlbumID); err != nil {
		return "", nil, fmt.Errorf("%w: некорректный album_id %q", ErrValidation, meta.AlbumID)
	}
	albumID := meta.AlbumID
	return privacy, &albumID, nil
}

// defaultTitle — название по умолчанию: имя файла без расширения.
func defaultTitle(title, filename string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// normalizeTags убирает пробелы, пустые теги и дубликаты.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func countCompleted(results []ItemResult) int {
	n := 0
	for _, r := range results {
		if r.Status == upload.StatusCompleted {
			n++
		}
	}
	return n
}
