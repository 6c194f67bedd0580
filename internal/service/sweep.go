// sweep.go — фоновый сборщик сирот хранилища.
//
// Сирота — blob без строки в каталоге: остаётся, если компенсирующее
// удаление при загрузке или удаление файлов после DELETE не удалось.
// Каждый запуск:
//  1. Закрывает pending-транзакции журнала старше grace period по состоянию
//     каталога (в том числе загрузки, компенсация которых не удалась)
//  2. Удаляет пары, оригинал которых старше grace period и не имеет записи
//     в каталоге (незакрытые транзакции журнала пропускаются)
//  3. Удаляет миниатюры, для которых нет оригинала с той же основой имени
//  4. Удаляет брошенные временные файлы записи
//  5. Удаляет закрытые записи журнала
//
// Запускается горутиной с тикером (MM_RECONCILE_INTERVAL) и командой reconcile.
package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/media-module/internal/storage/wal"
)

// SweepResult — итог одного запуска.
type SweepResult struct {
	// Checked — проверено оригиналов старше grace period
	Checked int
	// OrphansDeleted — удалено пар (или одиночных миниатюр) без записи
	OrphansDeleted int
	// TempRemoved — удалено временных файлов
	TempRemoved int
	// JournalResolved — закрыто зависших транзакций журнала
	JournalResolved int
	// JournalCleaned — удалено закрытых записей журнала
	JournalCleaned int
	Errors         int
	Duration       time.Duration
}

// SweepService — сборщик сирот.
type SweepService struct {
	repo     repository.AssetRepository
	store    *filestore.FileStore
	journal  *wal.WAL
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // один запуск за раз
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweepService создаёт сборщик.
func NewSweepService(
	repo repository.AssetRepository,
	store *filestore.FileStore,
	journal *wal.WAL,
	interval time.Duration,
	grace time.Duration,
	logger *slog.Logger,
) *SweepService {
	return &SweepService{
		repo:     repo,
		store:    store,
		journal:  journal,
		interval: interval,
		grace:    grace,
		logger:   logger.With(slog.String("component", "sweep")),
	}
}

// Start запускает периодические проходы.
func (s *SweepService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Сборщик сирот запущен",
		slog.String("interval", s.interval.String()),
		slog.String("grace_period", s.grace.String()),
	)
}

// Stop останавливает проходы и ждёт завершения текущего.
func (s *SweepService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Сборщик сирот остановлен")
}

func (s *SweepService) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход.
func (s *SweepService) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}
	cutoff := start.Add(-s.grace)

	s.resolveStaleJournal(ctx, cutoff, result)

	pending, err := s.journal.PendingFilenames()
	if err != nil {
		// Без списка незавершённых загрузок удалять файлы небезопасно
		s.logger.Error("Сборщик: ошибка чтения WAL, проход пропущен", slog.String("error", err.Error()))
		result.Errors++
		return s.finish(result, start)
	}

	originalBases := s.sweepOriginals(ctx, pending, cutoff, result)
	s.sweepThumbnails(originalBases, pending, cutoff, result)

	if removed, err := s.store.CleanTemp(s.grace); err != nil {
		s.logger.Warn("Сборщик: ошибка очистки временных файлов", slog.String("error", err.Error()))
		result.Errors++
	} else {
		result.TempRemoved = removed
	}

	if cleaned, err := s.journal.CleanCommitted(); err != nil {
		s.logger.Warn("Сборщик: ошибка очистки WAL", slog.String("error", err.Error()))
		result.Errors++
	} else {
		result.JournalCleaned = cleaned
	}

	return s.finish(result, start)
}

// sweepOriginals удаляет пары без записи в каталоге.
// Возвращает основы имён оригиналов, оставшихся на диске.
func (s *SweepService) sweepOriginals(ctx context.Context, pending map[string]bool, cutoff time.Time, result *SweepResult) map[string]bool {
	originals, err := s.store.ListOriginals()
	if err != nil {
		s.logger.Error("Сборщик: ошибка чтения оригиналов", slog.String("error", err.Error()))
		result.Errors++
		return nil
	}
	thumbs, err := s.store.ListThumbnails()
	if err != nil {
		s.logger.Error("Сборщик: ошибка чтения миниатюр", slog.String("error", err.Error()))
		result.Errors++
		return nil
	}
	thumbsByBase := make(map[string][]string, len(thumbs))
	for _, t := range thumbs {
		thumbsByBase[baseName(t.Name)] = append(thumbsByBase[baseName(t.Name)], t.Name)
	}

	remaining := make(map[string]bool, len(originals))
	for _, blob := range originals {
		remaining[baseName(blob.Name)] = true

		if ctx.Err() != nil {
			continue
		}
		if pending[blob.Name] || blob.ModTime.After(cutoff) {
			continue
		}
		result.Checked++

		_, err := s.repo.GetByFilename(ctx, blob.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Сборщик: ошибка проверки каталога",
				slog.String("filename", blob.Name),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		if err := s.store.Delete(filestore.OriginalPath(blob.Name)); err != nil {
			s.logger.Warn("Сборщик: ошибка удаления оригинала",
				slog.String("filename", blob.Name),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		delete(remaining, baseName(blob.Name))
		for _, thumb := range thumbsByBase[baseName(blob.Name)] {
			if err := s.store.Delete(filestore.ThumbnailPath(thumb)); err != nil {
				result.Errors++
			}
		}
		result.OrphansDeleted++
		s.logger.Info("Сборщик: удалена пара без записи в каталоге", slog.String("filename", blob.Name))
	}
	return remaining
}

// sweepThumbnails удаляет миниатюры, чей оригинал уже удалён.
func (s *SweepService) sweepThumbnails(originalBases, pending map[string]bool, cutoff time.Time, result *SweepResult) {
	if originalBases == nil {
		return
	}
	pendingBases := make(map[string]bool, len(pending))
	for name := range pending {
		pendingBases[baseName(name)] = true
	}

	thumbs, err := s.store.ListThumbnails()
	if err != nil {
		result.Errors++
		return
	}
	for _, t := range thumbs {
		base := baseName(t.Name)
		if originalBases[base] || pendingBases[base] || t.ModTime.After(cutoff) {
			continue
		}
		if err := s.store.Delete(filestore.ThumbnailPath(t.Name)); err != nil {
			result.Errors++
			continue
		}
		result.OrphansDeleted++
		s.logger.Info("Сборщик: удалена миниатюра без оригинала", slog.String("thumbnail", t.Name))
	}
}

// resolveStaleJournal закрывает pending-транзакции старше cutoff по
// состоянию каталога: загрузка без строки — удаление пары и rollback.
func (s *SweepService) resolveStaleJournal(ctx context.Context, cutoff time.Time, result *SweepResult) {
	stale, err := s.journal.PendingStartedBefore(cutoff)
	if err != nil {
		s.logger.Warn("Сборщик: ошибка чтения WAL", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	if len(stale) == 0 {
		return
	}
	rec := recoverEntries(ctx, stale, s.repo, s.store, s.journal, s.logger)
	result.JournalResolved = rec.Committed + rec.RolledBack
	result.Errors += rec.Skipped
}

func (s *SweepService) finish(result *SweepResult, start time.Time) *SweepResult {
	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepOrphansDeletedTotal.Add(float64(result.OrphansDeleted))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Сборщик сирот завершён",
		slog.Int("checked", result.Checked),
		slog.Int("orphans_deleted", result.OrphansDeleted),
		slog.Int("temp_removed", result.TempRemoved),
		slog.Int("journal_resolved", result.JournalResolved),
		slog.Int("journal_cleaned", result.JournalCleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}

func baseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
