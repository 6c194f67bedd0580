package wal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WAL — файловый журнал транзакций над парами blob-ов.
// Записи независимы (файл на транзакцию), мьютекс защищает только
// чтение-изменение-запись одной записи и сканирование директории.
type WAL struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал. Создаёт директорию и проверяет её доступность на запись.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	_ = os.Remove(testFile)

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// StartTransaction создаёт запись pending для пары blob-ов.
func (w *WAL) StartTransaction(op OperationType, blobs BlobPair, ownerID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		Blobs:         blobs,
		OwnerID:       ownerID,
		StartedAt:     time.Now().UTC(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать WAL-запись: %w", err)
	}

	w.logger.Debug("WAL транзакция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("filename", blobs.Filename),
	)
	return entry, nil
}

// Commit закрывает транзакцию как успешную.
func (w *WAL) Commit(txID string) error {
	return w.finish(txID, StatusCommitted)
}

// Rollback закрывает транзакцию как отменённую.
func (w *WAL) Rollback(txID string) error {
	return w.finish(txID, StatusRolledBack)
}

func (w *WAL) finish(txID string, status TransactionStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать WAL-запись %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("WAL-запись %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить WAL-запись %s: %w", txID, err)
	}

	w.logger.Debug("WAL транзакция закрыта",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.String("filename", entry.Blobs.Filename),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)
	return nil
}

// RecoverPending возвращает все записи pending. Вызывается при старте.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	var pending []*Entry
	err := w.scan(func(path string, entry *Entry) {
		if entry.Status != StatusPending {
			return
		}
		pending = append(pending, entry)
		w.logger.Warn("Обнаружена незавершённая WAL-транзакция",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("filename", entry.Blobs.Filename),
			slog.Time("started_at", entry.StartedAt),
		)
	})
	return pending, err
}

// PendingFilenames — имена файлов с незакрытыми транзакциями.
// Используется сборщиком сирот, чтобы не трогать загрузки в процессе.
func (w *WAL) PendingFilenames() (map[string]bool, error) {
	names := make(map[string]bool)
	err := w.scan(func(_ string, entry *Entry) {
		if entry.Status == StatusPending {
			names[entry.Blobs.Filename] = true
		}
	})
	return names, err
}

// PendingStartedBefore — записи pending, начатые не позже cutoff.
// Сборщик сирот закрывает их так же, как восстановление при старте.
func (w *WAL) PendingStartedBefore(cutoff time.Time) ([]*Entry, error) {
	var stale []*Entry
	err := w.scan(func(_ string, entry *Entry) {
		if entry.Status == StatusPending && !entry.StartedAt.After(cutoff) {
			stale = append(stale, entry)
		}
	})
	return stale, err
}

// GetTransaction читает запись по идентификатору.
func (w *WAL) GetTransaction(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readEntry(txID)
}

// CleanCommitted удаляет закрытые (committed/rolled_back) записи.
func (w *WAL) CleanCommitted() (int, error) {
	cleaned := 0
	err := w.scan(func(path string, entry *Entry) {
		if entry.Status == StatusPending {
			return
		}
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Не удалось удалить завершённую WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		cleaned++
	})
	if cleaned > 0 {
		w.logger.Info("Очистка WAL завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, err
}

// Dir возвращает путь к директории журнала.
func (w *WAL) Dir() string {
	return w.dir
}

// scan обходит все записи под мьютексом. Нечитаемые записи пропускаются.
func (w *WAL) scan(fn func(path string, entry *Entry)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wal.json"))
	if err != nil {
		return fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil {
			w.logger.Warn("Не удалось прочитать WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		fn(path, entry)
	}
	return nil
}

// writeEntry атомарно записывает запись: temp файл → fsync → rename.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(w.dir, walFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

func (w *WAL) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, walFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}
