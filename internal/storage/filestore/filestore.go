// Пакет filestore — blob-хранилище изображений на файловой системе.
// Оригиналы лежат в корне dataDir, миниатюры — в dataDir/thumbnails.
// Каждый blob пишется атомарно (temp → fsync → rename); пара
// оригинал+миниатюра пишется целиком или не остаётся вовсе.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ThumbnailsDir — подкаталог миниатюр относительно dataDir.
const ThumbnailsDir = "thumbnails"

// tmpSuffix — суффикс незавершённой записи.
const tmpSuffix = ".tmp"

// ErrNotFound — blob отсутствует на диске.
var ErrNotFound = errors.New("blob не найден")

// FileStore — управление blob-ами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (MM_DATA_DIR)
	dataDir string
}

// PairResult — результат записи пары blob-ов.
type PairResult struct {
	// Filename — имя оригинала
	Filename string
	// OriginalPath, ThumbnailPath — пути относительно dataDir
	OriginalPath  string
	ThumbnailPath string
	// OriginalSize, ThumbnailSize — размеры записанных файлов
	OriginalSize  int64
	ThumbnailSize int64
}

// BlobInfo — сведения о файле оригинала для сверки.
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// New создаёт FileStore и директории dataDir и dataDir/thumbnails.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, ThumbnailsDir), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// NewName генерирует имя оригинала: UUID v4 + расширение.
// Имя не зависит от пользовательского ввода, кроме расширения,
// и не требует блокировок для уникальности.
func NewName(ext string) string {
	return uuid.New().String() + strings.ToLower(ext)
}

// ThumbnailName — имя миниатюры для оригинала filename.
// Основа имени общая, расширение — формата миниатюры.
func ThumbnailName(filename, thumbExt string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return base + strings.ToLower(thumbExt)
}

// OriginalPath — относительный путь оригинала.
func OriginalPath(filename string) string {
	return filename
}

// ThumbnailPath — относительный путь миниатюры.
func ThumbnailPath(thumbName string) string {
	return ThumbnailsDir + "/" + thumbName
}

// SavePair записывает оригинал и миниатюру. При любой ошибке, включая
// отмену ctx между записями, уже записанный blob удаляется.
func (fs *FileStore) SavePair(
	ctx context.Context,
	filename string,
	original io.Reader,
	thumbName string,
	thumbnail io.Reader,
) (*PairResult, error) {
	origPath := OriginalPath(filename)
	thumbPath := ThumbnailPath(thumbName)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("запись отменена: %w", err)
	}

	origSize, err := fs.writeBlob(origPath, original)
	if err != nil {
		return nil, fmt.Errorf("запись оригинала: %w", err)
	}

	if err := ctx.Err(); err != nil {
		fs.rollback(origPath)
		return nil, fmt.Errorf("запись отменена после оригинала: %w", err)
	}

	thumbSize, err := fs.writeBlob(thumbPath, thumbnail)
	if err != nil {
		fs.rollback(origPath)
		return nil, fmt.Errorf("запись миниатюры: %w", err)
	}

	return &PairResult{
		Filename:      filename,
		OriginalPath:  origPath,
		ThumbnailPath: thumbPath,
		OriginalSize:  origSize,
		ThumbnailSize: thumbSize,
	}, nil
}

// rollback удаляет blob частично записанной пары. Ошибку удаления
// подхватит сборщик сирот, вызывающему возвращается исходная ошибка.
func (fs *FileStore) rollback(relPath string) {
	_ = fs.Delete(relPath)
}

// writeBlob: temp файл → io.Copy → fsync → atomic rename.
func (fs *FileStore) writeBlob(relPath string, r io.Reader) (int64, error) {
	fullPath, err := fs.resolve(relPath)
	if err != nil {
		return 0, err
	}
	tmpPath := fullPath + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return size, nil
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть файл.
// Открытый дескриптор остаётся читаемым при одновременном удалении.
func (fs *FileStore) Open(relPath string) (*os.File, error) {
	fullPath, err := fs.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, relPath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", relPath, err)
	}
	return f, nil
}

// Delete удаляет blob. Отсутствующий файл ошибкой не считается.
func (fs *FileStore) Delete(relPath string) error {
	fullPath, err := fs.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", relPath, err)
	}
	return nil
}

// DeletePair удаляет оба blob-а пары. Пытается удалить оба даже
// при ошибке на первом; ошибки объединяются.
func (fs *FileStore) DeletePair(originalPath, thumbnailPath string) error {
	return errors.Join(fs.Delete(originalPath), fs.Delete(thumbnailPath))
}

// Exists проверяет существование blob-а.
func (fs *FileStore) Exists(relPath string) bool {
	fullPath, err := fs.resolve(relPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// ListOriginals возвращает файлы оригиналов (без директорий и temp-файлов).
func (fs *FileStore) ListOriginals() ([]BlobInfo, error) {
	return fs.list(fs.dataDir)
}

// ListThumbnails возвращает файлы миниатюр.
func (fs *FileStore) ListThumbnails() ([]BlobInfo, error) {
	return fs.list(filepath.Join(fs.dataDir, ThumbnailsDir))
}

func (fs *FileStore) list(dir string) ([]BlobInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", dir, err)
	}

	blobs := make([]BlobInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// удалён между ReadDir и Info
			continue
		}
		blobs = append(blobs, BlobInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()})
	}
	return blobs, nil
}

// CleanTemp удаляет temp-файлы старше olderThan, оставшиеся после падений.
func (fs *FileStore) CleanTemp(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, dir := range []string{fs.dataDir, filepath.Join(fs.dataDir, ThumbnailsDir)} {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+tmpSuffix))
		if err != nil {
			return removed, fmt.Errorf("ошибка поиска временных файлов: %w", err)
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// FullPath возвращает абсолютный путь к blob-у.
func (fs *FileStore) FullPath(relPath string) string {
	return filepath.Join(fs.dataDir, relPath)
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// resolve переводит относительный путь в абсолютный и запрещает выход за dataDir.
func (fs *FileStore) resolve(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if relPath == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("недопустимый путь blob-а: %q", relPath)
	}
	return filepath.Join(fs.dataDir, clean), nil
}
