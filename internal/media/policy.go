// Пакет media — приём и обработка изображений: политика допуска файлов,
// декодирование и построение миниатюр, извлечение EXIF.
package media

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Ошибки политики приёма.
var (
	ErrUnsupportedType = errors.New("недопустимый тип файла")
	ErrTooLarge        = errors.New("файл превышает допустимый размер")
	ErrEmpty           = errors.New("пустой файл")
	ErrBatchLimit      = errors.New("превышено количество файлов в запросе")
)

// allowedTypes — допустимые MIME-типы и расширения для каждого из них.
var allowedTypes = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
	"image/gif":  {".gif"},
	"image/webp": {".webp"},
}

// typeAliases — нестандартные MIME-типы, которые присылают браузеры.
var typeAliases = map[string]string{
	"image/jpg":   "image/jpeg",
	"image/pjpeg": "image/jpeg",
	"image/x-png": "image/png",
}

// Policy — ограничения на входящие файлы.
type Policy struct {
	// MaxFileSize — потолок размера одного файла в байтах
	MaxFileSize int64
	// MaxBatchSize — максимальное количество файлов в запросе
	MaxBatchSize int
}

// CheckBatchPosition отклоняет элементы за пределами лимита пакета.
// Элементы до лимита обрабатываются как обычно.
func (p Policy) CheckBatchPosition(index int) error {
	if p.MaxBatchSize > 0 && index >= p.MaxBatchSize {
		return fmt.Errorf("%w: допускается не более %d", ErrBatchLimit, p.MaxBatchSize)
	}
	return nil
}

// CheckSize проверяет размер файла.
func (p Policy) CheckSize(size int64) error {
	if size <= 0 {
		return ErrEmpty
	}
	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		return fmt.Errorf("%w: %d байт при лимите %d", ErrTooLarge, size, p.MaxFileSize)
	}
	return nil
}

// CheckType проверяет объявленный тип и расширение файла.
// head — первые байты содержимого: используются, если клиент не указал
// конкретный тип (пусто или application/octet-stream).
// Возвращает нормализованный MIME-тип.
func (p Policy) CheckType(filename, declaredType string, head []byte) (string, error) {
	contentType := NormalizeType(declaredType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = NormalizeType(mimetype.Detect(head).String())
	}

	exts, ok := allowedTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range exts {
		if ext == allowed {
			return contentType, nil
		}
	}
	return "", fmt.Errorf("%w: расширение %q не соответствует типу %s", ErrUnsupportedType, ext, contentType)
}

// Validate — полная проверка одного файла: размер, затем тип.
func (p Policy) Validate(filename, declaredType string, size int64, head []byte) (string, error) {
	if err := p.CheckSize(size); err != nil {
		return "", err
	}
	return p.CheckType(filename, declaredType, head)
}

// NormalizeType приводит MIME-тип к каноническому виду без параметров.
func NormalizeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if alias, ok := typeAliases[mediaType]; ok {
		return alias
	}
	return mediaType
}

// AllowedExtension сообщает, допустимо ли расширение для какого-либо типа.
func AllowedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, exts := range allowedTypes {
		for _, e := range exts {
			if e == ext {
				return true
			}
		}
	}
	return false
}
