// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"

	apierrors "github.com/bigkaa/goartstore/media-module/internal/api/errors"
)

var (
	// ErrValidation — файл или запрос отклонены политикой приёма.
	ErrValidation = errors.New("ошибка валидации")
	// ErrProcessing — изображение не удалось декодировать или обработать.
	ErrProcessing = errors.New("ошибка обработки изображения")
	// ErrStorage — не удалось записать blob-ы.
	ErrStorage = errors.New("ошибка хранилища")
	// ErrPersistence — не удалось записать строку каталога.
	ErrPersistence = errors.New("ошибка записи в каталог")
	// ErrForbidden — у вызывающего нет прав на операцию.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrNotFound — изображение не найдено.
	ErrNotFound = errors.New("изображение не найдено")
)

// ErrorCode возвращает код API для ошибки сервисного слоя.
// Ошибки вне таксономии — INTERNAL_ERROR.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return apierrors.CodeValidationError
	case errors.Is(err, ErrProcessing):
		return apierrors.CodeProcessingError
	case errors.Is(err, ErrStorage):
		return apierrors.CodeStorageError
	case errors.Is(err, ErrPersistence):
		return apierrors.CodePersistenceError
	case errors.Is(err, ErrForbidden):
		return apierrors.CodeForbidden
	case errors.Is(err, ErrNotFound):
		return apierrors.CodeNotFound
	default:
		return apierrors.CodeInternalError
	}
}
