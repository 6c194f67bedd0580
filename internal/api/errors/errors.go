// Пакет errors — ошибки HTTP API в едином формате:
// {"error": {"code": "...", "message": "..."}}.
package errors //nolint:revive // имя совпадает со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeProcessingError  = "PROCESSING_ERROR"
	CodeStorageError     = "STORAGE_ERROR"
	CodePersistenceError = "PERSISTENCE_ERROR"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// statusByCode — HTTP-статус для кода ошибки.
var statusByCode = map[string]int{
	CodeValidationError:  http.StatusBadRequest,
	CodeProcessingError:  http.StatusUnprocessableEntity,
	CodeStorageError:     http.StatusInternalServerError,
	CodePersistenceError: http.StatusInternalServerError,
	CodeForbidden:        http.StatusForbidden,
	CodeNotFound:         http.StatusNotFound,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeFileTooLarge:     http.StatusRequestEntityTooLarge,
	CodeInternalError:    http.StatusInternalServerError,
	CodeMethodNotAllowed: http.StatusMethodNotAllowed,
}

// Detail — тело ошибки; используется и в результатах элементов пакетной загрузки.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error Detail `json:"error"`
}

// StatusFor возвращает HTTP-статус для кода; неизвестный код — 500.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError записывает ответ ошибки.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: Detail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteCode записывает ошибку со статусом, соответствующим коду.
func WriteCode(w http.ResponseWriter, code, message string) {
	WriteError(w, StatusFor(code), code, message)
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// FileTooLarge — 413 тело запроса превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// RateLimited — 429 превышена частота запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
