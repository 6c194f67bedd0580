// handler.go — общие функции HTTP-обработчиков Media Module.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/media-module/internal/api/errors"
	"github.com/bigkaa/goartstore/media-module/internal/service"
)

// imageIDParam — имя path-параметра идентификатора изображения.
const imageIDParam = "image_id"

// Authenticator — middleware аутентификации (middleware.JWTAuth).
type Authenticator interface {
	// Required — маршрут требует токен
	Required() func(http.Handler) http.Handler
	// Optional — анонимный доступ допустим
	Optional() func(http.Handler) http.Handler
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// bindImageID извлекает и валидирует image_id из пути.
// Некорректный UUID — 404: такого изображения не может существовать.
func bindImageID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", imageIDParam, chi.URLParam(r, imageIDParam), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.NotFound(w, "Изображение не найдено")
		return "", false
	}
	return id.String(), true
}

// writeServiceError переводит ошибку сервисного слоя в ответ API.
// Серверные ошибки логируются, клиенту уходит обобщённое сообщение.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, op string) {
	code := service.ErrorCode(err)
	status := apierrors.StatusFor(code)
	if status >= http.StatusInternalServerError {
		logger.Error("Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		apierrors.WriteError(w, status, code, publicMessage(code))
		return
	}
	apierrors.WriteError(w, status, code, err.Error())
}

// publicMessage — сообщение для клиента по коду серверной ошибки.
func publicMessage(code string) string {
	switch code {
	case apierrors.CodeStorageError:
		return "Ошибка хранилища изображений"
	case apierrors.CodePersistenceError:
		return "Ошибка записи в каталог изображений"
	default:
		return "Внутренняя ошибка сервера"
	}
}
