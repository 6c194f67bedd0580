// images.go — HTTP-обработчики /api/v1/images.
// Пакетная загрузка, список, статистика, чтение, обновление, удаление
// и потоковая отдача оригиналов и миниатюр.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goartstore/media-module/internal/api/errors"
	"github.com/bigkaa/goartstore/media-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/domain/upload"
	"github.com/bigkaa/goartstore/media-module/internal/service"
)

const (
	// imagesField — имя multipart-части с файлами
	imagesField = "images"
	// multipartMemory — сколько формы держать в памяти, остальное во временных файлах
	multipartMemory = 32 << 20
	// maxPatchBody — предел тела PATCH
	maxPatchBody = 64 << 10
)

// ImagesHandler — обработчик endpoints изображений.
type ImagesHandler struct {
	ingest          *service.IngestService
	assets          *service.AssetService
	cleanup         *service.CleanupService
	maxRequestBytes int64
	logger          *slog.Logger
}

// NewImagesHandler создаёт обработчик.
// maxRequestBytes — предел тела запроса загрузки (config.MaxRequestBytes).
func NewImagesHandler(
	ingest *service.IngestService,
	assets *service.AssetService,
	cleanup *service.CleanupService,
	maxRequestBytes int64,
	logger *slog.Logger,
) *ImagesHandler {
	return &ImagesHandler{
		ingest:          ingest,
		assets:          assets,
		cleanup:         cleanup,
		maxRequestBytes: maxRequestBytes,
		logger:          logger.With(slog.String("component", "images_handler")),
	}
}

// Routes регистрирует маршруты /api/v1/images.
// limit ставится после аутентификации, чтобы ключом был sub вызывающего.
func (h *ImagesHandler) Routes(auth Authenticator, limit func(http.Handler) http.Handler) func(chi.Router) {
	return func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Optional(), limit)
			r.Get("/", h.ListImages)
			r.Get("/stats", h.GetStats)
			r.Get("/{image_id}", h.GetImage)
			r.Get("/{image_id}/original", h.GetOriginal)
			r.Get("/{image_id}/thumbnail", h.GetThumbnail)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.Required(), limit)
			r.Post("/", h.UploadImages)
			r.Patch("/{image_id}", h.UpdateImage)
			r.Delete("/{image_id}", h.DeleteImage)
		})
	}
}

// uploadItemResponse — результат одного файла пакета.
type uploadItemResponse struct {
	Index    int               `json:"index"`
	Filename string            `json:"filename"`
	Status   upload.Status     `json:"status"`
	AssetID  string            `json:"asset_id,omitempty"`
	Error    *apierrors.Detail `json:"error,omitempty"`
}

type uploadResponse struct {
	Items []uploadItemResponse `json:"items"`
}

// UploadImages обрабатывает POST /api/v1/images.
// Multipart form: images (один или несколько файлов), общие поля
// title, caption, alt_text, tags (через запятую), album_id, privacy, license
// и необязательный items — JSON-массив персональных полей по позиции файла.
// Ответ 201, если загружены все файлы, иначе 207 с результатом по каждому.
func (h *ImagesHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	if !caller.CanUpload() {
		apierrors.Forbidden(w, "Загрузка доступна ролям editor и admin")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Тело запроса превышает %d байт", maxErr.Limit))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File[imagesField]
	if len(files) == 0 {
		apierrors.ValidationError(w, "Поле 'images' обязательно")
		return
	}

	shared := upload.Meta{
		Title:   r.FormValue("title"),
		Caption: r.FormValue("caption"),
		AltText: r.FormValue("alt_text"),
		License: r.FormValue("license"),
		Privacy: r.FormValue("privacy"),
		AlbumID: r.FormValue("album_id"),
		Tags:    splitTags(r.FormValue("tags")),
	}
	overrides, err := parseOverrides(r.FormValue("items"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	items := make([]*upload.Item, len(files))
	for i, fh := range files {
		meta := shared
		if i < len(overrides) {
			meta = shared.Merge(overrides[i])
		}
		items[i] = upload.NewItem(i, fh.Filename, fh.Header.Get("Content-Type"), fh.Size, meta, openPart(fh))
	}

	results, err := h.ingest.UploadBatch(r.Context(), caller, items)
	if err != nil {
		writeServiceError(w, h.logger, err, "upload")
		return
	}

	resp := uploadResponse{Items: make([]uploadItemResponse, len(results))}
	status := http.StatusCreated
	for i, res := range results {
		item := uploadItemResponse{
			Index:    res.Index,
			Filename: res.Filename,
			Status:   res.Status,
			AssetID:  res.AssetID,
		}
		if res.Status != upload.StatusCompleted {
			status = http.StatusMultiStatus
			item.Error = itemError(res.Err)
		}
		resp.Items[i] = item
	}
	writeJSON(w, status, resp)
}

// ListImages обрабатывает GET /api/v1/images.
// Query: limit, offset, album_id, tag, owner_id, q, sort_by, sort_order.
func (h *ImagesHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var params service.ListParams
	var err error

	if params.Limit, err = queryInt(q.Get("limit")); err != nil || params.Limit < 0 {
		apierrors.ValidationError(w, "Параметр limit должен быть неотрицательным целым")
		return
	}
	if params.Offset, err = queryInt(q.Get("offset")); err != nil || params.Offset < 0 {
		apierrors.ValidationError(w, "Параметр offset должен быть неотрицательным целым")
		return
	}
	if v := q.Get("album_id"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный album_id: %s", v))
			return
		}
		params.AlbumID = &v
	}
	params.Tag = optionalQuery(q.Get("tag"))
	params.OwnerID = optionalQuery(q.Get("owner_id"))
	params.Search = optionalQuery(q.Get("q"))

	switch params.SortBy = q.Get("sort_by"); params.SortBy {
	case "", "uploaded_at", "title", "view_count", "size_bytes":
	default:
		apierrors.ValidationError(w, fmt.Sprintf("Недопустимое значение sort_by: %s", params.SortBy))
		return
	}
	switch params.SortOrder = strings.ToLower(q.Get("sort_order")); params.SortOrder {
	case "", "asc", "desc":
	default:
		apierrors.ValidationError(w, fmt.Sprintf("Недопустимое значение sort_order: %s", params.SortOrder))
		return
	}

	res, err := h.assets.List(r.Context(), params)
	if err != nil {
		writeServiceError(w, h.logger, err, "list")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetStats обрабатывает GET /api/v1/images/stats.
func (h *ImagesHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.assets.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetImage обрабатывает GET /api/v1/images/{image_id}.
// Каждое разрешённое чтение увеличивает view_count.
func (h *ImagesHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := bindImageID(w, r)
	if !ok {
		return
	}
	asset, err := h.assets.Get(r.Context(), middleware.CallerFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// UpdateImage обрабатывает PATCH /api/v1/images/{image_id}.
func (h *ImagesHandler) UpdateImage(w http.ResponseWriter, r *http.Request) {
	id, ok := bindImageID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPatchBody))
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения тела запроса: %s", err.Error()))
		return
	}
	patch, err := service.ParseAssetPatch(body)
	if err != nil {
		writeServiceError(w, h.logger, err, "update")
		return
	}

	asset, err := h.assets.Update(r.Context(), middleware.CallerFromContext(r.Context()), id, patch)
	if err != nil {
		writeServiceError(w, h.logger, err, "update")
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// DeleteImage обрабатывает DELETE /api/v1/images/{image_id}.
// Повторное удаление — 404.
func (h *ImagesHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := bindImageID(w, r)
	if !ok {
		return
	}
	if err := h.cleanup.Delete(r.Context(), middleware.CallerFromContext(r.Context()), id); err != nil {
		writeServiceError(w, h.logger, err, "delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetOriginal обрабатывает GET /api/v1/images/{image_id}/original.
func (h *ImagesHandler) GetOriginal(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, service.BlobOriginal)
}

// GetThumbnail обрабатывает GET /api/v1/images/{image_id}/thumbnail.
func (h *ImagesHandler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, service.BlobThumbnail)
}

// serveBlob отдаёт файл через http.ServeContent: Range, If-Modified-Since.
// Просмотры не учитываются.
func (h *ImagesHandler) serveBlob(w http.ResponseWriter, r *http.Request, kind service.BlobKind) {
	id, ok := bindImageID(w, r)
	if !ok {
		return
	}
	blob, err := h.assets.OpenBlob(r.Context(), middleware.CallerFromContext(r.Context()), id, kind)
	if err != nil {
		writeServiceError(w, h.logger, err, string(kind))
		return
	}
	defer blob.File.Close()

	if blob.ContentType != "" {
		w.Header().Set("Content-Type", blob.ContentType)
	}
	w.Header().Set("Cache-Control", cacheControl(blob.Asset.Privacy))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, blob.Name, blob.Asset.UpdatedAt, blob.File)
}

// --- Вспомогательные функции ---

// openPart откладывает открытие части формы до обработки элемента воркером.
func openPart(fh *multipart.FileHeader) upload.OpenFunc {
	return func() (io.ReadCloser, error) {
		return fh.Open()
	}
}

// parseOverrides разбирает JSON-массив персональных метаданных.
func parseOverrides(raw string) ([]upload.Meta, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var overrides []upload.Meta
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, fmt.Errorf("поле 'items' должно быть JSON-массивом объектов: %s", err.Error())
	}
	return overrides, nil
}

// splitTags — теги через запятую, пустые отбрасываются.
func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// itemError — ошибка элемента пакета в формате API.
func itemError(err error) *apierrors.Detail {
	if err == nil {
		err = errors.New("неизвестная ошибка")
	}
	code := service.ErrorCode(err)
	msg := err.Error()
	if apierrors.StatusFor(code) >= http.StatusInternalServerError {
		msg = publicMessage(code)
	}
	return &apierrors.Detail{Code: code, Message: msg}
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func optionalQuery(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// cacheControl — непубличные изображения не кешируются промежуточными прокси.
func cacheControl(p model.Privacy) string {
	if p == model.PrivacyPublic {
		return "public, max-age=3600"
	}
	return "private, no-store"
}
