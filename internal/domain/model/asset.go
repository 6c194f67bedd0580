// Пакет model — доменные модели Media Module.
// Asset — запись каталога об изображении; пара blob-ов (оригинал и
// миниатюра) существует тогда и только тогда, когда существует запись.
package model

import (
	"fmt"
	"time"
)

// Privacy — уровень приватности изображения.
type Privacy string

const (
	// PrivacyPublic — видно всем, попадает в списки.
	PrivacyPublic Privacy = "public"
	// PrivacyUnlisted — доступно по прямому id, в списки не попадает.
	PrivacyUnlisted Privacy = "unlisted"
	// PrivacyPrivate — только владелец и администратор.
	PrivacyPrivate Privacy = "private"
)

// ParsePrivacy проверяет строку уровня приватности.
// Пустая строка — PrivacyPublic (значение по умолчанию при загрузке).
func ParsePrivacy(s string) (Privacy, error) {
	switch Privacy(s) {
	case "":
		return PrivacyPublic, nil
	case PrivacyPublic, PrivacyUnlisted, PrivacyPrivate:
		return Privacy(s), nil
	default:
		return "", fmt.Errorf("недопустимое значение privacy %q, допустимые: public, unlisted, private", s)
	}
}

// Asset — метаданные изображения в каталоге.
type Asset struct {
	// ID — UUID, назначается каталогом при вставке
	ID string `json:"id"`

	// Title, Caption, AltText, License — изменяемые текстовые поля
	Title   string `json:"title"`
	Caption string `json:"caption"`
	AltText string `json:"alt_text"`
	License string `json:"license"`

	// Filename — сгенерированное уникальное имя файла (неизменяемо)
	Filename string `json:"filename"`
	// OriginalPath, ThumbnailPath — пути blob-ов относительно корня хранилища
	OriginalPath  string `json:"original_path"`
	ThumbnailPath string `json:"thumbnail_path"`

	// Параметры декодированного оригинала, неизменяемы
	MimeType  string `json:"mime_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int64  `json:"size_bytes"`

	// Captured — метаданные съёмки (EXIF), может отсутствовать
	Captured CapturedMetadata `json:"captured_metadata"`

	// OwnerID — sub загрузившего пользователя
	OwnerID string `json:"owner_id"`
	// AlbumID — необязательная ссылка на альбом
	AlbumID *string `json:"album_id,omitempty"`
	// Tags — теги, переданные при загрузке
	Tags []string `json:"tags"`

	Privacy   Privacy `json:"privacy"`
	ViewCount int64   `json:"view_count"`

	UploadedAt time.Time `json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AssetPatch — частичное обновление метаданных.
// nil-поле не изменяется. ClearAlbum снимает привязку к альбому.
type AssetPatch struct {
	Title      *string
	Caption    *string
	AltText    *string
	License    *string
	Privacy    *Privacy
	AlbumID    *string
	ClearAlbum bool
}

// IsEmpty — в патче нет ни одного изменения.
func (p *AssetPatch) IsEmpty() bool {
	return p.Title == nil && p.Caption == nil && p.AltText == nil &&
		p.License == nil && p.Privacy == nil && p.AlbumID == nil && !p.ClearAlbum
}

// AssetStats — агрегированная статистика публичного каталога.
type AssetStats struct {
	TotalAssets int64 `json:"total_assets"`
	TotalBytes  int64 `json:"total_bytes"`
	TotalViews  int64 `json:"total_views"`
}
