package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// immutableFields — поля, которые задаются только при загрузке.
var immutableFields = map[string]bool{
	"id":                true,
	"mime_type":         true,
	"width":             true,
	"height":            true,
	"size_bytes":        true,
	"filename":          true,
	"original_path":     true,
	"thumbnail_path":    true,
	"owner_id":          true,
	"view_count":        true,
	"uploaded_at":       true,
	"updated_at":        true,
	"captured_metadata": true,
}

// ParseAssetPatch разбирает JSON-тело обновления метаданных.
// Неизменяемые и неизвестные поля отклоняются целиком, без частичного применения.
func ParseAssetPatch(body []byte) (*model.AssetPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: некорректный JSON: %v", ErrValidation, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: ожидается JSON-объект", ErrValidation)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	patch := &model.AssetPatch{}
	for _, key := range keys {
		value := raw[key]
		if immutableFields[key] {
			return nil, fmt.Errorf("%w: поле %s неизменяемо", ErrValidation, key)
		}

		switch key {
		case "title":
			s, err := stringField(key, value)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(s) == "" {
				return nil, fmt.Errorf("%w: title не может быть пустым", ErrValidation)
			}
			s = strings.TrimSpace(s)
			patch.Title = &s
		case "caption":
			s, err := stringField(key, value)
			if err != nil {
				return nil, err
			}
			patch.Caption = &s
		case "alt_text":
			s, err := stringField(key, value)
			if err != nil {
				return nil, err
			}
			patch.AltText = &s
		case "license":
			s, err := stringField(key, value)
			if err != nil {
				return nil, err
			}
			patch.License = &s
		case "privacy":
			s, err := stringField(key, value)
			if err != nil {
				return nil, err
			}
			if s == "" {
				return nil, fmt.Errorf("%w: privacy не может быть пустым", ErrValidation)
			}
			p, err := model.ParsePrivacy(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}
			patch.Privacy = &p
		case "album_id":
			if isNull(value) {
				patch.ClearAlbum = true
				continue
			}
			s, err := stringField(key, value)
			if err != nil {
				return nil, err
			}
			if _, err := uuid.Parse(s); err != nil {
				return nil, fmt.Errorf("%w: некорректный album_id %q", ErrValidation, s)
			}
			patch.AlbumID = &s
		default:
			return nil, fmt.Errorf("%w: неизвестное поле %s", ErrValidation, key)
		}
	}

	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: нет полей для обновления", ErrValidation)
	}
	return patch, nil
}

func stringField(key string, value json.RawMessage) (string, error) {
	var s string
	if isNull(value) {
		return "", fmt.Errorf("%w: поле %s не может быть null", ErrValidation, key)
	}
	if err := json.Unmarshal(value, &s); err != nil {
		return "", fmt.Errorf("%w: поле %s должно быть строкой", ErrValidation, key)
	}
	return s, nil
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}
