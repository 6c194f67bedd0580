package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

func TestParseAssetPatch_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"пустой объект", `{}`},
		{"null вместо объекта", `null`},
		{"не JSON", `title=x`},
		{"массив", `[]`},
		{"неизменяемое поле", `{"title":"x","width":10}`},
		{"владелец", `{"owner_id":"bob"}`},
		{"счётчик просмотров", `{"view_count":0}`},
		{"метаданные съёмки", `{"captured_metadata":{}}`},
		{"неизвестное поле", `{"rating":5}`},
		{"пустой title", `{"title":"   "}`},
		{"title null", `{"title":null}`},
		{"title не строка", `{"title":42}`},
		{"неизвестная приватность", `{"privacy":"secret"}`},
		{"пустая приватность", `{"privacy":""}`},
		{"некорректный album_id", `{"album_id":"not-a-uuid"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, err := ParseAssetPatch([]byte(tt.body))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ожидалась ErrValidation, получено %v (патч %+v)", err, patch)
			}
		})
	}
}

func TestParseAssetPatch_Fields(t *testing.T) {
	album := "7f2c1f9e-3b0a-4d8e-9a51-0c6d2f4b8e11"
	patch, err := ParseAssetPatch([]byte(fmt.Sprintf(
		`{"title":"  Закат  ","caption":"","alt_text":"море","license":"CC-BY","privacy":"private","album_id":%q}`, album)))
	if err != nil {
		t.Fatalf("ParseAssetPatch: %v", err)
	}

	if patch.Title == nil || *patch.Title != "Закат" {
		t.Errorf("title не обрезан: %v", patch.Title)
	}
	if patch.Caption == nil || *patch.Caption != "" {
		t.Error("пустая подпись должна устанавливаться")
	}
	if patch.AltText == nil || *patch.AltText != "море" {
		t.Errorf("alt_text = %v", patch.AltText)
	}
	if patch.Privacy == nil || *patch.Privacy != model.PrivacyPrivate {
		t.Errorf("privacy = %v", patch.Privacy)
	}
	if patch.AlbumID == nil || *patch.AlbumID != album || patch.ClearAlbum {
		t.Errorf("album_id = %v, clear=%v", patch.AlbumID, patch.ClearAlbum)
	}
}

func TestParseAssetPatch_ClearAlbum(t *testing.T) {
	patch, err := ParseAssetPatch([]byte(`{"album_id":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if !patch.ClearAlbum || patch.AlbumID != nil {
		t.Errorf("album_id:null должен снимать привязку: %+v", patch)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: тип", ErrValidation), "VALIDATION_ERROR"},
		{fmt.Errorf("%w: декодирование", ErrProcessing), "PROCESSING_ERROR"},
		{fmt.Errorf("%w: диск", ErrStorage), "STORAGE_ERROR"},
		{fmt.Errorf("%w: insert", ErrPersistence), "PERSISTENCE_ERROR"},
		{ErrForbidden, "FORBIDDEN"},
		{fmt.Errorf("обёртка: %w", ErrNotFound), "NOT_FOUND"},
		{errors.New("что-то другое"), "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %s, ожидалось %s", tt.err, got, tt.want)
		}
	}
}
