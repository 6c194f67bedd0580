package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/media-module/internal/domain/upload"
)

// uploadOne загружает одно изображение и возвращает его id.
func uploadOne(t *testing.T, env *testEnv, caller rbac.Caller, privacy model.Privacy) string {
	t.Helper()
	results, err := env.ingest.UploadBatch(context.Background(), caller, []*upload.Item{
		newItem(0, "photo.jpg", "image/jpeg", makeJPEG(t, 40, 20), upload.Meta{Privacy: string(privacy)}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != upload.StatusCompleted {
		t.Fatalf("загрузка не удалась: %v", results[0].Err)
	}
	return results[0].AssetID
}

func TestGet_CountsEveryView(t *testing.T) {
	env := newTestEnv(t)
	id := uploadOne(t, env, editor, model.PrivacyPublic)
	ctx := context.Background()

	const n = 7
	for range n {
		if _, err := env.assets.Get(ctx, rbac.Anonymous(), id); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	// Просмотр владельцем тоже учитывается
	got, err := env.assets.Get(ctx, editor, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.ViewCount != n+1 {
		t.Errorf("view_count = %d, ожидалось %d", got.ViewCount, n+1)
	}
}

func TestGet_PrivateAccess(t *testing.T) {
	env := newTestEnv(t)
	id := uploadOne(t, env, editor, model.PrivacyPrivate)
	ctx := context.Background()

	for name, caller := range map[string]rbac.Caller{
		"аноним":       rbac.Anonymous(),
		"чужой editor": other,
	} {
		if _, err := env.assets.Get(ctx, caller, id); !errors.Is(err, ErrForbidden) {
			t.Errorf("%s: ожидалась ErrForbidden, получено %v", name, err)
		}
	}

	// Отказ не увеличивает счётчик
	stored, _ := env.repo.GetByID(ctx, id)
	if stored.ViewCount != 0 {
		t.Errorf("отказ увеличил view_count до %d", stored.ViewCount)
	}

	got, err := env.assets.Get(ctx, editor, id)
	if err != nil || got.ViewCount != 1 {
		t.Errorf("владелец: %v, view_count=%v", err, got)
	}
	got, err = env.assets.Get(ctx, admin, id)
	if err != nil || got.ViewCount != 2 {
		t.Errorf("администратор: %v, view_count=%v", err, got)
	}
}

func TestGet_NotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.assets.Get(context.Background(), rbac.Anonymous(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestList_OnlyPublicAndNoViews(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pub := uploadOne(t, env, editor, model.PrivacyPublic)
	unl := uploadOne(t, env, editor, model.PrivacyUnlisted)
	uploadOne(t, env, editor, model.PrivacyPrivate)

	res, err := env.assets.List(ctx, ListParams{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || len(res.Items) != 1 || res.Items[0].ID != pub {
		t.Fatalf("в списке должно быть только публичное изображение: %+v", res)
	}
	if res.Limit != defaultListLimit {
		t.Errorf("limit по умолчанию = %d", res.Limit)
	}

	// Фильтр по владельцу не открывает его непубличные изображения
	owner := editor.UserID
	res, err = env.assets.List(ctx, ListParams{OwnerID: &owner})
	if err != nil || res.Total != 1 {
		t.Errorf("фильтр owner_id: total=%v, %v", res, err)
	}

	// Unlisted доступно по прямому id
	if _, err := env.assets.Get(ctx, rbac.Anonymous(), unl); err != nil {
		t.Errorf("unlisted по прямой ссылке: %v", err)
	}

	stored, _ := env.repo.GetByID(ctx, pub)
	if stored.ViewCount != 0 {
		t.Errorf("список не должен увеличивать view_count, получено %d", stored.ViewCount)
	}

	stats, err := env.assets.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalAssets != 1 {
		t.Errorf("статистика учитывает непубличные изображения: %+v", stats)
	}
}

func TestList_LimitClamp(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.assets.List(context.Background(), ListParams{Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != maxListLimit || res.Offset != 0 {
		t.Errorf("limit/offset не ограничены: %d/%d", res.Limit, res.Offset)
	}
	if res.Items == nil {
		t.Error("пустой список должен сериализоваться как []")
	}
}

func TestOpenBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := uploadOne(t, env, editor, model.PrivacyPrivate)

	if _, err := env.assets.OpenBlob(ctx, rbac.Anonymous(), id, BlobOriginal); !errors.Is(err, ErrForbidden) {
		t.Errorf("аноним не должен получать байты private: %v", err)
	}

	blob, err := env.assets.OpenBlob(ctx, editor, id, BlobThumbnail)
	if err != nil {
		t.Fatalf("OpenBlob: %v", err)
	}
	defer blob.File.Close()
	if blob.ContentType != "image/jpeg" {
		t.Errorf("Content-Type миниатюры = %q", blob.ContentType)
	}
	data, err := io.ReadAll(blob.File)
	if err != nil || len(data) == 0 {
		t.Errorf("чтение миниатюры: %d байт, %v", len(data), err)
	}

	stored, _ := env.repo.GetByID(ctx, id)
	if stored.ViewCount != 0 {
		t.Errorf("отдача файла не должна увеличивать view_count, получено %d", stored.ViewCount)
	}
}

func TestOpenBlob_MissingFileIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := uploadOne(t, env, editor, model.PrivacyPublic)

	stored, _ := env.repo.GetByID(ctx, id)
	if err := env.store.Delete(stored.OriginalPath); err != nil {
		t.Fatal(err)
	}
	if _, err := env.assets.OpenBlob(ctx, rbac.Anonymous(), id, BlobOriginal); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := uploadOne(t, env, editor, model.PrivacyPublic)

	patch, err := ParseAssetPatch([]byte(`{"title":"Новое","privacy":"unlisted"}`))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.assets.Update(ctx, other, id, patch); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужой editor: ожидалась ErrForbidden, получено %v", err)
	}

	got, err := env.assets.Update(ctx, editor, id, patch)
	if err != nil {
		t.Fatalf("Update владельцем: %v", err)
	}
	if got.Title != "Новое" || got.Privacy != model.PrivacyUnlisted {
		t.Errorf("патч не применён: %+v", got)
	}

	if _, err := env.assets.Update(ctx, admin, id, patch); err != nil {
		t.Errorf("Update администратором: %v", err)
	}
	if _, err := env.assets.Update(ctx, admin, "missing", patch); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}
