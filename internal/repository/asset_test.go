package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/media-module/internal/database"
	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

func strPtr(s string) *string { return &s }

func TestBuildListWhere_PrivacyAlwaysFirst(t *testing.T) {
	where, args := buildListWhere(AssetListFilters{
		Privacy: []model.Privacy{model.PrivacyPublic},
	}, 1)
	if where != "WHERE privacy = ANY($1)" {
		t.Errorf("неверный WHERE: %q", where)
	}
	if len(args) != 1 {
		t.Fatalf("ожидался 1 аргумент, получено %d", len(args))
	}
	if got := args[0].([]string); len(got) != 1 || got[0] != "public" {
		t.Errorf("неверный аргумент privacy: %v", got)
	}
}

func TestBuildListWhere_AllFilters(t *testing.T) {
	where, args := buildListWhere(AssetListFilters{
		Privacy: []model.Privacy{model.PrivacyPublic},
		OwnerID: strPtr("u1"),
		AlbumID: strPtr("a1"),
		Tag:     strPtr("sea"),
		Search:  strPtr("50%_off"),
	}, 1)

	for _, want := range []string{
		"privacy = ANY($1)",
		"owner_id = $2",
		"album_id::text = $3",
		"$4 = ANY(tags)",
		"title ILIKE '%' || $5 || '%'",
	} {
		if !strings.Contains(where, want) {
			t.Errorf("WHERE не содержит %q: %s", want, where)
		}
	}
	if len(args) != 5 {
		t.Fatalf("ожидалось 5 аргументов, получено %d", len(args))
	}
	if args[4] != `50\%\_off` {
		t.Errorf("спецсимволы LIKE не экранированы: %v", args[4])
	}
}

func TestBuildOrderBy(t *testing.T) {
	tests := []struct {
		sortBy, order, want string
	}{
		{"", "", "uploaded_at DESC, id DESC"},
		{"title", "asc", "title ASC, id ASC"},
		{"view_count", "DESC", "view_count DESC, id DESC"},
		{"owner_id; DROP TABLE images", "asc", "uploaded_at ASC, id ASC"},
	}
	for _, tt := range tests {
		got := buildOrderBy(AssetListFilters{SortBy: tt.sortBy, SortOrder: tt.order})
		if got != tt.want {
			t.Errorf("buildOrderBy(%q, %q) = %q, ожидалось %q", tt.sortBy, tt.order, got, tt.want)
		}
	}
}

func TestBuildUpdateSet(t *testing.T) {
	priv := model.PrivacyPrivate
	set, args := buildUpdateSet(&model.AssetPatch{
		Title:   strPtr("Закат"),
		Privacy: &priv,
	}, 1)
	if set != "title = $1, privacy = $2, updated_at = now()" {
		t.Errorf("неверный SET: %q", set)
	}
	if len(args) != 2 || args[0] != "Закат" || args[1] != "private" {
		t.Errorf("неверные аргументы: %v", args)
	}

	set, args = buildUpdateSet(&model.AssetPatch{ClearAlbum: true}, 1)
	if set != "album_id = NULL, updated_at = now()" || len(args) != 0 {
		t.Errorf("ClearAlbum: SET=%q args=%v", set, args)
	}
}

func TestPgErrorMapping(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	fk := &pgconn.PgError{Code: "23503"}
	if !isUniqueViolation(unique) || isUniqueViolation(fk) {
		t.Error("isUniqueViolation распознаёт коды неверно")
	}
	if !isForeignKeyViolation(fk) || isForeignKeyViolation(errors.New("x")) {
		t.Error("isForeignKeyViolation распознаёт коды неверно")
	}
}

// --- Интеграционные тесты (testcontainers) ---

func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("gallery_test"),
		postgres.WithUsername("gallery"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString: %v", err)
	}
	migrateURL := "pgx5" + strings.TrimPrefix(dsn, "postgres")
	if err := database.MigrateURL(migrateURL, discardLogger()); err != nil {
		t.Fatalf("MigrateURL: %v", err)
	}

	pool, err := database.ConnectDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("ConnectDSN: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func newTestAsset(owner string, privacy model.Privacy) *model.Asset {
	name := uuid.NewString() + ".jpg"
	return &model.Asset{
		Title:         "Тест",
		Filename:      name,
		OriginalPath:  name,
		ThumbnailPath: "thumbnails/" + name,
		MimeType:      "image/jpeg",
		Width:         800,
		Height:        600,
		SizeBytes:     1024,
		Captured: model.ParsedMetadata(model.Capture{
			CameraMake: "Canon",
		}),
		OwnerID: owner,
		Tags:    []string{"sea", "sunset"},
		Privacy: privacy,
	}
}

func TestAssetRepository_Integration(t *testing.T) {
	pool := setupTestPool(t)
	repo := NewAssetRepository(pool)
	ctx := context.Background()

	pub := newTestAsset("alice", model.PrivacyPublic)
	unl := newTestAsset("alice", model.PrivacyUnlisted)
	for _, a := range []*model.Asset{pub, unl} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if a.ID == "" || a.UploadedAt.IsZero() {
			t.Fatalf("Create не заполнил ID/UploadedAt: %+v", a)
		}
	}

	t.Run("дубликат имени файла — ErrConflict", func(t *testing.T) {
		dup := newTestAsset("bob", model.PrivacyPublic)
		dup.Filename, dup.OriginalPath, dup.ThumbnailPath = pub.Filename, pub.OriginalPath, pub.ThumbnailPath
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
			t.Errorf("ожидалась ErrConflict, получено %v", err)
		}
	})

	t.Run("несуществующий альбом — ErrInvalidReference", func(t *testing.T) {
		a := newTestAsset("bob", model.PrivacyPublic)
		a.AlbumID = strPtr(uuid.NewString())
		if err := repo.Create(ctx, a); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("ожидалась ErrInvalidReference, получено %v", err)
		}
	})

	t.Run("GetByID не меняет счётчик", func(t *testing.T) {
		got, err := repo.GetByID(ctx, pub.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.ViewCount != 0 {
			t.Errorf("view_count = %d, ожидалось 0", got.ViewCount)
		}
		if !got.Captured.IsPresent() || got.Captured.Capture.CameraMake != "Canon" {
			t.Errorf("captured_metadata не восстановлены: %+v", got.Captured)
		}
	})

	t.Run("IncrementViews атомарен", func(t *testing.T) {
		const n = 20
		errs := make(chan error, n)
		for range n {
			go func() {
				_, err := repo.IncrementViews(ctx, pub.ID)
				errs <- err
			}()
		}
		for range n {
			if err := <-errs; err != nil {
				t.Fatal(err)
			}
		}
		got, _ := repo.GetByID(ctx, pub.ID)
		if got.ViewCount != n {
			t.Errorf("view_count = %d, ожидалось %d", got.ViewCount, n)
		}
	})

	t.Run("List возвращает только публичные", func(t *testing.T) {
		filters := AssetListFilters{Privacy: []model.Privacy{model.PrivacyPublic}}
		list, err := repo.List(ctx, filters, 50, 0)
		if err != nil {
			t.Fatal(err)
		}
		for _, a := range list {
			if a.Privacy != model.PrivacyPublic {
				t.Errorf("в список попала запись %s с privacy=%s", a.ID, a.Privacy)
			}
		}
		total, err := repo.Count(ctx, filters)
		if err != nil || total != len(list) {
			t.Errorf("Count = %d (%v), ожидалось %d", total, err, len(list))
		}
	})

	t.Run("Update и неизвестный id", func(t *testing.T) {
		priv := model.PrivacyPrivate
		got, err := repo.Update(ctx, unl.ID, &model.AssetPatch{Title: strPtr("Новое"), Privacy: &priv})
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != "Новое" || got.Privacy != model.PrivacyPrivate || got.Filename != unl.Filename {
			t.Errorf("неверный результат Update: %+v", got)
		}
		if _, err := repo.Update(ctx, uuid.NewString(), &model.AssetPatch{Title: strPtr("x")}); !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено %v", err)
		}
	})

	t.Run("Delete возвращает пути и повторно — ErrNotFound", func(t *testing.T) {
		got, err := repo.Delete(ctx, unl.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.OriginalPath != unl.OriginalPath || got.ThumbnailPath != unl.ThumbnailPath {
			t.Errorf("неверные пути удалённой записи: %+v", got)
		}
		if _, err := repo.Delete(ctx, unl.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено %v", err)
		}
		if _, err := repo.GetByFilename(ctx, unl.Filename); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByFilename после удаления: ожидалась ErrNotFound, получено %v", err)
		}
	})

	t.Run("невалидный id — ErrNotFound", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено %v", err)
		}
	})
}
