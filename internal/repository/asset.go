package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// AssetRepository — каталог изображений (таблица images).
type AssetRepository interface {
	// Create вставляет запись; ID, UploadedAt и UpdatedAt заполняются из БД.
	Create(ctx context.Context, a *model.Asset) error
	// GetByID возвращает запись без изменения счётчика просмотров.
	GetByID(ctx context.Context, id string) (*model.Asset, error)
	// IncrementViews атомарно увеличивает view_count и возвращает запись.
	IncrementViews(ctx context.Context, id string) (*model.Asset, error)
	// List возвращает страницу записей по фильтрам.
	List(ctx context.Context, filters AssetListFilters, limit, offset int) ([]*model.Asset, error)
	// Count — количество записей по фильтрам.
	Count(ctx context.Context, filters AssetListFilters) (int, error)
	// Stats — агрегаты по записям с указанными уровнями приватности.
	Stats(ctx context.Context, privacy []model.Privacy) (*model.AssetStats, error)
	// Update применяет частичное обновление и возвращает запись.
	Update(ctx context.Context, id string, patch *model.AssetPatch) (*model.Asset, error)
	// Delete удаляет запись и возвращает её (для удаления blob-ов).
	Delete(ctx context.Context, id string) (*model.Asset, error)
	// GetByFilename ищет запись по сгенерированному имени оригинала.
	GetByFilename(ctx context.Context, filename string) (*model.Asset, error)
}

// AssetListFilters — фильтры списка изображений.
type AssetListFilters struct {
	// Privacy — допустимые уровни приватности (обязательный фильтр)
	Privacy []model.Privacy
	OwnerID *string
	AlbumID *string
	Tag     *string
	// Search — подстрока названия (ILIKE)
	Search *string
	// SortBy — uploaded_at (по умолчанию), title, view_count, size_bytes
	SortBy string
	// SortOrder — desc (по умолчанию) или asc
	SortOrder string
}

// assetColumns — колонки в порядке scanAsset.
const assetColumns = `id::text, title, caption, alt_text, license, filename,
	original_path, thumbnail_path, mime_type, width, height, size_bytes,
	captured_metadata, owner_id, album_id::text, tags, privacy, view_count,
	uploaded_at, updated_at`

// allowedSort — whitelist колонок сортировки.
var allowedSort = map[string]string{
	"":            "uploaded_at",
	"uploaded_at": "uploaded_at",
	"title":       "title",
	"view_count":  "view_count",
	"size_bytes":  "size_bytes",
}

type assetRepo struct {
	db DBTX
}

// NewAssetRepository создаёт репозиторий каталога.
func NewAssetRepository(db DBTX) AssetRepository {
	return &assetRepo{db: db}
}

func (r *assetRepo) Create(ctx context.Context, a *model.Asset) error {
	captured, err := a.Captured.MarshalColumn()
	if err != nil {
		return fmt.Errorf("ошибка сериализации captured_metadata: %w", err)
	}
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO images (title, caption, alt_text, license, filename,
			original_path, thumbnail_path, mime_type, width, height, size_bytes,
			captured_metadata, owner_id, album_id, tags, privacy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id::text, view_count, uploaded_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		a.Title, a.Caption, a.AltText, a.License, a.Filename,
		a.OriginalPath, a.ThumbnailPath, a.MimeType, a.Width, a.Height, a.SizeBytes,
		captured, a.OwnerID, a.AlbumID, tags, string(a.Privacy),
	).Scan(&a.ID, &a.ViewCount, &a.UploadedAt, &a.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: blob-пара уже используется", ErrConflict)
		case isForeignKeyViolation(err):
			return fmt.Errorf("%w: альбом не найден", ErrInvalidReference)
		}
		return fmt.Errorf("ошибка создания записи изображения: %w", err)
	}
	a.Tags = tags
	return nil
}

func (r *assetRepo) GetByID(ctx context.Context, id string) (*model.Asset, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := `SELECT ` + assetColumns + ` FROM images WHERE id = $1`
	return r.queryOne(ctx, "ошибка получения изображения", query, id)
}

func (r *assetRepo) IncrementViews(ctx context.Context, id string) (*model.Asset, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := `UPDATE images SET view_count = view_count + 1 WHERE id = $1 RETURNING ` + assetColumns
	return r.queryOne(ctx, "ошибка обновления счётчика просмотров", query, id)
}

func (r *assetRepo) Delete(ctx context.Context, id string) (*model.Asset, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := `DELETE FROM images WHERE id = $1 RETURNING ` + assetColumns
	return r.queryOne(ctx, "ошибка удаления изображения", query, id)
}

func (r *assetRepo) Update(ctx context.Context, id string, patch *model.AssetPatch) (*model.Asset, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	if patch == nil || patch.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	set, args := buildUpdateSet(patch, 1)
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE images SET %s WHERE id = $%d RETURNING %s`, set, len(args), assetColumns)

	a, err := r.queryOne(ctx, "ошибка обновления изображения", query, args...)
	if err != nil && isForeignKeyViolation(err) {
		return nil, fmt.Errorf("%w: альбом не найден", ErrInvalidReference)
	}
	return a, err
}

func (r *assetRepo) List(ctx context.Context, filters AssetListFilters, limit, offset int) ([]*model.Asset, error) {
	where, args := buildListWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`SELECT %s FROM images %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		assetColumns, where, buildOrderBy(filters), argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка изображений: %w", err)
	}
	defer rows.Close()

	var assets []*model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки изображения: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации списка изображений: %w", err)
	}
	return assets, nil
}

func (r *assetRepo) Count(ctx context.Context, filters AssetListFilters) (int, error) {
	where, args := buildListWhere(filters, 1)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM images `+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта изображений: %w", err)
	}
	return total, nil
}

func (r *assetRepo) Stats(ctx context.Context, privacy []model.Privacy) (*model.AssetStats, error) {
	query := `
		SELECT count(*), COALESCE(sum(size_bytes), 0), COALESCE(sum(view_count), 0)
		FROM images
		WHERE privacy = ANY($1)`

	s := &model.AssetStats{}
	if err := r.db.QueryRow(ctx, query, privacyStrings(privacy)).Scan(&s.TotalAssets, &s.TotalBytes, &s.TotalViews); err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return s, nil
}

func (r *assetRepo) GetByFilename(ctx context.Context, filename string) (*model.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM images WHERE filename = $1`
	return r.queryOne(ctx, "ошибка поиска изображения по имени файла", query, filename)
}

func (r *assetRepo) queryOne(ctx context.Context, op, query string, args ...any) (*model.Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// scanAsset читает строку в порядке assetColumns.
func scanAsset(row pgx.Row) (*model.Asset, error) {
	a := &model.Asset{}
	var captured []byte
	var privacy string

	err := row.Scan(
		&a.ID, &a.Title, &a.Caption, &a.AltText, &a.License, &a.Filename,
		&a.OriginalPath, &a.ThumbnailPath, &a.MimeType, &a.Width, &a.Height, &a.SizeBytes,
		&captured, &a.OwnerID, &a.AlbumID, &a.Tags, &privacy, &a.ViewCount,
		&a.UploadedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Captured = model.CapturedFromColumn(captured)
	a.Privacy = model.Privacy(privacy)
	if a.Tags == nil {
		a.Tags = []string{}
	}
	return a, nil
}

// buildListWhere строит WHERE и аргументы для фильтров списка.
// Пустой Privacy не означает «все уровни»: без него выборка пуста.
func buildListWhere(filters AssetListFilters, startArg int) (string, []any) {
	argNum := startArg
	conditions := []string{fmt.Sprintf("privacy = ANY($%d)", argNum)}
	args := []any{privacyStrings(filters.Privacy)}
	argNum++

	if filters.OwnerID != nil {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argNum))
		args = append(args, *filters.OwnerID)
		argNum++
	}
	if filters.AlbumID != nil {
		conditions = append(conditions, fmt.Sprintf("album_id::text = $%d", argNum))
		args = append(args, *filters.AlbumID)
		argNum++
	}
	if filters.Tag != nil {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(tags)", argNum))
		args = append(args, *filters.Tag)
		argNum++
	}
	if filters.Search != nil && *filters.Search != "" {
		conditions = append(conditions, fmt.Sprintf("title ILIKE '%%' || $%d || '%%'", argNum))
		args = append(args, escapeLike(*filters.Search))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildOrderBy — ORDER BY из whitelist; id — стабильный tie-breaker.
func buildOrderBy(filters AssetListFilters) string {
	col, ok := allowedSort[filters.SortBy]
	if !ok {
		col = "uploaded_at"
	}
	dir := "DESC"
	if strings.EqualFold(filters.SortOrder, "asc") {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, id %s", col, dir, dir)
}

// buildUpdateSet строит SET для частичного обновления. updated_at обновляется всегда.
func buildUpdateSet(p *model.AssetPatch, startArg int) (string, []any) {
	var sets []string
	var args []any
	argNum := startArg

	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argNum))
		args = append(args, val)
		argNum++
	}

	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Caption != nil {
		add("caption", *p.Caption)
	}
	if p.AltText != nil {
		add("alt_text", *p.AltText)
	}
	if p.License != nil {
		add("license", *p.License)
	}
	if p.Privacy != nil {
		add("privacy", string(*p.Privacy))
	}
	switch {
	case p.ClearAlbum:
		sets = append(sets, "album_id = NULL")
	case p.AlbumID != nil:
		add("album_id", *p.AlbumID)
	}

	sets = append(sets, "updated_at = now()")
	return strings.Join(sets, ", "), args
}

func privacyStrings(levels []model.Privacy) []string {
	out := make([]string, len(levels))
	for i, p := range levels {
		out[i] = string(p)
	}
	return out
}

// escapeLike экранирует спецсимволы LIKE в пользовательской подстроке.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
