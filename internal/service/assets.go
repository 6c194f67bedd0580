// assets.go — чтение и изменение метаданных изображений.
// Все пути чтения проходят через privacy.CanRead.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/domain/privacy"
	"github.com/bigkaa/goartstore/media-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/storage/filestore"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// BlobKind — какой из blob-ов пары отдаётся.
type BlobKind string

const (
	BlobOriginal  BlobKind = "original"
	BlobThumbnail BlobKind = "thumbnail"
)

// ListParams — параметры списка изображений.
type ListParams struct {
	Limit     int
	Offset    int
	AlbumID   *string
	Tag       *string
	OwnerID   *string
	Search    *string
	SortBy    string
	SortOrder string
}

// ListResult — страница списка.
type ListResult struct {
	Items  []*model.Asset `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Blob — открытый blob для потоковой отдачи. Вызывающий закрывает File.
type Blob struct {
	File        *os.File
	Name        string
	ContentType string
	Asset       *model.Asset
}

// AssetService — сервис чтения и изменения изображений.
type AssetService struct {
	repo   repository.AssetRepository
	store  *filestore.FileStore
	logger *slog.Logger
}

// NewAssetService создаёт сервис.
func NewAssetService(repo repository.AssetRepository, store *filestore.FileStore, logger *slog.Logger) *AssetService {
	return &AssetService{
		repo:   repo,
		store:  store,
		logger: logger.With(slog.String("component", "asset_service")),
	}
}

// Get — одиночное чтение по id. При разрешении счётчик просмотров
// увеличивается на единицу независимо от того, кто смотрит.
func (s *AssetService) Get(ctx context.Context, caller rbac.Caller, id string) (*model.Asset, error) {
	asset, err := s.authorizeRead(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	viewed, err := s.repo.IncrementViews(ctx, asset.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Удалено между проверкой и обновлением
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	assetViewsTotal.Inc()
	return viewed, nil
}

// List — публичные изображения. Unlisted и private в список не попадают
// ни для кого, включая владельца. Просмотры не учитываются.
func (s *AssetService) List(ctx context.Context, params ListParams) (*ListResult, error) {
	limit := params.Limit
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	offset := max(params.Offset, 0)

	filters := repository.AssetListFilters{
		Privacy:   privacy.ListablePrivacy(),
		OwnerID:   params.OwnerID,
		AlbumID:   params.AlbumID,
		Tag:       params.Tag,
		Search:    params.Search,
		SortBy:    params.SortBy,
		SortOrder: params.SortOrder,
	}

	items, err := s.repo.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if items == nil {
		items = []*model.Asset{}
	}

	return &ListResult{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Stats — статистика публичной части каталога.
func (s *AssetService) Stats(ctx context.Context) (*model.AssetStats, error) {
	stats, err := s.repo.Stats(ctx, privacy.ListablePrivacy())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return stats, nil
}

// OpenBlob открывает оригинал или миниатюру после проверки доступа.
// Файл открывается один раз: параллельное удаление не обрывает уже начатую отдачу.
func (s *AssetService) OpenBlob(ctx context.Context, caller rbac.Caller, id string, kind BlobKind) (*Blob, error) {
	asset, err := s.authorizeRead(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	relPath, contentType := asset.OriginalPath, asset.MimeType
	if kind == BlobThumbnail {
		relPath = asset.ThumbnailPath
		contentType = mime.TypeByExtension(filepath.Ext(relPath))
	}

	f, err := s.store.Open(relPath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл изображения %s отсутствует", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &Blob{
		File:        f,
		Name:        filepath.Base(relPath),
		ContentType: contentType,
		Asset:       asset,
	}, nil
}

// Update применяет патч метаданных. Доступно владельцу и администратору.
func (s *AssetService) Update(ctx context.Context, caller rbac.Caller, id string, patch *model.AssetPatch) (*model.Asset, error) {
	asset, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}
	if !caller.CanEdit(asset.OwnerID) {
		return nil, fmt.Errorf("%w: изменять изображение может владелец или администратор", ErrForbidden)
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidReference) {
			return nil, fmt.Errorf("%w: альбом не найден", ErrValidation)
		}
		return nil, s.mapRepoError(err, id)
	}

	s.logger.Info("Метаданные изображения обновлены",
		slog.String("asset_id", id),
		slog.String("user_id", caller.UserID),
	)
	return updated, nil
}

// authorizeRead загружает запись и применяет privacy gate для прямого доступа.
func (s *AssetService) authorizeRead(ctx context.Context, caller rbac.Caller, id string) (*model.Asset, error) {
	asset, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}
	if !privacy.CanRead(asset, caller, privacy.AccessDirect).Allowed() {
		return nil, fmt.Errorf("%w: изображение %s недоступно", ErrForbidden, id)
	}
	return asset, nil
}

func (s *AssetService) mapRepoError(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
