package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/domain/upload"
	"github.com/bigkaa/goartstore/media-module/internal/media"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/media-module/internal/storage/wal"
)

// fakeRepo — in-memory AssetRepository с внедрением ошибок.
type fakeRepo struct {
	mu     sync.Mutex
	assets map[string]*model.Asset

	// createHook вызывается перед вставкой; ошибка отменяет вставку
	createHook func(ctx context.Context) error
	// createErrAfterInsert — вставка выполняется, но возвращается ошибка
	createErrAfterInsert error
	// getByFilenameErr — ошибка проверки каталога
	getByFilenameErr error
}

var _ repository.AssetRepository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{assets: make(map[string]*model.Asset)}
}

func (r *fakeRepo) Create(ctx context.Context, a *model.Asset) error {
	if r.createHook != nil {
		if err := r.createHook(ctx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.assets {
		if existing.Filename == a.Filename {
			return repository.ErrConflict
		}
	}
	now := time.Now().UTC()
	a.ID = uuid.NewString()
	a.UploadedAt, a.UpdatedAt = now, now
	stored := *a
	r.assets[a.ID] = &stored
	return r.createErrAfterInsert
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*model.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) IncrementViews(_ context.Context, id string) (*model.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a.ViewCount++
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) filter(filters repository.AssetListFilters) []*model.Asset {
	allowed := make(map[model.Privacy]bool)
	for _, p := range filters.Privacy {
		allowed[p] = true
	}
	var out []*model.Asset
	for _, a := range r.assets {
		if !allowed[a.Privacy] {
			continue
		}
		if filters.OwnerID != nil && a.OwnerID != *filters.OwnerID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out
}

func (r *fakeRepo) List(_ context.Context, filters repository.AssetListFilters, limit, offset int) ([]*model.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.filter(filters)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (r *fakeRepo) Count(_ context.Context, filters repository.AssetListFilters) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filter(filters)), nil
}

func (r *fakeRepo) Stats(_ context.Context, privacy []model.Privacy) (*model.AssetStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.AssetStats{}
	for _, a := range r.filter(repository.AssetListFilters{Privacy: privacy}) {
		s.TotalAssets++
		s.TotalBytes += a.SizeBytes
		s.TotalViews += a.ViewCount
	}
	return s, nil
}

func (r *fakeRepo) Update(_ context.Context, id string, p *model.AssetPatch) (*model.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Caption != nil {
		a.Caption = *p.Caption
	}
	if p.AltText != nil {
		a.AltText = *p.AltText
	}
	if p.License != nil {
		a.License = *p.License
	}
	if p.Privacy != nil {
		a.Privacy = *p.Privacy
	}
	if p.ClearAlbum {
		a.AlbumID = nil
	} else if p.AlbumID != nil {
		v := *p.AlbumID
		a.AlbumID = &v
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) (*model.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(r.assets, id)
	return a, nil
}

func (r *fakeRepo) GetByFilename(_ context.Context, filename string) (*model.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getByFilenameErr != nil {
		return nil, r.getByFilenameErr
	}
	for _, a := range r.assets {
		if a.Filename == filename {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assets)
}

// --- общее окружение тестов ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	repo    *fakeRepo
	store   *filestore.FileStore
	journal *wal.WAL
	ingest  *IngestService
	assets  *AssetService
	cleanup *CleanupService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := filestore.New(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	journal, err := wal.New(filepath.Join(dir, "wal"), testLogger())
	if err != nil {
		t.Fatalf("wal.New: %v", err)
	}
	repo := newFakeRepo()
	policy := media.Policy{MaxFileSize: 5 << 20, MaxBatchSize: 5}

	return &testEnv{
		repo:    repo,
		store:   store,
		journal: journal,
		ingest: NewIngestService(repo, store, journal, policy,
			media.NewTransformer(300, 300, 40_000_000), media.NewExtractor(testLogger()), 2, testLogger()),
		assets:  NewAssetService(repo, store, testLogger()),
		cleanup: NewCleanupService(repo, store, journal, testLogger()),
	}
}

// blobCount — количество оригиналов и миниатюр на диске.
func (e *testEnv) blobCount(t *testing.T) int {
	t.Helper()
	originals, err := e.store.ListOriginals()
	if err != nil {
		t.Fatal(err)
	}
	thumbs, err := e.store.ListThumbnails()
	if err != nil {
		t.Fatal(err)
	}
	return len(originals) + len(thumbs)
}

func (e *testEnv) pendingCount(t *testing.T) int {
	t.Helper()
	pending, err := e.journal.RecoverPending()
	if err != nil {
		t.Fatal(err)
	}
	return len(pending)
}

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func newItem(index int, filename, contentType string, data []byte, meta upload.Meta) *upload.Item {
	return upload.NewItem(index, filename, contentType, int64(len(data)), meta,
		func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil })
}
