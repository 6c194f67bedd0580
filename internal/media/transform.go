package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // декодер GIF
	_ "image/jpeg" // декодер JPEG
	_ "image/png"  // декодер PNG
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // декодер WebP
)

// Ошибки обработки.
var (
	ErrDecode        = errors.New("не удалось декодировать изображение")
	ErrTooManyPixels = errors.New("изображение превышает допустимое количество пикселей")
	ErrEncode        = errors.New("не удалось закодировать миниатюру")
)

// thumbnailFormats — формат миниатюры по формату оригинала.
// WebP imaging кодировать не умеет, для него миниатюра в PNG.
var thumbnailFormats = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"webp": imaging.PNG,
}

// thumbnailMime — MIME-тип миниатюры по формату кодирования.
var thumbnailMime = map[imaging.Format]string{
	imaging.JPEG: "image/jpeg",
	imaging.PNG:  "image/png",
	imaging.GIF:  "image/gif",
}

// Transformer декодирует изображение и строит миниатюру,
// вписанную в рамку MaxWidth×MaxHeight.
type Transformer struct {
	MaxWidth  int
	MaxHeight int
	// MaxPixels — защита от «бомб» распаковки; 0 — без ограничения
	MaxPixels int
	// JPEGQuality — качество JPEG-миниатюр (по умолчанию 85)
	JPEGQuality int
}

// Result — результат обработки одного изображения.
type Result struct {
	// Width, Height — размеры оригинала в пикселях
	Width  int
	Height int
	// Format — имя формата декодера (jpeg, png, gif, webp)
	Format string
	// MimeType — MIME-тип по фактическому содержимому
	MimeType string
	// Thumbnail — закодированная миниатюра
	Thumbnail []byte
	// ThumbnailWidth, ThumbnailHeight — размеры миниатюры
	ThumbnailWidth  int
	ThumbnailHeight int

	thumbFormat imaging.Format
}

// NewTransformer создаёт Transformer с рамкой миниатюры.
func NewTransformer(maxWidth, maxHeight, maxPixels int) *Transformer {
	return &Transformer{
		MaxWidth:    maxWidth,
		MaxHeight:   maxHeight,
		MaxPixels:   maxPixels,
		JPEGQuality: 85,
	}
}

// Transform декодирует data и строит миниатюру. Пропорции сохраняются,
// изображения меньше рамки не увеличиваются.
func (t *Transformer) Transform(data []byte) (*Result, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: нулевые размеры %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if t.MaxPixels > 0 && cfg.Width*cfg.Height > t.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	// imaging.Fit возвращает копию без масштабирования, если изображение
	// уже помещается в рамку.
	thumb := imaging.Fit(img, t.MaxWidth, t.MaxHeight, imaging.Lanczos)

	thumbFormat, ok := thumbnailFormats[format]
	if !ok {
		thumbFormat = imaging.PNG
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, thumbFormat, imaging.JPEGQuality(t.jpegQuality())); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	return &Result{
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
		Format:          format,
		MimeType:        "image/" + format,
		Thumbnail:       buf.Bytes(),
		ThumbnailWidth:  thumb.Bounds().Dx(),
		ThumbnailHeight: thumb.Bounds().Dy(),
		thumbFormat:     thumbFormat,
	}, nil
}

// OriginalExt — расширение файла оригинала. Расширение из имени файла
// сохраняется, только если оно соответствует декодированному формату,
// иначе берётся каноническое расширение формата.
func (r *Result) OriginalExt(declaredExt string) string {
	return extFor(r.MimeType, declaredExt)
}

// ThumbnailExt — расширение файла миниатюры по формату, в котором она
// закодирована. originalExt сохраняется, если соответствует этому формату.
func (r *Result) ThumbnailExt(originalExt string) string {
	return extFor(thumbnailMime[r.thumbFormat], originalExt)
}

// ThumbnailMimeType — MIME-тип закодированной миниатюры.
func (r *Result) ThumbnailMimeType() string {
	return thumbnailMime[r.thumbFormat]
}

// extFor возвращает ext, если оно допустимо для mimeType,
// иначе первое допустимое расширение типа.
func extFor(mimeType, ext string) string {
	ext = strings.ToLower(ext)
	exts := allowedTypes[mimeType]
	for _, e := range exts {
		if e == ext {
			return ext
		}
	}
	if len(exts) > 0 {
		return exts[0]
	}
	return ext
}

// ExtOf — расширение имени файла в нижнем регистре.
func ExtOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func (t *Transformer) jpegQuality() int {
	if t.JPEGQuality <= 0 || t.JPEGQuality > 100 {
		return 85
	}
	return t.JPEGQuality
}
