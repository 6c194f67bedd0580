package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// makeJPEG генерирует JPEG заданного размера.
func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

// makePNG генерирует PNG заданного размера.
func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// withEXIF вставляет сегмент APP1 с EXIF (IFD0: Make) сразу после SOI.
func withEXIF(t *testing.T, jpegData []byte, cameraMake string) []byte {
	t.Helper()
	value := append([]byte(cameraMake), 0)

	var tiffBuf bytes.Buffer
	tiffBuf.WriteString("II")
	_ = binary.Write(&tiffBuf, binary.LittleEndian, uint16(42))
	_ = binary.Write(&tiffBuf, binary.LittleEndian, uint32(8))
	// IFD0: одна запись
	_ = binary.Write(&tiffBuf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&tiffBuf, binary.LittleEndian, uint16(0x010F)) // Make
	_ = binary.Write(&tiffBuf, binary.LittleEndian, uint16(2))      // ASCII
	_ = binary.Write(&tiffBuf, binary.LittleEndian, uint32(len(value)))
	_ = binary.Write(&tiffBuf, binary.LittleEndian, uint32(8+2+12+4))
	_ = binary.Write(&tiffBuf, binary.LittleEndian, uint32(0))
	tiffBuf.Write(value)

	payload := append([]byte("Exif\x00\x00"), tiffBuf.Bytes()...)

	var out bytes.Buffer
	out.Write(jpegData[:2]) // SOI
	out.Write([]byte{0xFF, 0xE1})
	_ = binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpegData[2:])
	return out.Bytes()
}

func TestPolicy_CheckType(t *testing.T) {
	p := Policy{MaxFileSize: 1024, MaxBatchSize: 10}
	jpg := makeJPEG(t, 4, 4)

	tests := []struct {
		name     string
		filename string
		declared string
		head     []byte
		want     string
		wantErr  bool
	}{
		{"jpeg", "a.jpg", "image/jpeg", jpg, "image/jpeg", false},
		{"jpeg с параметром", "a.JPEG", "image/jpeg; charset=binary", jpg, "image/jpeg", false},
		{"алиас image/jpg", "a.jpg", "image/jpg", jpg, "image/jpeg", false},
		{"webp", "a.webp", "image/webp", nil, "image/webp", false},
		{"неизвестный тип — по содержимому", "a.jpg", "application/octet-stream", jpg, "image/jpeg", false},
		{"пустой тип — по содержимому", "a.jpg", "", jpg, "image/jpeg", false},
		{"svg запрещён", "a.svg", "image/svg+xml", nil, "", true},
		{"pdf запрещён", "a.pdf", "application/pdf", []byte("%PDF-1.4"), "", true},
		{"расширение не совпадает", "a.png", "image/jpeg", jpg, "", true},
		{"без расширения", "photo", "image/jpeg", jpg, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.CheckType(tt.filename, tt.declared, tt.head)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedType) {
					t.Fatalf("ожидалась ErrUnsupportedType, получено %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("ожидалось %q, получено %q", tt.want, got)
			}
		})
	}
}

func TestPolicy_CheckSize(t *testing.T) {
	p := Policy{MaxFileSize: 100}
	if err := p.CheckSize(100); err != nil {
		t.Errorf("ровно на лимите: неожиданная ошибка %v", err)
	}
	if err := p.CheckSize(101); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ожидалась ErrTooLarge, получено %v", err)
	}
	if err := p.CheckSize(0); !errors.Is(err, ErrEmpty) {
		t.Errorf("ожидалась ErrEmpty, получено %v", err)
	}
}

func TestPolicy_CheckBatchPosition(t *testing.T) {
	p := Policy{MaxBatchSize: 2}
	if err := p.CheckBatchPosition(1); err != nil {
		t.Errorf("индекс 1: неожиданная ошибка %v", err)
	}
	if err := p.CheckBatchPosition(2); !errors.Is(err, ErrBatchLimit) {
		t.Errorf("индекс 2: ожидалась ErrBatchLimit, получено %v", err)
	}
}

func TestTransform_DownscalesPreservingAspect(t *testing.T) {
	tr := NewTransformer(300, 300, 0)
	res, err := tr.Transform(makeJPEG(t, 1200, 600))
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Width != 1200 || res.Height != 600 {
		t.Errorf("размеры оригинала: ожидалось 1200x600, получено %dx%d", res.Width, res.Height)
	}
	if res.MimeType != "image/jpeg" {
		t.Errorf("MimeType: ожидалось image/jpeg, получено %q", res.MimeType)
	}
	if res.ThumbnailWidth != 300 || res.ThumbnailHeight != 150 {
		t.Errorf("миниатюра: ожидалось 300x150, получено %dx%d", res.ThumbnailWidth, res.ThumbnailHeight)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(res.Thumbnail))
	if err != nil {
		t.Fatalf("миниатюра не декодируется: %v", err)
	}
	if format != "jpeg" || cfg.Width != 300 || cfg.Height != 150 {
		t.Errorf("закодированная миниатюра: %s %dx%d", format, cfg.Width, cfg.Height)
	}
	if ext := res.ThumbnailExt(".JPEG"); ext != ".jpeg" {
		t.Errorf("ThumbnailExt: ожидалось .jpeg, получено %q", ext)
	}
}

func TestTransform_NeverUpscales(t *testing.T) {
	tr := NewTransformer(300, 300, 0)
	res, err := tr.Transform(makePNG(t, 120, 80))
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.ThumbnailWidth != 120 || res.ThumbnailHeight != 80 {
		t.Errorf("ожидалось 120x80 без увеличения, получено %dx%d", res.ThumbnailWidth, res.ThumbnailHeight)
	}
	if res.MimeType != "image/png" {
		t.Errorf("MimeType: ожидалось image/png, получено %q", res.MimeType)
	}
}

func TestTransform_ExtensionsFollowContent(t *testing.T) {
	tr := NewTransformer(300, 300, 0)
	jpegData := makeJPEG(t, 600, 400)

	// JPEG под именем .png проходит политику по объявленному типу
	if _, err := (Policy{}).Validate("photo.png", "image/png", int64(len(jpegData)), jpegData); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	res, err := tr.Transform(jpegData)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	_, thumbFormat, err := image.DecodeConfig(bytes.NewReader(res.Thumbnail))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"OriginalExt(.png) для JPEG", res.OriginalExt(".png"), ".jpg"},
		{"OriginalExt(.JPEG) для JPEG", res.OriginalExt(".JPEG"), ".jpeg"},
		{"ThumbnailExt(.png) для JPEG", res.ThumbnailExt(".png"), ".jpg"},
		{"ThumbnailMimeType", res.ThumbnailMimeType(), "image/" + thumbFormat},
		{"MimeType", res.MimeType, "image/jpeg"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: ожидалось %q, получено %q", tt.name, tt.want, tt.got)
		}
	}

	pngRes, err := tr.Transform(makePNG(t, 40, 40))
	if err != nil {
		t.Fatalf("Transform PNG: %v", err)
	}
	if ext := pngRes.ThumbnailExt(".jpg"); ext != ".png" {
		t.Errorf("PNG под именем .jpg: миниатюра %q, ожидалось .png", ext)
	}
}

func TestTransform_CorruptData(t *testing.T) {
	tr := NewTransformer(300, 300, 0)
	corrupt := makeJPEG(t, 50, 50)[:40]
	if _, err := tr.Transform(corrupt); !errors.Is(err, ErrDecode) {
		t.Errorf("ожидалась ErrDecode, получено %v", err)
	}
	if _, err := tr.Transform([]byte("definitely not an image")); !errors.Is(err, ErrDecode) {
		t.Errorf("ожидалась ErrDecode, получено %v", err)
	}
}

func TestTransform_PixelLimit(t *testing.T) {
	tr := NewTransformer(300, 300, 100*100)
	if _, err := tr.Transform(makePNG(t, 200, 200)); !errors.Is(err, ErrTooManyPixels) {
		t.Errorf("ожидалась ErrTooManyPixels, получено %v", err)
	}
}

func TestExtractor_NoEXIF(t *testing.T) {
	e := NewExtractor(testLogger())
	if e.Extract("a.png", makePNG(t, 10, 10)).IsPresent() {
		t.Error("PNG без EXIF: ожидалось absent")
	}
}

func TestExtractor_ParsesMake(t *testing.T) {
	e := NewExtractor(testLogger())
	data := withEXIF(t, makeJPEG(t, 16, 16), "Canon")

	meta := e.Extract("a.jpg", data)
	if !meta.IsPresent() {
		t.Fatal("ожидались разобранные метаданные")
	}
	if meta.Capture.CameraMake != "Canon" {
		t.Errorf("CameraMake: ожидалось Canon, получено %q", meta.Capture.CameraMake)
	}

	// EXIF не мешает декодированию
	if _, err := NewTransformer(300, 300, 0).Transform(data); err != nil {
		t.Errorf("Transform с EXIF: %v", err)
	}
}

func TestExtractor_BrokenEXIFIsNonFatal(t *testing.T) {
	e := NewExtractor(testLogger())
	data := append([]byte{0xFF, 0xD8, 0xFF, 0xE1, 0x00, 0x10}, []byte("Exif\x00\x00MM\x00*\xff\xff")...)

	if e.Extract("broken.jpg", data).IsPresent() {
		t.Error("битый EXIF: ожидалось absent")
	}
}
