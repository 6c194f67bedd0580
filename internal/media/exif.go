package media

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// exifMarker — заголовок EXIF-блока в сегменте APP1.
var exifMarker = []byte("Exif\x00\x00")

// exifScanLimit — EXIF располагается в начале файла, дальше не ищем.
const exifScanLimit = 128 * 1024

// Extractor извлекает метаданные съёмки. Ошибки разбора никогда не
// прерывают обработку: результат — AbsentMetadata и предупреждение в лог.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor создаёт Extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger.With(slog.String("component", "exif"))}
}

// Extract разбирает EXIF из содержимого файла.
func (e *Extractor) Extract(filename string, data []byte) (meta model.CapturedMetadata) {
	if !hasEXIF(data) {
		return model.AbsentMetadata()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Паника при разборе EXIF, метаданные пропущены",
				slog.String("filename", filename),
				slog.String("panic", fmt.Sprint(r)),
			)
			meta = model.AbsentMetadata()
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		e.logger.Warn("Не удалось разобрать EXIF, метаданные пропущены",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		return model.AbsentMetadata()
	}

	capture := captureFrom(x)
	if capture == (model.Capture{}) {
		return model.AbsentMetadata()
	}
	return model.ParsedMetadata(capture)
}

func hasEXIF(data []byte) bool {
	head := data
	if len(head) > exifScanLimit {
		head = head[:exifScanLimit]
	}
	return bytes.Contains(head, exifMarker)
}

// captureFrom собирает известные поля; отсутствующие теги пропускаются.
func captureFrom(x *exif.Exif) model.Capture {
	var c model.Capture

	c.CameraMake = stringTag(x, exif.Make)
	c.CameraModel = stringTag(x, exif.Model)
	c.LensModel = stringTag(x, exif.LensModel)

	if t, err := x.DateTime(); err == nil && !t.IsZero() {
		taken := t.UTC()
		c.TakenAt = &taken
	}
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		if r, err := tag.Rat(0); err == nil {
			c.ExposureTime = r.RatString()
		}
	}
	c.FNumber = ratTag(x, exif.FNumber)
	c.FocalLength = ratTag(x, exif.FocalLength)
	c.ISO = intTag(x, exif.ISOSpeedRatings)
	c.Orientation = intTag(x, exif.Orientation)

	if lat, long, err := x.LatLong(); err == nil {
		c.Location = &model.GeoPoint{Latitude: lat, Longitude: long}
	}
	return c
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil || tag.Format() != tiff.StringVal {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func ratTag(x *exif.Exif, name exif.FieldName) float64 {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	r, err := tag.Rat(0)
	if err != nil {
		return 0
	}
	f, _ := r.Float64()
	return f
}

func intTag(x *exif.Exif, name exif.FieldName) int {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	n, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return n
}
