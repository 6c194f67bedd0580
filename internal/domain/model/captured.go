package model

import (
	"encoding/json"
	"time"
)

// MetadataStatus — состояние извлечения метаданных съёмки.
type MetadataStatus string

const (
	// MetadataAbsent — метаданных нет или их не удалось разобрать.
	MetadataAbsent MetadataStatus = "absent"
	// MetadataParsed — метаданные успешно извлечены.
	MetadataParsed MetadataStatus = "parsed"
)

// GeoPoint — координаты съёмки.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Capture — разобранные EXIF-поля. Любое поле может быть пустым.
type Capture struct {
	CameraMake   string     `json:"camera_make,omitempty"`
	CameraModel  string     `json:"camera_model,omitempty"`
	LensModel    string     `json:"lens_model,omitempty"`
	TakenAt      *time.Time `json:"taken_at,omitempty"`
	ExposureTime string     `json:"exposure_time,omitempty"`
	FNumber      float64    `json:"f_number,omitempty"`
	ISO          int        `json:"iso,omitempty"`
	FocalLength  float64    `json:"focal_length_mm,omitempty"`
	Orientation  int        `json:"orientation,omitempty"`
	Location     *GeoPoint  `json:"location,omitempty"`
}

// CapturedMetadata — необязательные метаданные съёмки с явным
// вариантом «отсутствуют». Capture != nil только при Status == MetadataParsed.
type CapturedMetadata struct {
	Status  MetadataStatus `json:"status"`
	Capture *Capture       `json:"capture,omitempty"`
}

// AbsentMetadata — вариант «метаданные отсутствуют».
func AbsentMetadata() CapturedMetadata {
	return CapturedMetadata{Status: MetadataAbsent}
}

// ParsedMetadata — вариант с разобранными метаданными.
func ParsedMetadata(c Capture) CapturedMetadata {
	return CapturedMetadata{Status: MetadataParsed, Capture: &c}
}

// IsPresent сообщает, есть ли разобранные метаданные.
func (m CapturedMetadata) IsPresent() bool {
	return m.Status == MetadataParsed && m.Capture != nil
}

// MarshalColumn сериализует метаданные для JSONB-колонки.
// Отсутствующие метаданные хранятся как NULL.
func (m CapturedMetadata) MarshalColumn() ([]byte, error) {
	if !m.IsPresent() {
		return nil, nil
	}
	return json.Marshal(m.Capture)
}

// CapturedFromColumn восстанавливает метаданные из JSONB-колонки.
// NULL и нечитаемое содержимое дают AbsentMetadata.
func CapturedFromColumn(data []byte) CapturedMetadata {
	if len(data) == 0 {
		return AbsentMetadata()
	}
	var c Capture
	if err := json.Unmarshal(data, &c); err != nil {
		return AbsentMetadata()
	}
	return ParsedMetadata(c)
}
