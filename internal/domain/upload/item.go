// Пакет upload — элемент пакетной загрузки и его конечный автомат.
//
// Жизненный цикл элемента:
//
//	pending → uploading → completed
//	                    → error
//	pending → error (отклонён до начала обработки)
//
// completed и error — конечные состояния, возврата в pending нет:
// повтор — это новая загрузка.
package upload

import (
	"fmt"
	"io"
	"sync"
)

// Status — состояние элемента загрузки.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[Status]map[Status]bool{
	StatusPending:   {StatusUploading: true, StatusError: true},
	StatusUploading: {StatusCompleted: true, StatusError: true},
	StatusCompleted: {},
	StatusError:     {},
}

// TransitionError — недопустимый переход состояния элемента.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход элемента загрузки: %s → %s", e.From, e.To)
}

// Meta — объявленные клиентом метаданные элемента.
type Meta struct {
	Title   string   `json:"title"`
	Caption string   `json:"caption"`
	AltText string   `json:"alt_text"`
	License string   `json:"license"`
	Privacy string   `json:"privacy"`
	AlbumID string   `json:"album_id"`
	Tags    []string `json:"tags"`
}

// Merge возвращает общие метаданные с наложенными непустыми полями override.
func (m Meta) Merge(override Meta) Meta {
	out := m
	if override.Title != "" {
		out.Title = override.Title
	}
	if override.Caption != "" {
		out.Caption = override.Caption
	}
	if override.AltText != "" {
		out.AltText = override.AltText
	}
	if override.License != "" {
		out.License = override.License
	}
	if override.Privacy != "" {
		out.Privacy = override.Privacy
	}
	if override.AlbumID != "" {
		out.AlbumID = override.AlbumID
	}
	if len(override.Tags) > 0 {
		out.Tags = override.Tags
	}
	return out
}

// OpenFunc открывает содержимое элемента для чтения.
type OpenFunc func() (io.ReadCloser, error)

// Item — один файл пакетной загрузки. Живёт только в рамках запроса.
type Item struct {
	// Index — позиция в запросе (порядок результатов совпадает с ним)
	Index int
	// Filename — имя файла, объявленное клиентом
	Filename string
	// DeclaredType — Content-Type части multipart
	DeclaredType string
	// Size — объявленный размер в байтах
	Size int64
	// Meta — метаданные после слияния общих и персональных полей
	Meta Meta

	open OpenFunc

	mu      sync.Mutex
	status  Status
	assetID string
	err     error
}

// NewItem создаёт элемент в состоянии pending.
func NewItem(index int, filename, declaredType string, size int64, meta Meta, open OpenFunc) *Item {
	return &Item{
		Index:        index,
		Filename:     filename,
		DeclaredType: declaredType,
		Size:         size,
		Meta:         meta,
		open:         open,
		status:       StatusPending,
	}
}

// Open открывает содержимое элемента.
func (it *Item) Open() (io.ReadCloser, error) {
	if it.open == nil {
		return nil, fmt.Errorf("у элемента %d нет содержимого", it.Index)
	}
	return it.open()
}

// Status возвращает текущее состояние.
func (it *Item) Status() Status {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status
}

// Start переводит элемент в uploading.
func (it *Item) Start() error {
	return it.transition(StatusUploading, func() {})
}

// Complete переводит элемент в completed с id созданного изображения.
func (it *Item) Complete(assetID string) error {
	return it.transition(StatusCompleted, func() { it.assetID = assetID })
}

// Fail переводит элемент в error с причиной.
func (it *Item) Fail(cause error) error {
	return it.transition(StatusError, func() { it.err = cause })
}

// Outcome возвращает итог: id изображения для completed, ошибку для error.
func (it *Item) Outcome() (Status, string, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status, it.assetID, it.err
}

// IsTerminal — элемент в конечном состоянии.
func (it *Item) IsTerminal() bool {
	s := it.Status()
	return s == StatusCompleted || s == StatusError
}

func (it *Item) transition(to Status, apply func()) error {
	it.mu.Lock()
	defer it.mu.Unlock()

	if !validTransitions[it.status][to] {
		return &TransitionError{From: it.status, To: to}
	}
	apply()
	it.status = to
	return nil
}
