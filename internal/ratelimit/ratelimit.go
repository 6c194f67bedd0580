// Пакет ratelimit — ограничение частоты запросов по ключу (пользователь или IP).
// Лимитер внедряется в HTTP-слой как зависимость: in-memory для одного
// экземпляра, Redis для нескольких реплик, noop — отключено.
package ratelimit

import (
	"context"
	"time"
)

// Result — решение лимитера по одному запросу.
type Result struct {
	// Allowed — запрос пропускается
	Allowed bool
	// Limit — максимальное число запросов в окне
	Limit int
	// Remaining — оценка оставшихся запросов в окне
	Remaining int
	// RetryAfter — через сколько повторить (только при Allowed == false)
	RetryAfter time.Duration
}

// Limiter — абстракция ограничителя частоты.
// Ошибка означает, что решение не принято (например, Redis недоступен);
// вызывающая сторона сама решает, пропускать ли запрос.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Noop — лимитер, пропускающий всё.
type Noop struct{}

// Allow всегда разрешает запрос.
func (Noop) Allow(context.Context, string) (Result, error) {
	return Result{Allowed: true}, nil
}
