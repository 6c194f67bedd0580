// ratelimit.go — ограничение частоты запросов к /api/v1.
// Ключ — sub аутентифицированного вызывающего либо IP клиента,
// поэтому middleware ставится после JWTAuth.
package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/goartstore/media-module/internal/api/errors"
	"github.com/bigkaa/goartstore/media-module/internal/ratelimit"
)

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mm_http_rate_limited_total",
	Help: "Количество запросов, отклонённых rate limiter",
})

// RateLimit возвращает middleware ограничения частоты.
// Ошибка лимитера (например, недоступен Redis) не блокирует запрос.
func RateLimit(limiter ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "rate_limit"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				log.Warn("Rate limiter недоступен, запрос пропущен",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))
			}
			if !res.Allowed {
				rateLimitedTotal.Inc()
				seconds := int(math.Ceil(res.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
				apierrors.RateLimited(w, "Слишком много запросов, повторите позже")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if caller := CallerFromContext(r.Context()); caller.Authenticated() {
		return "user:" + caller.UserID
	}
	return "ip:" + clientIP(r)
}

// clientIP — адрес TCP-соединения. X-Forwarded-For не учитывается:
// заголовок подделывается клиентом, а реальный адрес за прокси
// выставляет chi middleware.RealIP, если он подключён.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
