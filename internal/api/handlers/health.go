// health.go — health endpoints Media Module.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL, запись в хранилище и WAL, Redis)
// /metrics — Prometheus метрики
package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/media-module/internal/config"
)

// Статусы проверок.
const (
	statusOK   = "ok"
	statusFail = "fail"
)

// readinessTimeout — предел одной проверки готовности.
const readinessTimeout = 3 * time.Second

// Pinger — зависимость, доступность которой проверяется ping-запросом
// (pgxpool.Pool, ratelimit.Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	db          Pinger
	redis       Pinger
	dataDir     string
	walDir      string
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// redis — nil, если распределённый rate limiter не используется.
func NewHealthHandler(db Pinger, redis Pinger, dataDir, walDir string) *HealthHandler {
	return &HealthHandler{
		db:          db,
		redis:       redis,
		dataDir:     dataDir,
		walDir:      walDir,
		promHandler: promhttp.Handler(),
	}
}

// Routes регистрирует health endpoints и /metrics.
func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Get("/metrics", h.GetMetrics)
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200, если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "media-module",
	})
}

// HealthReady — readiness probe. 200, если все проверки ok, иначе 503.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]healthCheckResult{
		"postgresql": pingCheck(ctx, h.db),
		"data_dir":   writableCheck(h.dataDir),
		"wal_dir":    writableCheck(h.walDir),
	}
	if h.redis != nil {
		checks["redis"] = pingCheck(ctx, h.redis)
	}

	resp := healthReadyResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "media-module",
		Checks:    checks,
	}
	status := http.StatusOK
	for _, c := range checks {
		if c.Status == statusFail {
			resp.Status = statusFail
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func pingCheck(ctx context.Context, p Pinger) healthCheckResult {
	if p == nil {
		return healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}
	if err := p.Ping(ctx); err != nil {
		return healthCheckResult{Status: statusFail, Message: err.Error()}
	}
	return healthCheckResult{Status: statusOK}
}

// writableCheck создаёт и удаляет пробный файл в директории.
func writableCheck(dir string) healthCheckResult {
	f, err := os.CreateTemp(dir, ".ready-*")
	if err != nil {
		return healthCheckResult{Status: statusFail, Message: "директория недоступна для записи: " + err.Error()}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(filepath.Clean(name))
	return healthCheckResult{Status: statusOK}
}
