// Пакет config — загрузка и валидация конфигурации Media Module
// из переменных окружения (префикс MM_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды rate limiter.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
	RateLimitNone   = "none"
)

// Config содержит все параметры конфигурации Media Module.
type Config struct {
	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL (каталог) ---
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Хранилище blob-ов ---

	// DataDir — корневая директория оригиналов и миниатюр
	DataDir string
	// WALDir — директория журнала загрузок (по умолчанию DataDir/.wal)
	WALDir string

	// --- Политика приёма ---

	// MaxFileSize — максимальный размер одного файла в байтах
	MaxFileSize int64
	// MaxBatchSize — максимальное количество файлов в одном запросе
	MaxBatchSize int
	// MaxPixels — максимальное количество пикселей декодируемого изображения
	MaxPixels int
	// ThumbnailMaxWidth, ThumbnailMaxHeight — рамка миниатюры
	ThumbnailMaxWidth  int
	ThumbnailMaxHeight int
	// UploadWorkers — размер пула обработки файлов пакета
	UploadWorkers int

	// --- Аутентификация ---

	// JWKSUrl — URL JWKS endpoint Identity Provider
	JWKSUrl string
	// JWKSCACert — путь к CA-сертификату для TLS JWKS endpoint (опционально)
	JWKSCACert string
	// JWTIssuer — ожидаемый issuer (опционально)
	JWTIssuer string
	// RoleAdminGroups, RoleEditorGroups — группы IdP, дающие роли admin/editor
	RoleAdminGroups  []string
	RoleEditorGroups []string
	// JWKSClientTimeout — таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// JWKSRefreshInterval — интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// JWTLeeway — допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Rate limiting ---

	// RateLimitBackend — memory, redis или none
	RateLimitBackend string
	// RateLimitRequests — количество запросов в окне
	RateLimitRequests int
	// RateLimitWindow — длительность окна
	RateLimitWindow time.Duration
	// RateLimitMaxKeys — ёмкость LRU ключей для memory-бэкенда
	RateLimitMaxKeys int
	// RedisAddr, RedisPassword, RedisDB — подключение к Redis (backend=redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// --- Фоновые задачи ---

	// ReconcileInterval — интервал поиска осиротевших blob-ов
	ReconcileInterval time.Duration
	// OrphanGracePeriod — минимальный возраст blob-а для удаления сиротой
	OrphanGracePeriod time.Duration

	// --- topologymetrics ---

	DephealthCheckInterval time.Duration
	DephealthGroup         string

	// --- HTTP-сервер ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// ShutdownTimeout — таймаут graceful shutdown
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// MM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("MM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("MM_PORT: %w", err)
	}
	if cfg.Port < 8040 || cfg.Port > 8049 {
		return nil, fmt.Errorf("MM_PORT: значение %d вне допустимого диапазона 8040-8049", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MM_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("MM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// PostgreSQL
	if cfg.DBHost, err = getEnvRequired("MM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("MM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("MM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("MM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("MM_DB_USER"); err != nil {
		return nil, err
	}
	cfg.DBPassword = os.Getenv("MM_DB_PASSWORD")
	cfg.DBSSLMode = getEnvDefault("MM_DB_SSL_MODE", "disable")

	// Хранилище
	if cfg.DataDir, err = getEnvRequired("MM_DATA_DIR"); err != nil {
		return nil, err
	}
	cfg.WALDir = getEnvDefault("MM_WAL_DIR", strings.TrimRight(cfg.DataDir, "/")+"/.wal")

	// Политика приёма
	cfg.MaxFileSize, err = getEnvInt64("MM_MAX_FILE_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("MM_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("MM_MAX_FILE_SIZE: значение должно быть положительным")
	}
	if cfg.MaxBatchSize, err = getEnvPositiveInt("MM_MAX_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.MaxPixels, err = getEnvPositiveInt("MM_MAX_PIXELS", 40_000_000); err != nil {
		return nil, err
	}
	if cfg.ThumbnailMaxWidth, err = getEnvPositiveInt("MM_THUMBNAIL_MAX_WIDTH", 300); err != nil {
		return nil, err
	}
	if cfg.ThumbnailMaxHeight, err = getEnvPositiveInt("MM_THUMBNAIL_MAX_HEIGHT", 300); err != nil {
		return nil, err
	}
	// MM_UPLOAD_WORKERS — по умолчанию по числу CPU (декодирование CPU-bound)
	if cfg.UploadWorkers, err = getEnvPositiveInt("MM_UPLOAD_WORKERS", runtime.NumCPU()); err != nil {
		return nil, err
	}

	// Аутентификация
	if cfg.JWKSUrl, err = getEnvRequired("MM_JWKS_URL"); err != nil {
		return nil, err
	}
	if _, parseErr := url.ParseRequestURI(cfg.JWKSUrl); parseErr != nil {
		return nil, fmt.Errorf("MM_JWKS_URL: некорректный URL %q", cfg.JWKSUrl)
	}
	cfg.JWKSCACert = os.Getenv("MM_JWKS_CA_CERT")
	cfg.JWTIssuer = os.Getenv("MM_JWT_ISSUER")
	cfg.RoleAdminGroups = getEnvList("MM_ROLE_ADMIN_GROUPS", []string{"gallery-admins"})
	cfg.RoleEditorGroups = getEnvList("MM_ROLE_EDITOR_GROUPS", []string{"gallery-editors"})
	if cfg.JWKSClientTimeout, err = getEnvDuration("MM_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("MM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("MM_JWKS_REFRESH_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("MM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("MM_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("MM_JWT_LEEWAY: %w", err)
	}

	// Rate limiting
	cfg.RateLimitBackend = getEnvDefault("MM_RATE_LIMIT_BACKEND", RateLimitMemory)
	switch cfg.RateLimitBackend {
	case RateLimitMemory, RateLimitRedis, RateLimitNone:
	default:
		return nil, fmt.Errorf("MM_RATE_LIMIT_BACKEND: недопустимое значение %q, допустимые: memory, redis, none",
			cfg.RateLimitBackend)
	}
	if cfg.RateLimitRequests, err = getEnvPositiveInt("MM_RATE_LIMIT_REQUESTS", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getEnvDuration("MM_RATE_LIMIT_WINDOW", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("MM_RATE_LIMIT_WINDOW: %w", err)
	}
	if cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("MM_RATE_LIMIT_WINDOW: значение должно быть положительным")
	}
	if cfg.RateLimitMaxKeys, err = getEnvPositiveInt("MM_RATE_LIMIT_MAX_KEYS", 10000); err != nil {
		return nil, err
	}
	cfg.RedisAddr = os.Getenv("MM_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("MM_REDIS_PASSWORD")
	if cfg.RedisDB, err = getEnvInt("MM_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("MM_REDIS_DB: %w", err)
	}
	if cfg.RateLimitBackend == RateLimitRedis && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("MM_REDIS_ADDR: обязателен при MM_RATE_LIMIT_BACKEND=redis")
	}

	// Фоновые задачи
	if cfg.ReconcileInterval, err = getEnvDuration("MM_RECONCILE_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("MM_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.OrphanGracePeriod, err = getEnvDuration("MM_ORPHAN_GRACE_PERIOD", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("MM_ORPHAN_GRACE_PERIOD: %w", err)
	}

	// topologymetrics
	if cfg.DephealthCheckInterval, err = getEnvDuration("MM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("MM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("MM_DEPHEALTH_GROUP", "goartstore")

	// HTTP-сервер
	if cfg.HTTPReadTimeout, err = getEnvDuration("MM_HTTP_READ_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("MM_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("MM_HTTP_WRITE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("MM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("MM_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("MM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("MM_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("MM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для меток topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgresql://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MaxRequestBytes — верхняя граница тела запроса загрузки:
// полный пакет максимального размера плюс запас на поля формы.
func (c *Config) MaxRequestBytes() int64 {
	return c.MaxFileSize*int64(c.MaxBatchSize) + 1<<20
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("service", "media-module"))
	slog.SetDefault(logger)
	return logger
}

// getEnvRequired возвращает значение обязательной переменной окружения.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvPositiveInt — getEnvInt с проверкой n > 0. Ошибка уже содержит имя переменной.
func getEnvPositiveInt(key string, defaultVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %d", key, n)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration значение переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvList разбирает список через запятую. Пустые элементы отбрасываются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
