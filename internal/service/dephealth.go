// dephealth.go — мониторинг зависимостей через topologymetrics SDK.
//
// Зависимости Media Module:
//   - PostgreSQL (каталог) — pgcheck через *sql.DB поверх pgxpool, critical
//   - Identity Provider — HTTP GET к JWKS endpoint, critical
//
// Метрики app_dependency_* публикуются на /metrics.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для JWKS
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа (media-module)
	ServiceID string
	// Group — группа в метриках (MM_DEPHEALTH_GROUP)
	Group string
	// DB — пул каталога, обёрнутый stdlib.OpenDBFromPool
	DB *sql.DB
	// DatabaseURL — URL PostgreSQL для лейблов (без учётных данных)
	DatabaseURL string
	// JWKSURL — JWKS endpoint Identity Provider
	JWKSURL string
	// CheckInterval — интервал проверок (MM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// Registerer — nil означает глобальный Prometheus registry
	Registerer prometheus.Registerer
}

// DephealthService — сервис мониторинга зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	if cfg.DB == nil {
		return nil, errors.New("dephealth: не задан пул PostgreSQL")
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.DatabaseURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("idp-jwks",
			dephealth.FromURL(cfg.JWKSURL),
			dephealth.WithHTTPHealthPath(healthPathOf(cfg.JWKSURL)),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPathOf — путь проверки IdP: путь самого JWKS URL.
// У Keycloak /health доступен только на management-порту.
func healthPathOf(jwksURL string) string {
	if parsed, err := url.Parse(jwksURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/health"
}

// Start запускает периодические проверки.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (PostgreSQL + JWKS)")
	return ds.dh.Start(ctx)
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health — состояние зависимостей: имя → ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
