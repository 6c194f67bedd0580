package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/media-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/media-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/media-module/internal/config"
	"github.com/bigkaa/goartstore/media-module/internal/database"
	"github.com/bigkaa/goartstore/media-module/internal/ratelimit"
	"github.com/bigkaa/goartstore/media-module/internal/server"
	"github.com/bigkaa/goartstore/media-module/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API",
	RunE:  runServe,
}

// runServe поднимает модуль: миграции, каталог, хранилище, журнал,
// фоновые задачи и HTTP-сервер с graceful shutdown.
func runServe(_ *cobra.Command, _ []string) error {
	// 1. Конфигурация и логирование
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	logger.Info("Media Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("MM_DEPHEALTH_GROUP") == "" {
		logger.Warn("MM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 2. Миграции каталога
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return fmt.Errorf("ошибка миграций БД: %w", err)
	}

	// 3. PostgreSQL, хранилище blob-ов, WAL, сервис приёма
	ctx := context.Background()
	c, err := openCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	// 3.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(c.pool)
	defer pgDB.Close()

	// 4. Закрытие транзакций, прерванных предыдущим запуском
	if err := c.recoverJournal(ctx, logger); err != nil {
		return fmt.Errorf("ошибка восстановления WAL: %w", err)
	}

	// 5. Сервисы чтения и удаления
	assetSvc := service.NewAssetService(c.repo, c.store, logger)
	cleanupSvc := service.NewCleanupService(c.repo, c.store, c.journal, logger)

	// 6. Rate limiter
	var redisPinger handlers.Pinger
	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case config.RateLimitRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = client.Close() }()

		redisLimiter := ratelimit.NewRedis(client, cfg.RateLimitRequests, cfg.RateLimitWindow)
		limiter = redisLimiter
		redisPinger = redisLimiter
	case config.RateLimitNone:
		limiter = ratelimit.Noop{}
	default:
		limiter = ratelimit.NewMemory(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitMaxKeys)
	}
	logger.Info("Rate limiter настроен",
		slog.String("backend", cfg.RateLimitBackend),
		slog.Int("requests", cfg.RateLimitRequests),
		slog.Duration("window", cfg.RateLimitWindow),
	)

	// 7. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWKSUrl,
		cfg.JWKSCACert,
		cfg.JWTIssuer,
		cfg.RoleAdminGroups,
		cfg.RoleEditorGroups,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		return fmt.Errorf("ошибка инициализации JWT middleware: %w", err)
	}

	// 8. Сборщик сирот
	sweepSvc := service.NewSweepService(
		c.repo, c.store, c.journal,
		cfg.ReconcileInterval, cfg.OrphanGracePeriod,
		logger,
	)
	sweepSvc.Start(ctx)
	defer sweepSvc.Stop()

	// 9. topologymetrics
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "media-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		DatabaseURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWKSUrl,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("Ошибка инициализации topologymetrics", slog.String("error", err.Error()))
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		defer dephealthSvc.Stop()
	}

	// 10. HTTP handlers
	imagesHandler := handlers.NewImagesHandler(c.ingest, assetSvc, cleanupSvc, cfg.MaxRequestBytes(), logger)
	healthHandler := handlers.NewHealthHandler(c.pool, redisPinger, cfg.DataDir, cfg.WALDir)
	rateLimit := middleware.RateLimit(limiter, logger)

	// 11. HTTP-сервер
	srv := server.New(cfg, logger,
		func(r chi.Router) {
			healthHandler.Routes(r)
			r.Route("/api/v1/images", imagesHandler.Routes(jwtAuth, rateLimit))
		},
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	if err := srv.Run(); err != nil {
		return err
	}

	logger.Info("Media Module остановлен")
	return nil
}

