package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики сервисного слоя.
var (
	uploadItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_upload_items_total",
		Help: "Количество обработанных элементов загрузки по итоговому статусу и коду ошибки.",
	}, []string{"status", "code"})

	uploadItemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mm_upload_item_duration_seconds",
		Help:    "Длительность обработки одного элемента загрузки в секундах.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_upload_compensations_total",
		Help: "Количество компенсирующих удалений blob-пар по причине.",
	}, []string{"reason"})

	assetViewsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_asset_views_total",
		Help: "Количество учтённых просмотров изображений.",
	})

	assetDeletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_asset_deletions_total",
		Help: "Количество удалённых изображений.",
	})

	blobCleanupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_blob_cleanup_failures_total",
		Help: "Количество неудачных удалений blob-ов (подберёт сборщик сирот).",
	})

	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_sweep_runs_total",
		Help: "Количество запусков сборщика сирот.",
	})

	sweepOrphansDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_sweep_orphans_deleted_total",
		Help: "Количество удалённых blob-пар без записи в каталоге.",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mm_sweep_duration_seconds",
		Help:    "Длительность запуска сборщика сирот в секундах.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)
