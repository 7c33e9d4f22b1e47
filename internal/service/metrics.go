// metrics.go — Prometheus-метрики сервисного слоя.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения лейбла result для fr_uploads_total.
const (
	uploadResultOK           = "ok"
	uploadResultInvalid      = "invalid"
	uploadResultUploadFailed = "upload_failed"
	uploadResultSaveFailed   = "save_failed"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fr_uploads_total",
		Help: "Количество загрузок файлов по результату.",
	}, []string{"result"})

	orphanedBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fr_orphaned_blobs_total",
		Help: "Количество объектов, записанных в журнал осиротевших после неудачной компенсации.",
	})

	softDeletedFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fr_soft_deleted_files_total",
		Help: "Количество мягко удалённых записей файлов.",
	})

	tenantCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fr_tenant_cache_hits_total",
		Help: "Попадания в кэш справочника тенантов.",
	})

	tenantCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fr_tenant_cache_misses_total",
		Help: "Промахи кэша справочника тенантов.",
	})

	orphanReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fr_orphan_reconciled_total",
		Help: "Результаты сверки осиротевших объектов (deleted, kept, failed).",
	}, []string{"result"})
)
