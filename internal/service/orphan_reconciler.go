// orphan_reconciler.go — фоновая сверка осиротевших объектов хранилища.
//
// Компенсация при неудачной загрузке не повторяется в запросе: если удалить
// объект не вышло, ключ попадает в orphan_blobs. Сверка по cron-расписанию
// забирает пачку неразобранных записей и для каждой:
//   - оставляет объект, если на него снова ссылается активная запись;
//   - иначе удаляет объект;
//   - при ошибке увеличивает attempts и оставляет запись до следующего прохода.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bigkaa/goartstore/file-registry/internal/blobstore"
	"github.com/bigkaa/goartstore/file-registry/internal/repository"
)

// reconcileTimeout — верхняя граница одного прохода сверки.
const reconcileTimeout = 5 * time.Minute

// ReconcileResult — итог одного прохода.
type ReconcileResult struct {
	// Deleted — объекты удалены
	Deleted int
	// Kept — объекты оставлены, так как используются
	Kept int
	// Failed — ошибки, записи остались неразобранными
	Failed int
}

// OrphanReconciler — сервис сверки осиротевших объектов.
type OrphanReconciler struct {
	orphans   repository.OrphanRepository
	files     repository.FileRegistryRepository
	store     blobstore.Store
	batchSize int
	logger    *slog.Logger

	mu   sync.Mutex // защита от параллельного RunOnce
	cron *cron.Cron
}

// NewOrphanReconciler создаёт сервис сверки.
func NewOrphanReconciler(
	orphans repository.OrphanRepository,
	files repository.FileRegistryRepository,
	store blobstore.Store,
	batchSize int,
	logger *slog.Logger,
) *OrphanReconciler {
	return &OrphanReconciler{
		orphans:   orphans,
		files:     files,
		store:     store,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "orphan_reconciler")),
	}
}

// Start регистрирует проход сверки по cron-расписанию (например, "@every 10m")
// и запускает планировщик.
func (r *OrphanReconciler) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Ошибка сверки осиротевших объектов", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("некорректное расписание %q: %w", schedule, err)
	}

	r.cron = c
	c.Start()

	r.logger.Info("Сверка осиротевших объектов запущена", slog.String("schedule", schedule))
	return nil
}

// Stop останавливает планировщик и дожидается текущего прохода.
func (r *OrphanReconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.logger.Info("Сверка осиротевших объектов остановлена")
}

// RunOnce выполняет один проход по пачке неразобранных записей.
func (r *OrphanReconciler) RunOnce(ctx context.Context) (*ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.orphans.ListUnresolved(ctx, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("получение осиротевших объектов: %w", err)
	}

	result := &ReconcileResult{}
	for _, o := range pending {
		referenced, err := r.reconcile(ctx, o.Location)
		if err != nil {
			r.fail(ctx, o.ID, o.Location, err.Error())
			result.Failed++
			continue
		}

		if err := r.orphans.MarkResolved(ctx, o.ID); err != nil {
			r.fail(ctx, o.ID, o.Location, fmt.Sprintf("закрытие записи: %v", err))
			result.Failed++
			continue
		}

		if referenced {
			result.Kept++
			orphanReconciledTotal.WithLabelValues("kept").Inc()
		} else {
			result.Deleted++
			orphanReconciledTotal.WithLabelValues("deleted").Inc()
		}
	}

	if len(pending) > 0 {
		r.logger.Info("Проход сверки осиротевших объектов завершён",
			slog.Int("total", len(pending)),
			slog.Int("deleted", result.Deleted),
			slog.Int("kept", result.Kept),
			slog.Int("failed", result.Failed),
		)
	}

	return result, nil
}

// reconcile под блокировкой ключа проверяет ссылки и удаляет объект,
// если он никому не нужен. Возвращает признак того, что объект оставлен.
func (r *OrphanReconciler) reconcile(ctx context.Context, location string) (bool, error) {
	var referenced bool
	err := r.files.WithLocationLock(ctx, location, func(files repository.FileRegistryRepository) error {
		var err error
		referenced, err = files.IsLocationReferenced(ctx, location)
		if err != nil {
			return fmt.Errorf("проверка ссылок: %w", err)
		}
		if referenced {
			return nil
		}
		if err := r.store.Delete(ctx, location); err != nil {
			return fmt.Errorf("удаление объекта: %w", err)
		}
		return nil
	})
	return referenced, err
}

// fail увеличивает attempts записи; ошибка обновления только логируется.
func (r *OrphanReconciler) fail(ctx context.Context, id int64, location, reason string) {
	orphanReconciledTotal.WithLabelValues("failed").Inc()
	r.logger.Warn("Не удалось разобрать осиротевший объект",
		slog.Int64("id", id),
		slog.String("key", location),
		slog.String("reason", reason),
	)
	if err := r.orphans.IncrementAttempts(ctx, id, reason); err != nil {
		r.logger.Error("Ошибка обновления счётчика попыток",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
	}
}
