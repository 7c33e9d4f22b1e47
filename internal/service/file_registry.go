// file_registry.go — сервис файлового реестра.
// Загрузка (двухфазная запись с компенсацией) и мягкое удаление.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/bigkaa/goartstore/file-registry/internal/blobstore"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/repository"
)

// compensateTimeout — время на компенсирующее удаление после отказа фазы 2.
// Не зависит от контекста запроса: клиент мог уже отключиться.
const compensateTimeout = 10 * time.Second

// FilePolicy — параметры политики файлов из конфигурации.
type FilePolicy struct {
	// AssetFolder — корневая папка ключей объектов
	AssetFolder string
	// MaxFileSize — максимальный размер файла, байт
	MaxFileSize int64
	// FileTTL — срок жизни записи после загрузки
	FileTTL time.Duration
	// UploadTimeout — верхняя граница времени записи в хранилище
	UploadTimeout time.Duration
}

// UploadInput — параметры загрузки файла.
type UploadInput struct {
	// Reader — поток данных файла; nil — файл не передан
	Reader io.Reader
	// Size — размер файла (из заголовка multipart части)
	Size int64
	// Filename — имя файла, как его прислал клиент
	Filename string
	// ContentType — MIME-тип
	ContentType string
	// Resource — тип владеющего ресурса
	Resource string
	// ResourceID — идентификатор владеющего ресурса
	ResourceID string
}

// FileRegistryService — сервис файлового реестра.
type FileRegistryService struct {
	files   repository.FileRegistryRepository
	orphans repository.OrphanRepository
	store   blobstore.Store
	policy  FilePolicy
	logger  *slog.Logger
	now     func() time.Time
}

// NewFileRegistryService создаёт сервис файлового реестра.
func NewFileRegistryService(
	files repository.FileRegistryRepository,
	orphans repository.OrphanRepository,
	store blobstore.Store,
	policy FilePolicy,
	logger *slog.Logger,
) *FileRegistryService {
	return &FileRegistryService{
		files:   files,
		orphans: orphans,
		store:   store,
		policy:  policy,
		logger:  logger.With(slog.String("component", "file_registry_service")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upload загружает файл тенанта и регистрирует его.
//
// Поток:
//  1. Валидация (файл, размер, resource, resource_id) — до любых побочных эффектов
//  2. Вычисление ключа объекта: <asset folder>/<username>/<имя файла>
//  3. Блокировка ключа в PostgreSQL до коммита метаданных
//  4. Фаза 1: запись объекта в хранилище
//  5. Фаза 2: upsert записи в реестре
//
// При ошибке фазы 2 объект удаляется (компенсация) или попадает в журнал
// осиротевших, после чего возвращается ErrSaveFailed.
func (s *FileRegistryService) Upload(ctx context.Context, tenant *model.Tenant, in UploadInput) (*model.FileRecord, error) {
	// 1. Валидация
	name, err := s.validate(in)
	if err != nil {
		uploadsTotal.WithLabelValues(uploadResultInvalid).Inc()
		return nil, err
	}

	// 2. Детерминированный ключ объекта
	key := path.Join(s.policy.AssetFolder, tenant.Username, name)

	var (
		f        *model.FileRecord
		inserted bool
		stored   bool
	)

	// 3. Ключ общий для всех ресурсов с этим именем: запись объекта,
	// upsert и компенсация выполняются под одной блокировкой
	err = s.files.WithLocationLock(ctx, key, func(files repository.FileRegistryRepository) error {
		// 4. Фаза 1: запись в хранилище
		putCtx, cancel := context.WithTimeout(ctx, s.policy.UploadTimeout)
		err := s.store.Put(putCtx, key, in.Reader, in.Size, in.ContentType)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
		stored = true

		// 5. Фаза 2: upsert метаданных
		f, inserted, err = files.Upsert(ctx, repository.UpsertInput{
			TenantID:   tenant.ID,
			Name:       name,
			Resource:   in.Resource,
			ResourceID: in.ResourceID,
			Location:   key,
			ExpireAt:   s.now().Add(s.policy.FileTTL),
		})
		if err != nil {
			s.logSaveFailed(tenant, key, err)
			s.compensate(ctx, files, key, err)
			return fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrUploadFailed), !stored:
		// Объект в хранилище не записан: фаза 1 или блокировка ключа не удались
		if !errors.Is(err, ErrUploadFailed) {
			err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
		uploadsTotal.WithLabelValues(uploadResultUploadFailed).Inc()
		s.logger.Error("Ошибка записи объекта в хранилище",
			slog.String("tenant", tenant.Username),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, err
	case errors.Is(err, ErrSaveFailed):
		uploadsTotal.WithLabelValues(uploadResultSaveFailed).Inc()
		return nil, err
	default:
		// Коммит не прошёл после записи объекта: удалять его без блокировки
		// нельзя, ключ уходит на сверку
		uploadsTotal.WithLabelValues(uploadResultSaveFailed).Inc()
		s.logSaveFailed(tenant, key, err)
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
		defer cancel()
		s.recordOrphan(cctx, key, fmt.Sprintf("коммит метаданных: %v", err))
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	f.TenantUsername = tenant.Username
	uploadsTotal.WithLabelValues(uploadResultOK).Inc()

	s.logger.Info("Файл загружен",
		slog.String("file_id", f.ID),
		slog.String("tenant", tenant.Username),
		slog.String("resource", f.Resource),
		slog.String("resource_id", f.ResourceID),
		slog.String("key", key),
		slog.Bool("inserted", inserted),
	)

	return f, nil
}

func (s *FileRegistryService) logSaveFailed(tenant *model.Tenant, key string, err error) {
	s.logger.Error("Ошибка сохранения метаданных файла",
		slog.String("tenant", tenant.Username),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// validate проверяет входные данные в фиксированном порядке: первая
// ошибка побеждает. Возвращает имя файла без каталогов.
func (s *FileRegistryService) validate(in UploadInput) (string, error) {
	if in.Reader == nil || in.Filename == "" {
		return "", newValidationError(ErrInvalidFile, "No file was submitted.")
	}

	name := path.Base(in.Filename)
	if in.Size <= 0 || name == "." || name == "/" || name == ".." {
		return "", newValidationError(ErrInvalidFile, "Invalid file")
	}

	if in.Size > s.policy.MaxFileSize {
		return "", newValidationError(ErrFileTooLarge,
			fmt.Sprintf("File size exceeds the maximum allowed size of %d bytes", s.policy.MaxFileSize))
	}

	if in.Resource == "" {
		return "", newValidationError(ErrMissingResource, "No resource found")
	}

	if in.ResourceID == "" {
		return "", newValidationError(ErrMissingResourceID, "No resource id found")
	}

	return name, nil
}

// compensate удаляет объект, записанный в фазе 1, если на него не ссылается
// другая активная запись. Вызывается под блокировкой ключа, files — в её
// транзакции. Если проверку или удаление выполнить не удалось, ключ пишется
// в журнал осиротевших. Ошибки компенсации только логируются.
func (s *FileRegistryService) compensate(ctx context.Context, files repository.FileRegistryRepository, key string, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	referenced, err := files.IsLocationReferenced(cctx, key)
	if err != nil {
		s.recordOrphan(cctx, key, fmt.Sprintf("проверка ссылок: %v; исходная ошибка: %v", err, cause))
		return
	}
	if referenced {
		// Ключ детерминирован: объект уже перезаписан и принадлежит живой записи
		s.logger.Warn("Компенсация пропущена: объект используется другой записью",
			slog.String("key", key),
		)
		return
	}

	if err := s.store.Delete(cctx, key); err != nil {
		s.recordOrphan(cctx, key, fmt.Sprintf("удаление объекта: %v; исходная ошибка: %v", err, cause))
		return
	}

	s.logger.Info("Компенсация выполнена: объект удалён", slog.String("key", key))
}

// recordOrphan пишет ключ в журнал осиротевших объектов.
func (s *FileRegistryService) recordOrphan(ctx context.Context, key, reason string) {
	orphanedBlobsTotal.Inc()

	if err := s.orphans.Record(ctx, key, reason); err != nil {
		s.logger.Error("Не удалось записать осиротевший объект",
			slog.String("key", key),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Warn("Объект записан в журнал осиротевших",
		slog.String("key", key),
		slog.String("reason", reason),
	)
}

// SoftDelete помечает удалёнными все активные записи тенанта для ресурса.
// Хранилище не затрагивается. 0 затронутых строк — успешный результат.
func (s *FileRegistryService) SoftDelete(ctx context.Context, tenant *model.Tenant, resource, resourceID string) (int, error) {
	n, err := s.files.SoftDelete(ctx, tenant.ID, resource, resourceID)
	if err != nil {
		return 0, fmt.Errorf("мягкое удаление файлов: %w", err)
	}

	softDeletedFilesTotal.Add(float64(n))

	s.logger.Info("Файлы помечены как удалённые",
		slog.String("tenant", tenant.Username),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.Int("deleted", n),
	)

	return n, nil
}
