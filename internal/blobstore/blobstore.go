// Пакет blobstore — адаптер объектного хранилища для файлов тенантов.
// Клиент создаётся один раз при старте и разделяется всеми запросами.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/file-registry/internal/config"
)

// Store — операции с объектами, нужные реестру файлов.
type Store interface {
	// Put записывает объект по ключу key. size — точный размер тела.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Delete удаляет объект. Удаление отсутствующего объекта не ошибка.
	Delete(ctx context.Context, key string) error
	// PresignedGet возвращает подписанную ссылку на чтение. Подпись
	// вычисляется локально, без обращения к хранилищу.
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Client — Store с проверкой готовности для /health/ready.
type Client interface {
	Store
	// CheckReady проверяет доступность бакета. Возвращает ("ok"|"fail", сообщение).
	CheckReady() (status string, message string)
	// EnsureBucket создаёт бакет, если его нет.
	EnsureBucket(ctx context.Context) error
}

// readyTimeout — таймаут проверки готовности хранилища.
const readyTimeout = 3 * time.Second

// New создаёт клиента хранилища по FR_BLOB_BACKEND.
// При FR_BLOB_CREATE_BUCKET=true бакет создаётся, если отсутствует.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Client, error) {
	var (
		client Client
		err    error
	)

	switch cfg.BlobBackend {
	case config.BlobBackendMinIO:
		client, err = NewMinIO(cfg)
	case config.BlobBackendS3:
		client, err = NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", cfg.BlobBackend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.BlobCreateBucket {
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}

	logger.Info("Клиент объектного хранилища создан",
		slog.String("backend", cfg.BlobBackend),
		slog.String("endpoint", cfg.BlobEndpoint),
		slog.String("bucket", cfg.BlobBucket),
	)

	return client, nil
}
