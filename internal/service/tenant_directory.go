// tenant_directory.go — справочник тенантов с LRU-кэшем.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/repository"
)

// TenantDirectory разрешает username из токена в тенанта.
// Найденные тенанты кэшируются на ttl; отсутствующие не кэшируются,
// чтобы только что созданный тенант сразу получил доступ.
type TenantDirectory struct {
	repo   repository.TenantRepository
	cache  *expirable.LRU[string, *model.Tenant]
	logger *slog.Logger
}

// NewTenantDirectory создаёт справочник с кэшем на maxSize записей.
func NewTenantDirectory(repo repository.TenantRepository, maxSize int, ttl time.Duration, logger *slog.Logger) *TenantDirectory {
	return &TenantDirectory{
		repo:   repo,
		cache:  expirable.NewLRU[string, *model.Tenant](maxSize, nil, ttl),
		logger: logger.With(slog.String("component", "tenant_directory")),
	}
}

// Resolve возвращает тенанта по username или ErrTenantNotFound.
func (d *TenantDirectory) Resolve(ctx context.Context, username string) (*model.Tenant, error) {
	if t, ok := d.cache.Get(username); ok {
		tenantCacheHitsTotal.Inc()
		return t, nil
	}
	tenantCacheMissesTotal.Inc()

	t, err := d.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			d.logger.Debug("Тенант не найден", slog.String("username", username))
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, username)
		}
		return nil, fmt.Errorf("получение тенанта: %w", err)
	}

	d.cache.Add(username, t)
	return t, nil
}
