package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// TenantRepository — справочник тенантов.
type TenantRepository interface {
	// GetByUsername возвращает тенанта по username или ErrNotFound.
	GetByUsername(ctx context.Context, username string) (*model.Tenant, error)
	// Create создаёт тенанта; ErrConflict, если username занят.
	Create(ctx context.Context, username string) (*model.Tenant, error)
	// List возвращает всех тенантов, упорядоченных по username.
	List(ctx context.Context) ([]*model.Tenant, error)
}

type tenantRepo struct {
	db DBTX
}

// NewTenantRepository создаёт репозиторий тенантов.
func NewTenantRepository(db DBTX) TenantRepository {
	return &tenantRepo{db: db}
}

func (r *tenantRepo) GetByUsername(ctx context.Context, username string) (*model.Tenant, error) {
	t := &model.Tenant{}
	err := r.db.QueryRow(ctx,
		`SELECT id, username, created_at FROM tenants WHERE username = $1`,
		username,
	).Scan(&t.ID, &t.Username, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения тенанта: %w", err)
	}
	return t, nil
}

func (r *tenantRepo) Create(ctx context.Context, username string) (*model.Tenant, error) {
	t := &model.Tenant{ID: uuid.NewString(), Username: username}
	err := r.db.QueryRow(ctx,
		`INSERT INTO tenants (id, username) VALUES ($1, $2) RETURNING created_at`,
		t.ID, t.Username,
	).Scan(&t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: тенант %q уже существует", ErrConflict, username)
		}
		return nil, fmt.Errorf("ошибка создания тенанта: %w", err)
	}
	return t, nil
}

func (r *tenantRepo) List(ctx context.Context) ([]*model.Tenant, error) {
	rows, err := r.db.Query(ctx, `SELECT id, username, created_at FROM tenants ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка тенантов: %w", err)
	}
	defer rows.Close()

	var result []*model.Tenant
	for rows.Next() {
		t := &model.Tenant{}
		if err := rows.Scan(&t.ID, &t.Username, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования тенанта: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
