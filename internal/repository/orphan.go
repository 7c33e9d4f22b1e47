package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// OrphanRepository — журнал объектов хранилища, оставшихся без метаданных.
type OrphanRepository interface {
	// Record добавляет объект в журнал.
	Record(ctx context.Context, location, reason string) error
	// ListUnresolved возвращает до limit неразобранных записей, старые первыми.
	ListUnresolved(ctx context.Context, limit int) ([]*model.OrphanBlob, error)
	// MarkResolved закрывает запись.
	MarkResolved(ctx context.Context, id int64) error
	// IncrementAttempts увеличивает счётчик попыток и обновляет причину.
	IncrementAttempts(ctx context.Context, id int64, reason string) error
}

type orphanRepo struct {
	db DBTX
}

// NewOrphanRepository создаёт репозиторий осиротевших объектов.
func NewOrphanRepository(db DBTX) OrphanRepository {
	return &orphanRepo{db: db}
}

func (r *orphanRepo) Record(ctx context.Context, location, reason string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO orphan_blobs (location, reason) VALUES ($1, $2)`,
		location, reason,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи осиротевшего объекта: %w", err)
	}
	return nil
}

func (r *orphanRepo) ListUnresolved(ctx context.Context, limit int) ([]*model.OrphanBlob, error) {
	query, args, err := psql.
		Select("id", "location", "reason", "attempts", "created_at", "resolved_at").
		From("orphan_blobs").
		Where("resolved_at IS NULL").
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(max(limit, 0))). //nolint:gosec // неотрицательно
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса осиротевших объектов: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения осиротевших объектов: %w", err)
	}
	defer rows.Close()

	var result []*model.OrphanBlob
	for rows.Next() {
		o := &model.OrphanBlob{}
		if err := rows.Scan(&o.ID, &o.Location, &o.Reason, &o.Attempts, &o.CreatedAt, &o.ResolvedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования осиротевшего объекта: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (r *orphanRepo) MarkResolved(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orphan_blobs SET resolved_at = now() WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("ошибка закрытия осиротевшего объекта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orphanRepo) IncrementAttempts(ctx context.Context, id int64, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE orphan_blobs SET attempts = attempts + 1, reason = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("ошибка обновления осиротевшего объекта: %w", err)
	}
	return nil
}
