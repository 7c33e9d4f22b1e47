package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// fileColumns — столбцы таблицы files для RETURNING и SELECT без join.
const fileColumns = `id, tenant_id, name, resource, resource_id, location,
	expire_at, is_public, delete_flg, created_at, updated_at`

// listColumns — те же столбцы с алиасом f плюс username владельца.
var listColumns = []string{
	"f.id", "f.tenant_id", "t.username", "f.name", "f.resource", "f.resource_id",
	"f.location", "f.expire_at", "f.is_public", "f.delete_flg", "f.created_at", "f.updated_at",
}

// FileRegistryRepository — доступ к таблице files.
type FileRegistryRepository interface {
	// Upsert создаёт активную запись для кортежа (tenant, name, resource, resource_id)
	// или обновляет location и expire_at существующей. Возвращает запись
	// и признак вставки.
	Upsert(ctx context.Context, in UpsertInput) (*model.FileRecord, bool, error)
	// SoftDelete помечает удалёнными активные записи тенанта для ресурса.
	// Возвращает количество затронутых строк; 0 — не ошибка.
	SoftDelete(ctx context.Context, tenantID, resource, resourceID string) (int, error)
	// List возвращает живые видимые запросившему записи, упорядоченные по name, id.
	List(ctx context.Context, filter FileListFilter, limit, offset int) ([]*model.FileRecord, error)
	// Count возвращает число записей, подходящих под фильтр.
	Count(ctx context.Context, filter FileListFilter) (int, error)
	// IsLocationReferenced сообщает, ссылается ли на ключ хотя бы одна неудалённая запись.
	IsLocationReferenced(ctx context.Context, location string) (bool, error)
	// WithLocationLock выполняет fn под транзакционной блокировкой ключа объекта.
	// files внутри fn работает в той же транзакции; Upsert в ней —
	// точка сохранения. Блокировка снимается при завершении транзакции.
	WithLocationLock(ctx context.Context, location string, fn func(files FileRegistryRepository) error) error
}

// UpsertInput — данные для Upsert.
type UpsertInput struct {
	TenantID   string
	Name       string
	Resource   string
	ResourceID string
	Location   string
	ExpireAt   time.Time
}

// FileListFilter — фильтр выборки файлов.
// RequesterID и Now задают базовые правила видимости и живости,
// указатели — необязательные равенства (nil = фильтр не применяется).
type FileListFilter struct {
	// RequesterID — UUID запросившего тенанта
	RequesterID string
	// Now — момент, относительно которого проверяется expire_at
	Now time.Time
	// TenantUsername — фильтр по username владельца
	TenantUsername *string
	// Resource — фильтр по типу ресурса
	Resource *string
	// ResourceID — фильтр по идентификатору ресурса (сравнение строк)
	ResourceID *string
}

// fileRegistryRepo — реализация FileRegistryRepository через pgx.
type fileRegistryRepo struct {
	db DBTX
	tx *TxRunner
}

// NewFileRegistryRepository создаёт репозиторий файлового реестра.
// Upsert и SoftDelete выполняются в отдельных транзакциях через tx.
func NewFileRegistryRepository(db DBTX, tx *TxRunner) FileRegistryRepository {
	return &fileRegistryRepo{db: db, tx: tx}
}

// Upsert — явная последовательность «select for update, иначе insert».
// Частичный уникальный индекс ux_files_active_tuple защищает от гонки двух
// вставок: проигравшая транзакция дожидается коммита и уходит в DO UPDATE.
func (r *fileRegistryRepo) Upsert(ctx context.Context, in UpsertInput) (*model.FileRecord, bool, error) {
	var (
		f        *model.FileRecord
		inserted bool
	)

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		// 1. Блокируем активную запись кортежа, если она есть
		var existingID string
		err := tx.QueryRow(ctx, `
			SELECT id FROM files
			WHERE tenant_id = $1 AND name = $2 AND resource = $3 AND resource_id = $4
				AND NOT delete_flg
			FOR UPDATE`,
			in.TenantID, in.Name, in.Resource, in.ResourceID,
		).Scan(&existingID)

		switch {
		case err == nil:
			// 2a. Обновляем найденную запись
			f, err = scanFile(tx.QueryRow(ctx, fmt.Sprintf(`
				UPDATE files SET location = $2, expire_at = $3
				WHERE id = $1
				RETURNING %s`, fileColumns),
				existingID, in.Location, in.ExpireAt,
			))
			if err != nil {
				return fmt.Errorf("ошибка обновления файла: %w", err)
			}
			return nil

		case errors.Is(err, pgx.ErrNoRows):
			// 2b. Вставляем новую запись
			row := tx.QueryRow(ctx, fmt.Sprintf(`
				INSERT INTO files (id, tenant_id, name, resource, resource_id, location, expire_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (tenant_id, name, resource, resource_id) WHERE NOT delete_flg
				DO UPDATE SET location = EXCLUDED.location, expire_at = EXCLUDED.expire_at
				RETURNING %s, (xmax = 0) AS is_insert`, fileColumns),
				uuid.NewString(), in.TenantID, in.Name, in.Resource, in.ResourceID,
				in.Location, in.ExpireAt,
			)
			f = &model.FileRecord{}
			if err := row.Scan(
				&f.ID, &f.TenantID, &f.Name, &f.Resource, &f.ResourceID, &f.Location,
				&f.ExpireAt, &f.IsPublic, &f.DeleteFlg, &f.CreatedAt, &f.UpdatedAt, &inserted,
			); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: активная запись уже существует", ErrConflict)
				}
				return fmt.Errorf("ошибка вставки файла: %w", err)
			}
			return nil

		default:
			return fmt.Errorf("ошибка блокировки записи файла: %w", err)
		}
	})
	if err != nil {
		return nil, false, err
	}

	return f, inserted, nil
}

func (r *fileRegistryRepo) SoftDelete(ctx context.Context, tenantID, resource, resourceID string) (int, error) {
	var affected int

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE files SET delete_flg = true
			WHERE tenant_id = $1 AND resource = $2 AND resource_id = $3
				AND NOT delete_flg`,
			tenantID, resource, resourceID,
		)
		if err != nil {
			return fmt.Errorf("ошибка удаления файлов: %w", err)
		}
		affected = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// baseListQuery строит общую часть выборки: join владельца, видимость,
// живость и необязательные равенства. Столбцы добавляются вызывающим.
func baseListQuery(filter FileListFilter) sq.SelectBuilder {
	q := psql.Select().
		From("files f").
		Join("tenants t ON t.id = f.tenant_id").
		Where(sq.Or{
			sq.Eq{"f.tenant_id": filter.RequesterID},
			sq.Eq{"f.is_public": true},
		}).
		Where(sq.Eq{"f.delete_flg": false}).
		Where(sq.Or{
			sq.Eq{"f.expire_at": nil},
			sq.GtOrEq{"f.expire_at": filter.Now},
		})

	if filter.TenantUsername != nil {
		q = q.Where(sq.Eq{"t.username": *filter.TenantUsername})
	}
	if filter.Resource != nil {
		q = q.Where(sq.Eq{"f.resource": *filter.Resource})
	}
	if filter.ResourceID != nil {
		q = q.Where(sq.Eq{"f.resource_id": *filter.ResourceID})
	}
	return q
}

func (r *fileRegistryRepo) List(ctx context.Context, filter FileListFilter, limit, offset int) ([]*model.FileRecord, error) {
	query, args, err := baseListQuery(filter).
		Columns(listColumns...).
		OrderBy("f.name ASC", "f.id ASC").
		Limit(uint64(max(limit, 0))).   //nolint:gosec // неотрицательно
		Offset(uint64(max(offset, 0))). //nolint:gosec // неотрицательно
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса списка файлов: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0, max(limit, 0))
	for rows.Next() {
		f := &model.FileRecord{}
		if err := rows.Scan(
			&f.ID, &f.TenantID, &f.TenantUsername, &f.Name, &f.Resource, &f.ResourceID,
			&f.Location, &f.ExpireAt, &f.IsPublic, &f.DeleteFlg, &f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

func (r *fileRegistryRepo) Count(ctx context.Context, filter FileListFilter) (int, error) {
	query, args, err := baseListQuery(filter).Columns("COUNT(*)").ToSql()
	if err != nil {
		return 0, fmt.Errorf("ошибка построения запроса подсчёта файлов: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

// WithLocationLock берёт pg_advisory_xact_lock по hashtext(location).
// Коллизия хешей только сериализует лишние ключи.
func (r *fileRegistryRepo) WithLocationLock(ctx context.Context, location string, fn func(files FileRegistryRepository) error) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, location); err != nil {
			return fmt.Errorf("ошибка блокировки ключа объекта: %w", err)
		}
		return fn(&fileRegistryRepo{db: tx, tx: NewTxRunner(tx)})
	})
}

func (r *fileRegistryRepo) IsLocationReferenced(ctx context.Context, location string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE location = $1 AND NOT delete_flg)`,
		location,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки ссылок на объект: %w", err)
	}
	return exists, nil
}

// scanFile сканирует строку со столбцами fileColumns.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	if err := row.Scan(
		&f.ID, &f.TenantID, &f.Name, &f.Resource, &f.ResourceID, &f.Location,
		&f.ExpireAt, &f.IsPublic, &f.DeleteFlg, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}
