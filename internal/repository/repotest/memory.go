// Пакет repotest — потокобезопасная реализация репозиториев в памяти
// для unit- и HTTP-тестов. Повторяет семантику SQL-реализации: частичную
// уникальность активных записей, видимость, живость и порядок name, id.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/repository"
)

// Store — общее хранилище таблиц tenants, files и orphan_blobs.
type Store struct {
	mu           sync.Mutex
	tenants      map[string]*model.Tenant
	files        []*model.FileRecord
	orphans      []*model.OrphanBlob
	nextOrphanID int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	fileRepo   *FileRepo
	tenantRepo *TenantRepo
	orphanRepo *OrphanRepo
}

// New создаёт пустое хранилище.
func New() *Store {
	s := &Store{
		tenants: make(map[string]*model.Tenant),
		locks:   make(map[string]*sync.Mutex),
	}
	s.fileRepo = &FileRepo{s: s}
	s.tenantRepo = &TenantRepo{s: s}
	s.orphanRepo = &OrphanRepo{s: s}
	return s
}

// Files возвращает репозиторий файлов.
func (s *Store) Files() *FileRepo { return s.fileRepo }

// Tenants возвращает репозиторий тенантов.
func (s *Store) Tenants() *TenantRepo { return s.tenantRepo }

// Orphans возвращает журнал осиротевших объектов.
func (s *Store) Orphans() *OrphanRepo { return s.orphanRepo }

// MustTenant создаёт тенанта или паникует.
func (s *Store) MustTenant(username string) *model.Tenant {
	t, err := s.tenantRepo.Create(context.Background(), username)
	if err != nil {
		panic(err)
	}
	return t
}

// Rows возвращает копии всех строк files, включая удалённые.
func (s *Store) Rows() []model.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.FileRecord, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, *f)
	}
	return out
}

// SetPublic меняет is_public записи.
func (s *Store) SetPublic(id string, public bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.ID == id {
			f.IsPublic = public
		}
	}
}

// SetExpireAt меняет expire_at записи.
func (s *Store) SetExpireAt(id string, expireAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.ID == id {
			f.ExpireAt = expireAt
		}
	}
}

// OrphanRows возвращает копии всех записей orphan_blobs.
func (s *Store) OrphanRows() []model.OrphanBlob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.OrphanBlob, 0, len(s.orphans))
	for _, o := range s.orphans {
		out = append(out, *o)
	}
	return out
}

// --- files ---

// FileRepo реализует repository.FileRegistryRepository.
// Ненулевые UpsertErr и ReferenceErr имитируют отказ базы, CommitErr —
// отказ коммита транзакции WithLocationLock после успешного fn.
// AfterReferenceCheck, если задан, вызывается после каждой успешной проверки
// ссылок вне внутренней блокировки хранилища.
type FileRepo struct {
	s *Store

	UpsertErr           error
	ReferenceErr        error
	CommitErr           error
	AfterReferenceCheck func()
}

var _ repository.FileRegistryRepository = (*FileRepo)(nil)

func (r *FileRepo) Upsert(_ context.Context, in repository.UpsertInput) (*model.FileRecord, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.UpsertErr != nil {
		return nil, false, r.UpsertErr
	}
	if _, ok := r.s.tenants[in.TenantID]; !ok {
		return nil, false, fmt.Errorf("нарушение внешнего ключа: тенант %s не найден", in.TenantID)
	}

	now := time.Now().UTC()
	expireAt := in.ExpireAt

	for _, f := range r.s.files {
		if !f.DeleteFlg && f.TenantID == in.TenantID && f.Name == in.Name &&
			f.Resource == in.Resource && f.ResourceID == in.ResourceID {
			f.Location = in.Location
			f.ExpireAt = &expireAt
			f.UpdatedAt = now
			cp := *f
			return &cp, false, nil
		}
	}

	f := &model.FileRecord{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		Name:       in.Name,
		Resource:   in.Resource,
		ResourceID: in.ResourceID,
		Location:   in.Location,
		ExpireAt:   &expireAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.s.files = append(r.s.files, f)
	cp := *f
	return &cp, true, nil
}

func (r *FileRepo) SoftDelete(_ context.Context, tenantID, resource, resourceID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, f := range r.s.files {
		if !f.DeleteFlg && f.TenantID == tenantID && f.Resource == resource && f.ResourceID == resourceID {
			f.DeleteFlg = true
			n++
		}
	}
	return n, nil
}

func (r *FileRepo) List(_ context.Context, filter repository.FileListFilter, limit, offset int) ([]*model.FileRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	matched := r.match(filter)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})

	if offset >= len(matched) {
		return []*model.FileRecord{}, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], nil
}

func (r *FileRepo) Count(_ context.Context, filter repository.FileListFilter) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.match(filter)), nil
}

func (r *FileRepo) IsLocationReferenced(_ context.Context, location string) (bool, error) {
	referenced, err := r.isLocationReferenced(location)
	if err == nil && r.AfterReferenceCheck != nil {
		r.AfterReferenceCheck()
	}
	return referenced, err
}

func (r *FileRepo) isLocationReferenced(location string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.ReferenceErr != nil {
		return false, r.ReferenceErr
	}
	for _, f := range r.s.files {
		if !f.DeleteFlg && f.Location == location {
			return true, nil
		}
	}
	return false, nil
}

// WithLocationLock сериализует fn по ключу, как advisory-блокировка PostgreSQL.
// Отменённый контекст не даёт взять блокировку.
func (r *FileRepo) WithLocationLock(ctx context.Context, location string, fn func(files repository.FileRegistryRepository) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	r.s.locksMu.Lock()
	lock, ok := r.s.locks[location]
	if !ok {
		lock = &sync.Mutex{}
		r.s.locks[location] = lock
	}
	r.s.locksMu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	if err := fn(r); err != nil {
		return err
	}
	return r.CommitErr
}

// match возвращает копии подходящих записей с заполненным TenantUsername.
// Вызывается под s.mu.
func (r *FileRepo) match(filter repository.FileListFilter) []*model.FileRecord {
	var out []*model.FileRecord
	for _, f := range r.s.files {
		if !f.VisibleTo(filter.RequesterID) || !f.IsLive(filter.Now) {
			continue
		}
		owner := r.s.tenants[f.TenantID]
		if filter.TenantUsername != nil && (owner == nil || owner.Username != *filter.TenantUsername) {
			continue
		}
		if filter.Resource != nil && f.Resource != *filter.Resource {
			continue
		}
		if filter.ResourceID != nil && f.ResourceID != *filter.ResourceID {
			continue
		}
		cp := *f
		if owner != nil {
			cp.TenantUsername = owner.Username
		}
		out = append(out, &cp)
	}
	return out
}

// --- tenants ---

// TenantRepo реализует repository.TenantRepository.
// Lookups считает обращения к GetByUsername.
type TenantRepo struct {
	s *Store

	Lookups int
}

var _ repository.TenantRepository = (*TenantRepo)(nil)

func (r *TenantRepo) GetByUsername(_ context.Context, username string) (*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.Lookups++
	for _, t := range r.s.tenants {
		if t.Username == username {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *TenantRepo) Create(_ context.Context, username string) (*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.tenants {
		if t.Username == username {
			return nil, fmt.Errorf("%w: тенант %q уже существует", repository.ErrConflict, username)
		}
	}
	t := &model.Tenant{ID: uuid.NewString(), Username: username, CreatedAt: time.Now().UTC()}
	r.s.tenants[t.ID] = t
	cp := *t
	return &cp, nil
}

func (r *TenantRepo) List(_ context.Context) ([]*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*model.Tenant, 0, len(r.s.tenants))
	for _, t := range r.s.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// --- orphan_blobs ---

// OrphanRepo реализует repository.OrphanRepository.
// Ненулевой RecordErr имитирует отказ записи в журнал.
type OrphanRepo struct {
	s *Store

	RecordErr error
}

var _ repository.OrphanRepository = (*OrphanRepo)(nil)

func (r *OrphanRepo) Record(_ context.Context, location, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.RecordErr != nil {
		return r.RecordErr
	}
	r.s.nextOrphanID++
	r.s.orphans = append(r.s.orphans, &model.OrphanBlob{
		ID:        r.s.nextOrphanID,
		Location:  location,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *OrphanRepo) ListUnresolved(_ context.Context, limit int) ([]*model.OrphanBlob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.OrphanBlob
	for _, o := range r.s.orphans {
		if o.ResolvedAt != nil {
			continue
		}
		if len(out) >= limit {
			break
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (r *OrphanRepo) MarkResolved(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, o := range r.s.orphans {
		if o.ID == id && o.ResolvedAt == nil {
			now := time.Now().UTC()
			o.ResolvedAt = &now
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *OrphanRepo) IncrementAttempts(_ context.Context, id int64, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, o := range r.s.orphans {
		if o.ID == id {
			o.Attempts++
			o.Reason = reason
		}
	}
	return nil
}
