// query.go — выборки файлов: по ресурсу (с presigned URL) и глобальная.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/bigkaa/goartstore/file-registry/internal/blobstore"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/pagination"
	"github.com/bigkaa/goartstore/file-registry/internal/repository"
)

// ScopedFileView — элемент выборки по ресурсу.
type ScopedFileView struct {
	TenantUsername string     `json:"tenant_username"`
	Resource       string     `json:"resource"`
	ResourceID     string     `json:"resource_id"`
	Name           string     `json:"name"`
	Location       string     `json:"location"`
	ExpireAt       *time.Time `json:"expire_at"`
	IsPublic       bool       `json:"is_public"`
	// URL — presigned ссылка на чтение; пусто, если подпись не удалась
	URL string `json:"url"`
}

// GlobalFileView — элемент глобальной выборки, без ссылки.
type GlobalFileView struct {
	TenantUsername string     `json:"tenant_username"`
	Resource       string     `json:"resource"`
	ResourceID     string     `json:"resource_id"`
	Name           string     `json:"name"`
	Location       string     `json:"location"`
	ExpireAt       *time.Time `json:"expire_at"`
	IsPublic       bool       `json:"is_public"`
}

// ScopedPage — страница выборки по ресурсу.
type ScopedPage struct {
	Count     int              `json:"count"`
	NumPages  int              `json:"num_pages"`
	PageRange []int            `json:"page_range"`
	Files     []ScopedFileView `json:"files"`
}

// GlobalPage — страница глобальной выборки.
type GlobalPage struct {
	Count     int              `json:"count"`
	NumPages  int              `json:"num_pages"`
	PageRange []int            `json:"page_range"`
	Files     []GlobalFileView `json:"files"`
}

// GlobalFilters — необязательные равенства глобальной выборки.
// nil — фильтр не применяется; присутствующие объединяются по AND.
type GlobalFilters struct {
	TenantUsername *string
	Resource       *string
	ResourceID     *string
}

// NewGlobalFileView строит представление записи без ссылки.
func NewGlobalFileView(f *model.FileRecord) GlobalFileView {
	return GlobalFileView{
		TenantUsername: f.TenantUsername,
		Resource:       f.Resource,
		ResourceID:     f.ResourceID,
		Name:           f.Name,
		Location:       f.Location,
		ExpireAt:       f.ExpireAt,
		IsPublic:       f.IsPublic,
	}
}

// FileQueryService — выборки файлов с пагинацией.
type FileQueryService struct {
	files      repository.FileRegistryRepository
	store      blobstore.Store
	presignTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewFileQueryService создаёт сервис выборок.
func NewFileQueryService(
	files repository.FileRegistryRepository,
	store blobstore.Store,
	presignTTL time.Duration,
	logger *slog.Logger,
) *FileQueryService {
	return &FileQueryService{
		files:      files,
		store:      store,
		presignTTL: presignTTL,
		logger:     logger.With(slog.String("component", "file_query_service")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ListByResource возвращает живые видимые requester записи ресурса,
// упорядоченные по name, с presigned URL для каждой.
func (s *FileQueryService) ListByResource(
	ctx context.Context,
	requester *model.Tenant,
	resource, resourceID string,
	req pagination.PageRequest,
) (*ScopedPage, error) {
	filter := repository.FileListFilter{
		RequesterID: requester.ID,
		Now:         s.now(),
		Resource:    &resource,
		ResourceID:  &resourceID,
	}

	files, window, err := s.list(ctx, filter, req)
	if err != nil {
		return nil, err
	}

	views := make([]ScopedFileView, 0, len(files))
	for _, f := range files {
		url, err := s.store.PresignedGet(ctx, f.Location, s.presignTTL)
		if err != nil {
			s.logger.Warn("Не удалось подписать ссылку",
				slog.String("file_id", f.ID),
				slog.String("key", f.Location),
				slog.String("error", err.Error()),
			)
		}
		views = append(views, ScopedFileView{
			TenantUsername: f.TenantUsername,
			Resource:       f.Resource,
			ResourceID:     f.ResourceID,
			Name:           f.Name,
			Location:       f.Location,
			ExpireAt:       f.ExpireAt,
			IsPublic:       f.IsPublic,
			URL:            url,
		})
	}

	return &ScopedPage{
		Count:     window.Count,
		NumPages:  window.NumPages,
		PageRange: window.PageRange,
		Files:     views,
	}, nil
}

// ListAll возвращает живые видимые requester записи с необязательными
// фильтрами, упорядоченные по name. Ссылки не подписываются.
func (s *FileQueryService) ListAll(
	ctx context.Context,
	requester *model.Tenant,
	filters GlobalFilters,
	req pagination.PageRequest,
) (*GlobalPage, error) {
	filter := repository.FileListFilter{
		RequesterID:    requester.ID,
		Now:            s.now(),
		TenantUsername: filters.TenantUsername,
		Resource:       filters.Resource,
		ResourceID:     filters.ResourceID,
	}

	files, window, err := s.list(ctx, filter, req)
	if err != nil {
		return nil, err
	}

	return &GlobalPage{
		Count:     window.Count,
		NumPages:  window.NumPages,
		PageRange: window.PageRange,
		Files: lo.Map(files, func(f *model.FileRecord, _ int) GlobalFileView {
			return NewGlobalFileView(f)
		}),
	}, nil
}

// list считает записи, прижимает страницу и читает окно.
func (s *FileQueryService) list(
	ctx context.Context,
	filter repository.FileListFilter,
	req pagination.PageRequest,
) ([]*model.FileRecord, pagination.Window, error) {
	count, err := s.files.Count(ctx, filter)
	if err != nil {
		return nil, pagination.Window{}, fmt.Errorf("подсчёт файлов: %w", err)
	}

	window := pagination.Paginate(count, req.Page, req.PageSize)
	if count == 0 {
		return nil, window, nil
	}

	files, err := s.files.List(ctx, filter, window.Limit, window.Offset)
	if err != nil {
		return nil, pagination.Window{}, fmt.Errorf("получение списка файлов: %w", err)
	}

	return files, window, nil
}
