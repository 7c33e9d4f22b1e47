// files.go — файловые обработчики:
// POST /upload, GET и DELETE /files/{resource}/{resourceId}, GET /list_files.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/file-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/file-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
)

// multipartOverhead — запас к FR_MAX_FILE_SIZE на заголовки и текстовые поля формы.
const multipartOverhead = 1 << 20

// multipartMemory — сколько формы держать в памяти; остальное уходит во временные файлы.
const multipartMemory = 8 << 20

// uploadResponse — ответ POST /upload.
type uploadResponse struct {
	Message string                 `json:"message"`
	File    service.GlobalFileView `json:"file"`
}

// deleteResponse — ответ DELETE /files/{resource}/{resourceId}.
type deleteResponse struct {
	Message string `json:"message"`
	Deleted int    `json:"deleted"`
}

// Upload — POST /upload (multipart: file, resource, resource_id).
func (h *APIHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())

	// 1. Ограничиваем тело запроса
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.ValidationError(w,
				fmt.Sprintf("File size exceeds the maximum allowed size of %d bytes", h.maxFileSize))
			return
		}
		// Не multipart: файла нет, сообщение сформирует валидация сервиса
		h.logger.Debug("Тело запроса не разобрано как multipart", slog.String("error", err.Error()))
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	// 2. Собираем вход для сервиса
	in := service.UploadInput{
		Resource:   r.FormValue("resource"),
		ResourceID: r.FormValue("resource_id"),
	}

	file, header, err := r.FormFile("file")
	if err == nil {
		defer func(f multipart.File) { _ = f.Close() }(file)
		in.Reader = file
		in.Size = header.Size
		in.Filename = header.Filename
		in.ContentType = header.Header.Get("Content-Type")
	}

	// 3. Загрузка
	f, err := h.registry.Upload(r.Context(), tenant, in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message: "File uploaded successfully",
		File:    service.NewGlobalFileView(f),
	})
}

// ListByResource — GET /files/{resource}/{resourceId}?page=&page_size=.
func (h *APIHandler) ListByResource(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())

	page, err := h.query.ListByResource(r.Context(), tenant,
		chi.URLParam(r, "resource"), chi.URLParam(r, "resourceId"), h.pageRequest(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// Delete — DELETE /files/{resource}/{resourceId}.
func (h *APIHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())

	n, err := h.registry.SoftDelete(r.Context(), tenant, chi.URLParam(r, "resource"), chi.URLParam(r, "resourceId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{
		Message: "File deleted successfully",
		Deleted: n,
	})
}

// ListFiles — GET /list_files?tenant_username=&resource=&resource_id=&page=&page_size=.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())

	filters := service.GlobalFilters{
		TenantUsername: optionalParam(r, "tenant_username"),
		Resource:       optionalParam(r, "resource"),
		ResourceID:     optionalParam(r, "resource_id"),
	}

	page, err := h.query.ListAll(r.Context(), tenant, filters, h.pageRequest(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// writeServiceError маппит ошибки сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		apierrors.ValidationError(w, ve.Message)
	case errors.Is(err, service.ErrUploadFailed):
		apierrors.UploadFailed(w)
	case errors.Is(err, service.ErrSaveFailed):
		apierrors.SaveFailed(w)
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Internal server error")
	}
}
