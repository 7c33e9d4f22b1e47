// handler.go — основной обработчик API File Registry.
// Объединяет health и файловые обработчики, делегируя работу в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/pagination"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
)

// PageLimits — границы размера страницы из конфигурации.
type PageLimits struct {
	Default int
	Max     int
}

// APIHandler — основной обработчик API File Registry.
type APIHandler struct {
	health      *HealthHandler
	registry    *service.FileRegistryService
	query       *service.FileQueryService
	maxFileSize int64
	pages       PageLimits
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	registry *service.FileRegistryService,
	query *service.FileQueryService,
	maxFileSize int64,
	pages PageLimits,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		registry:    registry,
		query:       query,
		maxFileSize: maxFileSize,
		pages:       pages,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// pageRequest разбирает page и page_size из query-строки.
// Некорректные значения не являются ошибкой: применяются значения по умолчанию.
func (h *APIHandler) pageRequest(r *http.Request) pagination.PageRequest {
	q := r.URL.Query()
	return pagination.ParsePageRequest(q.Get("page"), q.Get("page_size"), h.pages.Default, h.pages.Max)
}

// optionalParam возвращает указатель на значение query-параметра или nil,
// если параметра нет. Присутствующий пустой параметр (?resource=) — фильтр
// по пустой строке.
func optionalParam(r *http.Request, name string) *string {
	q := r.URL.Query()
	if !q.Has(name) {
		return nil
	}
	v := q.Get(name)
	return &v
}
