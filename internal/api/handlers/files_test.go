package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/file-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-registry/internal/blobstore/blobtest"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/repository/repotest"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
)

type handlerFixture struct {
	h     *APIHandler
	db    *repotest.Store
	blobs *blobtest.Memory
	john  *model.Tenant
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := repotest.New()
	blobs := blobtest.NewMemory()

	registry := service.NewFileRegistryService(db.Files(), db.Orphans(), blobs, service.FilePolicy{
		AssetFolder:   "assets/images",
		MaxFileSize:   16,
		FileTTL:       24 * time.Hour,
		UploadTimeout: 5 * time.Second,
	}, logger)
	query := service.NewFileQueryService(db.Files(), blobs, time.Hour, logger)

	return &handlerFixture{
		h:     NewAPIHandler(NewHealthHandler(), registry, query, 16, PageLimits{Default: 10, Max: 100}, logger),
		db:    db,
		blobs: blobs,
		john:  db.MustTenant("john"),
	}
}

// multipartBody собирает форму; пустое имя файла — часть file не добавляется.
func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func (f *handlerFixture) upload(t *testing.T, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req = req.WithContext(middleware.WithTenant(req.Context(), f.john))
	rec := httptest.NewRecorder()
	f.h.Upload(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Code, body.Message
}

func TestUpload_ValidationResponses(t *testing.T) {
	both := map[string]string{"resource": "product", "resource_id": "1"}

	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
		message  string
	}{
		{name: "нет файла", fields: both, message: "No file was submitted."},
		{name: "пустой файл", filename: "a.txt", fields: both, message: "Invalid file"},
		{name: "больше лимита", filename: "a.txt", content: strings.Repeat("x", 17), fields: both,
			message: "File size exceeds the maximum allowed size of 16 bytes"},
		{name: "нет resource", filename: "a.txt", content: "x", fields: map[string]string{"resource_id": "1"},
			message: "No resource found"},
		{name: "нет resource_id", filename: "a.txt", content: "x", fields: map[string]string{"resource": "product"},
			message: "No resource id found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			body, ct := multipartBody(t, tt.filename, tt.content, tt.fields)

			rec := f.upload(t, body, ct)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			code, message := errorBody(t, rec)
			assert.Equal(t, "VALIDATION_ERROR", code)
			assert.Equal(t, tt.message, message)
			assert.Equal(t, 0, f.blobs.Len())
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.upload(t, strings.NewReader(`{"file":"a.txt"}`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, message := errorBody(t, rec)
	assert.Equal(t, "No file was submitted.", message)
}

func TestUpload_StoreFailures(t *testing.T) {
	fields := map[string]string{"resource": "product", "resource_id": "1"}

	t.Run("фаза 1", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.blobs.PutErr = errors.New("connection refused")

		body, ct := multipartBody(t, "a.txt", "x", fields)
		rec := f.upload(t, body, ct)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		code, message := errorBody(t, rec)
		assert.Equal(t, "UPLOAD_FAILED", code)
		assert.Equal(t, "File upload failed", message)
	})

	t.Run("фаза 2", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.db.Files().UpsertErr = errors.New("database is down")

		body, ct := multipartBody(t, "a.txt", "x", fields)
		rec := f.upload(t, body, ct)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		code, message := errorBody(t, rec)
		assert.Equal(t, "SAVE_FAILED", code)
		assert.Equal(t, "File save failed", message)
		assert.Equal(t, 0, f.blobs.Len())
	})
}

// stubChecker — ReadinessChecker с фиксированным статусом.
type stubChecker string

func (s stubChecker) CheckReady() (string, string) { return string(s), "" }

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		checkers []NamedChecker
		code     int
		status   string
	}{
		{
			name:     "всё ok",
			checkers: []NamedChecker{{Name: "postgresql", Checker: stubChecker("ok")}, {Name: "blob_store", Checker: stubChecker("ok")}},
			code:     http.StatusOK,
			status:   "ok",
		},
		{
			name:     "degraded",
			checkers: []NamedChecker{{Name: "postgresql", Checker: stubChecker("ok")}, {Name: "jwks", Checker: stubChecker("degraded")}},
			code:     http.StatusOK,
			status:   "degraded",
		},
		{
			name:     "хранилище недоступно",
			checkers: []NamedChecker{{Name: "postgresql", Checker: stubChecker("ok")}, {Name: "blob_store", Checker: stubChecker("fail")}},
			code:     http.StatusServiceUnavailable,
			status:   "fail",
		},
		{
			name:     "checker не инициализирован",
			checkers: []NamedChecker{{Name: "postgresql"}},
			code:     http.StatusServiceUnavailable,
			status:   "fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checkers...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.code, rec.Code)
			var body struct {
				Status string                    `json:"status"`
				Checks map[string]map[string]any `json:"checks"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			assert.Len(t, body.Checks, len(tt.checkers))
		})
	}
}
