package blobstore

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/file-registry/internal/config"
)

func testConfig(backend string) *config.Config {
	return &config.Config{
		BlobBackend:   backend,
		BlobEndpoint:  "localhost:9000",
		BlobRegion:    "us-east-1",
		BlobBucket:    "tenant-files",
		BlobAccessKey: "access",
		BlobSecretKey: "secret",
	}
}

func TestMinioEndpoint(t *testing.T) {
	tests := []struct {
		endpoint   string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{"localhost:9000", false, "localhost:9000", false},
		{"localhost:9000", true, "localhost:9000", true},
		{"https://minio.example.com", false, "minio.example.com", true},
		{"http://minio:9000", true, "minio:9000", false},
	}

	for _, tt := range tests {
		host, secure := minioEndpoint(tt.endpoint, tt.useSSL)
		assert.Equal(t, tt.wantHost, host, tt.endpoint)
		assert.Equal(t, tt.wantSecure, secure, tt.endpoint)
	}
}

// TestMinIO_PresignedGetIsLocal: при заданном регионе подпись не требует сервера.
func TestMinIO_PresignedGetIsLocal(t *testing.T) {
	store, err := NewMinIO(testConfig(config.BlobBackendMinIO))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw, err := store.PresignedGet(ctx, "assets/images/john/a.txt", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/tenant-files/assets/images/john/a.txt", u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

// TestS3_PresignedGetIsLocal: PresignClient подписывает запрос без сети.
func TestS3_PresignedGetIsLocal(t *testing.T) {

	cfg := testConfig(config.BlobBackendS3)
	cfg.BlobEndpoint = "http://s3.local:9000"

	store, err := NewS3(context.Background(), cfg)
	require.NoError(t, err)

	raw, err := store.PresignedGet(context.Background(), "assets/images/john/a.txt", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "s3.local:9000", u.Host)
	assert.True(t, strings.HasPrefix(u.Path, "/tenant-files/assets/images/john/"), u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestNew_UnknownBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New(context.Background(), testConfig("ftp"), logger)
	require.Error(t, err)
}

func TestNew_SelectsBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := New(context.Background(), testConfig(config.BlobBackendMinIO), logger)
	require.NoError(t, err)
	assert.IsType(t, &MinIOStore{}, c)

	c, err = New(context.Background(), testConfig(config.BlobBackendS3), logger)
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, c)
}
