package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/file-registry/internal/blobstore/blobtest"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/repository/repotest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() FilePolicy {
	return FilePolicy{
		AssetFolder:   "assets/images",
		MaxFileSize:   1024,
		FileTTL:       24 * time.Hour,
		UploadTimeout: 5 * time.Second,
	}
}

type registryFixture struct {
	svc   *FileRegistryService
	db    *repotest.Store
	blobs *blobtest.Memory
	john  *model.Tenant
	jimmy *model.Tenant
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	db := repotest.New()
	blobs := blobtest.NewMemory()
	return &registryFixture{
		svc:   NewFileRegistryService(db.Files(), db.Orphans(), blobs, testPolicy(), testLogger()),
		db:    db,
		blobs: blobs,
		john:  db.MustTenant("john"),
		jimmy: db.MustTenant("jimmy"),
	}
}

func fileInput(name, content, resource, resourceID string) UploadInput {
	return UploadInput{
		Reader:      strings.NewReader(content),
		Size:        int64(len(content)),
		Filename:    name,
		ContentType: "text/plain",
		Resource:    resource,
		ResourceID:  resourceID,
	}
}

// TestUpload_ValidationOrder проверяет порядок проверок: первая ошибка побеждает.
func TestUpload_ValidationOrder(t *testing.T) {
	tests := []struct {
		name    string
		in      UploadInput
		kind    error
		message string
	}{
		{
			name:    "файл не передан",
			in:      UploadInput{Resource: "", ResourceID: ""},
			kind:    ErrInvalidFile,
			message: "No file was submitted.",
		},
		{
			name:    "пустой файл раньше resource",
			in:      UploadInput{Reader: strings.NewReader(""), Filename: "a.txt"},
			kind:    ErrInvalidFile,
			message: "Invalid file",
		},
		{
			name:    "слишком большой раньше resource",
			in:      fileInput("a.txt", strings.Repeat("x", 1025), "", ""),
			kind:    ErrFileTooLarge,
			message: "File size exceeds the maximum allowed size of 1024 bytes",
		},
		{
			name:    "нет resource раньше resource_id",
			in:      fileInput("a.txt", "hello", "", ""),
			kind:    ErrMissingResource,
			message: "No resource found",
		},
		{
			name:    "нет resource_id",
			in:      fileInput("a.txt", "hello", "product", ""),
			kind:    ErrMissingResourceID,
			message: "No resource id found",
		},
		{
			name:    "имя без файла",
			in:      fileInput("/", "hello", "product", "1"),
			kind:    ErrInvalidFile,
			message: "Invalid file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newRegistryFixture(t)

			_, err := fx.svc.Upload(context.Background(), fx.john, tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.ErrorIs(t, err, tt.kind)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.message, ve.Message)

			// Никаких побочных эффектов
			assert.Equal(t, 0, fx.blobs.Len())
			assert.Empty(t, fx.db.Rows())
		})
	}
}

// TestUpload_Success проверяет ключ объекта, запись и срок жизни.
func TestUpload_Success(t *testing.T) {
	fx := newRegistryFixture(t)
	before := time.Now().UTC()

	f, err := fx.svc.Upload(context.Background(), fx.john, fileInput("../../etc/a.txt", "hello", "product", "1"))
	require.NoError(t, err)

	assert.Equal(t, "a.txt", f.Name)
	assert.Equal(t, "assets/images/john/a.txt", f.Location)
	assert.Equal(t, "john", f.TenantUsername)
	assert.Equal(t, fx.john.ID, f.TenantID)
	assert.False(t, f.IsPublic)
	assert.False(t, f.DeleteFlg)
	require.NotNil(t, f.ExpireAt)
	assert.WithinDuration(t, before.Add(24*time.Hour), *f.ExpireAt, 5*time.Second)

	data, ok := fx.blobs.Get("assets/images/john/a.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}

// TestUpload_UpsertIdempotence: повторная загрузка кортежа — одна живая запись.
func TestUpload_UpsertIdempotence(t *testing.T) {
	fx := newRegistryFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Upload(ctx, fx.john, fileInput("a.txt", "v1", "product", "1"))
	require.NoError(t, err)

	fx.svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	second, err := fx.svc.Upload(ctx, fx.john, fileInput("a.txt", "version-2", "product", "1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.ExpireAt.After(*first.ExpireAt))

	rows := fx.db.Rows()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsLive(time.Now()))

	data, _ := fx.blobs.Get(second.Location)
	assert.Equal(t, "version-2", string(data))
}

// TestUpload_Phase1Failure: отказ хранилища не трогает метаданные.
func TestUpload_Phase1Failure(t *testing.T) {
	fx := newRegistryFixture(t)
	fx.blobs.PutErr = errors.New("connection refused")

	_, err := fx.svc.Upload(context.Background(), fx.john, fileInput("a.txt", "hello", "product", "1"))
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Empty(t, fx.db.Rows())
	assert.Empty(t, fx.blobs.Deletes())
}

// TestUpload_CompensationDeletesBlob: отказ фазы 2 удаляет записанный объект.
func TestUpload_CompensationDeletesBlob(t *testing.T) {
	fx := newRegistryFixture(t)
	fx.db.Files().UpsertErr = errors.New("database is down")

	_, err := fx.svc.Upload(context.Background(), fx.john, fileInput("a.txt", "hello", "product", "1"))
	require.ErrorIs(t, err, ErrSaveFailed)

	assert.Empty(t, fx.db.Rows())
	assert.False(t, fx.blobs.Has("assets/images/john/a.txt"))
	assert.Equal(t, []string{"assets/images/john/a.txt"}, fx.blobs.Deletes())
	assert.Empty(t, fx.db.OrphanRows())
}

// TestUpload_CompensationRecordsOrphan: неудачное удаление пишется в журнал.
func TestUpload_CompensationRecordsOrphan(t *testing.T) {
	fx := newRegistryFixture(t)
	fx.db.Files().UpsertErr = errors.New("database is down")
	fx.blobs.DeleteErr = errors.New("access denied")

	_, err := fx.svc.Upload(context.Background(), fx.john, fileInput("a.txt", "hello", "product", "1"))
	require.ErrorIs(t, err, ErrSaveFailed)

	orphans := fx.db.OrphanRows()
	require.Len(t, orphans, 1)
	assert.Equal(t, "assets/images/john/a.txt", orphans[0].Location)
	assert.Contains(t, orphans[0].Reason, "access denied")
	assert.Empty(t, fx.db.Rows())
}

// TestUpload_CompensationReferenceCheckFails: без проверки ссылок объект не удаляется.
func TestUpload_CompensationReferenceCheckFails(t *testing.T) {
	fx := newRegistryFixture(t)
	fx.db.Files().UpsertErr = errors.New("database is down")
	fx.db.Files().ReferenceErr = errors.New("database is down")

	_, err := fx.svc.Upload(context.Background(), fx.john, fileInput("a.txt", "hello", "product", "1"))
	require.ErrorIs(t, err, ErrSaveFailed)

	assert.Empty(t, fx.blobs.Deletes())
	require.Len(t, fx.db.OrphanRows(), 1)
}

// TestUpload_CompensationOrphanRecordFails: отказ журнала не подменяет исходную ошибку.
func TestUpload_CompensationOrphanRecordFails(t *testing.T) {
	fx := newRegistryFixture(t)
	fx.db.Files().UpsertErr = errors.New("database is down")
	fx.blobs.DeleteErr = errors.New("access denied")
	fx.db.Orphans().RecordErr = errors.New("database is down")

	_, err := fx.svc.Upload(context.Background(), fx.john, fileInput("a.txt", "hello", "product", "1"))
	require.ErrorIs(t, err, ErrSaveFailed)
	assert.Empty(t, fx.db.OrphanRows())
}

// TestUpload_CompensationKeepsReferencedBlob: общий ключ живой записи не удаляется.
func TestUpload_CompensationKeepsReferencedBlob(t *testing.T) {
	fx := newRegistryFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Upload(ctx, fx.john, fileInput("a.txt", "hello", "product", "1"))
	require.NoError(t, err)

	fx.db.Files().UpsertErr = errors.New("database is down")
	_, err = fx.svc.Upload(ctx, fx.john, fileInput("a.txt", "hello again", "order", "9"))
	require.ErrorIs(t, err, ErrSaveFailed)

	assert.True(t, fx.blobs.Has("assets/images/john/a.txt"))
	assert.Empty(t, fx.blobs.Deletes())
	assert.Empty(t, fx.db.OrphanRows())
	assert.Len(t, fx.db.Rows(), 1)
}

// uploadAfterReferenceCheck запускает upload сразу после первой проверки ссылок
// и даёт ему до 100 мс завершиться, прежде чем проверяющий продолжит работу.
// Возвращает канал с результатом upload.
func uploadAfterReferenceCheck(db *repotest.Store, upload func() error) <-chan error {
	done := make(chan error, 1)
	var once sync.Once

	db.Files().AfterReferenceCheck = func() {
		once.Do(func() {
			db.Files().UpsertErr = nil

			finished := make(chan error, 1)
			go func() { finished <- upload() }()

			select {
			case err := <-finished:
				done <- err
			case <-time.After(100 * time.Millisecond):
				go func() { done <- <-finished }()
			}
		})
	}
	return done
}

// TestUpload_CompensationSerializedWithSameKey: загрузка того же ключа,
// начатая между проверкой ссылок и удалением, не теряет объект.
func TestUpload_CompensationSerializedWithSameKey(t *testing.T) {
	fx := newRegistryFixture(t)
	ctx := context.Background()
	fx.db.Files().UpsertErr = errors.New("database is down")

	done := uploadAfterReferenceCheck(fx.db, func() error {
		_, err := fx.svc.Upload(ctx, fx.john, fileInput("a.txt", "avatar", "avatar", "9"))
		return err
	})

	_, err := fx.svc.Upload(ctx, fx.john, fileInput("a.txt", "product", "product", "1"))
	require.ErrorIs(t, err, ErrSaveFailed)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("параллельная загрузка не завершилась")
	}

	rows := fx.db.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "avatar", rows[0].Resource)
	assert.True(t, rows[0].IsLive(time.Now()))

	// Живая запись указывает на существующий объект
	data, ok := fx.blobs.Get(rows[0].Location)
	require.True(t, ok, "объект живой записи удалён")
	assert.Equal(t, "avatar", string(data))
}

// TestUpload_CommitFailureRecordsOrphan: отказ коммита после записи объекта
// не удаляет объект без блокировки, а отправляет ключ на сверку.
func TestUpload_CommitFailureRecordsOrphan(t *testing.T) {
	fx := newRegistryFixture(t)
	fx.db.Files().CommitErr = errors.New("connection reset")

	_, err := fx.svc.Upload(context.Background(), fx.john, fileInput("a.txt", "hello", "product", "1"))
	require.ErrorIs(t, err, ErrSaveFailed)

	assert.True(t, fx.blobs.Has("assets/images/john/a.txt"))
	assert.Empty(t, fx.blobs.Deletes())
	orphans := fx.db.OrphanRows()
	require.Len(t, orphans, 1)
	assert.Equal(t, "assets/images/john/a.txt", orphans[0].Location)
	assert.Contains(t, orphans[0].Reason, "connection reset")
}

// TestUpload_CanceledContext: отменённый запрос прерывает фазу 1.
func TestUpload_CanceledContext(t *testing.T) {
	fx := newRegistryFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.svc.Upload(ctx, fx.john, fileInput("a.txt", "hello", "product", "1"))
	require.ErrorIs(t, err, ErrUploadFailed)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fx.db.Rows())
}

// TestSoftDelete_Idempotence: второй вызов возвращает 0 без ошибки.
func TestSoftDelete_Idempotence(t *testing.T) {
	fx := newRegistryFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Upload(ctx, fx.john, fileInput("a.txt", "a", "product", "1"))
	require.NoError(t, err)
	_, err = fx.svc.Upload(ctx, fx.john, fileInput("b.txt", "b", "product", "1"))
	require.NoError(t, err)

	n, err := fx.svc.SoftDelete(ctx, fx.john, "product", "1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = fx.svc.SoftDelete(ctx, fx.john, "product", "1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Строки и объекты остаются
	assert.Len(t, fx.db.Rows(), 2)
	assert.Equal(t, 2, fx.blobs.Len())
}

// TestSoftDelete_OnlyOwner: чужой тенант не может удалить даже публичную запись.
func TestSoftDelete_OnlyOwner(t *testing.T) {
	fx := newRegistryFixture(t)
	ctx := context.Background()

	f, err := fx.svc.Upload(ctx, fx.john, fileInput("a.txt", "a", "product", "1"))
	require.NoError(t, err)
	fx.db.SetPublic(f.ID, true)

	n, err := fx.svc.SoftDelete(ctx, fx.jimmy, "product", "1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, fx.db.Rows()[0].DeleteFlg)
}
