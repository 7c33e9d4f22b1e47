package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/file-registry/internal/blobstore/blobtest"
	"github.com/bigkaa/goartstore/file-registry/internal/repository/repotest"
)

func TestOrphanReconciler_RunOnce(t *testing.T) {
	db := repotest.New()
	blobs := blobtest.NewMemory()
	ctx := context.Background()

	john := db.MustTenant("john")
	reg := NewFileRegistryService(db.Files(), db.Orphans(), blobs, testPolicy(), testLogger())

	// Живая запись ссылается на used.txt
	_, err := reg.Upload(ctx, john, fileInput("used.txt", "u", "product", "1"))
	require.NoError(t, err)

	// Объект без записи
	require.NoError(t, blobs.Put(ctx, "assets/images/john/lost.txt", strings.NewReader("l"), 1, "text/plain"))

	require.NoError(t, db.Orphans().Record(ctx, "assets/images/john/used.txt", "удаление объекта: timeout"))
	require.NoError(t, db.Orphans().Record(ctx, "assets/images/john/lost.txt", "удаление объекта: timeout"))

	r := NewOrphanReconciler(db.Orphans(), db.Files(), blobs, 100, testLogger())

	result, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, &ReconcileResult{Deleted: 1, Kept: 1}, result)

	assert.True(t, blobs.Has("assets/images/john/used.txt"))
	assert.False(t, blobs.Has("assets/images/john/lost.txt"))

	for _, o := range db.OrphanRows() {
		assert.NotNil(t, o.ResolvedAt, o.Location)
	}

	// Повторный проход ничего не делает
	result, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, &ReconcileResult{}, result)
}

func TestOrphanReconciler_DeleteFailure(t *testing.T) {
	db := repotest.New()
	blobs := blobtest.NewMemory()
	ctx := context.Background()

	require.NoError(t, db.Orphans().Record(ctx, "assets/images/john/lost.txt", "первая причина"))
	blobs.DeleteErr = errors.New("access denied")

	r := NewOrphanReconciler(db.Orphans(), db.Files(), blobs, 100, testLogger())

	result, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	rows := db.OrphanRows()
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ResolvedAt)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Contains(t, rows[0].Reason, "access denied")

	// Хранилище восстановилось
	blobs.DeleteErr = nil
	result, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.NotNil(t, db.OrphanRows()[0].ResolvedAt)
}

func TestOrphanReconciler_ReferenceCheckFailure(t *testing.T) {
	db := repotest.New()
	blobs := blobtest.NewMemory()
	ctx := context.Background()

	require.NoError(t, db.Orphans().Record(ctx, "assets/images/john/lost.txt", "причина"))
	db.Files().ReferenceErr = errors.New("database is down")

	r := NewOrphanReconciler(db.Orphans(), db.Files(), blobs, 100, testLogger())

	result, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, blobs.Deletes())
}

// TestOrphanReconciler_SerializedWithSameKey: загрузка ключа, начатая между
// проверкой ссылок и удалением, выполняется после сверки и сохраняет объект.
func TestOrphanReconciler_SerializedWithSameKey(t *testing.T) {
	db := repotest.New()
	blobs := blobtest.NewMemory()
	ctx := context.Background()

	john := db.MustTenant("john")
	reg := NewFileRegistryService(db.Files(), db.Orphans(), blobs, testPolicy(), testLogger())

	require.NoError(t, blobs.Put(ctx, "assets/images/john/a.txt", strings.NewReader("old"), 3, "text/plain"))
	require.NoError(t, db.Orphans().Record(ctx, "assets/images/john/a.txt", "удаление объекта: timeout"))

	done := uploadAfterReferenceCheck(db, func() error {
		_, err := reg.Upload(ctx, john, fileInput("a.txt", "avatar", "avatar", "9"))
		return err
	})

	r := NewOrphanReconciler(db.Orphans(), db.Files(), blobs, 100, testLogger())
	result, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("параллельная загрузка не завершилась")
	}

	rows := db.Rows()
	require.Len(t, rows, 1)
	data, ok := blobs.Get(rows[0].Location)
	require.True(t, ok, "объект живой записи удалён")
	assert.Equal(t, "avatar", string(data))
}

func TestOrphanReconciler_BatchSize(t *testing.T) {
	db := repotest.New()
	blobs := blobtest.NewMemory()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, db.Orphans().Record(ctx, key, "причина"))
	}

	r := NewOrphanReconciler(db.Orphans(), db.Files(), blobs, 2, testLogger())

	result, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted)

	result, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
}

func TestOrphanReconciler_InvalidSchedule(t *testing.T) {
	db := repotest.New()
	r := NewOrphanReconciler(db.Orphans(), db.Files(), blobtest.NewMemory(), 10, testLogger())

	err := r.Start("каждые пять минут")
	require.Error(t, err)

	// Stop без Start безопасен
	r.Stop()
}
