package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/file-registry/internal/repository/repotest"
)

func TestTenantDirectory_CachesFoundTenant(t *testing.T) {
	db := repotest.New()
	john := db.MustTenant("john")
	dir := NewTenantDirectory(db.Tenants(), 16, time.Minute, testLogger())
	ctx := context.Background()

	for range 3 {
		got, err := dir.Resolve(ctx, "john")
		require.NoError(t, err)
		assert.Equal(t, john.ID, got.ID)
	}

	assert.Equal(t, 1, db.Tenants().Lookups)
}

// TestTenantDirectory_NotFoundNotCached: созданный позже тенант сразу разрешается.
func TestTenantDirectory_NotFoundNotCached(t *testing.T) {
	db := repotest.New()
	dir := NewTenantDirectory(db.Tenants(), 16, time.Minute, testLogger())
	ctx := context.Background()

	_, err := dir.Resolve(ctx, "ghost")
	require.ErrorIs(t, err, ErrTenantNotFound)

	db.MustTenant("ghost")

	got, err := dir.Resolve(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", got.Username)
	assert.Equal(t, 2, db.Tenants().Lookups)
}

func TestTenantDirectory_Expiry(t *testing.T) {
	db := repotest.New()
	db.MustTenant("john")
	dir := NewTenantDirectory(db.Tenants(), 16, 50*time.Millisecond, testLogger())
	ctx := context.Background()

	_, err := dir.Resolve(ctx, "john")
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	_, err = dir.Resolve(ctx, "john")
	require.NoError(t, err)
	assert.Equal(t, 2, db.Tenants().Lookups)
}
