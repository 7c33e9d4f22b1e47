package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/file-registry/internal/repository/repotest"
)

func TestSeedTenants_Idempotent(t *testing.T) {
	db := repotest.New()
	ctx := context.Background()
	db.MustTenant("john3")

	created, skipped, err := seedTenants(ctx, db.Tenants(), "john", 10)
	require.NoError(t, err)
	assert.Equal(t, 9, created)
	assert.Equal(t, 1, skipped)

	created, skipped, err = seedTenants(ctx, db.Tenants(), "john", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 10, skipped)
}

func TestSeedTenants_InvalidCount(t *testing.T) {
	_, _, err := seedTenants(context.Background(), repotest.New().Tenants(), "john", 0)
	require.Error(t, err)
}

func TestPrintTenants(t *testing.T) {
	db := repotest.New()
	db.MustTenant("jimmy")
	db.MustTenant("john")

	tenants, err := db.Tenants().List(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printTenants(&buf, tenants))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "jimmy")
	assert.Contains(t, lines[2], "john")
}
