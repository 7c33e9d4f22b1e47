package repository

import (
	"strings"
	"testing"
	"time"
)

// --- Тесты baseListQuery ---

// TestBaseListQuery_BaseFilter проверяет правила видимости и живости без доп. фильтров.
func TestBaseListQuery_BaseFilter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	query, args, err := baseListQuery(FileListFilter{RequesterID: "tenant-1", Now: now}).
		Columns("COUNT(*)").ToSql()
	if err != nil {
		t.Fatalf("ToSql ошибка: %v", err)
	}

	for _, part := range []string{
		"SELECT COUNT(*) FROM files f JOIN tenants t ON t.id = f.tenant_id",
		"(f.tenant_id = $1 OR f.is_public = $2)",
		"f.delete_flg = $3",
		"(f.expire_at IS NULL OR f.expire_at >= $4)",
	} {
		if !strings.Contains(query, part) {
			t.Errorf("query = %q, ожидалось содержание %q", query, part)
		}
	}

	if len(args) != 4 {
		t.Fatalf("args count = %d, ожидался 4", len(args))
	}
	if args[0] != "tenant-1" || args[1] != true || args[2] != false || args[3] != now {
		t.Errorf("args = %v", args)
	}
}

// TestBaseListQuery_AllFilters проверяет AND-комбинацию необязательных равенств.
func TestBaseListQuery_AllFilters(t *testing.T) {
	username, resource, resourceID := "john", "product", "1"
	query, args, err := baseListQuery(FileListFilter{
		RequesterID:    "tenant-1",
		Now:            time.Now(),
		TenantUsername: &username,
		Resource:       &resource,
		ResourceID:     &resourceID,
	}).Columns(listColumns...).ToSql()
	if err != nil {
		t.Fatalf("ToSql ошибка: %v", err)
	}

	for _, part := range []string{"t.username = $5", "f.resource = $6", "f.resource_id = $7"} {
		if !strings.Contains(query, part) {
			t.Errorf("query = %q, ожидалось содержание %q", query, part)
		}
	}
	if len(args) != 7 {
		t.Fatalf("args count = %d, ожидался 7", len(args))
	}
	// resource_id всегда сравнивается как строка
	if _, ok := args[6].(string); !ok {
		t.Errorf("args[6] = %T, ожидалась строка", args[6])
	}
}

// TestBaseListQuery_PartialFilters проверяет, что отсутствующие фильтры не добавляют условий.
func TestBaseListQuery_PartialFilters(t *testing.T) {
	resourceID := "42"
	query, args, err := baseListQuery(FileListFilter{
		RequesterID: "tenant-1",
		Now:         time.Now(),
		ResourceID:  &resourceID,
	}).Columns("COUNT(*)").ToSql()
	if err != nil {
		t.Fatalf("ToSql ошибка: %v", err)
	}

	if strings.Contains(query, "t.username") || strings.Contains(query, "f.resource =") {
		t.Errorf("query = %q содержит лишние условия", query)
	}
	if !strings.Contains(query, "f.resource_id = $5") {
		t.Errorf("query = %q, ожидалось f.resource_id = $5", query)
	}
	if len(args) != 5 {
		t.Errorf("args count = %d, ожидался 5", len(args))
	}
}
