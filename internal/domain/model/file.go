package model

import "time"

// FileRecord — запись файла тенанта в реестре.
// Хранится в таблице files.
type FileRecord struct {
	// ID — UUID записи
	ID string
	// TenantID — UUID владельца
	TenantID string
	// TenantUsername — username владельца (заполняется при выборке списков)
	TenantUsername string
	// Name — имя файла, как его прислал клиент (без каталогов)
	Name string
	// Resource — тип владеющего ресурса (product, order, ...)
	Resource string
	// ResourceID — идентификатор владеющего ресурса, всегда строка
	ResourceID string
	// Location — ключ объекта в хранилище
	Location string
	// ExpireAt — момент истечения; nil — запись не истекает
	ExpireAt *time.Time
	// IsPublic — запись видна любому аутентифицированному тенанту
	IsPublic bool
	// DeleteFlg — мягкое удаление
	DeleteFlg bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// IsLive сообщает, видна ли запись при чтении на момент now:
// не удалена и не истекла. Граница включительная (expire_at >= now).
func (f *FileRecord) IsLive(now time.Time) bool {
	if f.DeleteFlg {
		return false
	}
	return f.ExpireAt == nil || !f.ExpireAt.Before(now)
}

// VisibleTo сообщает, может ли тенант tenantID читать запись.
func (f *FileRecord) VisibleTo(tenantID string) bool {
	return f.TenantID == tenantID || f.IsPublic
}

// OrphanBlob — объект хранилища без записи в реестре,
// для которого не удалось выполнить компенсирующее удаление.
type OrphanBlob struct {
	ID         int64
	Location   string
	Reason     string
	Attempts   int
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
