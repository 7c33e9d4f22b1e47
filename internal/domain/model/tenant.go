package model

import "time"

// Tenant — владелец файлов. Создаётся утилитой tenantctl,
// сервис только читает справочник.
type Tenant struct {
	// ID — UUID тенанта
	ID string
	// Username — уникальное имя, совпадает с preferred_username в JWT
	Username string
	// CreatedAt — время создания
	CreatedAt time.Time
}
