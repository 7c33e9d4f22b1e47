// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInvalidFile — файл не передан, пуст или имя некорректно.
	ErrInvalidFile = errors.New("некорректный файл")
	// ErrFileTooLarge — файл больше FR_MAX_FILE_SIZE.
	ErrFileTooLarge = errors.New("файл слишком большой")
	// ErrMissingResource — не указан resource.
	ErrMissingResource = errors.New("не указан resource")
	// ErrMissingResourceID — не указан resource_id.
	ErrMissingResourceID = errors.New("не указан resource_id")
	// ErrUploadFailed — запись в объектное хранилище не удалась (фаза 1).
	ErrUploadFailed = errors.New("ошибка загрузки файла в хранилище")
	// ErrSaveFailed — сохранение метаданных не удалось (фаза 2).
	ErrSaveFailed = errors.New("ошибка сохранения метаданных файла")
	// ErrTenantNotFound — тенант с таким username не зарегистрирован.
	ErrTenantNotFound = errors.New("тенант не найден")
)

// ValidationError — ошибка валидации с сообщением для клиента API.
// errors.Is находит через неё и ErrValidation, и конкретную причину Kind.
type ValidationError struct {
	// Kind — конкретная причина (ErrInvalidFile, ErrFileTooLarge, ...)
	Kind error
	// Message — текст для ответа API
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Kind}
}

func newValidationError(kind error, message string) error {
	return &ValidationError{Kind: kind, Message: message}
}
