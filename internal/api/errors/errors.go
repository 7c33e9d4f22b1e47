// Пакет errors — конструкторы ответов с ошибками File Registry.
// Формат тела: {"code": "...", "message": "..."}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUploadFailed    = "UPLOAD_FAILED"
	CodeSaveFailed      = "SAVE_FAILED"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — тело ответа ошибки.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:    code,
		Message: message,
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// UploadFailed — 400 объект не удалось записать в хранилище.
func UploadFailed(w http.ResponseWriter) {
	WriteError(w, http.StatusBadRequest, CodeUploadFailed, "File upload failed")
}

// SaveFailed — 400 метаданные файла не удалось сохранить.
func SaveFailed(w http.ResponseWriter) {
	WriteError(w, http.StatusBadRequest, CodeSaveFailed, "File save failed")
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
