// Пакет config — загрузка и валидация конфигурации File Registry
// из переменных окружения.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Поддерживаемые бэкенды объектного хранилища.
const (
	BlobBackendMinIO = "minio"
	BlobBackendS3    = "s3"
)

// Config содержит все параметры конфигурации File Registry.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Файл логов (опционально, с ротацией через lumberjack)
	LogFile string
	// Максимальный размер файла логов до ротации, МБ
	LogMaxSizeMB int
	// Количество хранимых архивов логов
	LogMaxBackups int
	// Срок хранения архивов логов, дни
	LogMaxAgeDays int

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальное число соединений в пуле (0 — значение pgxpool по умолчанию)
	DBMaxConns int

	// --- Объектное хранилище ---

	// Бэкенд: minio или s3
	BlobBackend string
	// Endpoint хранилища (host:port для MinIO, URL для S3-совместимых)
	BlobEndpoint string
	// Регион (нужен для локальной подписи presigned URL)
	BlobRegion string
	// Бакет для файлов тенантов
	BlobBucket string
	BlobAccessKey string
	BlobSecretKey string
	// Использовать HTTPS при обращении к хранилищу
	BlobUseSSL bool
	// Создавать бакет при старте, если его нет
	BlobCreateBucket bool
	// Путь health endpoint хранилища для мониторинга зависимостей
	BlobHealthPath string

	// --- Политика файлов ---

	// Корневая папка ключей объектов
	AssetFolder string
	// Максимальный размер загружаемого файла, байт
	MaxFileSize int64
	// Срок жизни записи после загрузки
	FileTTL time.Duration
	// Срок действия presigned URL
	PresignTTL time.Duration
	// Таймаут записи в хранилище при загрузке
	UploadTimeout time.Duration
	// Размер страницы по умолчанию
	DefaultPageSize int
	// Верхняя граница размера страницы
	MaxPageSize int

	// --- JWT ---

	// URL JWKS endpoint провайдера токенов
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Допустимое отклонение времени при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Справочник тенантов ---

	TenantCacheSize int
	TenantCacheTTL  time.Duration

	// --- Фоновые задачи ---

	// Cron-расписание сверки осиротевших объектов (пусто — отключено)
	OrphanReconcileSchedule string
	// Сколько осиротевших объектов обрабатывать за один проход
	OrphanBatchSize int
	// Группа topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:gocyclo,cyclop // линейная загрузка параметров
func Load() (*Config, error) {
	cfg, err := LoadDatabase()
	if err != nil {
		return nil, err
	}

	// --- Сервер ---

	// FR_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("FR_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("FR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FR_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FR_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.LogFile = getEnvDefault("FR_LOG_FILE", "")
	if cfg.LogMaxSizeMB, err = getEnvInt("FR_LOG_MAX_SIZE_MB", 100); err != nil {
		return nil, fmt.Errorf("FR_LOG_MAX_SIZE_MB: %w", err)
	}
	if cfg.LogMaxBackups, err = getEnvInt("FR_LOG_MAX_BACKUPS", 5); err != nil {
		return nil, fmt.Errorf("FR_LOG_MAX_BACKUPS: %w", err)
	}
	if cfg.LogMaxAgeDays, err = getEnvInt("FR_LOG_MAX_AGE_DAYS", 14); err != nil {
		return nil, fmt.Errorf("FR_LOG_MAX_AGE_DAYS: %w", err)
	}

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("FR_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FR_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("FR_HTTP_WRITE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("FR_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("FR_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("FR_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Объектное хранилище ---

	cfg.BlobBackend = strings.ToLower(getEnvDefault("FR_BLOB_BACKEND", BlobBackendMinIO))
	if cfg.BlobBackend != BlobBackendMinIO && cfg.BlobBackend != BlobBackendS3 {
		return nil, fmt.Errorf("FR_BLOB_BACKEND: недопустимое значение %q, допустимые: minio, s3", cfg.BlobBackend)
	}

	cfg.BlobEndpoint = getEnvDefault("FR_BLOB_ENDPOINT", "localhost:9000")
	cfg.BlobRegion = getEnvDefault("FR_BLOB_REGION", "us-east-1")

	cfg.BlobBucket, err = getEnvRequired("FR_BLOB_BUCKET")
	if err != nil {
		return nil, err
	}

	cfg.BlobAccessKey = getEnvDefault("FR_BLOB_ACCESS_KEY", "")
	cfg.BlobSecretKey = getEnvDefault("FR_BLOB_SECRET_KEY", "")

	if cfg.BlobUseSSL, err = getEnvBool("FR_BLOB_USE_SSL", false); err != nil {
		return nil, fmt.Errorf("FR_BLOB_USE_SSL: %w", err)
	}
	if cfg.BlobCreateBucket, err = getEnvBool("FR_BLOB_CREATE_BUCKET", false); err != nil {
		return nil, fmt.Errorf("FR_BLOB_CREATE_BUCKET: %w", err)
	}
	cfg.BlobHealthPath = getEnvDefault("FR_BLOB_HEALTH_PATH", "/minio/health/live")

	// --- Политика файлов ---

	cfg.AssetFolder = strings.Trim(getEnvDefault("FR_ASSET_FOLDER", "assets/images"), "/")

	maxFileSize, err := getEnvInt("FR_MAX_FILE_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("FR_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("FR_MAX_FILE_SIZE: значение должно быть > 0")
	}
	cfg.MaxFileSize = int64(maxFileSize)

	if cfg.FileTTL, err = getEnvPositiveDuration("FR_FILE_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("FR_FILE_TTL: %w", err)
	}
	if cfg.PresignTTL, err = getEnvPositiveDuration("FR_PRESIGN_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("FR_PRESIGN_TTL: %w", err)
	}
	// S3 SigV4 не допускает presigned URL дольше 7 дней
	if cfg.PresignTTL > 7*24*time.Hour {
		return nil, fmt.Errorf("FR_PRESIGN_TTL: значение %s превышает максимум 168h", cfg.PresignTTL)
	}
	if cfg.UploadTimeout, err = getEnvPositiveDuration("FR_UPLOAD_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("FR_UPLOAD_TIMEOUT: %w", err)
	}

	if cfg.DefaultPageSize, err = getEnvInt("FR_DEFAULT_PAGE_SIZE", 10); err != nil {
		return nil, fmt.Errorf("FR_DEFAULT_PAGE_SIZE: %w", err)
	}
	if cfg.MaxPageSize, err = getEnvInt("FR_MAX_PAGE_SIZE", 100); err != nil {
		return nil, fmt.Errorf("FR_MAX_PAGE_SIZE: %w", err)
	}
	if cfg.DefaultPageSize < 1 || cfg.MaxPageSize < cfg.DefaultPageSize {
		return nil, fmt.Errorf("FR_DEFAULT_PAGE_SIZE/FR_MAX_PAGE_SIZE: требуется 1 <= default (%d) <= max (%d)",
			cfg.DefaultPageSize, cfg.MaxPageSize)
	}

	// --- JWT ---

	cfg.JWTJWKSURL, err = getEnvRequired("FR_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("FR_JWT_ISSUER", "")

	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("FR_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("FR_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("FR_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("FR_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("FR_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FR_JWT_LEEWAY: %w", err)
	}

	// --- Справочник тенантов ---

	if cfg.TenantCacheSize, err = getEnvInt("FR_TENANT_CACHE_SIZE", 1000); err != nil {
		return nil, fmt.Errorf("FR_TENANT_CACHE_SIZE: %w", err)
	}
	if cfg.TenantCacheSize < 1 {
		return nil, fmt.Errorf("FR_TENANT_CACHE_SIZE: значение должно быть >= 1")
	}
	if cfg.TenantCacheTTL, err = getEnvPositiveDuration("FR_TENANT_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("FR_TENANT_CACHE_TTL: %w", err)
	}

	// --- Фоновые задачи ---

	cfg.OrphanReconcileSchedule = os.Getenv("FR_ORPHAN_RECONCILE_SCHEDULE")
	if _, set := os.LookupEnv("FR_ORPHAN_RECONCILE_SCHEDULE"); !set {
		cfg.OrphanReconcileSchedule = "@every 10m"
	}
	if cfg.OrphanBatchSize, err = getEnvInt("FR_ORPHAN_BATCH_SIZE", 100); err != nil {
		return nil, fmt.Errorf("FR_ORPHAN_BATCH_SIZE: %w", err)
	}
	if cfg.OrphanBatchSize < 1 || cfg.OrphanBatchSize > 10000 {
		return nil, fmt.Errorf("FR_ORPHAN_BATCH_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.OrphanBatchSize)
	}

	cfg.DephealthGroup = getEnvDefault("FR_DEPHEALTH_GROUP", "file-registry")
	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("FR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration("FR_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// LoadDatabase загружает только параметры PostgreSQL.
// Используется утилитами, которым не нужны HTTP, JWT и хранилище (tenantctl).
func LoadDatabase() (*Config, error) {
	cfg := &Config{}
	var err error

	// FR_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("FR_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("FR_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FR_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("FR_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("FR_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("FR_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("FR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("FR_DB_MAX_CONNS", 0)
	if err != nil {
		return nil, fmt.Errorf("FR_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 0 {
		return nil, fmt.Errorf("FR_DB_MAX_CONNS: значение должно быть >= 0")
	}

	// Значения, без которых логгер не поднимется, даже если Load не вызывался
	cfg.LogLevel = slog.LevelInfo
	cfg.LogFormat = "text"

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// BlobEndpointURL возвращает endpoint хранилища в виде URL со схемой.
func (c *Config) BlobEndpointURL() string {
	if strings.Contains(c.BlobEndpoint, "://") {
		return c.BlobEndpoint
	}
	scheme := "http"
	if c.BlobUseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.BlobEndpoint
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// Если задан FR_LOG_FILE, логи дублируются в файл с ротацией.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
