// Точка входа File Registry — мультитенантного реестра файлов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL и
// объектному хранилищу, собирает сервисный слой, запускает фоновые задачи
// (сверка осиротевших объектов, topologymetrics) и HTTP-сервер с JWT middleware.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/bigkaa/goartstore/file-registry/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-registry/internal/blobstore"
	"github.com/bigkaa/goartstore/file-registry/internal/config"
	"github.com/bigkaa/goartstore/file-registry/internal/database"
	"github.com/bigkaa/goartstore/file-registry/internal/repository"
	"github.com/bigkaa/goartstore/file-registry/internal/server"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
)

func main() {
	// 0. .env для локального запуска (необязателен)
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("Ошибка чтения .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("File Registry запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Объектное хранилище: один долгоживущий клиент на процесс
	blobClient, err := blobstore.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации объектного хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Repositories
	txRunner := repository.NewTxRunner(pool)
	fileRepo := repository.NewFileRegistryRepository(pool, txRunner)
	tenantRepo := repository.NewTenantRepository(pool)
	orphanRepo := repository.NewOrphanRepository(pool)

	// 7. Services
	registrySvc := service.NewFileRegistryService(
		fileRepo, orphanRepo, blobClient,
		service.FilePolicy{
			AssetFolder:   cfg.AssetFolder,
			MaxFileSize:   cfg.MaxFileSize,
			FileTTL:       cfg.FileTTL,
			UploadTimeout: cfg.UploadTimeout,
		},
		logger,
	)
	querySvc := service.NewFileQueryService(fileRepo, blobClient, cfg.PresignTTL, logger)
	tenantDir := service.NewTenantDirectory(tenantRepo, cfg.TenantCacheSize, cfg.TenantCacheTTL, logger)

	// 8. Сверка осиротевших объектов (пустое расписание — отключена)
	var reconciler *service.OrphanReconciler
	if cfg.OrphanReconcileSchedule != "" {
		reconciler = service.NewOrphanReconciler(orphanRepo, fileRepo, blobClient, cfg.OrphanBatchSize, logger)
		if err := reconciler.Start(cfg.OrphanReconcileSchedule); err != nil {
			logger.Error("Ошибка запуска сверки осиротевших объектов", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer reconciler.Stop()
	} else {
		logger.Warn("FR_ORPHAN_RECONCILE_SCHEDULE пуст, сверка осиротевших объектов отключена")
	}

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + хранилище)
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "file-registry",
		Group:           cfg.DephealthGroup,
		DB:              pgDB,
		PGConnURL:       cfg.DatabaseURL(),
		BlobEndpointURL: cfg.BlobEndpointURL(),
		BlobHealthPath:  cfg.BlobHealthPath,
		CheckInterval:   cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		tenantDir,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. Handlers
	healthHandler := handlers.NewHealthHandler(
		handlers.NamedChecker{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		handlers.NamedChecker{Name: "blob_store", Checker: blobClient},
		handlers.NamedChecker{Name: "jwks", Checker: middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout)},
	)
	apiHandler := handlers.NewAPIHandler(
		healthHandler, registrySvc, querySvc,
		cfg.MaxFileSize,
		handlers.PageLimits{Default: cfg.DefaultPageSize, Max: cfg.MaxPageSize},
		logger,
	)

	// 12. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, server.NewRouter(apiHandler, jwtAuth.Middleware(), logger))
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // exitAfterDefer
	}

	logger.Info("File Registry остановлен")
}
