// tenantctl — утилита заведения тенантов File Registry.
// Работает напрямую с PostgreSQL (FR_DB_*), применяет миграции перед командой.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/file-registry/internal/config"
	"github.com/bigkaa/goartstore/file-registry/internal/database"
	"github.com/bigkaa/goartstore/file-registry/internal/repository"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}

// app — общие зависимости подкоманд, создаются в PersistentPreRunE.
type app struct {
	pool    *pgxpool.Pool
	tenants repository.TenantRepository
	logger  *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Управление тенантами File Registry",
		Version:       config.Version,
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.pool != nil {
				a.pool.Close()
			}
		},
	}

	root.AddCommand(
		newCreateCommand(a),
		newSeedCommand(a),
		newListCommand(a),
	)

	return root
}

// open загружает конфигурацию БД, применяет миграции и открывает пул.
func (a *app) open(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("чтение .env: %w", err)
	}

	cfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	a.logger = config.SetupLogger(cfg)

	if err := database.Migrate(cfg, a.logger); err != nil {
		return fmt.Errorf("миграции: %w", err)
	}

	a.pool, err = database.Connect(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	a.tenants = repository.NewTenantRepository(a.pool)
	return nil
}

func newCreateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <username>",
		Short: "Создать тенанта",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.tenants.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.ID, t.Username)
			return nil
		},
	}
}

func newSeedCommand(a *app) *cobra.Command {
	var (
		prefix string
		count  int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Создать тенантов <prefix>1..<prefix>N; существующие пропускаются",
		RunE: func(cmd *cobra.Command, _ []string) error {
			created, skipped, err := seedTenants(cmd.Context(), a.tenants, prefix, count)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "создано: %d, пропущено: %d\n", created, skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "john", "префикс username")
	cmd.Flags().IntVar(&count, "count", 10, "количество тенантов")

	return cmd
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Вывести тенантов",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenants, err := a.tenants.List(cmd.Context())
			if err != nil {
				return err
			}
			return printTenants(cmd.OutOrStdout(), tenants)
		},
	}
}

// seedTenants создаёт prefix1..prefixN. Занятые username не считаются ошибкой.
func seedTenants(ctx context.Context, repo repository.TenantRepository, prefix string, count int) (created, skipped int, err error) {
	if count < 1 {
		return 0, 0, fmt.Errorf("--count должен быть >= 1, получено %d", count)
	}

	for i := 1; i <= count; i++ {
		username := fmt.Sprintf("%s%d", prefix, i)
		if _, err := repo.Create(ctx, username); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				skipped++
				continue
			}
			return created, skipped, fmt.Errorf("создание %s: %w", username, err)
		}
		created++
	}
	return created, skipped, nil
}
