package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/medbridge/internal/config"
	"github.com/ehr/medbridge/internal/domain/staff"
	"github.com/ehr/medbridge/internal/domain/tenant"
	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medbridge-server",
		Short: "Multi-tenant clinical records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

// withPool loads config, opens the pool and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to the public schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrations.Public()).Up(ctx, "public")
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show public schema migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrations.Public()).Status(ctx, "public")
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tenants",
		Short: "Apply pending template versions to every tenant partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				partitions, err := tenant.NewDirectory(tenant.NewRepo(pool)).Partitions(ctx)
				if err != nil {
					return err
				}
				migrator := db.NewMigrator(pool, migrations.Tenant())
				for _, p := range partitions {
					count, err := migrator.UpPartition(ctx, p)
					if err != nil {
						return fmt.Errorf("partition %s: %w", p, err)
					}
					fmt.Printf("%-30s %d migration(s) applied\n", p, count)
				}
				return nil
			})
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage hospitals",
	}

	var in tenant.Onboarding
	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Onboard a hospital: create its partition and ADMIN user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg)
				prov := tenant.NewProvisioner(
					tenant.NewRepo(pool),
					staff.NewUserRepo(pool),
					tenant.NewSchemaBuilder(db.NewMigrator(pool, migrations.Tenant())),
					db.NewTxManager(pool, 0),
					auth.NewBcryptHasher(cfg.BcryptCost),
					logger,
				)
				res, err := prov.Provision(ctx, in)
				if err != nil {
					return err
				}
				fmt.Printf("Provisioned %s (%s) in partition %s\n", res.Tenant.Name, res.Tenant.ID, res.Tenant.Partition)
				fmt.Printf("Administrator: %s\n", res.Admin.Email)
				return nil
			})
		},
	}
	f := provisionCmd.Flags()
	f.StringVar(&in.Name, "name", "", "Hospital name")
	f.StringVar(&in.Address, "address", "", "Hospital address")
	f.StringVar(&in.ContactEmail, "contact-email", "", "Hospital contact email")
	f.StringVar(&in.ContactPhone, "contact-phone", "", "Hospital contact phone")
	f.StringVar(&in.LicenseNumber, "license", "", "License number (unique)")
	f.StringVar(&in.AdminName, "admin-name", "", "Administrator full name")
	f.StringVar(&in.AdminEmail, "admin-email", "", "Administrator email")
	f.StringVar(&in.AdminPassword, "admin-password", "", "Administrator password (min 8 characters)")
	for _, name := range []string{"name", "contact-email", "license", "admin-name", "admin-email", "admin-password"} {
		_ = provisionCmd.MarkFlagRequired(name)
	}
	cmd.AddCommand(provisionCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List hospitals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				tenants, total, err := tenant.NewDirectory(tenant.NewRepo(pool)).List(ctx, 1000, 0)
				if err != nil {
					return err
				}
				fmt.Printf("%-36s %-30s %-20s %s\n", "ID", "NAME", "LICENSE", "PARTITION")
				for _, t := range tenants {
					fmt.Printf("%-36s %-30s %-20s %s\n", t.ID, t.Name, t.LicenseNumber, t.Partition)
				}
				fmt.Printf("%d hospital(s)\n", total)
				return nil
			})
		},
	})

	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	d, cleanup := buildDeps(ctx, cfg, pool, logger)
	defer cleanup()

	e := newServer(cfg, d, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
