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
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edav/edav/internal/config"
	"github.com/edav/edav/internal/domain/access"
	"github.com/edav/edav/internal/domain/guardian"
	"github.com/edav/edav/internal/domain/patient"
	"github.com/edav/edav/internal/ledger"
	"github.com/edav/edav/internal/platform/auth"
	"github.com/edav/edav/internal/platform/db"
	"github.com/edav/edav/internal/platform/middleware"
	"github.com/edav/edav/internal/platform/seal"
	"github.com/edav/edav/internal/recordstore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edav-server",
		Short: "Emergency Data Access Vault API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
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
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()

	// Access ledger: Postgres when configured, in-memory in development,
	// otherwise an explicit unconfigured backend so every call fails with a
	// typed error instead of a nil dereference.
	policy := ledger.Policy{Quorum: cfg.Quorum, RequestTTL: cfg.RequestTTL}
	var accessLedger ledger.AccessLedger
	var pool *pgxpool.Pool
	switch {
	case cfg.DatabaseURL != "":
		pool, err = db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		accessLedger = ledger.NewPG(pool, policy)
		logger.Info().Msg("using postgres access ledger")
	case cfg.IsDev():
		accessLedger = ledger.NewMemory(policy)
		logger.Warn().Msg("DATABASE_URL not set; using in-memory access ledger (state is lost on restart)")
	default:
		accessLedger = &ledger.Unconfigured{}
		logger.Warn().Msg("DATABASE_URL not set; access ledger is unconfigured")
	}

	// Record store
	var store recordstore.Store
	if cfg.RecordStorePath != "" {
		ldb, err := recordstore.OpenLevelDB(cfg.RecordStorePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.RecordStorePath).Msg("failed to open record store")
		}
		defer ldb.Close()
		store = ldb
		logger.Info().Str("path", cfg.RecordStorePath).Msg("using leveldb record store")
	} else {
		store = recordstore.NewMemoryStore()
		logger.Warn().Msg("RECORD_STORE_PATH not set; using in-memory record store")
	}

	// Sealer
	var sealer *seal.Sealer
	masterKey, err := cfg.MasterKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid RECORD_MASTER_KEY")
	}
	if masterKey != nil {
		sealer, err = seal.New(masterKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize sealer")
		}
	} else {
		logger.Warn().Msg("RECORD_MASTER_KEY not set; record sealing is disabled")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware([]byte(cfg.AuthSecret)))
	}

	// API group
	api := e.Group("/api")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	// Domain handlers
	accessSvc := access.NewService(accessLedger, store, sealer)
	access.NewHandler(accessSvc).RegisterRoutes(api)

	patientSvc := patient.NewService(accessLedger, store, sealer)
	patient.NewHandler(patientSvc).RegisterRoutes(api)

	guardianSvc := guardian.NewService(accessLedger)
	guardian.NewHandler(guardianSvc).RegisterRoutes(api)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
