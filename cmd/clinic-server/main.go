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

	"github.com/healpoint/clinic/internal/config"
	"github.com/healpoint/clinic/internal/domain/clinic"
	"github.com/healpoint/clinic/internal/domain/identity"
	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/auth"
	"github.com/healpoint/clinic/internal/platform/cache"
	"github.com/healpoint/clinic/internal/platform/db"
	"github.com/healpoint/clinic/internal/platform/gateway"
	"github.com/healpoint/clinic/internal/platform/middleware"
	"github.com/healpoint/clinic/internal/platform/validation"
	"github.com/healpoint/clinic/migrations"
)

const tokenIssuer = "clinic"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic workflow API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
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
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
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
	})

	return cmd
}

// userCmd bootstraps staff accounts. The first admin has to come from here:
// the API only lets an admin create users.
func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &identity.CreateUserRequest{}
			req.Username, _ = cmd.Flags().GetString("username")
			req.Password, _ = cmd.Flags().GetString("password")
			req.Role, _ = cmd.Flags().GetString("role")
			req.Email, _ = cmd.Flags().GetString("email")
			req.FirstName, _ = cmd.Flags().GetString("first-name")
			req.LastName, _ = cmd.Flags().GetString("last-name")

			if err := validation.New().Validate(req); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			svc := identity.NewService(identity.NewUserRepo(pool), nil, auth.DefaultPolicy(), logger)

			ctx = auth.WithPrincipal(ctx, auth.Principal{Username: "cli", Role: auth.RoleAdmin})
			u, err := svc.CreateUser(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s %s (%s)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("role", "receptionist", "One of admin, doctor, receptionist")
	createCmd.Flags().String("email", "", "Contact email")
	createCmd.Flags().String("first-name", "", "Given name")
	createCmd.Flags().String("last-name", "", "Family name")
	_ = createCmd.MarkFlagRequired("username")
	_ = createCmd.MarkFlagRequired("password")
	cmd.AddCommand(createCmd)

	return cmd
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func runServer() error {
	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store := cacheStore(ctx, cfg, logger)
	coordinator := cache.NewCoordinator(store, logger)
	reader := cache.NewReader(store, cfg.CacheTTL, logger)

	gw, err := gateway.New(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("payment gateway disabled")
	} else {
		logger.Info().Str("provider", gw.Name()).Msg("payment gateway configured")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSigningKey), tokenIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	jwtMW := auth.JWTMiddleware(tokens.AccessConfig(auth.AuthSkipper))
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtMW))
	} else {
		e.Use(jwtMW)
	}

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	policy := auth.DefaultPolicy()

	identitySvc := identity.NewService(identity.NewUserRepo(pool), tokens, policy, logger)
	loginLimiter := echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      1,
			Burst:     5,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
	})
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1, loginLimiter)

	clinicSvc := clinic.NewService(clinic.Deps{
		Patients:     clinic.NewPatientRepo(pool),
		Appointments: clinic.NewAppointmentRepo(pool),
		Treatments:   clinic.NewTreatmentRepo(pool),
		Payments:     clinic.NewPaymentRepo(pool),
		Counters:     clinic.NewCounterStore(pool),
		Tx:           db.NewTxManager(pool),
		Doctors:      identitySvc,
		Authz:        policy,
		Cache:        coordinator,
		Reader:       reader,
		Gateway:      gw,
		Payment: clinic.PaymentSettings{
			Currency:    cfg.PaymentCurrency,
			Email:       cfg.DefaultPaymentEmail,
			CallbackURL: cfg.PaymentCallbackURL,
			ReturnURL:   cfg.PaymentReturnURL,
		},
		Logger: logger,
	})
	clinicHandler := clinic.NewHandler(clinicSvc)
	clinicHandler.RegisterRoutes(apiV1)
	clinicHandler.RegisterWebhook(apiV1)

	reconciler, err := clinic.NewReconciler(clinicSvc, cfg.ReconcileSchedule, cfg.ReconcileAfter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure payment reconciler")
	}
	reconciler.Start()

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
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	reconciler.Stop(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}

// cacheStore prefers Redis and falls back to the in-process store when no
// REDIS_URL is set or Redis is unreachable at startup.
func cacheStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) cache.Store {
	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(ctx, cfg.RedisURL, cfg.CacheKeyPrefix)
		if err == nil {
			logger.Info().Msg("using redis cache")
			return rs
		}
		logger.Warn().Err(err).Msg("redis unavailable, using in-memory cache")
	}
	ms := cache.NewMemoryStore()
	ms.StartCleanup(ctx, time.Minute)
	return ms
}
