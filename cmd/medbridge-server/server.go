package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/internal/config"
	"github.com/ehr/medbridge/internal/domain/consent"
	"github.com/ehr/medbridge/internal/domain/dashboard"
	"github.com/ehr/medbridge/internal/domain/patient"
	"github.com/ehr/medbridge/internal/domain/prescription"
	"github.com/ehr/medbridge/internal/domain/registry"
	"github.com/ehr/medbridge/internal/domain/staff"
	"github.com/ehr/medbridge/internal/domain/tenant"
	"github.com/ehr/medbridge/internal/domain/transfer"
	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/internal/platform/clock"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/internal/platform/metrics"
	"github.com/ehr/medbridge/internal/platform/middleware"
	"github.com/ehr/medbridge/internal/platform/notification"
	"github.com/ehr/medbridge/internal/platform/throttle"
	"github.com/ehr/medbridge/migrations"
)

// routeRegistrar is implemented by every domain handler.
type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

// publicRegistrar is implemented by handlers with unauthenticated routes.
type publicRegistrar interface {
	RegisterPublicRoutes(public *echo.Group)
}

// deps is everything newServer mounts.
type deps struct {
	pool     *pgxpool.Pool
	resolver db.PartitionResolver
	checks   []db.Check
	handlers []routeRegistrar
	public   []publicRegistrar
}

// buildLimiter returns the consent resend limiter. Redis is used when
// configured so the window is shared across instances.
func buildLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (throttle.Limiter, []db.Check, func()) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set, consent throttling is per instance")
		return throttle.NewMemoryLimiter(cfg.OTPResendLimit, cfg.OTPTTL), nil, func() {}
	}
	client, err := throttle.NewRedisClient(ctx, throttle.RedisConfig{
		URL:          cfg.RedisURL,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, falling back to in-memory consent throttling")
		return throttle.NewMemoryLimiter(cfg.OTPResendLimit, cfg.OTPTTL), nil, func() {}
	}
	limiter := throttle.NewRedisLimiter(client, "medbridge", cfg.OTPResendLimit, cfg.OTPTTL)
	checks := []db.Check{{Name: "redis", Probe: limiter.Ping}}
	return limiter, checks, func() { _ = client.Close() }
}

// buildNotifier routes email over SMTP when configured. SMS always goes
// to the log.
func buildNotifier(cfg *config.Config, logger zerolog.Logger) notification.Notifier {
	logSender := notification.NewLogSender(logger)
	router := &notification.Router{Email: logSender, SMS: logSender}
	if cfg.SMTPEnabled() {
		router.Email = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.EmailFrom,
		})
	}
	return router
}

// buildDeps wires repositories, services and handlers. The returned func
// drains pending notifications and releases Redis.
func buildDeps(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*deps, func()) {
	tx := db.NewTxManager(pool, cfg.RequestTimeout)
	gw := db.NewGateway(pool)
	clk := clock.New()
	templates := notification.NewTemplateEngine()
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)

	dispatcher := notification.NewDispatcher(buildNotifier(cfg, logger), logger)
	limiter, checks, closeLimiter := buildLimiter(ctx, cfg, logger)

	// Hospitals
	tenantRepo := tenant.NewRepo(pool)
	directory := tenant.NewDirectory(tenantRepo)
	userRepo := staff.NewUserRepo(pool)
	provisioner := tenant.NewProvisioner(
		tenantRepo,
		userRepo,
		tenant.NewSchemaBuilder(db.NewMigrator(pool, migrations.Tenant())),
		tx,
		hasher,
		logger,
	)

	// Staff
	staffSvc := staff.NewService(staff.Deps{
		Users:  userRepo,
		Tokens: staff.NewTokenRepo(pool),
		Tx:     tx,
		Hasher: hasher,
		Signer: auth.NewTokenIssuer(auth.JWTConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.SigningKey(),
			TTL:        cfg.JWTTTL,
		}),
		Mailer:      dispatcher,
		Templates:   templates,
		Tenants:     directory,
		Clock:       clk,
		FrontendURL: cfg.FrontendBaseURL,
		Logger:      logger,
	})

	// Clinical records
	index := registry.NewService(registry.NewRepo(pool), tx)
	patientRepo := patient.NewRepo(gw)
	rxRepo := prescription.NewRepo(gw)
	patientSvc := patient.NewService(patientRepo, index, rxRepo, tx)
	rxSvc := prescription.NewService(rxRepo, patientSvc, tx)

	// Consent flow
	ledger := consent.NewLedger(consent.NewRepo(pool), tx, clk, cfg.OTPTTL)
	engine := transfer.NewEngine(transfer.EngineDeps{
		Directory:     directory,
		Consents:      ledger,
		Index:         index,
		Patients:      patientRepo,
		Prescriptions: rxRepo,
		Tx:            tx.WithTimeout(cfg.TransferTimeout),
		Logger:        logger,
	})
	transferSvc := transfer.NewService(transfer.ServiceDeps{
		Identities: index,
		Consents:   ledger,
		Hospitals:  directory,
		Engine:     engine,
		Limiter:    limiter,
		Sender:     dispatcher,
		Templates:  templates,
		DemoCodes:  cfg.OTPDemoEnabled(),
		Logger:     logger,
	})

	dashboardSvc := dashboard.NewService(patientSvc.Count, patientSvc.CountCases, rxSvc.Count, staffSvc.CountActive)

	tenantHandler := tenant.NewHandler(directory, provisioner)
	staffHandler := staff.NewHandler(staffSvc)

	d := &deps{
		pool:     pool,
		resolver: directory,
		checks:   checks,
		public:   []publicRegistrar{tenantHandler, staffHandler},
		handlers: []routeRegistrar{
			tenantHandler,
			staffHandler,
			patient.NewHandler(patientSvc),
			prescription.NewHandler(rxSvc),
			transfer.NewHandler(transferSvc),
			dashboard.NewHandler(dashboardSvc),
		},
	}
	cleanup := func() {
		dispatcher.Wait()
		closeLimiter()
	}
	return d, cleanup
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

// newServer builds the echo instance and mounts every route.
func newServer(cfg *config.Config, d *deps, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewRequestValidator()
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", db.HealthHandler(d.pool, d.checks...))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	rateLimit := middleware.RateLimit(rateLimitConfig(cfg))
	timeout := middleware.RequestTimeout(cfg.RequestTimeout)

	public := e.Group("/api/v1", rateLimit, timeout)
	for _, h := range d.public {
		h.RegisterPublicRoutes(public)
	}

	api := e.Group("/api/v1",
		rateLimit,
		timeout,
		auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.SigningKey(),
			TTL:        cfg.JWTTTL,
		}),
		db.TenantMiddleware(d.resolver),
		middleware.Audit(logger),
	)
	for _, h := range d.handlers {
		h.RegisterRoutes(api)
	}

	return e
}
