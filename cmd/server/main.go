// Package main is the entry point of the signflow server.
// It loads configuration, connects PostgreSQL, wires the signing engine and serves the HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/avissapr/signflow/internal/auth"
	"github.com/avissapr/signflow/internal/cache"
	"github.com/avissapr/signflow/internal/config"
	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/handlers"
	"github.com/avissapr/signflow/internal/metrics"
	"github.com/avissapr/signflow/internal/middleware"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/modes"
	"github.com/avissapr/signflow/internal/notify"
	"github.com/avissapr/signflow/internal/pdf"
	"github.com/avissapr/signflow/internal/repository"
	"github.com/avissapr/signflow/internal/scanner"
	"github.com/avissapr/signflow/internal/security"
	"github.com/avissapr/signflow/internal/services"
	"github.com/avissapr/signflow/internal/storage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================
	// Persistence
	// ========================================

	if err := database.RunMigrations(cfg.Database.URL, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	pool, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	retry := cfg.TxRetry
	retry.OnRetry = func(err error, wait time.Duration) {
		metrics.TxRetriesTotal.Inc()
	}
	uow := repository.NewUnitOfWork(pool, retry, logger)

	companyRepo := repository.NewCompanyRepository(pool)
	companies := cache.NewCompanyConfig(companyRepo, cfg.CompanyConfigTTL, models.CompanyConfiguration{
		ShouldSendSignedDocument: true,
		DownloadLinkTTL:          cfg.DownloadLinkTTL,
	})
	companies.Start()
	defer companies.Stop()

	// ========================================
	// External collaborators
	// ========================================

	files, err := storage.NewS3Storage(ctx, storage.Options{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.AWSRegion,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure object storage")
	}
	forms := pdf.NewEngine(files)

	var sms notify.SMSSender
	if cfg.SMSGatewayURL != "" {
		sms = notify.NewSMSGateway(cfg.SMSGatewayURL, cfg.SMSGatewayToken, 10*time.Second)
	}
	notifier := notify.NewDispatcher(
		notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom),
		sms,
		logger,
	)

	tokens, err := auth.New(cfg.JWTSecret, cfg.Security.SignerTokenTTL, cfg.Security.OwnerTokenTTL, repository.NewSignerRepository(pool))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure token signing")
	}

	// ========================================
	// Signing engine
	// ========================================

	factory := modes.NewFactory(modes.Deps{
		Notifier:        notifier,
		Pdf:             forms,
		Files:           files,
		Companies:       companies,
		Issuer:          tokens,
		LinkBaseURL:     cfg.SignerLinkBaseURL,
		DownloadLinkTTL: cfg.DownloadLinkTTL,
		Logger:          logger,
	})
	sessions := services.NewSessionService(uow.Stores().Sessions, tokens)
	otp := services.NewOtpService(uow, sessions, notifier, cfg.Security, logger)
	defer otp.Close()
	update := services.NewUpdateService(services.UpdateDeps{
		UnitOfWork: uow,
		Sessions:   sessions,
		Pdf:        forms,
		Scanner:    scanner.New(cfg.ScannerURL, cfg.ScannerTimeout),
		Notifier:   notifier,
		Modes:      factory,
		Security:   cfg.Security,
		Logger:     logger,
	})
	signing := services.NewSigningService(services.SigningDeps{
		UnitOfWork:      uow,
		Sessions:        sessions,
		Modes:           factory,
		Pdf:             forms,
		Forms:           forms,
		Files:           files,
		Companies:       companies,
		DownloadLinkTTL: cfg.DownloadLinkTTL,
		Logger:          logger,
	})
	companyService := services.NewCompanyService(companies, companyRepo, companies, logger)
	authService := services.NewAuthService(repository.NewUserRepository(pool), tokens, cfg.Security.BcryptCost)

	// ========================================
	// HTTP
	// ========================================

	loginLimiter := security.NewPerWindowLimiter(cfg.Security.RateLimitLogin, time.Minute)
	defer loginLimiter.Stop()
	signerLimiter := security.NewPerWindowLimiter(cfg.Security.RateLimitSigner, time.Minute)
	defer signerLimiter.Stop()
	ownerLimiter := security.NewPerWindowLimiter(cfg.Security.RateLimitOwner, time.Minute)
	defer ownerLimiter.Stop()

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(logger),
		BodyLimit:             (cfg.Security.MaxAttachments + 1) * cfg.Security.MaxAttachmentSize * 4 / 3,
		DisableStartupMessage: cfg.IsProduction(),
	})

	securityMiddleware := middleware.NewSecurityMiddleware(logger)

	// Panic recovery (should be first)
	app.Use(recover.New())
	app.Use(securityMiddleware.RequestLogger())
	app.Use(securityMiddleware.SecureHeaders())
	app.Use(compress.New())

	prometheus := fiberprometheus.New("signflow")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	handlers.Register(app, handlers.Routes{
		Auth:          handlers.NewAuthHandler(authService, security.NewAccountLockout(cfg.Security.PasswordLockoutThreshold, cfg.Security.PasswordLockoutDuration), logger),
		Signer:        handlers.NewSignerHandler(signing, otp, update),
		Collections:   handlers.NewCollectionHandler(signing),
		Company:       handlers.NewCompanyHandler(companyService),
		Tokens:        tokens,
		Security:      securityMiddleware,
		LoginLimiter:  loginLimiter,
		SignerLimiter: signerLimiter,
		OwnerLimiter:  ownerLimiter,
		Health: func(ctx context.Context) bool {
			return database.IsConnected(ctx, pool)
		},
	})

	go func() {
		<-ctx.Done()
		logger.Info().Msg("gracefully shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error().Err(err).Msg("shutdown did not complete")
		}
	}()

	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting server")
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}
	logger.Info().Msg("server stopped")
}

// newLogger writes JSON in production and colored console output otherwise.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.IsProduction() {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	logger = logger.With().Timestamp().Str("service", "signflow").Logger()
	log.Logger = logger
	return logger
}
