package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/audit"
	"github.com/chemforge-inc/chemforge-engine/pkg/auth"
	"github.com/chemforge-inc/chemforge-engine/pkg/catalog"
	"github.com/chemforge-inc/chemforge-engine/pkg/config"
	"github.com/chemforge-inc/chemforge-engine/pkg/crypto"
	"github.com/chemforge-inc/chemforge-engine/pkg/database"
	"github.com/chemforge-inc/chemforge-engine/pkg/handlers"
	"github.com/chemforge-inc/chemforge-engine/pkg/identity"
	"github.com/chemforge-inc/chemforge-engine/pkg/logging"
	"github.com/chemforge-inc/chemforge-engine/pkg/metrics"
	"github.com/chemforge-inc/chemforge-engine/pkg/middleware"
	"github.com/chemforge-inc/chemforge-engine/pkg/repositories"
	"github.com/chemforge-inc/chemforge-engine/pkg/retry"
	"github.com/chemforge-inc/chemforge-engine/pkg/services"
	"github.com/chemforge-inc/chemforge-engine/pkg/tenancy"
)

// Version is set at build time via ldflags
var Version = "dev"

const sessionMaxAgeSeconds = 7 * 24 * 60 * 60

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionURL())),
		zap.String("redis", cfg.Redis.RedisAddr()))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sealer, err := crypto.NewSealer(cfg.CredentialsKey)
	if err != nil {
		return err
	}

	// Control-plane database
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionURL(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		return err
	}
	defer db.Close()

	sqlDB := db.StdDB()
	err = database.RunMigrations(sqlDB, logger.Named("migrations"))
	_ = sqlDB.Close()
	if err != nil {
		return err
	}

	m := metrics.New()
	auditor := audit.NewSecurityAuditor(logger)
	cat := catalog.Default()

	// Cache invalidation broadcast, when Redis is configured
	var invalidator tenancy.Invalidator = tenancy.NoopInvalidator{}
	var redisInvalidator *tenancy.RedisInvalidator
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		redisInvalidator = tenancy.NewRedisInvalidator(redisClient, cfg.Redis.InvalidationChannel, logger)
		invalidator = redisInvalidator
	}

	// Repositories
	companyRepo := repositories.NewCompanyRepository(db.Pool)
	tenantRepo := repositories.NewTenantRepository(db.Pool, sealer)
	eventRepo := repositories.NewProvisioningEventRepository(db.Pool)
	appRepo := repositories.NewAppRepository()
	profileRepo := repositories.NewUserProfileRepository()

	// Tenancy
	deployer := tenancy.NewDeployer(tenancy.NewPostgresSchemaDB(db.Pool), logger)
	registry := tenancy.NewRegistry(tenantRepo, tenancy.RegistryConfig{
		CacheTTL:        cfg.Tenancy.RegistryCacheTTL(),
		CacheMaxEntries: cfg.Tenancy.RegistryCacheMaxEntries,
	}, m, logger)
	handleFactory := tenancy.NewPoolHandleFactory(tenancy.PoolHandleConfig{
		BaseURL:  cfg.Database.ConnectionURL(),
		MaxConns: cfg.Tenancy.PoolMaxConns,
		MinConns: cfg.Tenancy.PoolMinConns,
	}, logger)
	router := tenancy.NewRouter(registry, handleFactory, tenancy.RouterConfig{
		HandleTTL:  cfg.Tenancy.HandleTTL(),
		MaxHandles: cfg.Tenancy.MaxHandles,
	}, invalidator, m, logger)
	defer router.Close()

	if redisInvalidator != nil {
		stopListening, err := redisInvalidator.Listen(ctx, router.HandleRemoteInvalidation)
		if err != nil {
			return err
		}
		defer stopListening()
	}

	identityClient := identity.NewClient(&cfg.Identity, logger)
	provisioner := tenancy.NewProvisioner(tenancy.ProvisionerDeps{
		Companies: companyRepo,
		Events:    eventRepo,
		Apps:      appRepo,
		Profiles:  profileRepo,
		Deployer:  deployer,
		Registry:  registry,
		Router:    router,
		Identity:  identityClient,
		Catalog:   cat,
		Auditor:   auditor,
		Metrics:   m,
	}, tenancy.ProvisionerConfig{
		DefaultAdminPassword: cfg.Tenancy.DefaultAdminPassword,
		DefaultApps:          cfg.Tenancy.DefaultApps,
		DatabaseName:         cfg.Database.Database,
	}, logger)

	// Services
	companyService := services.NewCompanyService(companyRepo, eventRepo, provisioner, logger)
	appService := services.NewAppService(appRepo, cat, logger)
	sessionService := services.NewSessionService(identityClient, logger)

	// Authentication
	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return err
	}
	defer jwksClient.Close()
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, cfg.Auth.PlatformAdminRole, logger), logger)
	sessionStore := auth.NewSessionStore(cfg.SessionSecret,
		auth.DeriveCookieSettings(cfg.BaseURL, cfg.CookieDomain), sessionMaxAgeSeconds)
	tenantMiddleware := database.WithTenantContext(router, auditor, logger)

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, db, router, registry, logger).RegisterRoutes(mux)
	handlers.NewCompaniesHandler(companyService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewAppsHandler(appService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewSessionHandler(sessionService, sessionStore, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", m.Handler())

	var handler http.Handler = mux
	handler = middleware.RequestMetrics(m)(handler)
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.ClientIP(cfg.TrustProxy)(handler)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting chemforge-engine",
			zap.String("addr", server.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
