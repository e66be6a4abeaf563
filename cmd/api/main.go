package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/background"
	"github.com/BradenHooton/postguard/internal/config"
	"github.com/BradenHooton/postguard/internal/database"
	"github.com/BradenHooton/postguard/internal/handlers"
	"github.com/BradenHooton/postguard/internal/identity"
	"github.com/BradenHooton/postguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/postguard/internal/middleware"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/ratelimit"
	"github.com/BradenHooton/postguard/internal/repositories"
	"github.com/BradenHooton/postguard/internal/routes"
	"github.com/BradenHooton/postguard/internal/security"
	"github.com/BradenHooton/postguard/internal/services"
	pkgauth "github.com/BradenHooton/postguard/pkg/auth"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Redis is optional; without it counters and the IP cache stay in memory
	rdb := connectRedis(cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	m := metrics.New()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)
	postRepo := repositories.NewPostRepository(db)

	// Login rate limiter
	var statsStore ratelimit.StatsStore = ratelimit.NewMemoryStatsStore()
	var ipCache security.IPCache = security.NewMemoryIPCache()
	if rdb != nil {
		statsStore = ratelimit.NewRedisStatsStore(rdb,
			ratelimit.WithStatsPrefix(cfg.Redis.KeyPrefix+":login_limits"),
			ratelimit.WithStatsTTL(cfg.Redis.StatsTTL))
		ipCache = security.NewRedisIPCache(rdb)
	}
	limiter := ratelimit.New(cfg.Auth.MaxLoginAttempts, cfg.Auth.LoginTimeout, ratelimit.WithStats(statsStore, logger))

	// Security event pipeline
	resolver := security.NewLookupResolver(security.LookupConfig{
		Environment: cfg.Server.Env,
		URL:         cfg.Security.IPLookupURL,
		RPS:         cfg.Security.IPLookupRPS,
		CacheTTL:    cfg.Security.IPCacheTTL,
	}, ipCache, m, logger)

	recorder := security.NewRecorder(security.Config{
		Enabled:     cfg.Security.EnableLogging,
		Environment: cfg.Server.Env,
		QueueSize:   cfg.Security.EventQueueSize,
	}, eventRepo, resolver, logger, security.WithMetrics(m))
	go recorder.Start()

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.VerifyTokenExpiry,
	)

	// Enable composite signing with per-user TokenKey
	tokenManager.SetUserRepo(userRepo)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.TimingDelayBase,
		RandomDelay: cfg.Auth.TimingDelayRandom,
	})

	authOpts := []services.AuthOption{
		services.WithTimingDelay(timingDelay),
		services.WithAuthMetrics(m),
		services.WithEmailService(newEmailService(cfg, logger)),
	}

	if cfg.Google.Enabled() {
		google, err := identity.NewGoogleProvider(identity.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		})
		if err != nil {
			logger.Error("failed to initialize google sign-in", slog.Any("error", err))
			os.Exit(1)
		}
		authOpts = append(authOpts, services.WithGoogleProvider(google))
	}

	// Post change notifications
	watcher := repositories.NewPostWatcher(db.DSN, logger)
	watcherCtx, watcherCancel := context.WithCancel(context.Background())
	defer watcherCancel()
	go func() {
		if err := watcher.Run(watcherCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("post watcher stopped", slog.Any("error", err))
		}
	}()

	// Initialize services
	authService := services.NewAuthService(userRepo, tokenManager, revokeRepo, limiter, recorder, logger, cfg.Server.Env, authOpts...)
	postService := services.NewPostService(postRepo, userRepo, watcher, m, logger)
	securityService := services.NewSecurityService(userRepo, eventRepo, limiter, logger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, handlers.AuthHandlerConfig{
		Cookies: auth.CookieConfig{
			Secure:   cfg.Security.CookieSecure,
			SameSite: cfg.Security.CookieSameSite,
		},
		RefreshTTL: cfg.Auth.RefreshTokenExpiry,
		AppURL:     cfg.Server.AppURL,
	}, logger)
	postHandler := handlers.NewPostHandler(postService, logger)
	securityHandler := handlers.NewSecurityHandler(securityService)

	healthChecks := map[string]handlers.CheckFunc{"database": db.HealthCheck}
	if rdb != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	healthHandler := handlers.NewHealthHandler(healthChecks)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.RequestInfo(pkghttp.NewIPConfig(cfg.Security.TrustedProxies)))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:     authHandler,
		PostHandler:     postHandler,
		SecurityHandler: securityHandler,
		HealthHandler:   healthHandler,
		Metrics:         m.Handler(),
		TokenManager:    tokenManager,
		UserRepo:        userRepo,
		RevokeRepo:      revokeRepo,
		Revocation:      auth.RevocationConfig{FailClosed: cfg.Auth.RevocationFailClose},
		Logger:          logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(revokeRepo, limiter, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	watcherCancel()
	limiter.Close()

	// Drain queued security events before the pool closes
	if err := recorder.Stop(shutdownCtx); err != nil {
		logger.Error("security events not flushed", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
}

func connectRedis(cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if cfg.Addr == "" {
		logger.Info("REDIS_ADDR not set, using in-memory stores")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory stores",
			slog.String("addr", cfg.Addr),
			slog.Any("error", err),
		)
		_ = rdb.Close()
		return nil
	}

	logger.Info("redis connection established", slog.String("addr", cfg.Addr))
	return rdb
}

// newEmailService sends through SES outside development and logs links otherwise.
func newEmailService(cfg *config.Config, logger *slog.Logger) services.EmailService {
	if cfg.IsDevelopment() {
		return services.NewLogEmailService(cfg.Server.BaseURL, logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ses, err := services.NewSESEmailService(ctx, cfg.Email.Region, cfg.Email.FromAddress, cfg.Email.FromName, cfg.Server.BaseURL, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}
	return ses
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD
// are set, or promotes the existing account with that email.
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	existing, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		if existing.Role == "admin" {
			logger.Info("admin user already exists")
			return nil
		}
		existing.Role = "admin"
		if _, err := userRepo.Update(ctx, existing); err != nil {
			return fmt.Errorf("failed to promote admin user: %w", err)
		}
		logger.Info("existing user promoted to admin")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	// Hash password
	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:         adminEmail,
		PasswordHash:  hashedPassword,
		DisplayName:   "Admin",
		Role:          "admin",
		EmailVerified: true,
	}

	_, err = userRepo.Create(ctx, admin, models.ProviderInfo{
		ProviderID: models.ProviderPassword,
		Subject:    adminEmail,
		Email:      adminEmail,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
