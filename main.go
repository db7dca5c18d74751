package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"architect-studio/common"
	"architect-studio/db"
	"architect-studio/jobs"
	"architect-studio/middleware"
	"architect-studio/sections"
	"architect-studio/sections/billing"
	"architect-studio/sections/common/auth"
	"architect-studio/sections/common/users"
	"architect-studio/sections/floorplans"
	"architect-studio/sections/planning"
	"architect-studio/sections/projects"
	"architect-studio/services"
	"architect-studio/storage"
	"architect-studio/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getEnv("APP_ENV", "production")

	// Text logs for humans in development, JSON for the log pipeline otherwise
	logOpts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if env == "development" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, logOpts)))
	} else {
		logOpts.Level = slog.LevelInfo
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, logOpts)))
		gin.SetMode(gin.ReleaseMode)
	}

	if _, err := os.Stat(common.PRIVATE_CREDENTIALS_DOTENV); err == nil {
		if err := godotenv.Load(common.PRIVATE_CREDENTIALS_DOTENV); err != nil {
			fatal("Failed to load .env.private file", "error", err)
		}
	}

	cfgDir := getEnv("CONFIG_DIR", common.DEFAULT_CONFIG_DIR)

	cfg, err := common.LoadConfig(cfgDir)
	if err != nil {
		fatal("Failed to load config", "error", err)
	}

	plans, err := common.LoadPlans(cfgDir)
	if err != nil {
		fatal("Failed to load plans", "error", err)
	}
	slog.Info("Plans loaded", "count", len(plans))

	database, err := db.Connect(ctx, &db.Config{DatabaseURL: cfg.DatabaseURL, Debug: cfg.DatabaseDebug})
	if err != nil {
		fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		fatal("Failed to migrate database", "error", err)
	}

	// Redis only backs the product cache, so the server runs without it
	var redisClient *storage.RedisClient
	if cfg.RedisAddr != "" {
		redisClient, err = storage.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, 0, cfg.RedisPrefix)
		if err != nil {
			slog.Warn("Redis unavailable, product cache disabled", "addr", cfg.RedisAddr, "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	blob, err := services.NewBlobStore(ctx, cfg)
	if err != nil {
		fatal("Failed to initialize blob storage", "error", err)
	}

	promptBuilder, err := utils.NewPromptBuilder(path.Join(cfgDir, "prompts"), cfg.MaxPromptTokens)
	if err != nil {
		fatal("Failed to load prompt templates", "error", err)
	}

	gemini, err := services.NewGeminiClient(ctx, services.GeminiConfig{
		BaseURL:         common.GEMINI_API_BASE_URL,
		APIKey:          cfg.GeminiAPIKey,
		CredentialsFile: cfg.GeminiCredentialsFile,
		TextModel:       cfg.GeminiModel,
		ImageModel:      cfg.GeminiImageModel,
	}, blob, promptBuilder)
	if err != nil {
		fatal("Failed to initialize Gemini client", "error", err)
	}

	meshy := services.NewMeshyClient(common.MESHY_API_BASE_URL, cfg.MeshyAPIKey)
	trellis := services.NewTrellisClient(common.REPLICATE_API_BASE_URL, cfg.ReplicateToken, cfg.TrellisVersion)
	meshProviders := map[string]services.MeshGenerator{
		meshy.Name():   meshy,
		trellis.Name(): trellis,
	}
	slog.Info("Mesh provider selected", "provider", cfg.MeshProvider)

	sessions, err := auth.NewSessionManager(cfg.SessionSecret, common.DEFAULT_SESSION_ISSUER, cfg.SessionExpiryHours, cfg.SecureCookies)
	if err != nil {
		fatal("Failed to initialize sessions", "error", err)
	}

	metrics := middleware.NewMetrics()
	limiter := middleware.NewRateLimiter(cfg.GenerationRatePerMin, cfg.GenerationRateBurst)

	deps := &sections.Dependencies{
		Config:        cfg,
		Store:         database,
		Redis:         redisClient,
		Sessions:      sessions,
		Prompts:       promptBuilder,
		Images:        gemini,
		Advisor:       gemini,
		Mesh:          meshProviders[cfg.MeshProvider],
		MeshProviders: meshProviders,
		Retexturer:    meshy,
		Blob:          blob,
		Normalizer:    services.NewImageNormalizer(cfg.MaxImageDimension),
		Postcodes:     services.NewPostcodeClient(common.POSTCODES_API_BASE_URL),
		Billing:       services.NewStripeService(plans, cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.FrontendURL),
		Metrics:       metrics,
		Limiter:       limiter,
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.HandleMethodNotAllowed = true

	trustedProxies := getEnv("TRUSTED_PROXIES", "")
	corsOrigins := getEnv("CORS_ORIGINS", "")

	if env != "development" && trustedProxies == "" {
		fatal("In production mode, TRUSTED_PROXIES must be set")
	} else if trustedProxies != "" {
		slog.Info("Setting trusted proxies", "proxies", trustedProxies)
		if err := r.SetTrustedProxies(strings.Split(trustedProxies, ",")); err != nil {
			fatal("Failed to set trusted proxies", "error", err)
		}
	} else {
		slog.Warn("No trusted proxies set (TRUSTED_PROXIES not defined)")
	}

	corsConfig := cors.DefaultConfig()

	if env != "development" && corsOrigins == "" {
		fatal("In production mode, CORS_ORIGINS must be set")
	} else if corsOrigins != "" {
		slog.Info("CORS origins set from CORS_ORIGINS")
		corsConfig.AllowOrigins = strings.Split(corsOrigins, ",")
	} else {
		slog.Warn("Using default origin function in non-production mode (CORS_ORIGINS not defined)")
		corsConfig.AllowOriginFunc = func(origin string) bool {
			return origin == "http://localhost" || strings.HasPrefix(origin, "http://localhost:")
		}
	}

	// the session travels in a cookie
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))
	r.Use(metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.Ping(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	users.RegisterRoutes(r, deps)
	users.RegisterOAuthRoutes(r, deps, users.NewGoogleConfig(cfg))
	projects.RegisterRoutes(r, deps)
	floorplans.RegisterRoutes(r, deps)
	planning.RegisterRoutes(r, deps)
	billing.RegisterRoutes(r, deps)

	var spa gin.HandlerFunc
	if publicDir := os.Getenv("APP_PUBLIC"); publicDir != "" {
		slog.Info("Serving static files", "directory", publicDir)
		spa = middleware.ServeSPA(publicDir)
	} else if proxyAddr := os.Getenv("FRONTEND_PROXY"); proxyAddr != "" && env == "development" {
		slog.Info("Proxying frontend requests", "upstream", proxyAddr)
		spa, err = middleware.FrontendProxy(proxyAddr)
		if err != nil {
			fatal("Failed to configure frontend proxy", "error", err)
		}
	} else {
		slog.Info("No static file directory set (APP_PUBLIC not defined)")
	}
	r.NoRoute(middleware.NoRoute(spa))
	r.NoMethod(middleware.NoMethod())

	sweeper := jobs.NewSweeper(database, metrics, time.Duration(cfg.StaleGenerationMinutes)*time.Minute)
	if err := sweeper.Start(jobs.DefaultSchedule); err != nil {
		fatal("Failed to start sweeper", "error", err)
	}
	defer sweeper.Stop()

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server starting", "addr", cfg.ListenAddr, "env", env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
