package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"boacid/internal/accounts"
	"boacid/internal/auth"
	"boacid/internal/config"
	"boacid/internal/handler"
	"boacid/internal/httpmiddleware"
	"boacid/internal/issuance"
	"boacid/internal/ledger"
	"boacid/internal/photos"
	"boacid/internal/store"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	cfg := config.Load()
	logger := config.SetupLogger(cfg)

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App, logger zerolog.Logger) error {
	ctx := context.Background()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := accounts.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	accts := accounts.NewService(repo)

	// Redis is optional; without it sessions and limits live in memory.
	var (
		redisClient *store.Redis
		revoker     auth.Revoker = auth.NewMemoryRevoker()
		limiter     httpmiddleware.Limiter
		loginLimit  httpmiddleware.Limiter
	)
	if cfg.RedisAddr != "" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable at startup")
		}
		revoker = redisClient
		limiter = redisClient.Limiter("api", cfg.RateLimitPerMin)
		loginLimit = redisClient.Limiter("login", cfg.LoginRateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
		loginLimit = httpmiddleware.NewTokenBucket(cfg.LoginRateLimitPerMin, cfg.LoginRateLimitPerMin)
	}

	// Photo storage: Cloudinary when configured, local upload dir otherwise.
	var (
		photoStore photos.Store
		uploadDir  string
	)
	if cfg.CloudinaryURL != "" {
		cloud, err := photos.NewCloudinary(cfg.CloudinaryURL, cfg.CloudinaryFolder)
		if err != nil {
			return err
		}
		photoStore = cloud
		logger.Info().Str("cloud", cloud.CloudName).Msg("cloudinary configured")
	} else {
		local, err := photos.NewLocal(cfg.UploadDir)
		if err != nil {
			return err
		}
		photoStore = local
		uploadDir = cfg.UploadDir
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ids := ledger.New(cfg.LedgerPath, ledger.WithLogger(logger))
	svc := issuance.NewService(ids, photoStore, issuance.NewMetrics(reg), logger)

	h := handler.New(handler.Config{
		JWTIssuer:     cfg.JWTIssuer,
		JWTSigningKey: cfg.JWTSigningKey,
		SessionTTL:    cfg.SessionTTL,
		SecureCookies: cfg.Production(),
		AllowSignup:   cfg.AllowSignup,
		UploadDir:     uploadDir,
	}, svc, accts, revoker, logger)
	h.AddHealthCheck("ledger", func(ctx context.Context) bool {
		_, err := ids.Count(ctx)
		return err == nil
	})
	h.AddHealthCheck("db", db.Healthy)
	if redisClient != nil {
		h.AddHealthCheck("redis", redisClient.Healthy)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.RequestLogger(logger, "/healthz", "/metrics"))
	r.Use(httpmiddleware.NewHTTPMetrics(reg).Middleware())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.RateLimit(limiter, logger))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	h.Register(r, httpmiddleware.RateLimit(loginLimit, logger))

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("ledger", ids.Path()).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info().Msg("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced shutdown")
	}

	logger.Info().Msg("server exited")
	return nil
}

// corsConfig allows credentials only for an explicit origin list; browsers
// refuse credentialed responses to a wildcard origin.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{httpmiddleware.RequestIDHeader},
		MaxAge:        24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
