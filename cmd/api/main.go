package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/clipcraft/clipcraft-api/internal/config"
	"github.com/clipcraft/clipcraft-api/internal/domain/credit"
	"github.com/clipcraft/clipcraft-api/internal/domain/generation"
	"github.com/clipcraft/clipcraft-api/internal/middleware"
	"github.com/clipcraft/clipcraft-api/internal/pkg/database"
	"github.com/clipcraft/clipcraft-api/internal/pkg/imaging"
	"github.com/clipcraft/clipcraft-api/internal/pkg/inflight"
	"github.com/clipcraft/clipcraft-api/internal/pkg/jwt"
	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
	"github.com/clipcraft/clipcraft-api/internal/pkg/metrics"
	pkgresponse "github.com/clipcraft/clipcraft-api/internal/pkg/response"
	"github.com/clipcraft/clipcraft-api/internal/pkg/storage"
	"github.com/clipcraft/clipcraft-api/internal/pkg/veo"
)

const (
	redisPoolSize  = 20
	rateLimitBurst = 2
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("persistence", cfg.Persistence).
		Msg("Starting ClipCraft API")

	// ---------- Persistence ----------
	var (
		creditStore credit.Store         = credit.NewMemoryStore()
		videoStore  generation.VideoStore = generation.NewMemoryRepository()
	)
	if !cfg.UseMemoryPersistence() {
		db, err := database.NewPostgres(cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres(db)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = database.EnsureSchema(ctx, db)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to apply schema")
		}

		creditStore = credit.NewRepository(db)
		videoStore = generation.NewRepository(db)
	}

	// Redis backs the single-flight guard and worker wake-ups. Without it
	// the API runs single-instance.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(cfg.RedisURL, redisPoolSize)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, using in-process guard")
		} else {
			rdb = client
			defer database.CloseRedis(rdb)
		}
	}

	lockTTL := cfg.VeoPollInterval*time.Duration(cfg.VeoMaxPollAttempts) + 5*time.Minute
	var guard inflight.Guard = inflight.NewMemoryGuard(lockTTL)
	var notifier generation.Notifier
	if rdb != nil {
		guard = inflight.NewRedisGuard(rdb, lockTTL)
		notifier = generation.NewRedisNotifier(rdb)
	}

	// ---------- Storage ----------
	store, err := storage.New(storage.Config{
		Driver: cfg.StorageDriver,
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		},
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		LocalPath:   cfg.LocalStoragePath,
		LocalURL:    cfg.LocalStorageURL,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("Failed to create storage")
	}
	images := imaging.NewProcessor(imaging.DefaultConfig())
	assets := generation.NewAssets(images, store)

	// ---------- Generation ----------
	veoClient := veo.NewClient(veo.Config{
		BaseURL:   cfg.VeoBaseURL,
		APIKey:    cfg.GoogleCloudAPIKey,
		ProjectID: cfg.GoogleCloudProjectID,
		Timeout:   time.Duration(cfg.VeoTimeoutSeconds) * time.Second,
		UserAgent: "clipcraft-api",
	})
	veoProvider := generation.NewVeoProvider(veoClient, images, generation.VeoConfig{
		APIKey:    cfg.GoogleCloudAPIKey,
		ProjectID: cfg.GoogleCloudProjectID,
		Model:     cfg.VeoModel,
		Poll: generation.PollConfig{
			Interval:    cfg.VeoPollInterval,
			MaxAttempts: cfg.VeoMaxPollAttempts,
		},
	})
	if err := veoProvider.Validate(); err != nil {
		log.Warn().Err(err).Msg("Video provider is not configured; generations will fail")
	}

	ledger := credit.NewLedger(creditStore, cfg.InitialCredits)

	generationService := generation.NewService(generation.Deps{
		Factory:  generation.NewFactory(cfg.GenerationProvider, veoProvider),
		Ledger:   ledger,
		Guard:    guard,
		Videos:   videoStore,
		Assets:   assets,
		Notifier: notifier,
	}, generation.Config{
		Cost:            cfg.GenerationCost,
		SingleFlight:    cfg.GenerationSingleFlight,
		RefundOnFailure: cfg.GenerationRefundOnFail,
	})
	jobs := generation.NewJobTracker(generationService, cfg.JobRetention)

	var limiter *middleware.RateLimiter
	if cfg.GenerationRatePerMinute > 0 {
		limiter = middleware.NewRateLimiter(cfg.GenerationRatePerMinute, rateLimitBurst)
	}

	// ---------- HTTP ----------
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	router := newRouter(cfg.AllowedOrigins, apiHandlers{
		auth:       middleware.Auth(jwtService),
		generation: generation.NewHandler(generationService, jobs, limiter, cfg.AllowedOrigins),
		credit:     credit.NewHandler(ledger),
	})

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// ?wait=true holds the response for the whole poll loop
		WriteTimeout: lockTTL,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := jobs.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Generation jobs still running at exit; their charges stand")
	}

	log.Info().Msg("Server exited properly")
}

type apiHandlers struct {
	auth       func(http.Handler) http.Handler
	generation *generation.Handler
	credit     *credit.Handler
}

func newRouter(allowedOrigins []string, h apiHandlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(allowedOrigins))
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/generations", h.generation.Routes(h.auth))
		r.Mount("/videos", h.generation.VideoRoutes(h.auth))
		r.Mount("/credits", h.credit.Routes(h.auth))
	})

	r.Mount("/api/admin", h.credit.AdminRoutes(h.auth))

	return r
}
