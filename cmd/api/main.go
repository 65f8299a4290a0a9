package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/opina/server/internal/auth"
	"github.com/opina/server/internal/category"
	"github.com/opina/server/internal/config"
	"github.com/opina/server/internal/db"
	httphandler "github.com/opina/server/internal/http"
	"github.com/opina/server/internal/http/handlers"
	"github.com/opina/server/internal/middleware"
	"github.com/opina/server/internal/notify"
	"github.com/opina/server/internal/poll"
	"github.com/opina/server/internal/repo"
	"github.com/opina/server/internal/stats"
	"github.com/opina/server/internal/vote"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	userRepo := repo.NewUserRepo(database)
	categoryRepo := repo.NewCategoryRepo(database)
	pollRepo := repo.NewPollRepo(database)
	voteRepo := repo.NewVoteRepo(database)

	// Initialize services
	now := time.Now
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)
	authService := auth.NewAuthService(jwtService, userRepo)
	statsService := stats.NewService(pollRepo, voteRepo, now)
	pollService := poll.NewService(pollRepo, categoryRepo, voteRepo, statsService, now)
	categoryService := category.NewService(categoryRepo)
	voteService := vote.NewService(pollRepo, voteRepo, userRepo, statsService, notify.FromConfig(cfg), vote.Options{
		ExpiryPolicy: cfg.TokenExpiryPolicy,
		CodeTTL:      cfg.ValidationCodeTTL,
		DevMode:      cfg.DevMode,
	}, now)

	authLimiter, voteLimiter, closeLimiters := newLimiters(cfg)
	defer closeLimiters()

	router := httphandler.NewRouter(httphandler.Handlers{
		Auth:       handlers.NewAuthHandler(authService),
		Polls:      handlers.NewPollHandler(pollService),
		Votes:      handlers.NewVoteHandler(voteService),
		Stats:      handlers.NewStatsHandler(statsService),
		Categories: handlers.NewCategoryHandler(categoryService),
		Health:     handlers.NewHealthHandler(database),
	}, httphandler.Options{
		APIPrefix:   cfg.APIPrefix,
		FrontendURL: cfg.FrontendURL,
		DevMode:     cfg.DevMode,
		Tokens:      jwtService,
		AuthLimiter: authLimiter,
		VoteLimiter: voteLimiter,
	})

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s (prefix %s)", cfg.Port, cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// newLimiters shares rate limit state through Redis when REDIS_URL is set
// and falls back to per-process memory otherwise.
func newLimiters(cfg *config.Config) (authLimiter, voteLimiter middleware.Limiter, closeFn func()) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unreachable, rate limits fail open until it recovers: %v", err)
		}
		log.Println("Rate limits backed by Redis")
		return middleware.NewRedisLimiter(client, "opina:rl:auth", httphandler.AuthRateWindow, httphandler.AuthRateMax),
			middleware.NewRedisLimiter(client, "opina:rl:vote", httphandler.VoteRateWindow, httphandler.VoteRateMax),
			func() { _ = client.Close() }
	}

	authMem := middleware.NewMemoryLimiter(httphandler.AuthRateWindow, httphandler.AuthRateMax)
	voteMem := middleware.NewMemoryLimiter(httphandler.VoteRateWindow, httphandler.VoteRateMax)
	return authMem, voteMem, func() {
		authMem.Close()
		voteMem.Close()
	}
}
