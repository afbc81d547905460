package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"swapgogo/backend/internal/api"
	"swapgogo/backend/internal/api/handler"
	"swapgogo/backend/internal/chathub"
	"swapgogo/backend/internal/config"
	"swapgogo/backend/internal/localization"
	"swapgogo/backend/internal/security"
	"swapgogo/backend/internal/storage"
	"swapgogo/backend/internal/swap"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsProduction() {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}

func setupDependencies(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage.Service, error) {
	// 1. PostgreSQL або SQLite
	db, err := storage.OpenDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// 2. Міграції (Створення таблиць)
	if err := storage.Migrate(db); err != nil {
		return nil, err
	}

	// 3. Redis (необов'язковий: без нього події не виходять за межі процесу)
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("db_driver", cfg.DBDriver).
		Bool("redis", rdb != nil).
		Msg("Database and Redis connections established, migrations complete.")
	return storage.NewStorageService(db, rdb), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger := newLogger(cfg)
	logger.Info().Str("env", cfg.Env).Msg("Starting SwapGoGo Backend...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	store, err := setupDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up storage")
	}
	loc, err := localization.Default()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load translations")
	}

	// 2. Ініціалізація Chat Hub та рушія обміну
	var broker chathub.Broker
	if store.Redis != nil {
		broker = store
	}
	hub := chathub.NewManagerService(broker, logger)
	engine := swap.NewEngine(store, hub, logger)
	tokens := security.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	// 3. Запуск основних Goroutines
	go hub.Run(ctx)                              // Головний диспетчер
	go engine.RunSweeper(ctx, cfg.SweepInterval) // Прибирання прострочених обмінів

	// 4. Налаштування Gin та роутингу
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(hub, engine, store, tokens, loc, cfg.AllowedOrigins, logger)
	r := api.NewRouter(logger, h, tokens, !cfg.IsProduction())

	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if store.Redis != nil {
		_ = store.Redis.Close()
	}
}
