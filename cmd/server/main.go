package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/vitalpoint/account-service/internal/config"
	"github.com/vitalpoint/account-service/internal/database"
	"github.com/vitalpoint/account-service/internal/handler"
	"github.com/vitalpoint/account-service/internal/queue"
	"github.com/vitalpoint/account-service/internal/repository"
	"github.com/vitalpoint/account-service/internal/router"
	"github.com/vitalpoint/account-service/internal/service"
	"github.com/vitalpoint/account-service/internal/token"
	"github.com/vitalpoint/account-service/internal/utils"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env wins

	cfg := config.Load()
	log := utils.InitLogger(cfg.Env, cfg.LogLevel)
	defer utils.SyncLogger()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("database open", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureSchema(ctx, db); err != nil {
		cancel()
		log.Fatal("ensure schema", zap.Error(err))
	}
	cancel()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable, rate limiting disabled")
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	issuer := token.NewIssuer(cfg.JWTSecret,
		time.Duration(cfg.AccessTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTTLDays)*24*time.Hour)
	sessions := service.NewSession(users, tokens, issuer, service.NewAMQPPublisher(), cfg)

	// Audit consumer and refresh-token GC run for the process lifetime.
	go func() {
		if err := queue.StartAuthEventConsumer(); err != nil {
			log.Warn("auth event consumer stopped", zap.Error(err))
		}
	}()
	if cfg.TokenGCInterval > 0 {
		go runTokenGC(tokens, cfg.TokenRetention, cfg.TokenGCInterval, log)
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterAuth(e,
		handler.NewAuthHandler(sessions),
		handler.NewUserHandler(users, sessions, cfg.StoreTimeout),
		issuer, config.LoadRateLimitConfig(), rdb)

	addr := ":" + cfg.Port
	log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := e.Start(addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// runTokenGC periodically deletes refresh rows past expiry plus the
// retention window. Revocation state stays queryable until then.
func runTokenGC(tokens *repository.TokenRepo, retention, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := tokens.DeleteExpired(ctx, retention)
		cancel()
		if err != nil {
			log.Warn("token gc sweep failed", zap.Error(err))
			continue
		}
		if n > 0 {
			log.Info("token gc sweep", zap.Int64("deleted", n))
		}
	}
}
