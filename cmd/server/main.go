package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/johnpaulpatigas/benthel-attendance/internal/checkin"
	"github.com/johnpaulpatigas/benthel-attendance/internal/config"
	"github.com/johnpaulpatigas/benthel-attendance/internal/db"
	"github.com/johnpaulpatigas/benthel-attendance/internal/directory"
	"github.com/johnpaulpatigas/benthel-attendance/internal/feed"
	internalhttp "github.com/johnpaulpatigas/benthel-attendance/internal/http"
	"github.com/johnpaulpatigas/benthel-attendance/internal/identity"
	"github.com/johnpaulpatigas/benthel-attendance/internal/jobs"
	"github.com/johnpaulpatigas/benthel-attendance/internal/notify"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)

	var bus notify.Bus
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		bus = notify.NewRedisBus(ctx, redisClient)
	} else {
		log.Printf("redis not configured, change notifications stay in-process")
		bus = notify.NewMemoryBus()
	}

	provider := identity.NewProvider(store, cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	dir := directory.New(store, bus)
	attendanceFeed := feed.New(store, bus)
	ingest := checkin.New(store, bus)

	server := internalhttp.NewServer(cfg, provider, dir, attendanceFeed, ingest)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	jobs.StartSessionReaper(ctx, store, cfg.SessionReaperInterval)

	go func() {
		log.Printf("attendance portal listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
