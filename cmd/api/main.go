package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"deepwiki-proxy/internal/api"
	"deepwiki-proxy/internal/audit"
	"deepwiki-proxy/internal/config"
	"deepwiki-proxy/internal/gateway"
	"deepwiki-proxy/internal/ratelimit"
)

func main() {
	cfg := config.Load()
	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.With().Str("component", "proxy").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	var limiter *ratelimit.Limiter
	if cfg.RateLimitCapacity > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.New(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	var auditStore *audit.Store
	if cfg.AuditDSN != "" {
		var err error
		auditStore, err = audit.New(ctx, cfg.AuditDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect audit store")
		}
		defer auditStore.Close()
	}

	server := api.New(cfg, gateway.New(cfg), limiter, auditStore, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info().Str("port", cfg.HTTPPort).Str("upstream", cfg.ServerBaseURL).Msg("proxy listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
