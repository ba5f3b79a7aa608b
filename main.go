package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"colladoc/config"
	"colladoc/config/database"
	"colladoc/pkg/logger"
	"colladoc/router"
	"colladoc/socket"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Sugar.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	logger.Sugar.Info("Successfully connected to the database")

	if err := database.Migrate(ctx, db); err != nil {
		logger.Sugar.Fatalf("Failed to apply schema: %v", err)
	}

	// The Hub owns every room; its loop must be running before any request
	// subscribes or commits.
	hub := socket.NewHub(cfg.SubscriberBuffer)
	if cfg.RedisURL != "" {
		relay, err := socket.NewRedisRelay(cfg.RedisURL, cfg.RedisChannel, hub)
		if err != nil {
			logger.Sugar.Fatalf("Failed to connect to redis: %v", err)
		}
		defer relay.Close()
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Sugar.Errorf("Redis relay stopped: %v", err)
			}
		}()
		// Commits made before the subscription is live would never reach
		// this instance's viewers from other replicas.
		select {
		case <-relay.Ready():
		case <-time.After(5 * time.Second):
			logger.Sugar.Warnf("Redis channel %s is not subscribed yet, serving without it", cfg.RedisChannel)
		case <-ctx.Done():
		}
	}
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.Setup(db, hub, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("Backend listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("Graceful shutdown failed: %v", err)
	}
}
