package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"benders-server/config"
	"benders-server/handlers"
	"benders-server/services"
	"benders-server/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// MongoDB
	docs, mongoClient, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("MongoDB disconnect failed")
		}
	}()
	if err := docs.EnsureIndexes(ctx, store.DefaultIndexes); err != nil {
		log.WithError(err).Fatal("Failed to create indexes")
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}

	// Initialize services
	userService := services.NewUserService(docs)
	authService := services.NewAuthService(docs, userService, rdb, services.AuthOptions{
		JWTSecret:     cfg.JWTSecret,
		TokenTTL:      cfg.TokenTTL,
		ResetTokenTTL: cfg.ResetTokenTTL,
		ProfileRetry:  cfg.ProfileRetry(),
	})
	friendService := services.NewFriendService(docs, userService)
	benderService := services.NewBenderService(docs, userService, services.NewGeoService(rdb))

	health := handlers.NewHealthHandler(docs, handlers.HealthFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	r := handlers.NewRouter(handlers.Services{
		Auth:    authService,
		Users:   userService,
		Friends: friendService,
		Benders: benderService,
	}, health, cfg.Origins())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}
