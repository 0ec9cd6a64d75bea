package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appauth-service/internal/cache"
	"appauth-service/internal/config"
	"appauth-service/internal/database"
	"appauth-service/internal/exchange"
	"appauth-service/internal/grants"
	"appauth-service/internal/handlers"
	"appauth-service/internal/nonce"
	"appauth-service/internal/registry"

	"go.uber.org/zap"
)

// @title       Application Authorization Service
// @version     1.0
// @description Registration, token exchange and credential verification for third-party applications.
func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting application authorization service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize database
	ctx := context.Background()
	repo, err := database.NewRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer repo.Close()

	// Initialize cache
	cacheClient, err := cache.NewCache(cfg.RedisURL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer cacheClient.Close()

	// Initialize services
	appRegistry := registry.New(repo, logger)
	grantStore := grants.New(repo, logger)
	protocol := exchange.New(repo, cacheClient, grantStore, cfg.RequestTokenTTL, cfg.AccessBearerTTL, logger)
	nonces := nonce.New(repo, cacheClient, cfg.AuthenticationNonceTTL, logger)

	// Initialize handlers
	applicationHandler := handlers.NewApplicationHandler(appRegistry, grantStore, logger)
	oauthHandler := handlers.NewOAuthHandler(protocol, logger)
	nonceHandler := handlers.NewNonceHandler(nonces, logger)

	// Setup router
	router := SetupRouter(applicationHandler, oauthHandler, nonceHandler, repo, cfg.AdminKeyHash, logger)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
