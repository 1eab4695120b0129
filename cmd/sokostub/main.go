package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sokochat/internal/infra/auth"
	"sokochat/internal/infra/config"
	"sokochat/internal/infra/obs"
	"sokochat/internal/stub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	store := stub.NewStore()
	if cfg.SeedFixtures {
		fx, err := stub.Seed(store)
		if err != nil {
			logger.Error("fixture seeding failed", "error", err)
			os.Exit(1)
		}
		logger.Info("fixtures seeded",
			"buyer", fx.Buyer,
			"seller_owner", fx.SellerOwner,
			"seller", fx.Seller,
			"product", fx.Product,
		)
	}

	tokens := auth.Tokens{Secret: []byte(cfg.JWTSecret), TTL: cfg.TokenTTL}
	app := stub.NewServer(store, tokens, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Handler(cfg.Env),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("stub marketplace starting", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stub marketplace stopped")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
