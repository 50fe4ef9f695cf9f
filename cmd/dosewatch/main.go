package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/dosewatch/internal/billing"
	"github.com/dukerupert/dosewatch/internal/database"
	"github.com/dukerupert/dosewatch/internal/logging"
	"github.com/dukerupert/dosewatch/internal/server"
)

func main() {
	port := os.Getenv("DOSEWATCH_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("DOSEWATCH_DB_PATH")
	if dbPath == "" {
		dbPath = "dosewatch.db"
	}

	logger := logging.Setup(os.Getenv("DOSEWATCH_LOG_LEVEL"), os.Getenv("DOSEWATCH_LOG_FORMAT"))

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	cfg := server.Config{
		PushURL: os.Getenv("DOSEWATCH_PUSH_URL"),
		Stripe: billing.Config{
			SecretKey:      os.Getenv("DOSEWATCH_STRIPE_SECRET_KEY"),
			WebhookSecret:  os.Getenv("DOSEWATCH_STRIPE_WEBHOOK_SECRET"),
			PremiumPriceID: os.Getenv("DOSEWATCH_STRIPE_PREMIUM_PRICE_ID"),
			SuccessURL:     os.Getenv("DOSEWATCH_STRIPE_SUCCESS_URL"),
			CancelURL:      os.Getenv("DOSEWATCH_STRIPE_CANCEL_URL"),
		},
	}

	srv := server.New(db, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.Monitor().Start(ctx)
	defer srv.Monitor().Stop()

	// Periodic housekeeping: expired sessions and stale rate-limit buckets.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					logger.Error("session cleanup", "error", err)
				} else if n > 0 {
					logger.Info("session cleanup", "deleted", n)
				}
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("dosewatch listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
