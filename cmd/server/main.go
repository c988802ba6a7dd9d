package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mswatii/pokedex-prices/internal/api"
	"github.com/mswatii/pokedex-prices/internal/assistant"
	"github.com/mswatii/pokedex-prices/internal/catalog"
	"github.com/mswatii/pokedex-prices/internal/config"
	"github.com/mswatii/pokedex-prices/internal/database"
	"github.com/mswatii/pokedex-prices/internal/explorer"
	"github.com/mswatii/pokedex-prices/internal/logging"
	"github.com/mswatii/pokedex-prices/internal/session"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables from .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Warn(".env file not found or cannot be loaded", zap.Error(envErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	cat, err := catalog.NewClient(cfg.Catalog, nil, logger.Named("catalog"))
	if err != nil {
		return err
	}

	var classifier explorer.Classifier
	if cfg.AssistantEnabled() {
		classifier = assistant.NewClassifier(cfg.Assistant, nil, logger.Named("assistant"))
	} else {
		logger.Info("LLM_API_KEY not set, assistant disabled")
	}

	// Connect to database when one is configured
	var recorder explorer.Recorder
	if cfg.Database.Enabled() {
		db, err := database.NewDatabase(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		// Create tables if they don't exist
		if err := db.CreateTables(ctx); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
		recorder = db
	} else {
		logger.Info("DB_HOST not set, price history disabled")
	}

	exp := explorer.New(cat, classifier, recorder, cfg.Explorer, logger.Named("explorer"))
	sessions := session.NewManager(cfg.Sessions, logger.Named("session"))
	go sessions.Run(ctx, time.Minute)

	handler := api.NewHandler(exp, sessions, logger.Named("api"))
	server := &fasthttp.Server{
		Handler:      handler.HandleRequest,
		Name:         "pokedex-prices",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		errs <- server.ListenAndServe(":" + cfg.Port)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("error starting server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
