package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stagehand/internal/api"
	"stagehand/internal/config"
	histstore "stagehand/internal/history/storage"
	"stagehand/internal/logging"
	"stagehand/internal/middleware"
	"stagehand/internal/repo"
	"stagehand/internal/storage"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadOrDefault(config.ConfigPath())
	if err != nil {
		log.Fatal("failed to load config:", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal("invalid environment:", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []repo.Option{
		repo.WithLogger(logger.Logger),
		repo.WithHistoryLimit(cfg.History.Limit),
		repo.WithDiffOptions(cfg.Diff),
		repo.WithGitBinary(cfg.Git.Binary),
	}

	if cfg.History.Persist {
		path, err := cfg.HistoryPath()
		if err != nil {
			logger.Fatal("failed to resolve history path", zap.Error(err))
		}
		db, err := storage.Open(path, false)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer db.Close()

		store, err := histstore.NewStore(db)
		if err != nil {
			logger.Fatal("failed to initialize history store", zap.Error(err))
		}
		opts = append(opts, repo.WithHistoryStore(store))
		logger.Info("history persistence enabled",
			zap.String("path", path),
			zap.String("session", store.Session()),
		)
	}

	r, err := repo.Open(ctx, cfg.Repository.Path, opts...)
	if err != nil {
		logger.Fatal("failed to open repository", zap.Error(err))
	}
	defer r.Close()

	mux := http.NewServeMux()
	api.NewHandler(r).Register(mux)

	// RequestID runs first so the logger and recovery see the id.
	handler := middleware.Chain(
		mux,
		middleware.Recover(logger),
		middleware.Logger(logger),
		middleware.RequestID,
	)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("address", server.Addr),
		zap.String("repository", r.Path()),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
