package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tms/internal/auth"
	"tms/internal/config"
	"tms/internal/server"
	"tms/internal/service"
	"tms/internal/storage/mongodb"
	"tms/internal/storage/sqlite"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	logger.Info("task management service starting", slog.String("env", cfg.Env), slog.String("db_driver", cfg.DBDriver))
	if cfg.JWTSecret == config.DevJWTSecret {
		logger.Warn("using the development JWT secret; set TMS_JWT_SECRET in production")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("unable to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	identity := service.NewIdentity(store, auth.NewBcryptHasher(cfg.BcryptCost), auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL), logger)
	tasks := service.NewTasks(store, logger)
	srv := server.New(identity, tasks, store, logger, cfg.StaticDir)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func openStore(cfg config.Config, logger *slog.Logger) (service.Repository, error) {
	switch cfg.DBDriver {
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return mongodb.Open(ctx, cfg.MongoURI, cfg.MongoDB, logger)
	default:
		return sqlite.Open(cfg.DBPath, logger)
	}
}
