package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowplay/internal/config"
	"flowplay/internal/database"
	"flowplay/internal/logging"
	"flowplay/internal/server"
	"flowplay/internal/storage"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	flag.Parse()

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}
	logger = logging.New(cfg.Logging)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.Open(ctx, cfg.Database.DSN, cfg.Database.MaxConnections, logger)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Error initializing database")
	}
	defer db.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	backend, err := storage.New(ctx, cfg.Storage)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Error initializing storage backend")
	}

	musicServer, err := server.NewMusicServer(cfg, db, backend, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error creating music server")
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	errs := make(chan error, 1)
	go func() {
		errs <- musicServer.Start()
	}()

	select {
	case sig := <-c:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errs:
		if err != nil {
			logger.WithError(err).Error("Server stopped unexpectedly")
		}
	}

	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := musicServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Graceful shutdown did not complete")
	}
	logger.Info("Server stopped")
}
