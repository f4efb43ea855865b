package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/valenfontana7/burako-online/internal/server"
)

func gracefulShutdown(ctx context.Context, stop context.CancelFunc, log logrus.FieldLogger, customServer *server.Server, httpServer *http.Server, done chan bool) {
	<-ctx.Done()
	log.Info("shutdown signal received, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := customServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("error during server shutdown")
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("http server forced to shutdown")
	}

	done <- true
}

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := server.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	customServer, httpServer, err := server.NewServer(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start server")
	}

	done := make(chan bool, 1)
	go gracefulShutdown(ctx, stop, log, customServer, httpServer, done)

	log.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"origins": cfg.ClientOrigins,
	}).Info("burako server listening")

	err = httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("http server error")
		os.Exit(1)
	}

	<-done
	log.Info("graceful shutdown complete")
}
