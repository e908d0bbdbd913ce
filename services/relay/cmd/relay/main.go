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

	"photorevive/internal/util"
	"photorevive/pkg/queue"
	"photorevive/services/relay/internal/config"
	"photorevive/services/relay/internal/server"
)

func main() {
	path := config.ConfigPath
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel, "relay")

	q, err := queue.New(queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
	})
	if err != nil {
		util.Fatal("init queue", "err", err)
	}
	defer q.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.New(q, cfg.WebhookSecret).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("relay listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("serve", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}
