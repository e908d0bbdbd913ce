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

	"golang.org/x/sync/errgroup"

	"photorevive/internal/util"
	"photorevive/pkg/ai"
	"photorevive/pkg/queue"
	"photorevive/pkg/storage"
	"photorevive/pkg/store"
	"photorevive/pkg/tg"
	"photorevive/services/worker/internal/app"
	"photorevive/services/worker/internal/config"
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

	util.InitLogger(cfg.LogLevel, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("open store", "err", err)
	}

	gateway, err := tg.NewBotGateway(cfg.TelegramToken)
	if err != nil {
		util.Fatal("init telegram gateway", "err", err)
	}

	restorer := ai.NewImageRestorer(cfg.Restore.BaseURL, cfg.Restore.APIKey, cfg.Restore.Model, cfg.Restore.Prompt)

	var archive storage.Archive
	if cfg.Archive.Enabled {
		a, err := storage.NewMinioArchive(ctx, cfg.Archive.Endpoint, cfg.Archive.AccessKey, cfg.Archive.SecretKey, cfg.Archive.Bucket, cfg.Archive.UseSSL)
		if err != nil {
			util.Fatal("init archive", "err", err)
		}
		archive = a
	}

	dispatcher := app.New(st, gateway, restorer, app.Options{
		Price:          cfg.PriceAmount,
		RestoreTimeout: time.Duration(cfg.Restore.TimeoutSeconds) * time.Second,
		Archive:        archive,
	})

	q, err := queue.New(queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		util.Fatal("init queue", "err", err)
	}
	defer q.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("worker consuming", "stream", cfg.QueueStream, "group", cfg.QueueGroup, "concurrency", cfg.Concurrency)
		q.Start(gctx, cfg.Concurrency, dispatcher.HandleUpdate)
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		slog.Info("worker health endpoint listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		util.Fatal("worker stopped", "err", err)
	}
	slog.Info("worker stopped")
}
