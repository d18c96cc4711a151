package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/contentforge/contentforge/internal/config"
	"github.com/contentforge/contentforge/internal/httpapi"
	"github.com/contentforge/contentforge/internal/logging"
	"github.com/contentforge/contentforge/internal/pipeline"
	"github.com/contentforge/contentforge/internal/provider"
	"github.com/contentforge/contentforge/internal/queue"
	"github.com/contentforge/contentforge/internal/store"
	"github.com/contentforge/contentforge/internal/stream"
)

func main() {
	loadDotEnv()
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	jobStore, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open job store: %v", err)
	}
	defer jobStore.Close()

	callTimeout := cfg.Pipeline.CallTimeout()
	deps := pipeline.Deps{
		Primary:   provider.NewChatClient("primary", cfg.Providers.Primary, callTimeout),
		Secondary: provider.NewChatClient("secondary", cfg.Providers.Secondary, callTimeout),
		Keywords:  provider.NewKeywordClient(cfg.Providers.Keywords, callTimeout),
		Entities:  provider.NewEntityClient(cfg.Providers.Entities, callTimeout),
		Citations: provider.NewCitationClient(cfg.Providers.Citations, callTimeout),
		Scanner:   provider.NewPageScanner(&http.Client{Timeout: callTimeout}),
	}
	orch := pipeline.New(deps, cfg.Pipeline, logger)

	hub := stream.NewHub(256)
	svc := queue.NewService(jobStore, hub, orch, cfg.Queue, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if path := config.Path(); path != "" {
		stopWatch, err := config.Watch(ctx, path, logger, func(next config.Config) {
			svc.ApplyConfig(next.Queue)
		})
		if err != nil {
			logger.Warn("config watch unavailable", "path", path, "error", err)
		} else {
			defer stopWatch()
		}
	}

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		svc.Run(ctx)
	}()

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.Server{
			Jobs:   jobStore,
			Queue:  svc,
			Hub:    hub,
			Logger: logger,
		}.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
	<-queueDone
}

func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
