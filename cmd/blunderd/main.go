package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chessblunders/analysis-core/internal/builder"
	"github.com/chessblunders/analysis-core/internal/config"
	"github.com/chessblunders/analysis-core/internal/httpapi"
	"github.com/chessblunders/analysis-core/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	log := obslog.L()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	deps, err := builder.New(cfg, log)
	if err != nil {
		log.Fatal("init services", zap.Error(err))
	}
	defer deps.Close()

	deps.Watchdog.Start()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewServer(deps.Repo, deps.Orchestrator, deps.Practice, deps.Usage, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	<-deps.Watchdog.Stop().Done()
	if err := deps.Orchestrator.Shutdown(ctx); err != nil {
		log.Warn("analysis jobs did not drain before deadline", zap.Error(err))
	}
	log.Info("stopped")
}
