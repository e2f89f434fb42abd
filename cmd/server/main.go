package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tatianab/ai-game-assistant/internal/api"
	"github.com/tatianab/ai-game-assistant/internal/config"
	"github.com/tatianab/ai-game-assistant/internal/engine"
	"github.com/tatianab/ai-game-assistant/internal/loop"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	store, err := cfg.OpenStore()
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	eng := engine.NewEngine()
	defer eng.Close()

	l := loop.New(loop.Options{
		Settings:    cfg.Settings,
		Inference:   eng,
		Store:       store,
		SessionName: cfg.SessionName,
	})
	l.Restore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- l.Run(ctx) }()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: api.NewRouter(l)}
	go func() {
		slog.Info("serving API", "addr", cfg.ListenAddr, "backend", cfg.Settings.BackendURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	if err := <-loopDone; err != nil {
		slog.Error("final save failed", "error", err)
	}
}
