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

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/tatianab/ai-game-assistant/internal/api"
	"github.com/tatianab/ai-game-assistant/internal/config"
	"github.com/tatianab/ai-game-assistant/internal/engine"
	"github.com/tatianab/ai-game-assistant/internal/loop"
	"github.com/tatianab/ai-game-assistant/internal/tui"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// The dashboard owns the terminal, so logs go to a file.
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Printf("Error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})))

	if err := run(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	eng := engine.NewEngine()
	defer eng.Close()

	l := loop.New(loop.Options{
		Settings:    cfg.Settings,
		Inference:   eng,
		Store:       store,
		SessionName: cfg.SessionName,
		Renderer:    tui.NewScreenRenderer(tui.ScreenWidth),
	})
	l.Restore()

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(ctx) })
	if cfg.ListenAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv := &http.Server{Addr: cfg.ListenAddr, Handler: api.NewRouter(l)}
		g.Go(func() error {
			slog.Info("serving API", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		defer cancel()
		return tui.Run(ctx, l)
	})
	return g.Wait()
}
