package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/config"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/monitoring"
	"github.com/gin-gonic/gin"
)

// @title                       SBIR/STTR CET Classifier API
// @version                     1.0
// @description                 Scores SBIR/STTR awards against the Critical and Emerging Technology taxonomy.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $CET_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{ConfigPath: *configPath, Required: *configPath != ""})
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := monitoring.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger.Logger)
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}

	sampler := monitoring.NewMemorySampler(a.metrics, logger, 30*time.Second, 1<<30)
	go sampler.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Server.Port, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	a.Close()

	slog.Info("Server exited")
}
