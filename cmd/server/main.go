package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"incident-orchestrator/internal/di"
	"incident-orchestrator/internal/infra"
	"incident-orchestrator/internal/infra/config"
	"incident-orchestrator/internal/infra/logger"
	"incident-orchestrator/internal/infra/metrics"
	"incident-orchestrator/internal/infra/telemetry"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()

	// Telemetry first so the logger's OTel bridge finds a live provider.
	otelCfg := telemetry.ConfigFromEnv()
	shutdownTelemetry, err := telemetry.InitProvider(context.Background(), otelCfg)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithOTel(otelCfg.Enabled)
	slog.SetDefault(log)

	dbPool, err := infra.NewPostgresDB(context.Background(), cfg.DSN()+"?sslmode=disable")
	if err != nil {
		log.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	components := di.NewApplicationComponents(cfg, dbPool, recorder, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	components.Handler.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		log.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	if err := shutdownTelemetry(ctx); err != nil {
		log.Error("telemetry shutdown failed", "error", err)
	}
}
