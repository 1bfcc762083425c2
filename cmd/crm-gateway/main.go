// Command crm-gateway serves the CRM gateway: AI routing, lead ingestion,
// checkout sessions and the realtime dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/telemetry"
	"github.com/tjfontaine/enterprise-crm-gateway/pkg/gateway"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	sampleRatio := flag.Float64("trace-sample", 1, "fraction of root requests traced (0..1)")
	flag.Parse()

	// a missing .env is fine
	_ = godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, *configPath, *sampleRatio); err != nil {
		logger.Error("gateway exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string, sampleRatio float64) error {
	flushTraces, err := telemetry.InitTracer(telemetry.ServiceName, logger,
		telemetry.WithSampleRatio(sampleRatio))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := flushTraces(context.Background()); err != nil {
			logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// storage.driver / storage.dsn in the config file pick the store
	gw, err := gateway.New(
		gateway.WithLogger(logger),
		gateway.WithFileConfig(configPath),
	)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	<-ctx.Done()
	logger.Info("signal received, draining", slog.Duration("grace", shutdownGrace))

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return gw.Shutdown(drainCtx)
}
