// Command gatewayd is the resilience core's entrypoint: it loads
// configuration, builds the structured logger, wires the OpenTelemetry
// tracer provider, constructs the Core, and runs it until a shutdown
// signal arrives, grounded on the teacher's cmd/ main() shape (config load
// -> logger -> server construction -> Start() -> signal wait).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	_ "go.uber.org/automaxprocs"

	"gatewaycore/internal/config"
	"gatewaycore/internal/logging"
	"gatewaycore/internal/server"
)

func main() {
	logger := logging.New("info", "console")

	cfg, err := config.Load(&logger)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogFields(logger)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("tracer provider shutdown failed")
		}
	}()

	core, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct gateway core")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	shutdown := make(chan struct{})
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		close(shutdown)
	}()

	if err := core.Start(shutdown); err != nil {
		logger.Fatal().Err(err).Msg("gateway core exited with error")
	}
}
