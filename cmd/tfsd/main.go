// Command tfsd runs the zero-copy transfer pipeline daemon: the producer
// write surface, the consumer loop, and the stats/health HTTP endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tfslab/tfsd/internal/consumer"
	"github.com/tfslab/tfsd/internal/infrastructure/config"
	"github.com/tfslab/tfsd/internal/infrastructure/logging"
	"github.com/tfslab/tfsd/internal/infrastructure/monitoring"
	"github.com/tfslab/tfsd/internal/server"
	"github.com/tfslab/tfsd/internal/xfer"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrDefault()
	}
	if *verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	// Initialize logger
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	metrics := monitoring.NewMetrics()

	// Single process-wide pipeline instance
	pipeline := xfer.New(xfer.Config{
		UnitSize:   cfg.Pipeline.UnitSize,
		MaxDepth:   cfg.Pipeline.MaxDepth,
		MaxUnits:   cfg.Pipeline.MaxUnits,
		ZeroCopy:   cfg.Pipeline.ZeroCopy,
		MapCeiling: cfg.Pipeline.MapCeiling,
	}, logger.Logger, metrics)

	open := func() (consumer.Control, error) {
		ch, err := pipeline.OpenChannel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}

	daemon := consumer.New(open, consumer.Config{
		Mode:           cfg.Consumer.Mode,
		WaitTimeout:    cfg.Consumer.WaitTimeout,
		ErrorThreshold: cfg.Consumer.ErrorThreshold,
		ReopenAttempts: cfg.Consumer.ReopenAttempts,
		Backoff:        cfg.Consumer.Backoff,
		HealthInterval: cfg.Consumer.HealthInterval,
	}).WithLogger(logger.Logger).WithMetrics(metrics)

	srv := server.New(cfg, pipeline, daemon, logger.Logger, metrics)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := daemon.Run(); err != nil {
			errChan <- err
		}
	}()
	if cfg.Server.Enabled {
		go func() {
			if err := srv.Run(); err != nil {
				errChan <- err
			}
		}()
	}

	select {
	case <-sigChan:
		logger.Info("shutting down")
	case err := <-errChan:
		logger.Error("fatal error", zap.Error(err))
	}

	// Stop the consumer before draining so no mapping session is open,
	// then drain every outstanding item before the pipeline goes away.
	daemon.Stop()
	pipeline.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
