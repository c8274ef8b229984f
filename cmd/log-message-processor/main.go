// Command log-message-processor consumes log messages from Redis pub/sub,
// traces them to Zipkin and exposes Prometheus metrics on PORT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pjscruggs/slogcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/drblury/logprocessor"
)

const shutdownTimeout = 10 * time.Second

func main() {
	handler, err := newLogHandler(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating log handler: %v\n", err)
		os.Exit(1)
	}
	logger := logprocessor.NewSlogServiceLogger(slog.New(handler))

	err = run(context.Background(), logger)
	_ = handler.Close()
	if err != nil {
		os.Exit(1)
	}
}

// newLogHandler leaves the level to slogcp, which reads LOG_LEVEL.
func newLogHandler(w io.Writer) (*slogcp.Handler, error) {
	return slogcp.NewHandler(w)
}

func run(ctx context.Context, logger logprocessor.ServiceLogger) error {
	cfg, err := logprocessor.ConfigFromEnv()
	if err != nil {
		logger.Error("Invalid configuration", err, nil)
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := logprocessor.NewRecorder(registry).MustRegister()

	emitter, err := logprocessor.NewEmitter(logprocessor.EmitterOptions{
		Endpoint:    cfg.SpansEndpoint(),
		ServiceName: cfg.ServiceName,
		Encoding:    cfg.ZipkinEncoding,
		Timeout:     cfg.ZipkinTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to create span emitter", err, nil)
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := emitter.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to stop span emitter", err, nil)
		}
	}()

	processor, err := logprocessor.NewLogProcessor(logprocessor.LogProcessorConfig{
		Handler:  logprocessor.DelayedLogHandler(logger, cfg.ProcessingDelayMax),
		Recorder: recorder,
		Tracer:   emitter,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	svc, err := logprocessor.TryNewService(cfg, logger, ctx, logprocessor.ServiceDependencies{
		Registerer: registry,
		Gatherer:   registry,
		Recorder:   recorder,
	})
	if err != nil {
		logger.Error("Failed to create service", err, nil)
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Debug("Service close returned an error", logprocessor.LogFields{"error": err.Error()})
		}
	}()

	if err := logprocessor.RegisterLogProcessor(svc, logprocessor.LogProcessorRegistration{Processor: processor}); err != nil {
		logger.Error("Failed to register log processor", err, nil)
		return err
	}

	logger.Info("Log message processor starting", logprocessor.LogFields{
		"channel": cfg.Channel,
		"port":    cfg.MetricsPort,
		"tracing": emitter.Enabled(),
	})

	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Log message processor stopped", err, nil)
		return err
	}
	logger.Info("Log message processor stopped", nil)
	return nil
}
