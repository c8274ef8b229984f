/*
Package runtime hosts the log message processor.

# Architecture Overview

A Service subscribes to one pub/sub channel through a Watermill router and
feeds every delivery to a LogProcessor. The processor decodes the payload,
optionally wraps the business handler in a save_log span, and records the
outcome on the Prometheus collectors. Exactly one outcome, processed or
failed, is recorded per delivery.

## Core Service (service.go)

The Service struct wires together:
  - Message router (Watermill) with the signals plugin
  - Publisher and subscriber built by the configured transport
  - Middleware chain
  - HTTP server for the scrape endpoint and the status API

Start blocks until the context is cancelled, a signal arrives, the HTTP
server fails, or the subscriber reports a lost connection. The latter is
returned as *errors.SubscriberConnectionError.

## Processing (processor.go, registration.go)

  - processor.go: decode, trace, handle, record for one payload
  - registration.go: binds a LogProcessor to a channel on the router
  - DelayedLogHandler: sleeps a random delay below the configured bound,
    then logs the record

## Middleware (middleware.go)

  - CorrelationID: tags every delivery with a ULID
  - LogMessages: debug logging of payloads
  - RouterMetrics: Watermill's Prometheus router metrics
  - Recoverer: panic recovery

## Stats & Status (stats.go, status.go)

Per-handler statistics served on /status:
  - Outcome and tracing counters
  - Latency percentiles (p50, p95, p99)
  - Throughput over the last minute
  - Error categorization
  - Resource usage sampling

## Publishing (publisher.go)

Helpers to put records on the channel, used by tools and tests.

# Sub-packages

  - config/: environment configuration with validation
  - errors/: sentinel errors and error types
  - ids/: ULID correlation ids
  - jsoncodec/: JSON marshaling
  - logging/: logger interface and adapters
  - metrics/: the processed, failed and duration collectors
  - record/: log record decoding and trace context extraction
  - tracing/: save_log span emission to a Zipkin collector
  - transport/: the factory over the transport registry

# Usage Example

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder(registry).MustRegister()
	processor, err := runtime.NewLogProcessor(runtime.LogProcessorConfig{
		Handler:  runtime.DelayedLogHandler(logger, cfg.ProcessingDelayMax),
		Recorder: recorder,
		Tracer:   emitter,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	svc, err := runtime.TryNewService(cfg, logger, ctx, runtime.ServiceDependencies{
		Registerer: registry,
		Recorder:   recorder,
	})
	if err != nil {
		return err
	}
	if err := runtime.RegisterLogProcessor(svc, runtime.LogProcessorRegistration{Processor: processor}); err != nil {
		return err
	}

	return svc.Start(ctx)
*/
package runtime
