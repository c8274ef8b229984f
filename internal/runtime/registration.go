package runtime

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/logprocessor/internal/runtime/config"
	errspkg "github.com/drblury/logprocessor/internal/runtime/errors"
)

// LogProcessorRegistration attaches a LogProcessor to a channel.
type LogProcessorRegistration struct {
	// Name identifies the router handler. Defaults to the service name.
	Name string
	// Channel to consume. Defaults to the configured channel.
	Channel   string
	Processor *LogProcessor
	// Subscriber overrides the service transport.
	Subscriber message.Subscriber
}

// RegisterLogProcessor adds a consuming handler to the service router. Every
// delivery is acked once processed: failures are counted, never redelivered.
func RegisterLogProcessor(svc *Service, cfg LogProcessorRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if cfg.Processor == nil {
		return errspkg.ErrProcessorRequired
	}
	if cfg.Channel == "" {
		cfg.Channel = svc.Conf.Channel
	}
	if cfg.Channel == "" {
		return errspkg.ErrChannelRequired
	}
	if cfg.Name == "" {
		cfg.Name = svc.Conf.ServiceName
	}
	if cfg.Name == "" {
		cfg.Name = configpkg.DefaultServiceName
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = svc.subscriber
	}

	stats := newHandlerStats(svc.resourceTracker, svc.errorClassifier)
	svc.handlersMu.Lock()
	svc.handlers = append(svc.handlers, &HandlerInfo{
		Name:    cfg.Name,
		Channel: cfg.Channel,
		Tracing: cfg.Processor.TracingEnabled(),
		Stats:   stats,
	})
	svc.handlersMu.Unlock()

	p := cfg.Processor
	svc.router.AddNoPublisherHandler(cfg.Name, cfg.Channel, cfg.Subscriber, func(msg *message.Message) error {
		start := time.Now()
		ctx := ContextWithCorrelationID(msg.Context(), msg.Metadata.Get(MetadataCorrelationID))
		res := p.Process(ctx, msg.Payload)
		stats.observe(res, time.Since(start))
		return nil
	})
	return nil
}
