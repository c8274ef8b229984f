package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/logprocessor/internal/runtime/config"
	errspkg "github.com/drblury/logprocessor/internal/runtime/errors"
	loggingpkg "github.com/drblury/logprocessor/internal/runtime/logging"
	metricspkg "github.com/drblury/logprocessor/internal/runtime/metrics"
	transportpkg "github.com/drblury/logprocessor/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

const httpShutdownTimeout = 5 * time.Second

// FatalSubscriber is implemented by subscribers that can lose their broker
// connection for good. Failed is closed once Err is set.
type FatalSubscriber interface {
	Failed() <-chan struct{}
	Err() error
}

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	ErrorClassifier           ErrorClassifier

	// Registerer receives the router metrics. Defaults to the Prometheus
	// default registerer.
	Registerer prometheus.Registerer
	// Gatherer backs the scrape endpoint. Defaults to Registerer when it is a
	// *prometheus.Registry, otherwise to the default gatherer.
	Gatherer prometheus.Gatherer
	// Recorder, when set, is reported on the status endpoint.
	Recorder *metricspkg.Recorder
}

// Service wires a Watermill router, the configured transport, the scrape
// endpoint and the status API.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	recorder   *metricspkg.Recorder

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	resourceTracker *resourceTracker
}

// NewService constructs a Service for the supplied configuration and panics
// when the transport or router cannot be built. Register processors on the
// returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService is NewService returning the construction error instead of
// panicking.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating log processor service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		registerer:      deps.Registerer,
		gatherer:        deps.Gatherer,
		recorder:        deps.Recorder,
		errorClassifier: deps.ErrorClassifier,
		resourceTracker: newResourceTracker(),
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.gatherer == nil {
		if g, ok := s.registerer.(prometheus.Gatherer); ok {
			s.gatherer = g
		} else {
			s.gatherer = prometheus.DefaultGatherer
		}
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", conf.PubSubSystem, err)
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: httpShutdownTimeout}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	s.RegisterHTTPHandler(conf.MetricsPort, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.RegisterHTTPHandler(conf.MetricsPort, "/", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.registerStatusHandler()

	return s, nil
}

// Publisher returns the transport publisher, used by tests and tools that
// feed the channel.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Start serves the HTTP endpoints and runs the router until ctx is cancelled,
// a shutdown signal arrives, or the subscriber loses its connection. A lost
// connection is returned as *errors.SubscriberConnectionError.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stopHTTP := s.startHTTPServers(ctx, cancel)
	defer stopHTTP()

	if fatal, ok := s.subscriber.(FatalSubscriber); ok {
		go func() {
			select {
			case <-fatal.Failed():
				cancel(fatal.Err())
			case <-ctx.Done():
			}
		}()
	}

	runErr := routerRun(s.router, ctx)

	if fatal, ok := s.subscriber.(FatalSubscriber); ok {
		if err := fatal.Err(); err != nil {
			return err
		}
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return runErr
}

// Running is closed once the router is consuming.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close stops the router and releases the transport.
func (s *Service) Close() error {
	var errs []error
	if s.router != nil {
		errs = append(errs, s.router.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.subscriber != nil {
		errs = append(errs, s.subscriber.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// RegisterHTTPHandler mounts handler on the server listening on port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

// startHTTPServers starts one server per registered port. A server that
// fails after start cancels ctx with its error.
func (s *Service) startHTTPServers(ctx context.Context, fail context.CancelCauseFunc) func() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)

		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": srv.Addr})
				fail(fmt.Errorf("http server %s: %w", srv.Addr, err))
			}
		}()
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}
	}
}
