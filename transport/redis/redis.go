// Package redis provides a Redis pub/sub transport. Delivery is at-most-once:
// messages published while no subscriber is connected are lost, and a lost
// connection is reported as fatal instead of being resubscribed.
package redis

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	goredis "github.com/redis/go-redis/v9"

	errspkg "github.com/drblury/logprocessor/internal/runtime/errors"
	"github.com/drblury/logprocessor/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "redis"

// MetadataChannel carries the channel a message was received on.
const MetadataChannel = "redis_channel"

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *goredis.Options) *goredis.Client {
	return goredis.NewClient(opts)
}

func init() {
	Register()
}

// Register registers the Redis transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Build connects a publisher and a subscriber to the configured server. The
// server is pinged once so a bad address fails at startup.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	opts := &goredis.Options{
		Addr:       cfg.GetRedisAddr(),
		Password:   cfg.GetRedisPassword(),
		DB:         cfg.GetRedisDB(),
		ClientName: cfg.GetServiceName(),
	}

	subClient := ClientFactory(opts)
	if err := subClient.Ping(ctx).Err(); err != nil {
		_ = subClient.Close()
		return transport.Transport{}, &errspkg.SubscriberConnectionError{Channel: opts.Addr, Err: err}
	}

	return transport.Transport{
		Publisher:  NewPublisher(ClientFactory(opts), logger),
		Subscriber: NewSubscriber(subClient, logger),
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

// Publisher publishes message payloads with PUBLISH. Metadata is not sent:
// Redis pub/sub carries a bare string.
type Publisher struct {
	client *goredis.Client
	logger watermill.LoggerAdapter

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPublisher wraps client. The publisher owns it and closes it on Close.
func NewPublisher(client *goredis.Client, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{client: client, logger: logger, closed: make(chan struct{})}
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	select {
	case <-p.closed:
		return errspkg.ErrPublisherClosed
	default:
	}

	for _, msg := range messages {
		receivers, err := p.client.Publish(msg.Context(), topic, []byte(msg.Payload)).Result()
		if err != nil {
			return err
		}
		p.logger.Trace("Published message", watermill.LogFields{
			"message_uuid": msg.UUID,
			"channel":      topic,
			"receivers":    receivers,
		})
	}
	return nil
}

func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.client.Close()
	})
	return err
}

// Subscriber consumes channels with SUBSCRIBE. Each delivery waits for the
// handler to ack or nack before the next one is read; a nack is logged and
// dropped since pub/sub cannot redeliver.
type Subscriber struct {
	client *goredis.Client
	logger watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	failed   chan struct{}
	failOnce sync.Once
	errMu    sync.RWMutex
	err      error
}

// NewSubscriber wraps client. The subscriber owns it and closes it on Close.
func NewSubscriber(client *goredis.Client, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{
		client:  client,
		logger:  logger,
		closing: make(chan struct{}),
		failed:  make(chan struct{}),
	}
}

// Subscribe confirms the subscription before returning, so messages published
// after Subscribe returns are delivered.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.isClosing() {
		return nil, errspkg.ErrSubscriberClosed
	}

	ps := s.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, &errspkg.SubscriberConnectionError{Channel: topic, Err: err}
	}

	logFields := watermill.LogFields{"channel": topic}
	s.logger.Info("Subscribed to redis channel", logFields)

	out := make(chan *message.Message)
	done := make(chan struct{})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		// Reads ignore ctx, closing the pubsub is what unblocks them.
		select {
		case <-ctx.Done():
		case <-s.closing:
		case <-done:
		}
		_ = ps.Close()
	}()
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer close(done)
		s.consume(ctx, topic, ps, out, logFields)
	}()

	return out, nil
}

func (s *Subscriber) consume(ctx context.Context, topic string, ps *goredis.PubSub, out chan<- *message.Message, logFields watermill.LogFields) {
	for {
		rm, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if s.isClosing() || ctx.Err() != nil {
				s.logger.Debug("Redis subscription closed", logFields)
				return
			}
			s.fail(&errspkg.SubscriberConnectionError{Channel: topic, Err: err})
			s.logger.Error("Redis subscription lost", err, logFields)
			return
		}

		msg := message.NewMessage(watermill.NewUUID(), []byte(rm.Payload))
		msg.Metadata.Set(MetadataChannel, rm.Channel)
		msgCtx, cancel := context.WithCancel(ctx)
		msg.SetContext(msgCtx)

		if !s.deliver(ctx, msg, out, logFields) {
			cancel()
			return
		}
		cancel()
	}
}

// deliver hands msg to the consumer and waits for it to be settled. It
// returns false once the subscription is shutting down.
func (s *Subscriber) deliver(ctx context.Context, msg *message.Message, out chan<- *message.Message, logFields watermill.LogFields) bool {
	select {
	case out <- msg:
	case <-s.closing:
		return false
	case <-ctx.Done():
		return false
	}

	select {
	case <-msg.Acked():
		s.logger.Trace("Message acked", logFields.Add(watermill.LogFields{"message_uuid": msg.UUID}))
	case <-msg.Nacked():
		s.logger.Info("Message nacked, dropping", logFields.Add(watermill.LogFields{"message_uuid": msg.UUID}))
	case <-s.closing:
		return false
	case <-ctx.Done():
		return false
	}
	return true
}

func (s *Subscriber) fail(err error) {
	s.failOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.failed)
	})
}

// Failed is closed once the connection to the server is lost.
func (s *Subscriber) Failed() <-chan struct{} { return s.failed }

// Err returns the connection error that closed Failed, or nil.
func (s *Subscriber) Err() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.err
}

func (s *Subscriber) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		s.wg.Wait()
		if cerr := s.client.Close(); cerr != nil && !errors.Is(cerr, goredis.ErrClosed) {
			err = cerr
		}
	})
	return err
}
