// Package transport defines the broker abstraction the log processor consumes
// from. Each backend (redis, nats, kafka, rabbitmq, channel) lives in its own
// sub-package and registers itself with the default registry on import.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the values transports need without depending on the full
// config package.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string
	// GetServiceName identifies this process to brokers that track clients.
	GetServiceName() string

	// Redis
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int

	// NATS
	GetNATSURL() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
