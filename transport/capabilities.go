package transport

// Capabilities describes the delivery guarantees of a transport backend.
type Capabilities struct {
	// SupportsOrdering indicates messages on one channel arrive in publish order.
	SupportsOrdering bool

	// SupportsAck indicates the broker learns when a message was handled.
	SupportsAck bool

	// SupportsNack indicates a rejected message is redelivered.
	SupportsNack bool

	// SupportsReplay indicates messages published while no consumer was
	// subscribed are kept for later delivery.
	SupportsReplay bool

	// SupportsPartitioning indicates the transport spreads a channel over
	// partitions.
	SupportsPartitioning bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// FireAndForget reports whether messages published while the processor is
// down are lost.
func (c Capabilities) FireAndForget() bool {
	return !c.SupportsReplay
}

// Predefined capability sets for the built-in transports.
var (
	// RedisCapabilities for Redis pub/sub. Delivery is at-most-once.
	RedisCapabilities = Capabilities{
		Name:             "redis",
		SupportsOrdering: true,
		MaxMessageSize:   512 * 1024 * 1024,
	}

	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsAck:          true,
		SupportsReplay:       true,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576,
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP fanout exchanges.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Returns a Capabilities carrying only the name if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
