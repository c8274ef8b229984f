// Package logprocessor consumes log messages from a pub/sub channel, hands each
// one to a business handler, and reports what happened. It is built on
// Watermill: Config selects the transport (Redis pub/sub by default, or NATS,
// Kafka, RabbitMQ and Go channels), Service runs the router, and a LogProcessor
// bound with RegisterLogProcessor decodes every payload as a JSON object.
//
// # Tracing
//
// A record carrying a zipkinSpan object is processed inside a save_log span
// whose parent is the publisher's span. The span is encoded as Zipkin thrift
// and POSTed to ZIPKIN_URL + "/api/v2/spans" once the handler returns. A
// collector that is down or answers with an error never fails the message: the
// error is logged and the handler still runs exactly once.
//
// # Metrics
//
// Recorder exposes log_messages_processed_total, log_messages_failed_total and
// log_message_processing_duration_seconds. Each delivery increments exactly
// one of the counters; undecodable payloads count as failed. The Service
// serves the registry on PORT together with a JSON status document at
// /status.
//
// # Transports
//
//   - redis: Redis pub/sub, at-most-once; a lost connection stops the service
//   - nats: NATS core subjects
//   - kafka: Kafka topics with consumer groups
//   - rabbitmq: AMQP fanout exchanges
//   - channel: in-memory Go channels for testing
//
// Custom brokers plug in through ServiceDependencies.TransportFactory or
// RegisterTransport.
package logprocessor
