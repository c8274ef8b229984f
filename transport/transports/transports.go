// Package transports imports all built-in transports for registration with
// the default registry.
package transports

import (
	_ "github.com/drblury/logprocessor/transport/channel"
	_ "github.com/drblury/logprocessor/transport/kafka"
	_ "github.com/drblury/logprocessor/transport/nats"
	_ "github.com/drblury/logprocessor/transport/rabbitmq"
	_ "github.com/drblury/logprocessor/transport/redis"
)
