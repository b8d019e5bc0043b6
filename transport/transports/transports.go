// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	_ "github.com/drblury/gatebridge/transport/channel"
	_ "github.com/drblury/gatebridge/transport/http"
	_ "github.com/drblury/gatebridge/transport/io"
	_ "github.com/drblury/gatebridge/transport/kafka"
	_ "github.com/drblury/gatebridge/transport/nats"
	_ "github.com/drblury/gatebridge/transport/rabbitmq"
)
