package transport

// Capabilities describes the delivery guarantees of a transport backend.
// The bridge logs them at session start; ordering matters most because
// parameter updates must reach subscribers in host-send order.
type Capabilities struct {
	// SupportsOrdering indicates messages on one topic arrive in publish order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// InProcess indicates the host shares the UI process (no serialization boundary
	// beyond the payload encoding).
	InProcess bool

	// Replay indicates the transport plays back a recorded session instead of a live host.
	Replay bool

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

// Live reports whether a real host sits on the other end of the transport.
func (c Capabilities) Live() bool {
	return c.Name != NoHost && !c.Replay
}

// Predefined capability sets for the built-in transports.
var (
	// NoHostCapabilities describes standalone mode.
	NoHostCapabilities = Capabilities{Name: NoHost}

	// ChannelCapabilities for the in-process Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		InProcess:        true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: true,
		SupportsTracing:  true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// IOCapabilities for the JSON-lines file transport.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		Replay:           true,
	}
)
