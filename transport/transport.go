// Package transport defines how gatebridge reaches a plugin host. Each backend
// (in-process channel, NATS, HTTP, Kafka, RabbitMQ, file replay) lives in its
// own sub-package and registers a Builder with the transport registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// NoHost is the transport name that selects standalone mode. An empty name
// means the same thing.
const NoHost = "none"

// Transport combines the publisher and subscriber pair that connects the UI to
// a host. The zero value describes an absent host.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Present reports whether both directions of the host channel are available.
func (t Transport) Present() bool {
	return t.Publisher != nil && t.Subscriber != nil
}

// Borrow returns t with Close turned into a no-op on both sides. Use it for a
// transport whose lifetime belongs to someone else, such as an audio engine
// that outlives every editor session attached to it.
func Borrow(t Transport) Transport {
	if !t.Present() {
		return t
	}
	return Transport{
		Publisher:  borrowedPublisher{t.Publisher},
		Subscriber: borrowedSubscriber{t.Subscriber},
	}
}

type borrowedPublisher struct {
	message.Publisher
}

func (borrowedPublisher) Close() error { return nil }

type borrowedSubscriber struct {
	message.Subscriber
}

func (borrowedSubscriber) Close() error { return nil }

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Builder that is registered on init.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports so that
// backends do not depend on the full config package.
type Config interface {
	// GetHostTransport returns the transport name, or NoHost.
	GetHostTransport() string

	// NATS
	GetNATSURL() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
