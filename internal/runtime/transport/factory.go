// Package transport selects the host transport for a session.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/gatebridge/internal/runtime/config"
	hosttransport "github.com/drblury/gatebridge/transport"

	// Register every built-in backend.
	_ "github.com/drblury/gatebridge/transport/transports"
)

// Factory abstracts how a session obtains its host transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (hosttransport.Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (hosttransport.Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (hosttransport.Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (hosttransport.Transport, error) {
	if conf == nil {
		return hosttransport.Transport{}, fmt.Errorf("config is required")
	}
	return hosttransport.Build(ctx, conf, logger)
}

// Static returns a factory that always hands out t, ignoring the configured
// transport name. Embedding hosts use it with a channel.Host.
func Static(t hosttransport.Transport) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (hosttransport.Transport, error) {
		return t, nil
	})
}

// Instrument wraps both directions of t with Watermill's Prometheus
// decorators. An absent host is returned unchanged.
func Instrument(t hosttransport.Transport, registerer prometheus.Registerer, transportName string) (hosttransport.Transport, error) {
	if !t.Present() {
		return t, nil
	}
	builder := metrics.NewPrometheusMetricsBuilder(registerer, "gatebridge", transportName)

	pub, err := builder.DecoratePublisher(t.Publisher)
	if err != nil {
		return hosttransport.Transport{}, fmt.Errorf("decorate publisher: %w", err)
	}
	sub, err := builder.DecorateSubscriber(t.Subscriber)
	if err != nil {
		return hosttransport.Transport{}, fmt.Errorf("decorate subscriber: %w", err)
	}
	return hosttransport.Transport{Publisher: pub, Subscriber: sub}, nil
}
