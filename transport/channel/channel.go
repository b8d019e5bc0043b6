// Package channel provides the in-process transport: the plugin host and the
// UI bridge share one Watermill go channel. Embedding hosts create a Host,
// hand Host.Transport to the bridge, and use the Host methods for their side.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/gatebridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// DefaultConfig blocks each publish until every subscriber acked the message,
// which keeps per-topic delivery in publish order.
var DefaultConfig = gochannel.Config{
	OutputChannelBuffer:            64,
	BlockPublishUntilSubscriberAck: true,
}

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new go channel transport. Nothing outside the bridge can
// reach a channel built this way, so it is only useful as a loopback; embed a
// Host to talk to an in-process audio engine.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(DefaultConfig, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// Host is the audio-engine side of an in-process channel.
type Host struct {
	pubSub *gochannel.GoChannel
}

// NewHost creates the shared go channel.
func NewHost(logger watermill.LoggerAdapter) *Host {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Host{pubSub: gochannel.NewGoChannel(DefaultConfig, logger)}
}

// Transport returns the bridge side of the channel. Closing it leaves the
// channel open, so the host keeps running across editor sessions; only
// Host.Close shuts it down.
func (h *Host) Transport() transport.Transport {
	return transport.Borrow(transport.Transport{Publisher: h.pubSub, Subscriber: h.pubSub})
}

// Push publishes a payload to the UI on topic, the way a host pushes a
// parameter value or a telemetry frame.
func (h *Host) Push(topic string, payload []byte) error {
	return h.pubSub.Publish(topic, message.NewMessage(watermill.NewULID(), payload))
}

// Listen subscribes to messages the UI sends on topic.
func (h *Host) Listen(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return h.pubSub.Subscribe(ctx, topic)
}

// Close shuts the channel down for both sides.
func (h *Host) Close() error {
	return h.pubSub.Close()
}
