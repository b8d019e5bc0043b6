package events

import (
	"time"

	loggingpkg "github.com/drblury/gatebridge/internal/runtime/logging"
	"github.com/drblury/gatebridge/internal/runtime/metadata"
	metricspkg "github.com/drblury/gatebridge/internal/runtime/metrics"
)

// DeliveryContext describes one handler invocation.
type DeliveryContext struct {
	// Topic is the topic the message arrived on.
	Topic string
	// MessageUUID is the unique identifier of the message.
	MessageUUID string
	// Metadata is a copy of the message metadata.
	Metadata metadata.Metadata
	// SubscriptionID identifies the subscriber that handled the message.
	SubscriptionID uint64
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is how long the handler took.
	Duration time.Duration
}

// DeliveryHooks observe handler invocations on the dispatch goroutine.
// All hooks are optional.
type DeliveryHooks struct {
	// OnDeliver is called after a handler returned without error.
	OnDeliver func(ctx DeliveryContext)

	// OnHandlerError is called when a handler returned an error or panicked.
	// Panics arrive as *PanicError.
	OnHandlerError func(ctx DeliveryContext, err error)
}

// Merge combines two DeliveryHooks. The hooks from other run after those of h.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnDeliver:      chainDeliverHooks(h.OnDeliver, other.OnDeliver),
		OnHandlerError: chainErrorHooks(h.OnHandlerError, other.OnHandlerError),
	}
}

func chainDeliverHooks(a, b func(DeliveryContext)) func(DeliveryContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DeliveryContext, error)) func(DeliveryContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks logs deliveries at trace level and handler failures at error level.
func LoggingHooks(logger loggingpkg.Logger) DeliveryHooks {
	return DeliveryHooks{
		OnDeliver: func(ctx DeliveryContext) {
			logger.Trace("Message delivered", loggingpkg.LogFields{
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"subscription": ctx.SubscriptionID,
				"duration_us":  ctx.Duration.Microseconds(),
			})
		},
		OnHandlerError: func(ctx DeliveryContext, err error) {
			logger.Error("Subscriber failed", err, loggingpkg.LogFields{
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"subscription": ctx.SubscriptionID,
			})
		},
	}
}

// MetricsHooks records deliveries and failures in m.
func MetricsHooks(m *metricspkg.BridgeMetrics) DeliveryHooks {
	return DeliveryHooks{
		OnDeliver: func(ctx DeliveryContext) {
			m.RecordDelivered(ctx.Topic, ctx.Duration)
		},
		OnHandlerError: func(ctx DeliveryContext, err error) {
			m.RecordHandlerFailure(ctx.Topic)
		},
	}
}
