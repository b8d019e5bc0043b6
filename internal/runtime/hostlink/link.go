// Package hostlink is the single path between the UI and the plugin host.
// It decides once whether a host is attached, sends control messages without
// ever blocking the caller on the host, and exposes raw topic listeners for
// the event channel.
package hostlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/gatebridge/internal/runtime/config"
	errspkg "github.com/drblury/gatebridge/internal/runtime/errors"
	idspkg "github.com/drblury/gatebridge/internal/runtime/ids"
	jsonpkg "github.com/drblury/gatebridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/gatebridge/internal/runtime/logging"
	"github.com/drblury/gatebridge/internal/runtime/mailbox"
	"github.com/drblury/gatebridge/internal/runtime/metadata"
	metricspkg "github.com/drblury/gatebridge/internal/runtime/metrics"
	"github.com/drblury/gatebridge/transport"
)

const tracerName = "gatebridge-hostlink"

// DefaultDrainTimeout bounds how long Close waits for queued control messages.
const DefaultDrainTimeout = time.Second

// Mode is the host attachment resolved when the link is built.
type Mode int

const (
	ModeStandalone Mode = iota
	ModeHosted
)

func (m Mode) String() string {
	if m == ModeHosted {
		return "hosted"
	}
	return "standalone"
}

// Options tune a Link. Zero values pick defaults.
type Options struct {
	ControlTopic string
	Metrics      *metricspkg.BridgeMetrics
	Tracer       trace.Tracer
	DrainTimeout time.Duration
}

// Link wraps a transport pair.
type Link struct {
	transport    transport.Transport
	mode         Mode
	controlTopic string
	logger       loggingpkg.Logger
	metrics      *metricspkg.BridgeMetrics
	tracer       trace.Tracer
	drainTimeout time.Duration

	outbox     *mailbox.Mailbox[outbound]
	senderDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// outbound is either a control message or, when flushed is set, a marker
// that Flush waits on.
type outbound struct {
	ctx     context.Context
	span    trace.Span
	msg     OutboundMessage
	flushed chan struct{}
}

// New builds a Link over t. A zero Transport yields a standalone link.
func New(t transport.Transport, logger loggingpkg.Logger, opts Options) *Link {
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	topic := opts.ControlTopic
	if topic == "" {
		topic = configpkg.DefaultControlTopic
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}

	l := &Link{
		transport:    t,
		mode:         ModeStandalone,
		controlTopic: topic,
		logger:       loggingpkg.ForComponent(logger, "hostlink"),
		metrics:      opts.Metrics,
		tracer:       tracer,
		drainTimeout: drain,
		outbox:       mailbox.New[outbound](),
		senderDone:   make(chan struct{}),
	}

	if t.Present() {
		l.mode = ModeHosted
		go l.runSender()
	} else {
		close(l.senderDone)
	}
	return l
}

// IsHostPresent reports whether a host channel exists. It has no side effects.
func (l *Link) IsHostPresent() bool {
	return l.transport.Present()
}

// Mode returns the mode resolved at construction.
func (l *Link) Mode() Mode {
	return l.mode
}

// ControlTopic returns the topic control messages are published on.
func (l *Link) ControlTopic() string {
	return l.controlTopic
}

// Send queues msg for the host and returns immediately. Messages reach the
// transport in Send order. Failures, an absent host included, are logged and
// counted but never returned.
func (l *Link) Send(ctx context.Context, msg OutboundMessage) {
	fields := loggingpkg.LogFields{"type": string(msg.Type), "param": msg.ID}

	if !l.IsHostPresent() {
		l.logger.Trace("No host attached, dropping control message", fields)
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := l.tracer.Start(ctx, "hostlink.Send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("gatebridge.message_type", string(msg.Type)),
			attribute.String("gatebridge.param", msg.ID),
			attribute.String("messaging.destination.name", l.controlTopic),
		),
	)

	if !l.outbox.Put(outbound{ctx: ctx, span: span, msg: msg}) {
		span.SetStatus(codes.Error, "link closed")
		span.End()
		l.metrics.RecordSendFailure(string(msg.Type))
		l.logger.Debug("Link closed, dropping control message", fields)
	}
}

// Flush waits until every message queued before the call was handed to the
// transport, or ctx is done.
func (l *Link) Flush(ctx context.Context) error {
	if !l.IsHostPresent() {
		return nil
	}
	marker := outbound{flushed: make(chan struct{})}
	if !l.outbox.Put(marker) {
		return errspkg.ErrChannelClosed
	}
	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) runSender() {
	defer close(l.senderDone)
	for {
		item, ok := l.outbox.Next(context.Background())
		if !ok {
			return
		}
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		l.deliver(item)
	}
}

func (l *Link) deliver(item outbound) {
	defer item.span.End()
	fields := loggingpkg.LogFields{"type": string(item.msg.Type), "param": item.msg.ID}

	if err := l.publish(item.ctx, item.msg); err != nil {
		item.span.RecordError(err)
		item.span.SetStatus(codes.Error, err.Error())
		l.metrics.RecordSendFailure(string(item.msg.Type))
		l.logger.Error("Failed to send control message", err, fields)
		return
	}
	l.metrics.RecordSent(string(item.msg.Type))
	l.logger.Trace("Control message sent", fields)
}

func (l *Link) publish(ctx context.Context, msg OutboundMessage) error {
	payload, err := jsonpkg.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal control message: %w", err)
	}

	wm := message.NewMessage(idspkg.CreateULID(), payload)
	wm.Metadata = metadata.ToWatermill(metadata.Control(string(msg.Type), msg.ID, time.Now()))
	wm.SetContext(ctx)

	return l.transport.Publisher.Publish(l.controlTopic, wm)
}

// Listen opens a raw receive stream for topic. Every message on the returned
// channel must be acked or nacked by the caller.
func (l *Link) Listen(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if !l.IsHostPresent() {
		return nil, errspkg.ErrHostAbsent
	}
	return l.transport.Subscriber.Subscribe(ctx, topic)
}

// Close sends what is still queued, waiting at most the drain timeout, and
// then releases the transport. Safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.outbox.Close()
		if !l.IsHostPresent() {
			return
		}

		select {
		case <-l.senderDone:
		case <-time.After(l.drainTimeout):
			l.logger.Info("Dropping undelivered control messages", loggingpkg.LogFields{"pending": l.outbox.Len()})
		}

		var errs []error
		if err := l.transport.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
		if err := l.transport.Subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("subscriber: %w", err))
		}
		<-l.senderDone
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}
