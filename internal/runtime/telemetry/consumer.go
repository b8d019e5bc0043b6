// Package telemetry exposes the gate visualizer frames to rendering code.
// With a host attached the frames come from the visualizer topic; without one
// a simulated sequencer produces them so the UI stays demonstrable.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/gatebridge/internal/runtime/config"
	errspkg "github.com/drblury/gatebridge/internal/runtime/errors"
	"github.com/drblury/gatebridge/internal/runtime/events"
	"github.com/drblury/gatebridge/internal/runtime/hostlink"
	loggingpkg "github.com/drblury/gatebridge/internal/runtime/logging"
	metricspkg "github.com/drblury/gatebridge/internal/runtime/metrics"
)

// Link is the part of hostlink.Link the consumer needs.
type Link interface {
	Mode() hostlink.Mode
}

// Dispatcher is the part of events.Channel the consumer needs.
type Dispatcher interface {
	Subscribe(topic string, handler events.Handler) (events.Subscription, error)
	Unsubscribe(sub events.Subscription)
	Post(fn func()) error
}

// Options tune a Consumer. Zero values select the defaults.
type Options struct {
	Topic string
	// FrameInterval is both the wall-clock tick and the simulated time each
	// fallback tick advances.
	FrameInterval time.Duration
	Seed          uint64
	Metrics       *metricspkg.BridgeMetrics
}

// Consumer holds the latest visualizer frame. Snapshot is lock-free; frames
// are stored and observers run on the event channel's dispatch goroutine.
type Consumer struct {
	mode    hostlink.Mode
	events  Dispatcher
	logger  loggingpkg.Logger
	metrics *metricspkg.BridgeMetrics
	topic   string

	current atomic.Pointer[Snapshot]

	mu        sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int
	sub       events.Subscription
	closed    bool

	cancel   context.CancelFunc
	tickDone chan struct{}
}

// New creates a consumer in the mode the link resolved. A hosted consumer
// subscribes to the visualizer topic; a standalone one starts the simulated
// sequencer at once.
func New(link Link, dispatcher Dispatcher, logger loggingpkg.Logger, opts Options) (*Consumer, error) {
	if link == nil || dispatcher == nil {
		return nil, fmt.Errorf("telemetry: %w", errspkg.ErrConfigRequired)
	}
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	topic := opts.Topic
	if topic == "" {
		topic = configpkg.DefaultVisualizerTopic
	}
	frame := opts.FrameInterval
	if frame <= 0 {
		frame = configpkg.DefaultFallbackFrameInterval
	}

	c := &Consumer{
		mode:      link.Mode(),
		events:    dispatcher,
		logger:    loggingpkg.ForComponent(logger, "telemetry").With(loggingpkg.LogFields{"topic": topic}),
		metrics:   opts.Metrics,
		topic:     topic,
		observers: make(map[int]func(Snapshot)),
		tickDone:  make(chan struct{}),
	}
	base := Baseline()
	c.current.Store(&base)

	if c.mode == hostlink.ModeHosted {
		sub, err := dispatcher.Subscribe(topic, c.handleFrame)
		if err != nil {
			return nil, fmt.Errorf("subscribe to visualizer topic: %w", err)
		}
		c.sub = sub
		close(c.tickDone)
		c.logger.Debug("Following host telemetry", nil)
		return c, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.runClock(ctx, NewClock(opts.Seed), frame)
	c.logger.Debug("No host attached, running simulated sequencer", loggingpkg.LogFields{"frame_interval": frame.String()})
	return c, nil
}

// Mode returns the mode chosen at construction.
func (c *Consumer) Mode() hostlink.Mode {
	return c.mode
}

// Snapshot returns the latest frame.
func (c *Consumer) Snapshot() Snapshot {
	return *c.current.Load()
}

// OnSnapshot registers fn to run after each new frame. The returned func
// removes it.
func (c *Consumer) OnSnapshot(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Close stops the simulated sequencer or leaves the visualizer topic.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.mode == hostlink.ModeHosted {
		c.events.Unsubscribe(c.sub)
		return nil
	}
	c.cancel()
	<-c.tickDone
	return nil
}

func (c *Consumer) handleFrame(msg *message.Message) error {
	next, err := Decode(msg.Payload, c.Snapshot())
	if err != nil {
		c.logger.Error("Dropping malformed visualizer frame", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
		return nil
	}
	c.store(next)
	return nil
}

func (c *Consumer) runClock(ctx context.Context, clock *Clock, frame time.Duration) {
	defer close(c.tickDone)

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := clock.Advance(frame)
			if err := c.events.Post(func() { c.store(next) }); err != nil {
				c.logger.Debug("Event channel closed, stopping simulated sequencer", nil)
				return
			}
		}
	}
}

func (c *Consumer) store(s Snapshot) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.current.Store(&s)
	observers := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	c.metrics.RecordTelemetrySnapshot(c.mode.String())
	for _, fn := range observers {
		fn(s)
	}
}
