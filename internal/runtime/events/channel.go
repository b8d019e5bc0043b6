// Package events implements the bridge's publish/subscribe layer. Inbound host
// messages are fanned out to local subscribers on a single dispatch goroutine,
// which is the only goroutine that ever runs handlers.
package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/gatebridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/gatebridge/internal/runtime/logging"
	"github.com/drblury/gatebridge/internal/runtime/mailbox"
	"github.com/drblury/gatebridge/internal/runtime/metadata"
	metricspkg "github.com/drblury/gatebridge/internal/runtime/metrics"
)

// Handler processes one inbound message. Returned errors and panics are
// logged and never stop delivery to other subscribers.
type Handler func(msg *message.Message) error

// Source opens raw topic streams. hostlink.Link implements it.
type Source interface {
	Listen(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id    uint64
	topic string
}

// ID returns the subscription identifier.
func (s Subscription) ID() uint64 { return s.id }

// Topic returns the subscribed topic.
func (s Subscription) Topic() string { return s.topic }

// PanicError wraps a value recovered from a handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Options tune a Channel. Logging and metrics hooks are always installed;
// Hooks run after them.
type Options struct {
	Hooks   DeliveryHooks
	Metrics *metricspkg.BridgeMetrics
}

// Channel owns the subscriber registry for one session.
type Channel struct {
	source  Source
	logger  loggingpkg.Logger
	hooks   DeliveryHooks
	metrics *metricspkg.BridgeMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*topicState
	nextID uint64
	closed bool

	queue        *mailbox.Mailbox[func()]
	dispatchDone chan struct{}
	// invoking is the subscriber whose handler is running on the dispatch
	// goroutine, if any.
	invoking  atomic.Pointer[subscriber]
	closeOnce sync.Once
}

type subscriber struct {
	id      uint64
	topic   string
	handler Handler
	active  atomic.Bool
	// running is held from the active check until the handler returns.
	running sync.Mutex
}

// topicState is replaced whenever a topic goes from zero to one subscriber, so
// messages read by an older listener can be told apart and dropped.
type topicState struct {
	subs   []*subscriber
	cancel context.CancelFunc
}

// NewChannel starts the dispatch goroutine. A nil source is allowed: every
// subscription then only sees what is posted locally.
func NewChannel(source Source, logger loggingpkg.Logger, opts Options) *Channel {
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	logger = loggingpkg.ForComponent(logger, "events")
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		source:       source,
		logger:       logger,
		hooks:        LoggingHooks(logger).Merge(MetricsHooks(opts.Metrics)).Merge(opts.Hooks),
		metrics:      opts.Metrics,
		ctx:          ctx,
		cancel:       cancel,
		topics:       make(map[string]*topicState),
		queue:        mailbox.New[func()](),
		dispatchDone: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Subscribe registers handler for topic. The first subscriber of a topic
// opens one listener on the source; an absent host is not an error.
func (c *Channel) Subscribe(topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return Subscription{}, errspkg.ErrTopicRequired
	}
	if handler == nil {
		return Subscription{}, errspkg.ErrHandlerRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Subscription{}, errspkg.ErrChannelClosed
	}

	state, ok := c.topics[topic]
	if !ok {
		var err error
		state, err = c.openTopic(topic)
		if err != nil {
			return Subscription{}, err
		}
		c.topics[topic] = state
	}

	c.nextID++
	sub := &subscriber{id: c.nextID, topic: topic, handler: handler}
	sub.active.Store(true)
	state.subs = append(state.subs, sub)
	c.metrics.SetSubscriptions(topic, len(state.subs))

	c.logger.Debug("Subscribed", loggingpkg.LogFields{"topic": topic, "subscription": sub.id})
	return Subscription{id: sub.id, topic: topic}, nil
}

func (c *Channel) openTopic(topic string) (*topicState, error) {
	state := &topicState{}
	if c.source == nil {
		return state, nil
	}

	ctx, cancel := context.WithCancel(c.ctx)
	messages, err := c.source.Listen(ctx, topic)
	if errors.Is(err, errspkg.ErrHostAbsent) {
		cancel()
		return state, nil
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("listen on %q: %w", topic, err)
	}

	state.cancel = cancel
	go c.listen(ctx, topic, state, messages)
	return state, nil
}

// listen moves messages from the source into the dispatch queue and acks them
// straight away so a slow handler never holds up the host.
func (c *Channel) listen(ctx context.Context, topic string, state *topicState, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if !c.queue.Put(func() { c.deliver(topic, state, msg) }) {
				msg.Nack()
				return
			}
			msg.Ack()
		}
	}
}

// Unsubscribe removes the subscription. Once it returns the handler will not
// be started again, even for messages already queued, and a call already in
// progress on another goroutine has finished. Unknown or repeated handles are
// ignored.
func (c *Channel) Unsubscribe(s Subscription) {
	removed := c.remove(s)
	if removed == nil {
		return
	}
	// Wait out a handler that passed its active check, unless the call comes
	// from that handler itself.
	if c.invoking.Load() != removed {
		removed.running.Lock()
		removed.running.Unlock()
	}
}

func (c *Channel) remove(s Subscription) *subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.topics[s.topic]
	if !ok {
		return nil
	}
	var removed *subscriber
	for i, sub := range state.subs {
		if sub.id != s.id {
			continue
		}
		sub.active.Store(false)
		removed = sub
		state.subs = append(state.subs[:i:i], state.subs[i+1:]...)
		break
	}
	c.metrics.SetSubscriptions(s.topic, len(state.subs))

	if len(state.subs) == 0 {
		if state.cancel != nil {
			state.cancel()
		}
		delete(c.topics, s.topic)
		c.logger.Debug("Stopped listening", loggingpkg.LogFields{"topic": s.topic})
	}
	return removed
}

// Post runs fn on the dispatch goroutine after everything already queued.
func (c *Channel) Post(fn func()) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	if !c.queue.Put(fn) {
		return errspkg.ErrChannelClosed
	}
	return nil
}

// Flush waits until everything queued before the call has been dispatched.
func (c *Channel) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !c.queue.Put(func() { close(done) }) {
		return errspkg.ErrChannelClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers returns the number of active subscriptions on topic.
func (c *Channel) Subscribers(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.topics[topic]; ok {
		return len(state.subs)
	}
	return 0
}

// Close stops every listener, runs what is still queued and stops the
// dispatch goroutine. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for topic, state := range c.topics {
			for _, sub := range state.subs {
				sub.active.Store(false)
			}
			c.metrics.SetSubscriptions(topic, 0)
		}
		c.topics = make(map[string]*topicState)
		c.mu.Unlock()

		c.cancel()
		c.queue.Close()
		<-c.dispatchDone
	})
	return nil
}

func (c *Channel) dispatch() {
	defer close(c.dispatchDone)
	for {
		fn, ok := c.queue.Next(context.Background())
		if !ok {
			return
		}
		c.run(fn)
	}
}

func (c *Channel) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Posted function panicked", &PanicError{Value: r}, loggingpkg.LogFields{"stack": string(debug.Stack())})
		}
	}()
	fn()
}

func (c *Channel) deliver(topic string, state *topicState, msg *message.Message) {
	c.mu.Lock()
	current := c.topics[topic] == state
	subs := append([]*subscriber(nil), state.subs...)
	c.mu.Unlock()

	if !current {
		return
	}
	for _, sub := range subs {
		c.invoke(sub, msg)
	}
}

func (c *Channel) invoke(sub *subscriber, msg *message.Message) {
	sub.running.Lock()
	defer sub.running.Unlock()
	if !sub.active.Load() {
		return
	}
	c.invoking.Store(sub)
	defer c.invoking.Store(nil)

	dctx := DeliveryContext{
		Topic:          sub.topic,
		MessageUUID:    msg.UUID,
		Metadata:       metadata.FromWatermill(msg.Metadata),
		SubscriptionID: sub.id,
		StartedAt:      time.Now(),
	}

	err := safeCall(sub.handler, msg)
	dctx.Duration = time.Since(dctx.StartedAt)

	if err != nil {
		if c.hooks.OnHandlerError != nil {
			c.hooks.OnHandlerError(dctx, err)
		}
		return
	}
	if c.hooks.OnDeliver != nil {
		c.hooks.OnDeliver(dctx)
	}
}

func safeCall(h Handler, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(msg)
}
