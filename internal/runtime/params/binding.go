// Package params binds host-owned parameters to UI-local values. A Binding
// writes user changes back to the host, brackets drags with gesture markers,
// and keeps host automation from fighting the user while a drag is active.
package params

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/gatebridge/internal/runtime/errors"
	"github.com/drblury/gatebridge/internal/runtime/events"
	"github.com/drblury/gatebridge/internal/runtime/hostlink"
	jsonpkg "github.com/drblury/gatebridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/gatebridge/internal/runtime/logging"
	metricspkg "github.com/drblury/gatebridge/internal/runtime/metrics"
)

var errMalformedUpdate = errors.New("parameter update is neither a number nor {\"value\": n}")

// Link is the part of hostlink.Link a binding needs.
type Link interface {
	Mode() hostlink.Mode
	Send(ctx context.Context, msg hostlink.OutboundMessage)
}

// Subscriber is the part of events.Channel a binding needs.
type Subscriber interface {
	Subscribe(topic string, handler events.Handler) (events.Subscription, error)
	Unsubscribe(sub events.Subscription)
}

// Deps are the collaborators of a Binding. Logger and Metrics are optional.
type Deps struct {
	Link    Link
	Events  Subscriber
	Logger  loggingpkg.Logger
	Metrics *metricspkg.BridgeMetrics
}

// State is a read-only view of a binding.
type State struct {
	ID            string  `json:"id"`
	Value         float64 `json:"value"`
	GestureActive bool    `json:"gestureActive"`
	PendingHost   bool    `json:"pendingHost"`
}

// Binding is the UI-side proxy of one host parameter. All methods are safe
// for concurrent use.
type Binding struct {
	desc    Descriptor
	link    Link
	events  Subscriber
	logger  loggingpkg.Logger
	metrics *metricspkg.BridgeMetrics

	mu         sync.Mutex
	value      float64
	dragging   bool
	pending    float64
	hasPending bool
	closed     bool
	sub        events.Subscription
	subscribed bool
	observers  map[int]func(State)
	nextObs    int
}

// New creates a binding initialised to the descriptor default. With a host
// attached it listens on the topic named after the parameter id and asks the
// host for the current value.
func New(desc Descriptor, deps Deps) (*Binding, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if deps.Link == nil || deps.Events == nil {
		return nil, fmt.Errorf("%w: %s: link and event channel are required", errspkg.ErrInvalidDescriptor, desc.ID)
	}
	logger := deps.Logger
	if logger == nil {
		logger = loggingpkg.Discard()
	}

	b := &Binding{
		desc:      desc,
		link:      deps.Link,
		events:    deps.Events,
		logger:    loggingpkg.ForComponent(logger, "params").With(loggingpkg.LogFields{"param": desc.ID}),
		metrics:   deps.Metrics,
		value:     desc.Clamp(desc.Default),
		observers: make(map[int]func(State)),
	}

	if deps.Link.Mode() != hostlink.ModeHosted {
		return b, nil
	}

	sub, err := deps.Events.Subscribe(desc.ID, b.handleHostUpdate)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", desc.ID, err)
	}
	b.sub = sub
	b.subscribed = true
	deps.Link.Send(context.Background(), hostlink.RequestInitialUpdate(desc.ID))
	return b, nil
}

// Descriptor returns the parameter definition.
func (b *Binding) Descriptor() Descriptor {
	return b.desc
}

// Read returns the current natural value.
func (b *Binding) Read() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// State returns a snapshot of the binding.
func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Binding) stateLocked() State {
	return State{ID: b.desc.ID, Value: b.value, GestureActive: b.dragging, PendingHost: b.hasPending}
}

// SetValue clamps v, applies it locally at once and sends the normalised
// value to the host. NaN is ignored.
func (b *Binding) SetValue(v float64) {
	if math.IsNaN(v) {
		b.logger.Debug("Ignoring NaN value", nil)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.value = b.desc.Clamp(v)
	b.link.Send(context.Background(), hostlink.ParamChange(b.desc.ID, b.desc.Normalize(b.value)))
	state, observers := b.stateLocked(), b.observersLocked()
	b.mu.Unlock()

	notify(observers, state)
}

// BeginGesture marks the start of a user drag. Repeated calls are no-ops.
func (b *Binding) BeginGesture() {
	b.mu.Lock()
	if b.closed || b.dragging {
		b.mu.Unlock()
		return
	}
	b.dragging = true
	b.link.Send(context.Background(), hostlink.GestureBegin(b.desc.ID))
	state, observers := b.stateLocked(), b.observersLocked()
	b.mu.Unlock()

	notify(observers, state)
}

// EndGesture marks the end of a user drag and applies the last host update
// that arrived during it, if any. Repeated calls are no-ops.
func (b *Binding) EndGesture() {
	b.mu.Lock()
	if b.closed || !b.dragging {
		b.mu.Unlock()
		return
	}
	b.dragging = false
	b.link.Send(context.Background(), hostlink.GestureEnd(b.desc.ID))
	if b.hasPending {
		b.value = b.pending
		b.hasPending = false
	}
	state, observers := b.stateLocked(), b.observersLocked()
	b.mu.Unlock()

	notify(observers, state)
}

// SetChoice selects entry i of a choice parameter.
func (b *Binding) SetChoice(i int) {
	b.SetValue(float64(i))
}

// Choice returns the selected entry index.
func (b *Binding) Choice() int {
	return int(math.Round(b.Read()))
}

// Label returns the display text of the current value.
func (b *Binding) Label() string {
	return b.desc.Format(b.Read())
}

// Toggle flips a toggle parameter and returns the new state.
func (b *Binding) Toggle() bool {
	b.mu.Lock()
	next := b.value < 0.5
	b.mu.Unlock()

	if next {
		b.SetValue(1)
	} else {
		b.SetValue(0)
	}
	return next
}

// Bool reports whether a toggle parameter is on.
func (b *Binding) Bool() bool {
	return b.Read() >= 0.5
}

// OnChange registers fn to run after every value or gesture change. The
// returned func removes it.
func (b *Binding) OnChange(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextObs
	b.nextObs++
	b.observers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.observers, id)
	}
}

// Close detaches the binding: it stops listening to the host first, then ends
// a gesture left open so the host parameter is not stuck in a drag. Safe to
// call more than once.
func (b *Binding) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	wasDragging := b.dragging
	b.dragging = false
	b.hasPending = false
	sub, subscribed := b.sub, b.subscribed
	b.subscribed = false
	b.observers = make(map[int]func(State))
	b.mu.Unlock()

	if subscribed {
		b.events.Unsubscribe(sub)
	}
	if wasDragging {
		b.logger.Debug("Ending gesture left open at close", nil)
		b.link.Send(context.Background(), hostlink.GestureEnd(b.desc.ID))
	}
	return nil
}

// Closed reports whether Close was called.
func (b *Binding) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Binding) handleHostUpdate(msg *message.Message) error {
	norm, err := parseNormalized(msg.Payload)
	if err != nil {
		b.metrics.RecordHostUpdate(b.desc.ID, metricspkg.OutcomeMalformed)
		b.logger.Error("Ignoring malformed host update", err, loggingpkg.LogFields{"payload": string(msg.Payload)})
		return nil
	}
	value := b.desc.Denormalize(norm)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	if b.dragging {
		b.pending = value
		b.hasPending = true
		state, observers := b.stateLocked(), b.observersLocked()
		b.mu.Unlock()
		b.metrics.RecordHostUpdate(b.desc.ID, metricspkg.OutcomeDeferred)
		notify(observers, state)
		return nil
	}
	b.value = value
	state, observers := b.stateLocked(), b.observersLocked()
	b.mu.Unlock()

	b.metrics.RecordHostUpdate(b.desc.ID, metricspkg.OutcomeApplied)
	notify(observers, state)
	return nil
}

func (b *Binding) observersLocked() []func(State) {
	if len(b.observers) == 0 {
		return nil
	}
	out := make([]func(State), 0, len(b.observers))
	for _, fn := range b.observers {
		out = append(out, fn)
	}
	return out
}

func notify(observers []func(State), state State) {
	for _, fn := range observers {
		fn(state)
	}
}

// parseNormalized accepts a bare number, a boolean, or {"value": n}.
func parseNormalized(payload []byte) (float64, error) {
	var n *float64
	if err := jsonpkg.Unmarshal(payload, &n); err == nil && n != nil {
		return *n, nil
	}
	var flag *bool
	if err := jsonpkg.Unmarshal(payload, &flag); err == nil && flag != nil {
		return boolValue(*flag), nil
	}
	fields, err := jsonpkg.UnmarshalObject(payload)
	if err != nil {
		return 0, errMalformedUpdate
	}
	switch v := fields["value"].(type) {
	case float64:
		return v, nil
	case bool:
		return boolValue(v), nil
	default:
		return 0, errMalformedUpdate
	}
}

func boolValue(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
