package runtime

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/gatebridge/internal/runtime/config"
	errspkg "github.com/drblury/gatebridge/internal/runtime/errors"
	"github.com/drblury/gatebridge/internal/runtime/hostlink"
	jsonpkg "github.com/drblury/gatebridge/internal/runtime/jsoncodec"
	"github.com/drblury/gatebridge/internal/runtime/params"
	"github.com/drblury/gatebridge/internal/runtime/telemetry"
	transportpkg "github.com/drblury/gatebridge/internal/runtime/transport"
	hosttransport "github.com/drblury/gatebridge/transport"
	kafkatransport "github.com/drblury/gatebridge/transport/kafka"
)

func decodeControl(t *testing.T, msg *message.Message) hostlink.OutboundMessage {
	t.Helper()
	var out hostlink.OutboundMessage
	if err := jsonpkg.Unmarshal(msg.Payload, &out); err != nil {
		t.Fatalf("decode control message: %v", err)
	}
	return out
}

func TestTryNewSessionRequiresConfigAndLogger(t *testing.T) {
	if _, err := TryNewSession(nil, newTestLogger(), context.Background(), SessionDependencies{}); !errors.Is(err, errspkg.ErrConfigRequired) {
		t.Fatalf("expected ErrConfigRequired, got %v", err)
	}
	if _, err := TryNewSession(&configpkg.Config{}, nil, context.Background(), SessionDependencies{}); !errors.Is(err, errspkg.ErrLoggerRequired) {
		t.Fatalf("expected ErrLoggerRequired, got %v", err)
	}
}

func TestTryNewSessionRejectsInvalidConfig(t *testing.T) {
	cfg := &configpkg.Config{HostTransport: "kafka", ControlTopic: "same", VisualizerTopic: "same"}
	_, err := TryNewSession(cfg, newTestLogger(), context.Background(), SessionDependencies{})

	var validation errspkg.ConfigValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ConfigValidationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "kafka") {
		t.Fatalf("expected the kafka problem to be reported, got %v", err)
	}
}

func TestNewSessionPanicsOnError(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewSession(nil, newTestLogger(), context.Background(), SessionDependencies{})
}

func TestTryNewSessionReportsTransportErrors(t *testing.T) {
	boom := errors.New("host unreachable")
	factory := transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (hosttransport.Transport, error) {
		return hosttransport.Transport{}, boom
	})
	_, err := TryNewSession(&configpkg.Config{HostTransport: "channel"}, newTestLogger(), context.Background(), SessionDependencies{TransportFactory: factory})
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestStandaloneSession(t *testing.T) {
	cfg := &configpkg.Config{FallbackFrameInterval: time.Millisecond, FallbackSeed: 5}
	s, err := TryNewSession(cfg, newTestLogger(), context.Background(), SessionDependencies{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	if s.Mode() != hostlink.ModeStandalone {
		t.Fatalf("expected standalone mode, got %s", s.Mode())
	}
	if s.Capabilities().Live() {
		t.Fatalf("expected no live host, got %+v", s.Capabilities())
	}

	bindings, err := s.BindLayout(params.GateLayout()...)
	if err != nil {
		t.Fatalf("bind layout: %v", err)
	}
	if len(bindings) != 15 {
		t.Fatalf("expected 15 bindings, got %d", len(bindings))
	}

	attack, ok := s.Binding(params.IDAttack)
	if !ok {
		t.Fatal("attack not bound")
	}
	if attack.Read() != 5 {
		t.Fatalf("expected attack default 5, got %v", attack.Read())
	}
	attack.SetValue(500)
	if attack.Read() != 100 {
		t.Fatalf("expected attack clamped to 100, got %v", attack.Read())
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Visualizer().Snapshot().StepPattern != telemetry.DemoPattern {
		if time.Now().After(deadline) {
			t.Fatal("simulated sequencer never produced a frame")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSessionConfiguresKafka(t *testing.T) {
	origPub := kafkatransport.PublisherFactory
	origSub := kafkatransport.SubscriberFactory
	t.Cleanup(func() {
		kafkatransport.PublisherFactory = origPub
		kafkatransport.SubscriberFactory = origSub
	})
	pub := &testPublisher{}
	sub := &testSubscriber{}
	kafkatransport.PublisherFactory = func(config kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		return pub, nil
	}
	kafkatransport.SubscriberFactory = func(config kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		if config.ConsumerGroup != "editor" {
			t.Fatalf("unexpected consumer group: %s", config.ConsumerGroup)
		}
		return sub, nil
	}

	cfg := &configpkg.Config{
		HostTransport:      "kafka",
		KafkaBrokers:       []string{"b1"},
		KafkaConsumerGroup: "editor",
	}
	s, err := TryNewSession(cfg, newTestLogger(), context.Background(), SessionDependencies{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	if s.Mode() != hostlink.ModeHosted {
		t.Fatalf("expected hosted mode")
	}
	if s.Capabilities().Name != "kafka" {
		t.Fatalf("expected kafka capabilities, got %q", s.Capabilities().Name)
	}
	if s.Conf.ControlTopic != configpkg.DefaultControlTopic {
		t.Fatalf("expected defaults to be applied, got %q", s.Conf.ControlTopic)
	}

	if _, err := s.Bind(params.Float(params.IDMix, "Mix", 0, 100, 100)); err != nil {
		t.Fatalf("bind: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Link().Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	topics := pub.Topics()
	if len(topics) != 1 || topics[0] != configpkg.DefaultControlTopic {
		t.Fatalf("expected one control message, got %v", topics)
	}
}

func TestLoopbackGestureSuppression(t *testing.T) {
	lb := newLoopback(t, nil)
	if lb.session.Mode() != hostlink.ModeHosted {
		t.Fatal("expected hosted mode")
	}

	depth, err := lb.session.Bind(params.Float(params.IDDepth, "Depth", 0, 100, 100))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if got := decodeControl(t, lb.nextControl(t)); got != hostlink.RequestInitialUpdate(params.IDDepth) {
		t.Fatalf("expected initial update request, got %+v", got)
	}

	lb.push(t, params.IDDepth, "0.5")
	if depth.Read() != 50 {
		t.Fatalf("expected host value 50, got %v", depth.Read())
	}

	depth.BeginGesture()
	lb.push(t, params.IDDepth, "0.8")
	if depth.Read() != 50 {
		t.Fatalf("expected host update to be held during the gesture, got %v", depth.Read())
	}
	depth.EndGesture()
	if math.Abs(depth.Read()-80) > 1e-9 {
		t.Fatalf("expected held host value 80 after the gesture, got %v", depth.Read())
	}

	wantTypes := []hostlink.MessageType{hostlink.TypeGestureBegin, hostlink.TypeGestureEnd}
	for _, want := range wantTypes {
		if got := decodeControl(t, lb.nextControl(t)); got.Type != want {
			t.Fatalf("expected %s, got %s", want, got.Type)
		}
	}

	stats, ok := lb.session.Metrics().GetSnapshot().Params[params.IDDepth]
	if !ok || stats.Applied != 1 || stats.Deferred != 1 {
		t.Fatalf("unexpected host update stats: %+v", stats)
	}
}

func TestBindReplacesPreviousBinding(t *testing.T) {
	lb := newLoopback(t, nil)
	desc := params.Float(params.IDMix, "Mix", 0, 100, 100)

	first, err := lb.session.Bind(desc)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	lb.nextControl(t)
	first.BeginGesture()
	lb.nextControl(t)

	second, err := lb.session.Bind(desc)
	if err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if !first.Closed() {
		t.Fatal("expected the first binding to be closed")
	}
	if got, _ := lb.session.Binding(params.IDMix); got != second {
		t.Fatal("expected the last binding to win")
	}
	if got := decodeControl(t, lb.nextControl(t)); got.Type != hostlink.TypeGestureEnd {
		t.Fatalf("expected the open gesture to be ended, got %s", got.Type)
	}
	if n := lb.session.Events().Subscribers(params.IDMix); n != 1 {
		t.Fatalf("expected one subscriber after rebinding, got %d", n)
	}

	lb.push(t, params.IDMix, "0.25")
	if first.Read() != 100 || second.Read() != 25 {
		t.Fatalf("expected only the live binding to follow the host, got %v and %v", first.Read(), second.Read())
	}
}

func TestUnbind(t *testing.T) {
	lb := newLoopback(t, nil)
	b, err := lb.session.Bind(params.Toggle(params.IDBypass, "Bypass", false))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	lb.session.Unbind(params.IDBypass)
	lb.session.Unbind(params.IDBypass)

	if !b.Closed() {
		t.Fatal("expected binding to be closed")
	}
	if _, ok := lb.session.Binding(params.IDBypass); ok {
		t.Fatal("expected binding to be forgotten")
	}
}

func TestHostedVisualizer(t *testing.T) {
	lb := newLoopback(t, nil)

	lb.push(t, configpkg.DefaultVisualizerTopic, `{"currentStep":3}`)
	got := lb.session.Visualizer().Snapshot()
	want := telemetry.Snapshot{CurrentStep: 3, StepPattern: 0xFFFF}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestStatesAreSortedByID(t *testing.T) {
	lb := newLoopback(t, nil)
	if _, err := lb.session.BindLayout(params.GateLayout()...); err != nil {
		t.Fatalf("bind layout: %v", err)
	}
	states := lb.session.States()
	if len(states) != 15 {
		t.Fatalf("expected 15 states, got %d", len(states))
	}
	for i := 1; i < len(states); i++ {
		if states[i-1].ID >= states[i].ID {
			t.Fatalf("states out of order: %s before %s", states[i-1].ID, states[i].ID)
		}
	}
}

func TestBindLayoutStopsAtInvalidDescriptor(t *testing.T) {
	lb := newLoopback(t, nil)
	bound, err := lb.session.BindLayout(
		params.Float(params.IDMix, "Mix", 0, 100, 100),
		params.Float("broken", "Broken", 1, 0, 0),
		params.Float(params.IDDepth, "Depth", 0, 100, 100),
	)
	if !errors.Is(err, errspkg.ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
	if len(bound) != 1 {
		t.Fatalf("expected one binding before the failure, got %d", len(bound))
	}
}

func TestSessionClose(t *testing.T) {
	lb := newLoopback(t, nil)
	b, err := lb.session.Bind(params.Float(params.IDSwing, "Swing", 0, 100, 0))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	lb.nextControl(t)
	b.BeginGesture()
	lb.nextControl(t)

	if err := lb.session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := lb.session.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if got := decodeControl(t, lb.nextControl(t)); got.Type != hostlink.TypeGestureEnd {
		t.Fatalf("expected gesture end on close, got %s", got.Type)
	}
	if _, err := lb.session.Bind(params.Float(params.IDHold, "Hold", 0, 100, 50)); !errors.Is(err, errspkg.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed after close, got %v", err)
	}
	if len(lb.session.States()) != 0 {
		t.Fatal("expected no bindings after close")
	}
}

func TestHostSurvivesSessionClose(t *testing.T) {
	lb := newLoopback(t, nil)
	if err := lb.session.Close(); err != nil {
		t.Fatalf("close first session: %v", err)
	}
	if err := lb.host.Push(configpkg.DefaultVisualizerTopic, []byte(`{"currentStep":1}`)); err != nil {
		t.Fatalf("host push after session close: %v", err)
	}

	second, err := TryNewSession(&configpkg.Config{}, newTestLogger(), context.Background(), SessionDependencies{
		TransportFactory: transportpkg.Static(lb.host.Transport()),
		Registerer:       prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("reopen session on the same host: %v", err)
	}
	defer second.Close()

	lb.session = second
	lb.push(t, configpkg.DefaultVisualizerTopic, `{"currentStep":5}`)
	if got := second.Visualizer().Snapshot().CurrentStep; got != 5 {
		t.Fatalf("expected the reopened session to see step 5, got %d", got)
	}

	b, err := second.Bind(params.Float(params.IDHold, "Hold", 0, 100, 50))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer b.Close()
	if got := decodeControl(t, lb.nextControl(t)); got.Type != hostlink.TypeRequestInitialUpdate {
		t.Fatalf("expected initial update request from the reopened session, got %s", got.Type)
	}
}

// publishMetricsRejecter accepts every collector except Watermill's publisher
// metrics.
type publishMetricsRejecter struct {
	*prometheus.Registry
}

func (r publishMetricsRejecter) Register(c prometheus.Collector) error {
	descs := make(chan *prometheus.Desc, 16)
	go func() {
		c.Describe(descs)
		close(descs)
	}()
	rejected := false
	for d := range descs {
		if strings.Contains(d.String(), "publish") {
			rejected = true
		}
	}
	if rejected {
		return errors.New("registry full")
	}
	return r.Registry.Register(c)
}

type closeTracker struct {
	testPublisher
	testSubscriber
	closes atomic.Int32
}

func (c *closeTracker) Close() error {
	c.closes.Add(1)
	return nil
}

func TestInstrumentFailureClosesTransport(t *testing.T) {
	tracker := &closeTracker{}
	_, err := TryNewSession(&configpkg.Config{HostTransport: "channel", MetricsEnabled: true}, newTestLogger(), context.Background(), SessionDependencies{
		TransportFactory: transportpkg.Static(hosttransport.Transport{Publisher: tracker, Subscriber: tracker}),
		Registerer:       publishMetricsRejecter{prometheus.NewRegistry()},
	})
	if err == nil || !strings.Contains(err.Error(), "registry full") {
		t.Fatalf("expected the instrumentation error, got %v", err)
	}
	if got := tracker.closes.Load(); got != 2 {
		t.Fatalf("expected publisher and subscriber to be closed, got %d closes", got)
	}
}

func TestMetricsEnabledInstrumentsTransport(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := &configpkg.Config{HostTransport: "channel", MetricsEnabled: true}
	s, err := TryNewSession(cfg, newTestLogger(), context.Background(), SessionDependencies{Registerer: reg})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	if s.Conf.MetricsPort != configpkg.DefaultMetricsPort {
		t.Fatalf("expected default metrics port, got %d", s.Conf.MetricsPort)
	}
	if _, err := s.Bind(params.Float(params.IDMix, "Mix", 0, 100, 100)); err != nil {
		t.Fatalf("bind: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Link().Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	if !names["gatebridge_messages_sent_total"] {
		t.Fatalf("expected bridge metrics to be registered, got %v", names)
	}
}

func TestStartReturnsWhenContextIsDone(t *testing.T) {
	lb := newLoopback(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- lb.session.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("start did not return after cancel")
	}
	if _, err := lb.session.Bind(params.Float(params.IDMix, "Mix", 0, 100, 100)); !errors.Is(err, errspkg.ErrChannelClosed) {
		t.Fatalf("expected the session to be closed, got %v", err)
	}
}
