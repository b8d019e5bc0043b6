package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/gatebridge/internal/runtime/config"
	errspkg "github.com/drblury/gatebridge/internal/runtime/errors"
	"github.com/drblury/gatebridge/internal/runtime/events"
	"github.com/drblury/gatebridge/internal/runtime/hostlink"
	loggingpkg "github.com/drblury/gatebridge/internal/runtime/logging"
	metricspkg "github.com/drblury/gatebridge/internal/runtime/metrics"
	"github.com/drblury/gatebridge/internal/runtime/params"
	"github.com/drblury/gatebridge/internal/runtime/telemetry"
	transportpkg "github.com/drblury/gatebridge/internal/runtime/transport"
	hosttransport "github.com/drblury/gatebridge/transport"
)

// serverShutdownTimeout bounds how long Close waits for HTTP servers.
const serverShutdownTimeout = 2 * time.Second

// SessionDependencies holds the optional collaborators of a Session. Leave
// fields nil to use the defaults.
type SessionDependencies struct {
	// TransportFactory replaces the registry lookup of Config.HostTransport.
	TransportFactory transportpkg.Factory
	// Registerer receives the Prometheus collectors when metrics are
	// enabled. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
	// Hooks observe every delivery on the event channel.
	Hooks events.DeliveryHooks
}

// Session wires the host link, the event channel, the telemetry consumer and
// the parameter bindings of one plugin editor.
type Session struct {
	Conf   *configpkg.Config
	Logger loggingpkg.Logger

	link         *hostlink.Link
	channel      *events.Channel
	visualizer   *telemetry.Consumer
	metrics      *metricspkg.BridgeMetrics
	capabilities hosttransport.Capabilities

	bindingsMu sync.Mutex
	bindings   map[string]*params.Binding
	closed     bool

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	servers       []*http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewSession is TryNewSession that panics on error.
func NewSession(conf *configpkg.Config, log loggingpkg.Logger, ctx context.Context, deps SessionDependencies) *Session {
	s, err := TryNewSession(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewSession builds a session for conf. The host mode is resolved here,
// once: a transport that yields no publisher and subscriber means standalone.
func TryNewSession(conf *configpkg.Config, log loggingpkg.Logger, ctx context.Context, deps SessionDependencies) (*Session, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	resolved := conf.WithDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating gate bridge session", loggingpkg.LogFields{
		"host_transport": resolved.HostTransport,
		"config":         resolved,
	})

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	bridgeMetrics := metricspkg.New(registerer)
	if resolved.MetricsEnabled {
		if err := bridgeMetrics.Register(); err != nil {
			return nil, fmt.Errorf("register bridge metrics: %w", err)
		}
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	t, err := factory.Build(ctx, &resolved, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("build host transport %q: %w", resolved.HostTransport, err)
	}
	if resolved.MetricsEnabled {
		instrumented, err := transportpkg.Instrument(t, registerer, transportLabel(resolved.HostTransport))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("instrument host transport: %w", err), closeTransport(t))
		}
		t = instrumented
	}

	s := &Session{
		Conf:         &resolved,
		Logger:       log,
		metrics:      bridgeMetrics,
		capabilities: hosttransport.NoHostCapabilities,
		bindings:     make(map[string]*params.Binding),
	}
	if t.Present() {
		s.capabilities = hosttransport.GetCapabilities(resolved.HostTransport)
	}

	s.link = hostlink.New(t, log, hostlink.Options{
		ControlTopic: resolved.ControlTopic,
		Metrics:      bridgeMetrics,
		Tracer:       deps.Tracer,
	})
	s.channel = events.NewChannel(s.link, log, events.Options{
		Hooks:   deps.Hooks,
		Metrics: bridgeMetrics,
	})

	s.visualizer, err = telemetry.New(s.link, s.channel, log, telemetry.Options{
		Topic:         resolved.VisualizerTopic,
		FrameInterval: resolved.FallbackFrameInterval,
		Seed:          resolved.FallbackSeed,
		Metrics:       bridgeMetrics,
	})
	if err != nil {
		_ = s.channel.Close()
		_ = s.link.Close()
		return nil, err
	}

	log.Info("Gate bridge session ready", loggingpkg.LogFields{
		"mode":              s.link.Mode().String(),
		"transport":         s.capabilities.Name,
		"ordered_delivery":  s.capabilities.SupportsOrdering,
		"in_process":        s.capabilities.InProcess,
		"replayed_session":  s.capabilities.Replay,
		"control_topic":     resolved.ControlTopic,
		"visualizer_topic":  resolved.VisualizerTopic,
		"metrics_enabled":   resolved.MetricsEnabled,
		"inspector_enabled": resolved.InspectorEnabled,
	})
	if t.Present() && !s.capabilities.SupportsOrdering {
		log.Info("Host transport does not guarantee ordered delivery", loggingpkg.LogFields{"transport": s.capabilities.Name})
	}
	return s, nil
}

// closeTransport releases a transport that never reached a link.
func closeTransport(t hosttransport.Transport) error {
	if !t.Present() {
		return nil
	}
	return errors.Join(t.Publisher.Close(), t.Subscriber.Close())
}

func transportLabel(name string) string {
	if hosttransport.IsNoHost(name) {
		return hosttransport.NoHost
	}
	return name
}

// Mode reports whether a host is attached.
func (s *Session) Mode() hostlink.Mode {
	return s.link.Mode()
}

// Capabilities describes the host transport in use.
func (s *Session) Capabilities() hosttransport.Capabilities {
	return s.capabilities
}

// Link returns the host link.
func (s *Session) Link() *hostlink.Link {
	return s.link
}

// Events returns the event channel.
func (s *Session) Events() *events.Channel {
	return s.channel
}

// Visualizer returns the telemetry consumer.
func (s *Session) Visualizer() *telemetry.Consumer {
	return s.visualizer
}

// Metrics returns the bridge metrics.
func (s *Session) Metrics() *metricspkg.BridgeMetrics {
	return s.metrics
}

// Bind creates the binding for desc. A binding already registered under the
// same id is closed and replaced.
func (s *Session) Bind(desc params.Descriptor) (*params.Binding, error) {
	s.bindingsMu.Lock()
	if s.closed {
		s.bindingsMu.Unlock()
		return nil, errspkg.ErrChannelClosed
	}
	previous := s.bindings[desc.ID]
	delete(s.bindings, desc.ID)
	s.bindingsMu.Unlock()

	if previous != nil {
		s.Logger.Debug("Replacing parameter binding", loggingpkg.LogFields{"param": desc.ID})
		_ = previous.Close()
	}

	b, err := params.New(desc, params.Deps{
		Link:    s.link,
		Events:  s.channel,
		Logger:  s.Logger,
		Metrics: s.metrics,
	})
	if err != nil {
		return nil, err
	}

	s.bindingsMu.Lock()
	if s.closed {
		s.bindingsMu.Unlock()
		_ = b.Close()
		return nil, errspkg.ErrChannelClosed
	}
	raced := s.bindings[desc.ID]
	s.bindings[desc.ID] = b
	s.bindingsMu.Unlock()

	// Closing waits for a running host update handler, so it happens
	// outside the lock.
	if raced != nil {
		_ = raced.Close()
	}
	return b, nil
}

// BindLayout binds every descriptor, stopping at the first error.
func (s *Session) BindLayout(descs ...params.Descriptor) ([]*params.Binding, error) {
	out := make([]*params.Binding, 0, len(descs))
	for _, d := range descs {
		b, err := s.Bind(d)
		if err != nil {
			return out, fmt.Errorf("bind %q: %w", d.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Binding returns the live binding for id.
func (s *Session) Binding(id string) (*params.Binding, bool) {
	s.bindingsMu.Lock()
	defer s.bindingsMu.Unlock()
	b, ok := s.bindings[id]
	return b, ok
}

// Unbind closes and forgets the binding for id.
func (s *Session) Unbind(id string) {
	s.bindingsMu.Lock()
	b := s.bindings[id]
	delete(s.bindings, id)
	s.bindingsMu.Unlock()

	if b != nil {
		_ = b.Close()
	}
}

// States returns the state of every binding, ordered by id.
func (s *Session) States() []params.State {
	s.bindingsMu.Lock()
	bindings := make([]*params.Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		bindings = append(bindings, b)
	}
	s.bindingsMu.Unlock()

	states := make([]params.State, 0, len(bindings))
	for _, b := range bindings {
		states = append(states, b.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states
}

// Start serves the metrics and inspector endpoints and blocks until ctx is
// done. The session is closed on return.
func (s *Session) Start(ctx context.Context) error {
	if s.Conf.MetricsEnabled {
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
	}
	s.StartInspector()
	s.startHTTPServers()

	<-ctx.Done()
	return s.Close()
}

// RegisterHTTPHandler mounts handler on pattern at port. Servers start with
// Start.
func (s *Session) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Session) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}

// Close tears the session down: bindings first, ending any open gesture,
// then telemetry, the event channel and the host link. Safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.bindingsMu.Lock()
		s.closed = true
		bindings := s.bindings
		s.bindings = make(map[string]*params.Binding)
		s.bindingsMu.Unlock()

		var errs []error
		for _, b := range bindings {
			errs = append(errs, b.Close())
		}
		errs = append(errs, s.visualizer.Close())
		errs = append(errs, s.channel.Close())
		errs = append(errs, s.link.Close())
		errs = append(errs, s.stopHTTPServers())

		s.closeErr = errors.Join(errs...)
		s.Logger.Info("Gate bridge session closed", nil)
	})
	return s.closeErr
}

func (s *Session) stopHTTPServers() error {
	s.httpServersMu.Lock()
	servers := s.servers
	s.servers = nil
	s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
