// Package metrics records bridge traffic in Prometheus and keeps a small
// in-memory copy the inspector API can serve without scraping. Every method is
// safe on a nil *BridgeMetrics so components can run without metrics.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gatebridge"

// Host update outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDeferred  = "deferred"
	OutcomeMalformed = "malformed"
)

// BridgeMetrics tracks messages flowing between the UI and the host.
type BridgeMetrics struct {
	mu sync.RWMutex

	sent         map[string]uint64
	sendFailures map[string]uint64
	topics       map[string]*TopicStats
	params       map[string]*ParamStats
	snapshots    map[string]uint64

	sentTotal          *prometheus.CounterVec
	sendFailuresTotal  *prometheus.CounterVec
	deliveredTotal     *prometheus.CounterVec
	handlerFailures    *prometheus.CounterVec
	handlerDuration    *prometheus.HistogramVec
	hostUpdatesTotal   *prometheus.CounterVec
	subscriptions      *prometheus.GaugeVec
	telemetrySnapshots *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// TopicStats holds delivery counts for one inbound topic.
type TopicStats struct {
	Delivered       uint64    `json:"delivered"`
	HandlerFailures uint64    `json:"handler_failures"`
	Subscriptions   int       `json:"subscriptions"`
	LastDeliveredAt time.Time `json:"last_delivered_at,omitempty"`
}

// ParamStats holds host update counts for one parameter.
type ParamStats struct {
	Applied   uint64 `json:"applied"`
	Deferred  uint64 `json:"deferred"`
	Malformed uint64 `json:"malformed"`
}

// Snapshot is a point-in-time copy of the in-memory counters.
type Snapshot struct {
	Sent               map[string]uint64     `json:"sent"`
	SendFailures       map[string]uint64     `json:"send_failures"`
	Topics             map[string]TopicStats `json:"topics"`
	Params             map[string]ParamStats `json:"params"`
	TelemetrySnapshots map[string]uint64     `json:"telemetry_snapshots"`
	CollectedAt        time.Time             `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// New creates bridge metrics. A nil registerer uses prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *BridgeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &BridgeMetrics{
		sent:               make(map[string]uint64),
		sendFailures:       make(map[string]uint64),
		topics:             make(map[string]*TopicStats),
		params:             make(map[string]*ParamStats),
		snapshots:          make(map[string]uint64),
		registerer:         registerer,
		sentTotal:          newCounterVec("messages_sent_total", "Control messages sent to the host", []string{"type"}),
		sendFailuresTotal:  newCounterVec("send_failures_total", "Control messages that could not be sent", []string{"type"}),
		deliveredTotal:     newCounterVec("messages_delivered_total", "Inbound messages dispatched to subscribers", []string{"topic"}),
		handlerFailures:    newCounterVec("handler_failures_total", "Subscriber callbacks that returned an error or panicked", []string{"topic"}),
		handlerDuration:    newHistogramVec("handler_duration_seconds", "Time spent in subscriber callbacks", []float64{0.0001, 0.0005, 0.001, 0.004, 0.016, 0.05}, []string{"topic"}),
		hostUpdatesTotal:   newCounterVec("host_updates_total", "Host parameter updates by outcome", []string{"param", "outcome"}),
		subscriptions:      newGaugeVec("subscriptions", "Active subscriptions per topic", []string{"topic"}),
		telemetrySnapshots: newCounterVec("telemetry_snapshots_total", "Telemetry snapshots published to render code", []string{"mode"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *BridgeMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.sentTotal,
		m.sendFailuresTotal,
		m.deliveredTotal,
		m.handlerFailures,
		m.handlerDuration,
		m.hostUpdatesTotal,
		m.subscriptions,
		m.telemetrySnapshots,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordSent counts a control message handed to the transport.
func (m *BridgeMetrics) RecordSent(msgType string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sent[msgType]++
	m.mu.Unlock()
	m.sentTotal.WithLabelValues(msgType).Inc()
}

// RecordSendFailure counts a control message that was dropped.
func (m *BridgeMetrics) RecordSendFailure(msgType string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sendFailures[msgType]++
	m.mu.Unlock()
	m.sendFailuresTotal.WithLabelValues(msgType).Inc()
}

// RecordDelivered counts one subscriber invocation and its duration.
func (m *BridgeMetrics) RecordDelivered(topic string, took time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.topicStats(topic)
	stats.Delivered++
	stats.LastDeliveredAt = time.Now()
	m.mu.Unlock()
	m.deliveredTotal.WithLabelValues(topic).Inc()
	m.handlerDuration.WithLabelValues(topic).Observe(took.Seconds())
}

// RecordHandlerFailure counts a subscriber callback that failed.
func (m *BridgeMetrics) RecordHandlerFailure(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.topicStats(topic).HandlerFailures++
	m.mu.Unlock()
	m.handlerFailures.WithLabelValues(topic).Inc()
}

// SetSubscriptions records the number of active subscriptions on topic.
func (m *BridgeMetrics) SetSubscriptions(topic string, n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.topicStats(topic).Subscriptions = n
	m.mu.Unlock()
	m.subscriptions.WithLabelValues(topic).Set(float64(n))
}

// RecordHostUpdate counts a host parameter update with one of the Outcome constants.
func (m *BridgeMetrics) RecordHostUpdate(param, outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats, ok := m.params[param]
	if !ok {
		stats = &ParamStats{}
		m.params[param] = stats
	}
	switch outcome {
	case OutcomeApplied:
		stats.Applied++
	case OutcomeDeferred:
		stats.Deferred++
	case OutcomeMalformed:
		stats.Malformed++
	}
	m.mu.Unlock()
	m.hostUpdatesTotal.WithLabelValues(param, outcome).Inc()
}

// RecordTelemetrySnapshot counts a snapshot published in the given mode.
func (m *BridgeMetrics) RecordTelemetrySnapshot(mode string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.snapshots[mode]++
	m.mu.Unlock()
	m.telemetrySnapshots.WithLabelValues(mode).Inc()
}

// GetSnapshot returns a copy of the in-memory counters.
func (m *BridgeMetrics) GetSnapshot() Snapshot {
	snap := Snapshot{
		Sent:               map[string]uint64{},
		SendFailures:       map[string]uint64{},
		Topics:             map[string]TopicStats{},
		Params:             map[string]ParamStats{},
		TelemetrySnapshots: map[string]uint64{},
		CollectedAt:        time.Now(),
	}
	if m == nil {
		return snap
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, v := range m.sent {
		snap.Sent[k] = v
	}
	for k, v := range m.sendFailures {
		snap.SendFailures[k] = v
	}
	for k, v := range m.topics {
		snap.Topics[k] = *v
	}
	for k, v := range m.params {
		snap.Params[k] = *v
	}
	for k, v := range m.snapshots {
		snap.TelemetrySnapshots[k] = v
	}
	return snap
}

// Reset clears all metrics (useful for testing).
func (m *BridgeMetrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = make(map[string]uint64)
	m.sendFailures = make(map[string]uint64)
	m.topics = make(map[string]*TopicStats)
	m.params = make(map[string]*ParamStats)
	m.snapshots = make(map[string]uint64)
	m.sentTotal.Reset()
	m.sendFailuresTotal.Reset()
	m.deliveredTotal.Reset()
	m.handlerFailures.Reset()
	m.handlerDuration.Reset()
	m.hostUpdatesTotal.Reset()
	m.subscriptions.Reset()
	m.telemetrySnapshots.Reset()
}

func (m *BridgeMetrics) topicStats(topic string) *TopicStats {
	stats, ok := m.topics[topic]
	if !ok {
		stats = &TopicStats{}
		m.topics[topic] = stats
	}
	return stats
}
