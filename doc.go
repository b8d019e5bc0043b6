// Package gatebridge connects the editor UI of a rhythmic trance-gate plugin
// to its plugin host. It binds UI controls to host-owned parameters, brackets
// user drags with gesture markers so host automation never fights the user,
// and streams the gate visualizer telemetry (current step, gate level, output
// level and step mask) to rendering code.
//
// A Session reads the host transport from Config and resolves, once, whether
// a host is attached. Without one the bridge runs standalone: parameters keep
// their local values and a simulated sequencer drives the visualizer so the
// editor stays demonstrable. A minimal setup fills Config, creates a Session,
// binds GateLayout and calls Start.
//
// # Transports
//
// Host connections are Watermill publisher/subscriber pairs:
//   - channel: in-process Go channel shared with an embedded audio engine
//   - nats: out-of-process host over core NATS
//   - kafka: host behind a Kafka cluster
//   - rabbitmq: host behind an AMQP broker
//   - http: webhook-style host
//   - io: replay of a recorded host session from a JSON-lines file
//   - none: no host, standalone mode
//
// # Wire contract
//
// Control messages go to the control topic (default "hostControl") as JSON:
// paramChange carries the normalised value, gestureBegin and gestureEnd
// bracket drags and requestInitialUpdate asks for the current value. The host
// pushes parameter values on a topic named after the parameter id and
// visualizer frames on "visualizerData".
//
// # Observability
//
// Enable Config.MetricsEnabled to register Prometheus collectors and serve
// /metrics; Config.InspectorEnabled serves a read-only JSON API with the bound
// parameters and the latest visualizer frame.
package gatebridge
