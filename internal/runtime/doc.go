/*
Package runtime wires the gate editor bridge together.

# Architecture Overview

The bridge sits between the editor UI of a trance-gate plugin and the plugin
host. Parameters flow both ways; telemetry flows from the host to the UI
only. Every host connection is a Watermill publisher/subscriber pair, so the
same bridge runs against an in-process host, NATS, Kafka, RabbitMQ, HTTP or a
recorded session file.

# Package Structure

## Session (session.go)

The Session struct is the central orchestrator that wires together:
  - Host link (hostlink): control messages out, raw topic streams in
  - Event channel (events): single dispatch goroutine with local fan-out
  - Telemetry consumer (telemetry): latest visualizer frame or the simulated sequencer
  - Parameter bindings (params): one per host parameter, last bind wins
  - HTTP servers for metrics and the inspector

## Inspector (inspector.go)

Read-only HTTP API with the bound parameters, the latest visualizer frame
and the bridge statistics.

# Sub-packages

  - config/: Session configuration with validation
  - errors/: Sentinel errors and error types
  - events/: Event channel, delivery hooks
  - hostlink/: Host presence, ordered asynchronous sends
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - mailbox/: Unbounded FIFO used by the link and the event channel
  - metadata/: Control message headers
  - metrics/: Prometheus collectors and in-memory statistics
  - params/: Parameter descriptors, the gate layout and bindings
  - telemetry/: Visualizer frames, the simulated sequencer and the step grid
  - transport/: Transport factory and Prometheus instrumentation

# Usage Example

	cfg := &gatebridge.Config{
		HostTransport:  "nats",
		NATSURL:        "nats://localhost:4222",
		MetricsEnabled: true,
	}

	session := gatebridge.NewSession(cfg, logger, ctx, gatebridge.SessionDependencies{})
	if _, err := session.BindLayout(gatebridge.GateLayout()...); err != nil {
		return err
	}

	return session.Start(ctx)
*/
package runtime
