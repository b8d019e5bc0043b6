package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/gatebridge/internal/runtime/config"
	loggingpkg "github.com/drblury/gatebridge/internal/runtime/logging"
	transportpkg "github.com/drblury/gatebridge/internal/runtime/transport"
	"github.com/drblury/gatebridge/transport/channel"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.Logger {
	return loggingpkg.NewSlogLogger(newTestSlogLogger())
}

type testPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, topic)
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

type testSubscriber struct {
	err error
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

// loopback is a session wired to an in-process host.
type loopback struct {
	host    *channel.Host
	session *Session
	control <-chan *message.Message
}

func newLoopback(t *testing.T, conf *configpkg.Config) *loopback {
	t.Helper()
	host := channel.NewHost(watermill.NopLogger{})
	t.Cleanup(func() { _ = host.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if conf == nil {
		conf = &configpkg.Config{}
	}
	raw, err := host.Listen(ctx, conf.WithDefaults().ControlTopic)
	if err != nil {
		t.Fatalf("listen on control topic: %v", err)
	}
	// Ack right away so the host never holds up the session's sender.
	control := make(chan *message.Message, 256)
	go func() {
		for msg := range raw {
			msg.Ack()
			select {
			case control <- msg:
			default:
			}
		}
	}()

	session, err := TryNewSession(conf, newTestLogger(), ctx, SessionDependencies{
		TransportFactory: transportpkg.Static(host.Transport()),
		Registerer:       prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	return &loopback{host: host, session: session, control: control}
}

// nextControl waits for the next control message.
func (l *loopback) nextControl(t *testing.T) *message.Message {
	t.Helper()
	select {
	case msg := <-l.control:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control message")
		return nil
	}
}

// push delivers payload on topic and waits until subscribers ran.
func (l *loopback) push(t *testing.T, topic, payload string) {
	t.Helper()
	if err := l.host.Push(topic, []byte(payload)); err != nil {
		t.Fatalf("push %s: %v", topic, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.session.Events().Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
