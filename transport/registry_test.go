package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	hostTransport string
}

func (m *mockConfig) GetHostTransport() string      { return m.hostTransport }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetIOFile() string             { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error { return nil }

func mockBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", mockBuilder)

	assert.True(t, reg.Has("test-transport"))
	assert.Contains(t, reg.Names(), "test-transport")
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("test-transport", mockBuilder, Capabilities{
		Name:             "test-transport",
		SupportsOrdering: true,
		InProcess:        true,
	})

	caps := reg.GetCapabilities("test-transport")
	assert.Equal(t, "test-transport", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.InProcess)
}

func TestRegistry_GetCapabilities(t *testing.T) {
	reg := NewRegistry()

	t.Run("unknown transport carries only its name", func(t *testing.T) {
		caps := reg.GetCapabilities("unknown")
		assert.Equal(t, Capabilities{Name: "unknown"}, caps)
	})

	t.Run("no host", func(t *testing.T) {
		assert.Equal(t, NoHostCapabilities, reg.GetCapabilities(""))
		assert.Equal(t, NoHostCapabilities, reg.GetCapabilities("NONE"))
	})
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", mockBuilder)

	t.Run("registered transport", func(t *testing.T) {
		tr, err := reg.Build(context.Background(), &mockConfig{hostTransport: "test-transport"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.True(t, tr.Present())
	})

	t.Run("no host yields absent transport", func(t *testing.T) {
		for _, name := range []string{"", "none", " None "} {
			tr, err := reg.Build(context.Background(), &mockConfig{hostTransport: name}, watermill.NopLogger{})
			require.NoError(t, err)
			assert.False(t, tr.Present(), "name %q", name)
		}
	})

	t.Run("unknown transport", func(t *testing.T) {
		_, err := reg.Build(context.Background(), &mockConfig{hostTransport: "carrier-pigeon"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "carrier-pigeon")
		assert.Contains(t, err.Error(), "test-transport")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := reg.Build(context.Background(), nil, watermill.NopLogger{})
		require.Error(t, err)
	})

	t.Run("builder error is returned", func(t *testing.T) {
		boom := errors.New("boom")
		reg.Register("failing", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
			return Transport{}, boom
		})
		_, err := reg.Build(context.Background(), &mockConfig{hostTransport: "failing"}, watermill.NopLogger{})
		assert.ErrorIs(t, err, boom)
	})
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("nats", mockBuilder)
	reg.Register("channel", mockBuilder)
	reg.Register("kafka", mockBuilder)

	assert.Equal(t, []string{"channel", "kafka", "nats"}, reg.Names())
}

func TestDefaultRegistryHelpers(t *testing.T) {
	original := DefaultRegistry
	defer func() { DefaultRegistry = original }()
	DefaultRegistry = NewRegistry()

	RegisterWithCapabilities("test-transport", mockBuilder, ChannelCapabilities)
	Register("plain", mockBuilder)

	assert.Equal(t, ChannelCapabilities, GetCapabilities("test-transport"))
	tr, err := Build(context.Background(), &mockConfig{hostTransport: "plain"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.True(t, tr.Present())
}

func TestTransport_Present(t *testing.T) {
	assert.False(t, Transport{}.Present())
	assert.False(t, Transport{Publisher: &mockPublisher{}}.Present())
	assert.False(t, Transport{Subscriber: &mockSubscriber{}}.Present())
	assert.True(t, Transport{Publisher: &mockPublisher{}, Subscriber: &mockSubscriber{}}.Present())
}

type closeCounter struct {
	mockPublisher
	mockSubscriber
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestBorrow(t *testing.T) {
	assert.False(t, Borrow(Transport{}).Present())

	pub := &closeCounter{}
	sub := &closeCounter{}
	borrowed := Borrow(Transport{Publisher: pub, Subscriber: sub})
	require.True(t, borrowed.Present())

	require.NoError(t, borrowed.Publisher.Publish("attack", message.NewMessage("1", nil)))
	require.NoError(t, borrowed.Publisher.Close())
	require.NoError(t, borrowed.Subscriber.Close())
	assert.Zero(t, pub.closed)
	assert.Zero(t, sub.closed)
}
