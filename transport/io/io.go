// Package io provides a file-based host feed. Every message is one JSON line
// tagged with its topic: the bridge appends what it sends, and each
// subscription replays the lines for its topic and then follows the file as
// it grows. A captured host session can be replayed into the UI this way, or
// a host can drive the UI by appending lines.
package io

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/gatebridge/internal/runtime/jsoncodec"
	"github.com/drblury/gatebridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "gatebridge-session.jsonl"

// DefaultPollInterval is how long a subscription waits at end of file before
// looking for new lines.
const DefaultPollInterval = 50 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(filePath, logger), nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return NewSubscriber(filePath, logger), nil
}

var errClosed = errors.New("io transport: closed")

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new file transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// Line is one persisted message. JSON payloads are stored inline so
// recordings stay readable; anything else goes into PayloadBytes.
type Line struct {
	UUID         string            `json:"uuid"`
	Topic        string            `json:"topic"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	PayloadBytes []byte            `json:"payload_bytes,omitempty"`
}

// NewLine wraps a payload for topic.
func NewLine(topic string, msg *message.Message) Line {
	l := Line{UUID: msg.UUID, Topic: topic, Metadata: msg.Metadata}
	if json.Valid(msg.Payload) {
		l.Payload = json.RawMessage(msg.Payload)
	} else {
		l.PayloadBytes = msg.Payload
	}
	return l
}

// Message converts the line back into a Watermill message.
func (l Line) Message() *message.Message {
	payload := []byte(l.Payload)
	if len(payload) == 0 {
		payload = l.PayloadBytes
	}
	msg := message.NewMessage(l.UUID, payload)
	for k, v := range l.Metadata {
		msg.Metadata.Set(k, v)
	}
	return msg
}

// Publisher appends messages to the file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// NewPublisher returns a publisher appending to filePath.
func NewPublisher(filePath string, logger watermill.LoggerAdapter) *Publisher {
	return &Publisher{filePath: filePath, logger: logger}
}

// Publish writes messages to the file, one line each.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range messages {
		if err := jsoncodec.Encode(w, NewLine(topic, msg)); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber replays and follows the file.
type Subscriber struct {
	filePath     string
	logger       watermill.LoggerAdapter
	pollInterval time.Duration

	closeOnce sync.Once
	closing   chan struct{}
}

// SubscriberOption tunes a Subscriber.
type SubscriberOption func(*Subscriber)

// WithPollInterval sets how long a subscription waits at end of file.
// Non-positive values keep the default.
func WithPollInterval(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewSubscriber returns a subscriber reading filePath.
func NewSubscriber(filePath string, logger watermill.LoggerAdapter, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		filePath:     filePath,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		closing:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe streams every line for topic. The output channel closes when ctx
// is cancelled or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-s.closing:
		return nil, errClosed
	default:
	}

	out := make(chan *message.Message)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		defer close(out)
		defer cancel()

		f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0600)
		if err != nil {
			s.logger.Error("Failed to open file", err, watermill.LogFields{"file": s.filePath})
			return
		}
		defer f.Close()

		reader := bufio.NewReader(f)
		var partial []byte
		for {
			chunk, err := reader.ReadBytes('\n')
			partial = append(partial, chunk...)
			if err != nil {
				if err != io.EOF {
					s.logger.Error("Failed to read file", err, watermill.LogFields{"file": s.filePath})
					return
				}
				// A half-written line stays in partial until the writer finishes it.
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.pollInterval):
				}
				continue
			}

			line := partial
			partial = nil
			if !s.deliver(ctx, out, line, topic) {
				return
			}
		}
	}()

	return out, nil
}

// Close stops every subscription.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	return nil
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, raw []byte, topic string) bool {
	var l Line
	if err := jsoncodec.Unmarshal(raw, &l); err != nil {
		s.logger.Error("Failed to unmarshal line", err, watermill.LogFields{"file": s.filePath})
		return true
	}

	if l.Topic != topic {
		return true
	}

	msg := l.Message()
	select {
	case out <- msg:
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return false
		}
	case <-ctx.Done():
		return false
	}
	return true
}
