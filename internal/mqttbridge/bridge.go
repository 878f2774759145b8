// Package mqttbridge republishes router events to an MQTT broker as JSON.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"groundlink/internal/router"
)

// Publisher sends one message to the broker.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// Subscriber is the part of the router the bridge attaches to.
type Subscriber interface {
	Subscribe(category router.Category, h router.Handler, opts ...router.Option)
}

type Options struct {
	TopicPrefix string
	QoS         byte
	Retain      bool
	// QueueSize bounds messages waiting for the broker.
	QueueSize int
}

type message struct {
	topic   string
	payload []byte
}

// Bridge forwards events from router handlers to a Publisher on its own
// goroutine. Handlers never wait for the broker.
type Bridge struct {
	pub    Publisher
	prefix string
	qos    byte
	retain bool
	log    *zap.Logger
	queue  chan message

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func New(pub Publisher, opts Options, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	prefix := strings.Trim(opts.TopicPrefix, "/")
	if prefix == "" {
		prefix = "groundlink"
	}
	return &Bridge{
		pub:    pub,
		prefix: prefix,
		qos:    opts.QoS,
		retain: opts.Retain,
		log:    log,
		queue:  make(chan message, opts.QueueSize),
	}
}

// Attach subscribes the bridge to every category in cats.
func (b *Bridge) Attach(bus Subscriber, cats ...router.Category) {
	for _, cat := range cats {
		cat := cat
		bus.Subscribe(cat, router.Func("mqtt."+string(cat), func(payload any) error {
			return b.Enqueue(cat, payload)
		}))
	}
}

func (b *Bridge) Topic(cat router.Category) string {
	return b.prefix + "/" + string(cat)
}

// Enqueue encodes payload and queues it. A full queue drops the message.
func (b *Bridge) Enqueue(cat router.Category, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqtt: encode %s: %w", cat, err)
	}
	select {
	case b.queue <- message{topic: b.Topic(cat), payload: data}:
	default:
		if b.dropped.Add(1) == 1 {
			b.log.Warn("mqtt: queue full, dropping messages", zap.String("topic", b.Topic(cat)))
		}
	}
	return nil
}

// Run publishes queued messages until ctx is done, then closes the
// publisher.
func (b *Bridge) Run(ctx context.Context) {
	defer b.pub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.queue:
			if err := b.pub.Publish(m.topic, b.qos, b.retain, m.payload); err != nil {
				b.failed.Add(1)
				b.log.Warn("mqtt: publish failed", zap.String("topic", m.topic), zap.Error(err))
				continue
			}
			b.sent.Add(1)
		}
	}
}

type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

func (b *Bridge) Stats() Stats {
	return Stats{Sent: b.sent.Load(), Failed: b.failed.Load(), Dropped: b.dropped.Load()}
}
