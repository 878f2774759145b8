package mqttbridge

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// PublishTimeout bounds how long one publish waits for the broker.
const PublishTimeout = 5 * time.Second

type ClientConfig struct {
	Broker    string
	ClientID  string
	KeepAlive time.Duration
}

// pahoPublisher adapts a paho client to Publisher.
type pahoPublisher struct {
	client mqtt.Client
}

// Connect opens a paho client with auto-reconnect. It fails if the first
// connection cannot be made.
func Connect(cfg ClientConfig, log *zap.Logger) (Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt: connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info("mqtt: connected", zap.String("broker", cfg.Broker))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	return &pahoPublisher{client: client}, nil
}

func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(PublishTimeout) {
		return fmt.Errorf("publish %s: timed out after %s", topic, PublishTimeout)
	}
	return token.Error()
}

func (p *pahoPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(1000)
	}
}
