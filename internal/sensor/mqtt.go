package sensor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"backend-runhub/internal/config"
	"backend-runhub/internal/run"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MessageHandler func(topic string, payload []byte)

// Subscriber is the part of an MQTT client a source needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
}

// TopicFor expands the {run_id} placeholder of a configured topic.
func TopicFor(pattern, runID string) string {
	return strings.ReplaceAll(pattern, "{run_id}", runID)
}

type MQTTSource struct {
	sub    Subscriber
	topic  string
	logger *zap.Logger

	mu  sync.Mutex
	out chan run.SensorEvent
}

func NewMQTTSource(sub Subscriber, topic string, logger *zap.Logger) *MQTTSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTSource{sub: sub, topic: topic, logger: logger}
}

func (m *MQTTSource) Start(context.Context) (<-chan run.SensorEvent, error) {
	m.Stop()

	out := make(chan run.SensorEvent, 64)
	m.mu.Lock()
	m.out = out
	m.mu.Unlock()

	if err := m.sub.Subscribe(m.topic, 1, func(topic string, payload []byte) {
		m.deliver(out, topic, payload)
	}); err != nil {
		m.mu.Lock()
		m.out = nil
		m.mu.Unlock()
		return nil, err
	}
	return out, nil
}

// Stop detaches the subscription before unsubscribing so an in-flight
// message callback never holds up the broker round trip.
func (m *MQTTSource) Stop() {
	m.mu.Lock()
	out := m.out
	m.out = nil
	if out != nil {
		close(out)
	}
	m.mu.Unlock()

	if out == nil {
		return
	}
	if err := m.sub.Unsubscribe(m.topic); err != nil {
		m.logger.Warn("mqtt unsubscribe failed", zap.String("topic", m.topic), zap.Error(err))
	}
}

// deliver drops messages for a subscription that has since been replaced,
// and drops rather than blocks the MQTT client when the buffer is full.
func (m *MQTTSource) deliver(out chan run.SensorEvent, topic string, payload []byte) {
	ev, err := DecodeSample(payload)
	if err != nil {
		m.logger.Warn("dropping malformed sample", zap.String("topic", topic), zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out != out {
		return
	}
	select {
	case out <- ev:
	default:
		m.logger.Warn("sensor buffer full, dropping sample", zap.String("topic", topic))
	}
}

// MQTTClient adapts a paho client to Subscriber.
type MQTTClient struct {
	client mqtt.Client
}

func NewMQTTClient(cfg config.Config) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	return &MQTTClient{client: client}, nil
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (c *MQTTClient) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("unsubscribe: %w", token.Error())
	}
	return nil
}

func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}
