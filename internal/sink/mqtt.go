package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/CE-Thesis-2023/edge/internal/types"
)

// MQTTConfig configures the MQTT sink's broker connection and topic shape.
type MQTTConfig struct {
	Host        string
	Port        int
	ClientID    string
	User        string
	Password    string
	TopicPrefix string
	ConnectWait time.Duration
	PublishQoS  byte
}

// MQTT publishes events to a broker at "<topic_prefix>/<camera>/event".
type MQTT struct {
	client mqtt.Client
	cfg    MQTTConfig
}

// NewMQTT dials the broker and returns a ready Sink.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = 5 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectWait) {
		return nil, fmt.Errorf("sink: mqtt connect to %s:%d timed out", cfg.Host, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sink: mqtt connect: %w", err)
	}

	return &MQTT{client: client, cfg: cfg}, nil
}

// Publish serializes msg as JSON and publishes it to the camera's topic.
func (m *MQTT) Publish(ctx context.Context, msg types.EventMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sink: marshal event: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/event", m.cfg.TopicPrefix, msg.Camera)
	token := m.client.Publish(topic, m.cfg.PublishQoS, false, payload)

	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()

	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

var _ Sink = (*MQTT)(nil)
