package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrNotConnected = errors.New("Not connected to MQTT broker")

// The subset of mqtt.Client that we use
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTPublisher fans escalated anomalies out to an MQTT broker, on <topic>/<cameraId>
type MQTTPublisher struct {
	Log            logs.Log
	client         mqttPublisher
	topic          string
	cameraID       string
	location       config.Location
	publishTimeout time.Duration
}

// NewMQTTPublisher connects to the broker. The paho client reconnects on its own after that.
func NewMQTTPublisher(log logs.Log, cfg config.MQTT, cameraID string, location config.Location) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Infof("MQTT: connected to %v", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warnf("MQTT: connection to %v lost: %v", cfg.Broker, err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		// With ConnectRetry, paho keeps trying in the background
		log.Warnf("MQTT: timed out connecting to %v, will keep trying", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("Failed to connect to MQTT broker %v: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(log, client, cfg.Topic, cameraID, location), nil
}

func newMQTTPublisher(log logs.Log, client mqttPublisher, topic, cameraID string, location config.Location) *MQTTPublisher {
	return &MQTTPublisher{
		Log:            log,
		client:         client,
		topic:          topic,
		cameraID:       cameraID,
		location:       location,
		publishTimeout: 10 * time.Second,
	}
}

func (m *MQTTPublisher) Topic() string {
	return m.topic + "/" + m.cameraID
}

// Escalate publishes the anomaly payload with QoS 0
func (m *MQTTPublisher) Escalate(ctx context.Context, ev anomaly.Event, sourceVideo string) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(BuildPayload(ev, sourceVideo, m.cameraID, m.location))
	if err != nil {
		return err
	}
	token := m.client.Publish(m.Topic(), 0, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.publishTimeout):
		return fmt.Errorf("MQTT publish to %v timed out", m.Topic())
	}
	return token.Error()
}

func (m *MQTTPublisher) Close() {
	m.client.Disconnect(250)
}
