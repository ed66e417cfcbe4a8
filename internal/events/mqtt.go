package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dharsanguruparan/vanguard/internal/logging"
)

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic may contain a {type} placeholder, replaced by the item label.
	Topic string
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTAlerts publishes persisted found items so field teams can react. Events
// without a stored row are skipped.
type MQTTAlerts struct {
	client  publisher
	close   func()
	topic   string
	timeout time.Duration
}

// DialMQTT connects to the broker and returns an alert sink.
func DialMQTT(cfg MQTTConfig) (*MQTTAlerts, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logging.Infof("mqtt: connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warnf("mqtt: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}
	a := NewMQTTAlerts(client, cfg.Topic)
	a.close = func() { client.Disconnect(250) }
	return a, nil
}

// NewMQTTAlerts wraps an already connected client.
func NewMQTTAlerts(client publisher, topic string) *MQTTAlerts {
	return &MQTTAlerts{client: client, topic: topic, timeout: 5 * time.Second}
}

// Publish implements Sink.
func (a *MQTTAlerts) Publish(ctx context.Context, ev Event) error {
	if !ev.Persisted() {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	topic := formatTopic(a.topic, ev.Label)
	token := a.client.Publish(topic, 1, false, payload)
	wait, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	select {
	case <-token.Done():
	case <-wait.Done():
		return fmt.Errorf("publish alert to %s: %w", topic, wait.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish alert to %s: %w", topic, err)
	}
	logging.Debugf("published alert for found item %s to %s", ev.FoundItemID, topic)
	return nil
}

// Close disconnects from the broker.
func (a *MQTTAlerts) Close() error {
	if a.close != nil {
		a.close()
	}
	return nil
}

func formatTopic(pattern, label string) string {
	return strings.ReplaceAll(pattern, "{type}", label)
}
