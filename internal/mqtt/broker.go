package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kozaktomas/faceinbox/internal/constants"
)

// Config is what a broker connection needs.
type Config struct {
	Broker   string
	Username string
	Password string
	ClientID string
	// OnConnect runs on every (re)connection in its own goroutine.
	OnConnect func(b Broker)
}

// Broker is the subset of an MQTT client the publisher uses.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	Disconnect()
}

// BrokerFactory creates an unconnected broker.
type BrokerFactory func(cfg Config) Broker

// pahoBroker adapts the paho client.
type pahoBroker struct {
	cfg    Config
	client paho.Client
}

// NewPahoBroker creates a broker backed by the paho client with automatic
// reconnection and a clean session.
func NewPahoBroker(cfg Config) Broker {
	b := &pahoBroker{cfg: cfg}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(constants.MQTTConnectTimeout)
	opts.SetOnConnectHandler(func(paho.Client) {
		if cfg.OnConnect != nil {
			cfg.OnConnect(b)
		}
	})

	b.client = paho.NewClient(opts)
	return b
}

// Connect waits for the first connection. With connect retry enabled the
// client keeps trying in the background after a timeout.
func (b *pahoBroker) Connect(ctx context.Context) error {
	token := b.client.Connect()
	if err := wait(ctx, token, constants.MQTTConnectTimeout); err != nil {
		return fmt.Errorf("connect to %s: %w", b.cfg.Broker, err)
	}
	return nil
}

// Publish sends payload with QoS 1.
func (b *pahoBroker) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if !b.client.IsConnectionOpen() {
		return errors.New("not connected to MQTT broker")
	}
	token := b.client.Publish(topic, 1, retained, payload)
	if err := wait(ctx, token, constants.MQTTPublishTimeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Disconnect closes the connection.
func (b *pahoBroker) Disconnect() {
	b.client.Disconnect(constants.MQTTDisconnectQuiesce)
}

func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
