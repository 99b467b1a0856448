// Package mqtt announces recognition results on an MQTT broker in a form
// Home Assistant discovers automatically.
//
// Publishing is asynchronous and best effort: detections wait in a bounded
// queue, the oldest pending detection is dropped when the queue is full, and
// delivery failures are logged and counted but never retried.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/faceinbox/internal/constants"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"github.com/kozaktomas/faceinbox/internal/metrics"
	"github.com/kozaktomas/faceinbox/internal/settings"
	"go.uber.org/zap"
)

// Option configures a Publisher.
type Option func(*Publisher)

// WithBrokerFactory replaces the paho client, mostly for tests.
func WithBrokerFactory(f BrokerFactory) Option {
	return func(p *Publisher) {
		p.factory = f
	}
}

// Publisher delivers detections to the configured broker.
type Publisher struct {
	clientID  string
	queueSize int
	factory   BrokerFactory
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	cfg    settings.MQTT
	dirty  bool // cfg changed since the broker was created
	broker Broker
	queue  []Detection
	wake   chan struct{}
}

// New creates a publisher. Nothing connects until Run is called.
func New(cfg settings.MQTT, clientID string, queueSize int, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Publisher {
	if queueSize <= 0 {
		queueSize = constants.DefaultMQTTQueueSize
	}
	p := &Publisher{
		clientID:  clientID,
		queueSize: queueSize,
		factory:   NewPahoBroker,
		logger:    logger.With(zap.String("component", "mqtt")),
		metrics:   m,
		cfg:       cfg,
		dirty:     true,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Publish queues a detection without blocking. Detections are discarded
// while no broker is configured.
func (p *Publisher) Publish(d Detection) {
	p.mu.Lock()
	if p.cfg.Broker == "" {
		p.mu.Unlock()
		return
	}
	if len(p.queue) >= p.queueSize {
		dropped := p.queue[0]
		p.queue = p.queue[1:]
		p.logger.Warn("MQTT queue full, dropping oldest detection",
			zap.String("name", dropped.Name),
			zap.Time("timestamp", dropped.Timestamp))
		p.metrics.RecordPublish("dropped")
	}
	p.queue = append(p.queue, d)
	p.mu.Unlock()
	p.signal()
}

// Pending returns the number of queued detections.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Reconfigure switches to a new broker endpoint. The old connection is
// closed and the new one opened by Run.
func (p *Publisher) Reconfigure(cfg settings.MQTT) {
	p.mu.Lock()
	if cfg == p.cfg {
		p.mu.Unlock()
		return
	}
	p.cfg = cfg
	p.dirty = true
	if cfg.Broker == "" {
		p.queue = nil
	}
	p.mu.Unlock()
	p.logger.Info("MQTT configuration changed", zap.String("broker", cfg.Broker), zap.String("topic", cfg.Topic))
	p.signal()
}

// Run connects and delivers queued detections until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.close()
	for {
		p.ensureBroker(ctx)
		for {
			d, ok := p.next()
			if !ok {
				break
			}
			p.deliver(ctx, d)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
		}
	}
}

func (p *Publisher) next() (Detection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return Detection{}, false
	}
	d := p.queue[0]
	p.queue = p.queue[1:]
	return d, true
}

// ensureBroker replaces the broker after a configuration change.
func (p *Publisher) ensureBroker(ctx context.Context) {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	cfg := p.cfg
	old := p.broker
	p.broker = nil
	p.dirty = false
	p.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	if cfg.Broker == "" {
		p.logger.Info("MQTT broker not configured, publishing disabled")
		return
	}

	b := p.newBroker(cfg)
	if err := b.Connect(ctx); err != nil {
		// paho keeps retrying in the background.
		p.logger.Warn("MQTT connection not established yet", zap.String("broker", cfg.Broker), zap.Error(err))
	} else {
		p.logger.Info("connected to MQTT broker", zap.String("broker", cfg.Broker))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty {
		b.Disconnect()
		return
	}
	p.broker = b
}

func (p *Publisher) newBroker(cfg settings.MQTT) Broker {
	return p.factory(Config{
		Broker:    cfg.Broker,
		Username:  cfg.Username,
		Password:  cfg.Password,
		ClientID:  p.clientID,
		OnConnect: p.announce,
	})
}

// announce publishes the retained discovery config.
func (p *Publisher) announce(b Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.MQTTPublishTimeout)
	defer cancel()
	if err := b.Publish(ctx, DiscoveryTopic, discoveryPayload(), true); err != nil {
		p.logger.Error("failed to publish Home Assistant discovery", zap.Error(err))
		return
	}
	p.logger.Debug("published Home Assistant discovery config")
}

func (p *Publisher) deliver(ctx context.Context, d Detection) {
	p.mu.Lock()
	b := p.broker
	topic := p.cfg.Topic
	p.mu.Unlock()

	if b == nil {
		p.metrics.RecordPublish("error")
		p.logger.Error("MQTT broker unavailable, detection not delivered", zap.String("name", d.Name))
		return
	}
	if err := publishDetection(ctx, b, topic, d); err != nil {
		p.metrics.RecordPublish("error")
		p.logger.Error("failed to publish detection", zap.String("name", d.Name), zap.Error(err))
		return
	}
	p.metrics.RecordPublish("success")
	p.logger.Debug("published detection", zap.String("name", d.Name), zap.Float64("score", d.Score))
}

// publishDetection writes the state, attributes and custom topics, all retained.
func publishDetection(ctx context.Context, b Broker, topic string, d Detection) error {
	payload := NewPayload(d)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := b.Publish(ctx, StateTopic, []byte(payload.Name), true); err != nil {
		return err
	}
	if err := b.Publish(ctx, AttributesTopic, body, true); err != nil {
		return err
	}
	if topic == "" {
		topic = constants.DefaultMQTTTopic
	}
	return b.Publish(ctx, topic, body, true)
}

func (p *Publisher) close() {
	p.mu.Lock()
	b := p.broker
	p.broker = nil
	p.dirty = true
	p.mu.Unlock()
	if b != nil {
		b.Disconnect()
	}
}

// TestConnection connects with cfg, publishes one test detection and
// disconnects. It does not touch the running connection.
func (p *Publisher) TestConnection(ctx context.Context, cfg settings.MQTT) error {
	if cfg.Broker == "" {
		return fmt.Errorf("%w: MQTT broker is not configured", faceerr.ErrInvalidInput)
	}
	b := p.factory(Config{
		Broker:   cfg.Broker,
		Username: cfg.Username,
		Password: cfg.Password,
		ClientID: p.clientID + "-test",
	})
	if err := b.Connect(ctx); err != nil {
		b.Disconnect()
		return err
	}
	defer b.Disconnect()

	return publishDetection(ctx, b, cfg.Topic, Detection{
		Name:      "test",
		Nickname:  "Test",
		Score:     1,
		Timestamp: time.Now(),
	})
}
