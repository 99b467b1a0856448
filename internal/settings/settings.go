// Package settings holds the runtime-adjustable recognition settings.
//
// Values are seeded from the static configuration, overlaid with the
// persisted key/value rows, and persisted again on every update. Readers
// always receive a copy.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/kozaktomas/faceinbox/internal/config"
	"github.com/kozaktomas/faceinbox/internal/constants"
	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"go.uber.org/zap"
)

// Persisted keys.
const (
	keyTier            = "tier"
	keyThreshold       = "threshold"
	keyEnrollThreshold = "enroll_threshold"
	keyTopK            = "top_k"
	keyMaxImages       = "max_images_per_person"
	keyAutoTrain       = "auto_train"
	keyMQTTBroker      = "mqtt_broker"
	keyMQTTUsername    = "mqtt_username"
	keyMQTTPassword    = "mqtt_password"
	keyMQTTTopic       = "mqtt_topic"
)

// MQTT is the message bus endpoint.
type MQTT struct {
	Broker   string `json:"broker"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Topic    string `json:"topic"`
}

// Settings is one consistent set of runtime settings.
type Settings struct {
	Tier               embedding.Tier `json:"tier"`
	Threshold          float64        `json:"threshold"`
	EnrollThreshold    float64        `json:"enroll_threshold"`
	TopK               int            `json:"top_k"`
	MaxImagesPerPerson int            `json:"max_images_per_person"`
	AutoTrain          bool           `json:"auto_train"`
	MQTT               MQTT           `json:"mqtt"`
}

// Validate checks every field's range.
func (s Settings) Validate() error {
	if _, err := embedding.ParseTier(string(s.Tier)); err != nil {
		return err
	}
	if s.Threshold <= 0 || s.Threshold >= 1 {
		return fmt.Errorf("%w: threshold must be in (0,1), got %v", faceerr.ErrInvalidInput, s.Threshold)
	}
	if s.EnrollThreshold <= 0 || s.EnrollThreshold >= 1 {
		return fmt.Errorf("%w: enroll threshold must be in (0,1), got %v", faceerr.ErrInvalidInput, s.EnrollThreshold)
	}
	if s.TopK < 1 || s.TopK > constants.MaxVotingTopK {
		return fmt.Errorf("%w: top-k must be in [1,%d], got %d", faceerr.ErrInvalidInput, constants.MaxVotingTopK, s.TopK)
	}
	if s.MaxImagesPerPerson < 1 || s.MaxImagesPerPerson > constants.MaxImagesPerPersonLimit {
		return fmt.Errorf("%w: max images per person must be in [1,%d], got %d",
			faceerr.ErrInvalidInput, constants.MaxImagesPerPersonLimit, s.MaxImagesPerPerson)
	}
	return nil
}

func (s Settings) values() map[string]string {
	return map[string]string{
		keyTier:            string(s.Tier),
		keyThreshold:       strconv.FormatFloat(s.Threshold, 'f', -1, 64),
		keyEnrollThreshold: strconv.FormatFloat(s.EnrollThreshold, 'f', -1, 64),
		keyTopK:            strconv.Itoa(s.TopK),
		keyMaxImages:       strconv.Itoa(s.MaxImagesPerPerson),
		keyAutoTrain:       strconv.FormatBool(s.AutoTrain),
		keyMQTTBroker:      s.MQTT.Broker,
		keyMQTTUsername:    s.MQTT.Username,
		keyMQTTPassword:    s.MQTT.Password,
		keyMQTTTopic:       s.MQTT.Topic,
	}
}

// FromConfig builds the initial settings from static configuration.
func FromConfig(cfg *config.Config) Settings {
	return Settings{
		Tier:               embedding.Tier(cfg.Defaults.Tier),
		Threshold:          cfg.Defaults.Threshold,
		EnrollThreshold:    cfg.Defaults.EnrollThreshold,
		TopK:               cfg.Defaults.TopK,
		MaxImagesPerPerson: cfg.Defaults.MaxImagesPerPerson,
		AutoTrain:          cfg.Defaults.AutoTrain,
		MQTT: MQTT{
			Broker:   cfg.MQTT.Broker,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		},
	}
}

// ChangeFunc is called after an update is persisted.
type ChangeFunc func(ctx context.Context, prev, next Settings)

// Manager guards the current settings.
type Manager struct {
	store  database.SettingsStore
	logger *zap.Logger

	updateMu    sync.Mutex
	mu          sync.RWMutex
	current     Settings
	subscribers []ChangeFunc
}

// NewManager creates a manager holding defaults until Load is called.
func NewManager(defaults Settings, store database.SettingsStore, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		logger:  logger.With(zap.String("component", "settings")),
		current: defaults,
	}
}

// Load overlays persisted values. Unparseable or out-of-range values are
// logged and skipped.
func (m *Manager) Load(ctx context.Context) error {
	values, err := m.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("%w: load settings: %v", faceerr.ErrStorage, err)
	}

	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, raw := range values {
		next := m.current
		if err := apply(&next, key, raw); err != nil {
			m.logger.Warn("ignoring stored setting", zap.String("key", key), zap.Error(err))
			continue
		}
		if err := next.Validate(); err != nil {
			m.logger.Warn("ignoring stored setting", zap.String("key", key), zap.Error(err))
			continue
		}
		m.current = next
	}
	return nil
}

func apply(s *Settings, key, raw string) error {
	var err error
	switch key {
	case keyTier:
		s.Tier, err = embedding.ParseTier(raw)
	case keyThreshold:
		s.Threshold, err = strconv.ParseFloat(raw, 64)
	case keyEnrollThreshold:
		s.EnrollThreshold, err = strconv.ParseFloat(raw, 64)
	case keyTopK:
		s.TopK, err = strconv.Atoi(raw)
	case keyMaxImages:
		s.MaxImagesPerPerson, err = strconv.Atoi(raw)
	case keyAutoTrain:
		s.AutoTrain, err = strconv.ParseBool(raw)
	case keyMQTTBroker:
		s.MQTT.Broker = raw
	case keyMQTTUsername:
		s.MQTT.Username = raw
	case keyMQTTPassword:
		s.MQTT.Password = raw
	case keyMQTTTopic:
		s.MQTT.Topic = raw
	default:
		return errors.New("unknown key")
	}
	return err
}

// Get returns a copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers fn to run after every successful update.
func (m *Manager) Subscribe(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Update applies fn to a copy of the current settings, validates and
// persists the result, then publishes it and notifies subscribers in order.
func (m *Manager) Update(ctx context.Context, fn func(*Settings)) (Settings, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	old := m.Get()
	next := old
	fn(&next)
	if err := next.Validate(); err != nil {
		return old, err
	}
	if next == old {
		return old, nil
	}
	if err := m.store.SaveSettings(ctx, next.values()); err != nil {
		return old, fmt.Errorf("%w: save settings: %v", faceerr.ErrStorage, err)
	}

	m.mu.Lock()
	m.current = next
	subscribers := append([]ChangeFunc(nil), m.subscribers...)
	m.mu.Unlock()

	m.logger.Info("settings updated",
		zap.String("tier", next.Tier.String()),
		zap.Float64("threshold", next.Threshold),
		zap.Float64("enroll_threshold", next.EnrollThreshold),
		zap.Int("top_k", next.TopK),
		zap.Int("max_images_per_person", next.MaxImagesPerPerson),
		zap.Bool("auto_train", next.AutoTrain))

	for _, sub := range subscribers {
		sub(ctx, old, next)
	}
	return next, nil
}

// SetTier switches the active embedding tier.
func (m *Manager) SetTier(ctx context.Context, tier embedding.Tier) error {
	_, err := m.Update(ctx, func(s *Settings) { s.Tier = tier })
	return err
}
