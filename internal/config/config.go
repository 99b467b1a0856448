package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/faceinbox/internal/constants"
	"gopkg.in/yaml.v3"
)

//go:embed tiers.yaml
var tiersYAML []byte

type Config struct {
	Inbox     InboxConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	MQTT      MQTTConfig
	Web       WebConfig
	Log       LogConfig
	History   HistoryConfig
	Defaults  DefaultsConfig
	Tiers     TiersConfig
}

type InboxConfig struct {
	Path           string        // watched directory
	Workers        int           // concurrent per-file flows (default 2)
	QueueSize      int           // claimed files waiting for a worker (default 64)
	StabilizeDelay time.Duration // quiet period before a file is processed (default 500ms)
	MaxFileBytes   int64         // larger files are rejected (default 8 MiB)
}

type StorageConfig struct {
	DataDir string // root for gallery and history files
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 10)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	URL     string        // defaults to http://localhost:8000
	Timeout time.Duration // per request (default 60s)
}

type MQTTConfig struct {
	Broker    string // tcp://host:1883, empty disables publishing
	Username  string
	Password  string
	Topic     string
	ClientID  string
	QueueSize int
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS whitelist in addition to localhost
	APIToken       string   // empty disables API authentication
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

type HistoryConfig struct {
	Limit int
}

// DefaultsConfig seeds the runtime settings before persisted overrides are applied.
type DefaultsConfig struct {
	Tier               string
	Threshold          float64
	EnrollThreshold    float64
	TopK               int
	MaxImagesPerPerson int
	AutoTrain          bool
}

type TiersConfig struct {
	Tiers map[string]TierPreset `yaml:"tiers"`
}

type TierPreset struct {
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
	Dim         int    `yaml:"dim"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a float environment variable, falling back on parse errors.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envBool accepts anything strconv.ParseBool does.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration accepts Go duration strings ("750ms") or a bare number of milliseconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Millisecond
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping blanks.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var tiers TiersConfig
	if err := yaml.Unmarshal(tiersYAML, &tiers); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded tiers.yaml: " + err.Error())
	}

	return &Config{
		Inbox: InboxConfig{
			Path:           envString("INBOX_PATH", "./inbox"),
			Workers:        envInt("INBOX_WORKERS", constants.DefaultInboxWorkers),
			QueueSize:      envInt("INBOX_QUEUE_SIZE", constants.DefaultInboxQueueSize),
			StabilizeDelay: envDuration("INBOX_STABILIZE_DELAY", constants.DefaultStabilizeDelay),
			MaxFileBytes:   int64(envInt("INBOX_MAX_FILE_BYTES", constants.DefaultMaxFileBytes)),
		},
		Storage: StorageConfig{
			DataDir: envString("DATA_DIR", "./data"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			URL:     os.Getenv("EMBEDDING_URL"),
			Timeout: envDuration("EMBEDDING_TIMEOUT", 60*time.Second),
		},
		MQTT: MQTTConfig{
			Broker:    os.Getenv("MQTT_BROKER"),
			Username:  os.Getenv("MQTT_USERNAME"),
			Password:  os.Getenv("MQTT_PASSWORD"),
			Topic:     envString("MQTT_TOPIC", constants.DefaultMQTTTopic),
			ClientID:  envString("MQTT_CLIENT_ID", "faceinbox"),
			QueueSize: envInt("MQTT_QUEUE_SIZE", constants.DefaultMQTTQueueSize),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			APIToken:       os.Getenv("WEB_API_TOKEN"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		History: HistoryConfig{
			Limit: envInt("HISTORY_LIMIT", constants.DefaultHistoryLimit),
		},
		Defaults: DefaultsConfig{
			Tier:               envString("MODEL_TIER", "buffalo_s"),
			Threshold:          envFloat("RECOGNITION_THRESHOLD", constants.DefaultRecognitionThreshold),
			EnrollThreshold:    envFloat("ENROLL_THRESHOLD", constants.DefaultEnrollThreshold),
			TopK:               envInt("VOTING_TOP_K", constants.DefaultVotingTopK),
			MaxImagesPerPerson: envInt("MAX_IMAGES_PER_PERSON", constants.DefaultMaxImagesPerPerson),
			AutoTrain:          envBool("AUTO_TRAIN_ENABLED", true),
		},
		Tiers: tiers,
	}
}

// Validate reports configuration that would make the service misbehave at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Inbox.Path == "" {
		errs = append(errs, errors.New("INBOX_PATH is required"))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}
	if _, ok := c.Tiers.Tiers[c.Defaults.Tier]; !ok {
		errs = append(errs, fmt.Errorf("MODEL_TIER %q is not one of %s", c.Defaults.Tier,
			strings.Join(c.Tiers.Names(), ", ")))
	}
	if c.Defaults.Threshold <= 0 || c.Defaults.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("RECOGNITION_THRESHOLD must be in (0,1), got %v", c.Defaults.Threshold))
	}
	if c.Defaults.EnrollThreshold <= 0 || c.Defaults.EnrollThreshold >= 1 {
		errs = append(errs, fmt.Errorf("ENROLL_THRESHOLD must be in (0,1), got %v", c.Defaults.EnrollThreshold))
	}
	return errors.Join(errs...)
}

// Names returns the configured tier names in a stable order.
func (t TiersConfig) Names() []string {
	names := make([]string, 0, len(t.Tiers))
	for name := range t.Tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns the preset for a tier name.
func (t TiersConfig) Preset(name string) (TierPreset, bool) {
	p, ok := t.Tiers[name]
	return p, ok
}
