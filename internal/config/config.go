// Package config loads kwpsniff configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultBaudRate    = 10400
	DefaultTopicPrefix = "kwp2000"
	DefaultLogLevel    = "info"
)

// Config is the top-level kwpsniff configuration.
type Config struct {
	// Skip is the number of leading bytes to discard before decoding.
	Skip     int           `toml:"skip"`
	LogLevel string        `toml:"log_level"`
	Serial   SerialConfig  `toml:"serial"`
	Capture  CaptureConfig `toml:"capture"`
	MQTT     MQTTConfig    `toml:"mqtt"`
	Metrics  MetricsConfig `toml:"metrics"`
}

type SerialConfig struct {
	Port     string `toml:"port"`
	BaudRate int    `toml:"baud_rate"`
}

type CaptureConfig struct {
	Path string `toml:"path"`
}

type MQTTConfig struct {
	Broker      string `toml:"broker"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	UseTLS      bool   `toml:"use_tls"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	BusID       string `toml:"bus_id"`
}

type MetricsConfig struct {
	// Listen is the address serving /metrics, e.g. ":9108". Empty disables it.
	Listen string `toml:"listen"`
}

// Enabled reports whether an MQTT broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// Default returns a configuration with all defaults applied.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates the configuration at path.
// Keys not recognised by Config are rejected.
func Load(path string) (Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = DefaultBaudRate
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks the configuration for contradictory or missing values.
func (c Config) Validate() error {
	var errs []error
	if c.Skip < 0 {
		errs = append(errs, errors.New("skip must be non-negative"))
	}
	if c.Serial.BaudRate < 0 {
		errs = append(errs, errors.New("serial.baud_rate must be positive"))
	}
	if c.Serial.Port != "" && c.Capture.Path != "" {
		errs = append(errs, errors.New("serial.port and capture.path are mutually exclusive"))
	}
	if c.MQTT.Enabled() && c.MQTT.BusID == "" {
		errs = append(errs, errors.New("mqtt.bus_id is required when mqtt.broker is set"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	lvl, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ParseLevel parses a log level name.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}
