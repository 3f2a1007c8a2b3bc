package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tcamd configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Source           SourceConfig    `yaml:"source"`
	Media            MediaConfig     `yaml:"media"`
	Slots            SlotsConfig     `yaml:"slots"`
	Recording        RecordingConfig `yaml:"recording"`
	Playback         PlaybackConfig  `yaml:"playback"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	HTTP             HTTPConfig      `yaml:"http"`
}

// SourceConfig describes the frame source
type SourceConfig struct {
	Camera          string  `yaml:"camera"`           // camera name written into image metadata
	FirmwareVersion string  `yaml:"firmware_version"` // version written into image metadata
	FPS             float64 `yaml:"fps"`
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	CorruptEvery    uint64  `yaml:"corrupt_every"` // simulated checksum failure every N frames (0 = never)
}

// MediaConfig contains removable card settings
type MediaConfig struct {
	Root          string `yaml:"root"`            // host directory standing in for the card
	CheckPeriodMS int    `yaml:"check_period_ms"` // presence poll period (default: 2000)
	MaxNames      int    `yaml:"max_names"`       // names per catalog listing (default: 150)
}

// SlotsConfig tunes the frame slots
type SlotsConfig struct {
	LockWaitMS int `yaml:"lock_wait_ms"` // bounded slot wait (default: 10)
}

// RecordingConfig contains recording defaults used when a command omits them
type RecordingConfig struct {
	DefaultDelayMS int `yaml:"default_delay_ms"`
	DefaultCount   int `yaml:"default_count"`
}

// PlaybackConfig tunes the playback engines
type PlaybackConfig struct {
	EvalTickMS       int `yaml:"eval_tick_ms"`       // pacing tick (default: 10)
	FixedThresholdMS int `yaml:"fixed_threshold_ms"` // sparse video interval (default: 1000)
	TailWindowBytes  int `yaml:"tail_window_bytes"`  // trailer search window (default: 256)
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control       string `yaml:"control"`
	Responses     string `yaml:"responses"`
	Notifications string `yaml:"notifications"`
}

// HTTPConfig contains the HTTP API settings
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration data
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// LockWait returns the bounded slot wait
func (c *Config) LockWait() time.Duration {
	return time.Duration(c.Slots.LockWaitMS) * time.Millisecond
}

// CardCheckPeriod returns the card presence poll period
func (c *Config) CardCheckPeriod() time.Duration {
	return time.Duration(c.Media.CheckPeriodMS) * time.Millisecond
}

// EvalTick returns the playback pacing tick
func (c *Config) EvalTick() time.Duration {
	return time.Duration(c.Playback.EvalTickMS) * time.Millisecond
}

// FixedThreshold returns the sparse-video playback interval
func (c *Config) FixedThreshold() time.Duration {
	return time.Duration(c.Playback.FixedThresholdMS) * time.Millisecond
}

// MQTTEnabled reports whether a broker is configured
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}
