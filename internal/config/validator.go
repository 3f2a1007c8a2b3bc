package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS < 0 {
		return fmt.Errorf("shutdown_timeout_s must be >= 0")
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Source
	if cfg.Source.FPS < 0 {
		return fmt.Errorf("source.fps must be >= 0")
	}
	if cfg.Source.FPS == 0 {
		cfg.Source.FPS = 8.7
	}
	if cfg.Source.Width < 0 || cfg.Source.Height < 0 {
		return fmt.Errorf("source.width and source.height must be >= 0")
	}
	if cfg.Source.Width == 0 || cfg.Source.Height == 0 {
		cfg.Source.Width, cfg.Source.Height = 160, 120
	}
	if cfg.Source.Camera == "" {
		cfg.Source.Camera = cfg.InstanceID
	}
	if cfg.Source.FirmwareVersion == "" {
		cfg.Source.FirmwareVersion = "1.0"
	}

	// Media
	if cfg.Media.Root == "" {
		return fmt.Errorf("media.root is required")
	}
	if cfg.Media.CheckPeriodMS < 0 || cfg.Media.MaxNames < 0 {
		return fmt.Errorf("media.check_period_ms and media.max_names must be >= 0")
	}
	if cfg.Media.CheckPeriodMS == 0 {
		cfg.Media.CheckPeriodMS = 2000
	}
	if cfg.Media.MaxNames == 0 {
		cfg.Media.MaxNames = 150
	}

	// Slots
	if cfg.Slots.LockWaitMS < 0 {
		return fmt.Errorf("slots.lock_wait_ms must be >= 0")
	}
	if cfg.Slots.LockWaitMS == 0 {
		cfg.Slots.LockWaitMS = 10
	}

	// Recording
	if cfg.Recording.DefaultDelayMS < 0 || cfg.Recording.DefaultCount < 0 {
		return fmt.Errorf("recording defaults must be >= 0")
	}

	// Playback
	if cfg.Playback.EvalTickMS < 0 || cfg.Playback.FixedThresholdMS < 0 || cfg.Playback.TailWindowBytes < 0 {
		return fmt.Errorf("playback settings must be >= 0")
	}
	if cfg.Playback.EvalTickMS == 0 {
		cfg.Playback.EvalTickMS = 10
	}
	if cfg.Playback.FixedThresholdMS == 0 {
		cfg.Playback.FixedThresholdMS = 1000
	}
	if cfg.Playback.TailWindowBytes == 0 {
		cfg.Playback.TailWindowBytes = 256
	}
	if cfg.Playback.FixedThresholdMS < cfg.Playback.EvalTickMS {
		return fmt.Errorf("playback.fixed_threshold_ms must be >= playback.eval_tick_ms")
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("tcam/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Responses == "" {
		cfg.MQTT.Topics.Responses = fmt.Sprintf("tcam/responses/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Notifications == "" {
		cfg.MQTT.Topics.Notifications = fmt.Sprintf("tcam/notifications/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control":       1,
			"responses":     1,
			"notifications": 0,
		}
	}

	// HTTP
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}

	return nil
}
