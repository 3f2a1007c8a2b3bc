package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimal = `
instance_id: tcam-lab-01
media:
  root: /tmp/card
`

// TestDefaults validates that a minimal file gets every default.
func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.LockWait() != 10*time.Millisecond {
		t.Errorf("LockWait() = %v, want 10ms", cfg.LockWait())
	}
	if cfg.EvalTick() != 10*time.Millisecond {
		t.Errorf("EvalTick() = %v, want 10ms", cfg.EvalTick())
	}
	if cfg.FixedThreshold() != time.Second {
		t.Errorf("FixedThreshold() = %v, want 1s", cfg.FixedThreshold())
	}
	if cfg.Playback.TailWindowBytes != 256 {
		t.Errorf("TailWindowBytes = %d, want 256", cfg.Playback.TailWindowBytes)
	}
	if cfg.CardCheckPeriod() != 2*time.Second {
		t.Errorf("CardCheckPeriod() = %v, want 2s", cfg.CardCheckPeriod())
	}
	if cfg.Media.MaxNames != 150 {
		t.Errorf("MaxNames = %d, want 150", cfg.Media.MaxNames)
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 5s", cfg.ShutdownTimeout())
	}
	if cfg.Source.Width != 160 || cfg.Source.Height != 120 {
		t.Errorf("source geometry = %dx%d, want 160x120", cfg.Source.Width, cfg.Source.Height)
	}
	if cfg.MQTT.Topics.Control != "tcam/control/tcam-lab-01" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTTEnabled() {
		t.Error("MQTTEnabled() = true without a broker")
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("HTTP.Listen = %q", cfg.HTTP.Listen)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing instance", "media:\n  root: /tmp\n", "instance_id is required"},
		{"bad instance", "instance_id: Bad_ID\nmedia:\n  root: /tmp\n", "instance_id must match"},
		{"missing root", "instance_id: cam\n", "media.root is required"},
		{"negative wait", "instance_id: cam\nmedia:\n  root: /tmp\nslots:\n  lock_wait_ms: -1\n", "slots.lock_wait_ms"},
		{"threshold below tick", "instance_id: cam\nmedia:\n  root: /tmp\nplayback:\n  eval_tick_ms: 50\n  fixed_threshold_ms: 20\n", "fixed_threshold_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcamd.yaml")
	body := minimal + `
mqtt:
  broker: localhost:1883
  qos:
    control: 2
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.MQTTEnabled() || cfg.MQTT.QoS["control"] != 2 {
		t.Fatalf("mqtt config = %+v", cfg.MQTT)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() of a missing file succeeded")
	}
}
