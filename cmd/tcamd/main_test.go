package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tcamd.yaml")
	data := []byte("instance_id: cam-1\nmedia:\n  root: /srv/card\nmqtt:\n  broker: tcp://localhost:1883\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Contract: without overrides the file wins and defaults are filled.
func TestLoadConfigFileOnly(t *testing.T) {
	cfg, err := loadConfig(options{configPath: writeConfig(t)})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Media.Root != "/srv/card" {
		t.Errorf("media root = %q", cfg.Media.Root)
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("listen = %q, want default :8080", cfg.HTTP.Listen)
	}
	if !cfg.MQTTEnabled() {
		t.Error("mqtt disabled, want enabled from file")
	}
}

// Contract: flags override the file after it is validated.
func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(options{
		configPath: writeConfig(t),
		mediaRoot:  "/mnt/sd",
		listen:     "127.0.0.1:9090",
		noMQTT:     true,
	})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Media.Root != "/mnt/sd" {
		t.Errorf("media root = %q, want /mnt/sd", cfg.Media.Root)
	}
	if cfg.HTTP.Listen != "127.0.0.1:9090" {
		t.Errorf("listen = %q", cfg.HTTP.Listen)
	}
	if cfg.MQTTEnabled() {
		t.Error("mqtt enabled after -no-mqtt")
	}
}

// Contract: "off" disables the HTTP API even though validation fills a default.
func TestLoadConfigListenOff(t *testing.T) {
	cfg, err := loadConfig(options{configPath: writeConfig(t), listen: "off"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.HTTP.Listen != "" {
		t.Errorf("listen = %q, want empty", cfg.HTTP.Listen)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(options{configPath: filepath.Join(t.TempDir(), "none.yaml")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
