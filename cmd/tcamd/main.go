// Command tcamd runs the thermal camera core: frame ingest, recording,
// playback, the MQTT control plane and the HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/tcam-core/internal/config"
	"github.com/e7canasta/tcam-core/internal/core"
)

const defaultConfigPath = "config/tcamd.yaml"

type options struct {
	configPath  string
	mediaRoot   string
	listen      string
	noMQTT      bool
	checkConfig bool
	debug       bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", defaultConfigPath, "Path to configuration file")
	flag.StringVar(&o.mediaRoot, "media-root", "", "Override media.root (directory standing in for the card)")
	flag.StringVar(&o.listen, "listen", "", "Override http.listen; \"off\" disables the HTTP API")
	flag.BoolVar(&o.noMQTT, "no-mqtt", false, "Run without the MQTT control plane and emitter")
	flag.BoolVar(&o.checkConfig, "check-config", false, "Print the effective configuration and exit")
	flag.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return o
}

func main() {
	os.Exit(run(parseFlags()))
}

// loadConfig reads the file and applies command line overrides. Defaults are
// filled again so an override never skips validation.
func loadConfig(o options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.mediaRoot != "" {
		cfg.Media.Root = o.mediaRoot
	}
	switch o.listen {
	case "":
	case "off":
		cfg.HTTP.Listen = ""
	default:
		cfg.HTTP.Listen = o.listen
	}
	if o.noMQTT {
		cfg.MQTT.Broker = ""
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if o.listen == "off" {
		cfg.HTTP.Listen = ""
	}
	return cfg, nil
}

func run(o options) int {
	logLevel := slog.LevelInfo
	if o.debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := loadConfig(o)
	if err != nil {
		slog.Error("failed to load configuration", "config", o.configPath, "error", err)
		return 1
	}

	if o.checkConfig {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			slog.Error("failed to print configuration", "error", err)
			return 1
		}
		return 0
	}

	slog.Info("starting tcamd",
		"config", o.configPath,
		"instance_id", cfg.InstanceID,
		"media_root", cfg.Media.Root,
		"source", fmt.Sprintf("%dx%d@%.1ffps", cfg.Source.Width, cfg.Source.Height, cfg.Source.FPS),
		"http", cfg.HTTP.Listen,
		"mqtt", cfg.MQTTEnabled(),
	)
	if _, err := os.Stat(cfg.Media.Root); err != nil {
		slog.Warn("media root not present yet, waiting for card", "root", cfg.Media.Root)
	}

	camera, err := core.New(cfg, core.Deps{})
	if err != nil {
		slog.Error("failed to create camera core", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HTTP.Listen != "" {
		if err := camera.StartHTTPServer(cfg.HTTP.Listen); err != nil {
			slog.Error("failed to start http server", "error", err)
			return 1
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- camera.Run(ctx)
	}()

	code := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("camera core stopped with error", "error", err)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := camera.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		return 1
	}

	slog.Info("tcamd stopped")
	return code
}
