package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/tcam-core/internal/config"
)

// Handler receives control commands over MQTT and replies on the responses topic.
type Handler struct {
	cfg        *config.Config
	client     mqtt.Client
	dispatcher *Dispatcher
	commands   chan []byte
	done       chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, dispatcher *Dispatcher) *Handler {
	return &Handler{
		cfg:        cfg,
		client:     client,
		dispatcher: dispatcher,
		commands:   make(chan []byte, 10),
		done:       make(chan struct{}),
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	h.wg.Add(1)
	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler. Idempotent.
func (h *Handler) Stop() error {
	h.stopOnce.Do(func() {
		if h.client != nil && h.client.IsConnected() {
			token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
			token.WaitTimeout(2 * time.Second)
		}
		close(h.done)
		h.wg.Wait()
		slog.Info("control plane handler stopped")
	})
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	h.enqueue(msg.Payload())
}

func (h *Handler) enqueue(payload []byte) {
	select {
	case h.commands <- payload:
	default:
		slog.Warn("command queue full, dropping command", "size", len(payload))
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case payload := <-h.commands:
			resp := h.dispatcher.Execute(ctx, payload)
			slog.Info("control command executed", "command", resp.CommandAck, "status", resp.Status)
			h.sendResponse(resp)
		}
	}
}

// sendResponse publishes a response on the responses topic
func (h *Handler) sendResponse(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Responses
	qos := h.cfg.MQTT.QoS["responses"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
