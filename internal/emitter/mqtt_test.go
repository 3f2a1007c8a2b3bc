package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/tcam-core/internal/config"
	"github.com/e7canasta/tcam-core/modules/notifybus"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                   { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mqtt.Client
	fail error
	out  chan message
}

func (c *fakeClient) IsConnected() bool { return true }
func (c *fakeClient) Disconnect(uint)   {}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if c.fail == nil {
		c.out <- message{topic: topic, qos: qos, payload: payload.([]byte)}
	}
	return &fakeToken{err: c.fail}
}

func testConfig() *config.Config {
	cfg := &config.Config{InstanceID: "cam-1"}
	cfg.MQTT.Topics.Notifications = "tcam/notifications/cam-1"
	cfg.MQTT.QoS = map[string]byte{"notifications": 0}
	return cfg
}

func connected(cfg *config.Config, client mqtt.Client) *MQTTEmitter {
	e := NewMQTTEmitter(cfg)
	e.Client = client
	e.setConnected(true)
	return e
}

// TestPublishRoutesByKind validates topic layout and payload.
func TestPublishRoutesByKind(t *testing.T) {
	client := &fakeClient{out: make(chan message, 4)}
	e := connected(testConfig(), client)

	n := notifybus.Notification{Seq: 3, Kind: notifybus.RecordingStopped, File: "mov_10_11_12.tmjsn", Millis: 900}
	if err := e.Publish(n); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msg := <-client.out
	if msg.topic != "tcam/notifications/cam-1/recording_stopped" {
		t.Errorf("topic = %q", msg.topic)
	}
	var got notifybus.Notification
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Seq != 3 || got.File != n.File || got.Millis != 900 {
		t.Errorf("payload = %+v", got)
	}
	if e.Stats().Published[msg.topic] != 1 {
		t.Errorf("Stats().Published = %v", e.Stats().Published)
	}
}

// TestPublishCountsErrors validates failure accounting.
//
// Contract:
//   - Publishing while disconnected returns ErrNotConnected
//   - A broker error is wrapped and counted
func TestPublishCountsErrors(t *testing.T) {
	e := NewMQTTEmitter(testConfig())
	if err := e.Publish(notifybus.Notification{Kind: notifybus.MediaChanged}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected Publish() error = %v", err)
	}

	brokerErr := errors.New("broker refused")
	e = connected(testConfig(), &fakeClient{fail: brokerErr})
	if err := e.Publish(notifybus.Notification{Kind: notifybus.MediaChanged}); !errors.Is(err, brokerErr) {
		t.Errorf("Publish() error = %v, want wrapped broker error", err)
	}
	if e.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", e.Stats().Errors)
	}
}

// TestRunDrainsNotifications validates the bus-to-broker loop.
func TestRunDrainsNotifications(t *testing.T) {
	client := &fakeClient{out: make(chan message, 4)}
	e := connected(testConfig(), client)

	bus := notifybus.New()
	defer bus.Close()
	notes := make(chan notifybus.Notification, 8)
	if err := bus.Subscribe("mqtt", notes); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, notes)
		close(done)
	}()

	bus.Publish(notifybus.Notification{Kind: notifybus.ImageSaved, File: "img_01_02_03.tjsn"})

	select {
	case msg := <-client.out:
		if !strings.HasSuffix(msg.topic, "/image_saved") {
			t.Errorf("topic = %q", msg.topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestClientIDIsUnique(t *testing.T) {
	a, b := ClientID("cam-1"), ClientID("cam-1")
	if a == b || !strings.HasPrefix(a, "cam-1-") {
		t.Errorf("ClientID() = %q, %q", a, b)
	}
}
