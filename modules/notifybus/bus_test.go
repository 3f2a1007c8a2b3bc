package notifybus

import (
	"sync"
	"testing"
	"time"
)

// TestBasicPublishSubscribe verifies basic functionality.
func TestBasicPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Notification, 10)
	if err := bus.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(Notification{Kind: RecordingStarted, File: "mov_10_11_12.tmjsn"})

	select {
	case n := <-ch:
		if n.Kind != RecordingStarted || n.File != "mov_10_11_12.tmjsn" {
			t.Errorf("unexpected notification %+v", n)
		}
		if n.Seq != 1 {
			t.Errorf("Seq = %d, want 1", n.Seq)
		}
		if n.Timestamp.IsZero() {
			t.Error("Timestamp not filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for notification")
	}
}

// TestNonBlockingPublish verifies Publish never blocks on a full subscriber.
func TestNonBlockingPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Notification, 1)
	bus.Subscribe("slow", ch)

	done := make(chan bool)
	go func() {
		bus.Publish(Notification{Kind: PlaybackPosition, Millis: 100})
		bus.Publish(Notification{Kind: PlaybackPosition, Millis: 200}) // dropped
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	if n := <-ch; n.Millis != 100 {
		t.Errorf("Expected first notification, got millis=%d", n.Millis)
	}

	stats := bus.Stats()
	sub := stats.Subscribers["slow"]
	if sub.Sent != 1 || sub.Dropped != 1 {
		t.Errorf("sent/dropped = %d/%d, want 1/1", sub.Sent, sub.Dropped)
	}
	if rate := CalculateSubscriberDropRate(stats, "slow"); rate != 0.5 {
		t.Errorf("drop rate = %v, want 0.5", rate)
	}
	if rate := CalculateDropRate(stats); rate != 0.5 {
		t.Errorf("total drop rate = %v, want 0.5", rate)
	}
}

func TestSubscribeErrors(t *testing.T) {
	bus := New()

	ch := make(chan Notification, 1)
	if err := bus.Subscribe("a", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := bus.Subscribe("a", ch); err != ErrSubscriberExists {
		t.Errorf("duplicate Subscribe err = %v, want ErrSubscriberExists", err)
	}
	if err := bus.Subscribe("nil", nil); err == nil {
		t.Error("Subscribe with nil channel should fail")
	}
	if err := bus.Unsubscribe("missing"); err != ErrSubscriberNotFound {
		t.Errorf("Unsubscribe err = %v, want ErrSubscriberNotFound", err)
	}
	if err := bus.Unsubscribe("a"); err != nil {
		t.Errorf("Unsubscribe failed: %v", err)
	}

	bus.Close()
	bus.Close()
	if err := bus.Subscribe("b", ch); err != ErrBusClosed {
		t.Errorf("Subscribe after Close err = %v, want ErrBusClosed", err)
	}

	// Publish after close is a no-op, not a panic
	bus.Publish(Notification{Kind: PlaybackDone})
	if got := bus.Stats().TotalPublished; got != 0 {
		t.Errorf("TotalPublished = %d after publish on closed bus", got)
	}
}

func TestNotificationFor(t *testing.T) {
	all := Notification{Kind: MediaChanged}
	disp := Notification{Kind: PlaybackDone, Consumer: ConsumerDisplay}

	if !all.For(ConsumerNetwork) || !all.For(ConsumerDisplay) {
		t.Error("broadcast notification should address every consumer")
	}
	if !disp.For(ConsumerDisplay) || disp.For(ConsumerNetwork) {
		t.Error("display notification addressed to the wrong consumer")
	}
}

// TestConcurrentPublish verifies sequence numbers stay unique under
// concurrent publishers.
func TestConcurrentPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Notification, 400)
	bus.Subscribe("sink", ch)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(Notification{Kind: PlaybackPosition})
			}
		}()
	}
	wg.Wait()
	close(ch)

	seen := make(map[uint64]bool)
	for n := range ch {
		if seen[n.Seq] {
			t.Fatalf("duplicate seq %d", n.Seq)
		}
		seen[n.Seq] = true
	}
	if len(seen) != 400 {
		t.Errorf("received %d notifications, want 400", len(seen))
	}
}
