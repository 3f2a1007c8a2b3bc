package notifybus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Bus distributes notifications to multiple subscribers with non-blocking
// semantics.
type Bus interface {
	// Subscribe registers a channel to receive notifications.
	// Returns ErrSubscriberExists if id is already registered.
	Subscribe(id string, ch chan<- Notification) error

	// Unsubscribe removes a subscriber.
	// Returns ErrSubscriberNotFound if id does not exist.
	Unsubscribe(id string) error

	// Publish sends a notification to all subscribers without blocking.
	// Sequence and timestamp are filled in when zero. Publishing on a
	// closed bus is a no-op.
	Publish(n Notification)

	// Stats returns delivery statistics.
	Stats() BusStats

	// Close stops accepting subscribers and notifications. Idempotent.
	Close() error
}

var (
	// ErrSubscriberExists is returned when subscribing with a duplicate ID
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when unsubscribing a non-existent ID
	ErrSubscriberNotFound = errors.New("subscriber id not found")

	// ErrBusClosed is returned when operating on a closed bus
	ErrBusClosed = errors.New("bus is closed")
)

// Kind names a notification.
type Kind string

const (
	CatalogReady     Kind = "catalog_ready"
	PlaybackLength   Kind = "playback_length"
	PlaybackPosition Kind = "playback_position"
	PlaybackDone     Kind = "playback_done"
	RecordingStarted Kind = "recording_started"
	RecordingStopped Kind = "recording_stopped"
	ImageSaved       Kind = "image_saved"
	OperationFailed  Kind = "operation_failed"
	MediaChanged     Kind = "media_changed"
)

// Consumer names the collaborator a notification is addressed to.
const (
	ConsumerAll     = ""
	ConsumerDisplay = "display"
	ConsumerNetwork = "network"
)

// Notification is one event reported by the core.
type Notification struct {
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	Consumer  string    `json:"consumer,omitempty"`
	Session   string    `json:"session,omitempty"`
	Dir       string    `json:"dir,omitempty"`
	File      string    `json:"file,omitempty"`
	Names     []string  `json:"names,omitempty"`
	Millis    int64     `json:"millis,omitempty"`
	Present   bool      `json:"present,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Category  string    `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// For reports whether the notification is addressed to consumer.
func (n Notification) For(consumer string) bool {
	return n.Consumer == ConsumerAll || n.Consumer == consumer
}

// BusStats contains delivery statistics
type BusStats struct {
	// TotalPublished is the number of Publish() calls
	TotalPublished uint64

	// TotalSent is the sum of successful deliveries across all subscribers
	TotalSent uint64

	// TotalDropped is the sum of dropped notifications across all subscribers
	TotalDropped uint64

	// Subscribers contains per-subscriber statistics
	Subscribers map[string]SubscriberStats
}

// SubscriberStats contains per-subscriber statistics
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriberStats struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- Notification
	stats       map[string]*subscriberStats
	closed      bool

	seq            atomic.Uint64
	totalPublished atomic.Uint64
}

// New creates a new Bus.
func New() Bus {
	return &bus{
		subscribers: make(map[string]chan<- Notification),
		stats:       make(map[string]*subscriberStats),
	}
}

func (b *bus) Subscribe(id string, ch chan<- Notification) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = ch
	b.stats[id] = &subscriberStats{}
	return nil
}

func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(b.subscribers, id)
	delete(b.stats, id)
	return nil
}

func (b *bus) Publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.totalPublished.Add(1)
	if n.Seq == 0 {
		n.Seq = b.seq.Add(1)
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- n:
			b.stats[id].sent.Add(1)
		default:
			b.stats[id].dropped.Add(1)
		}
	}
}

func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := BusStats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.stats)),
	}

	for id, stats := range b.stats {
		sent := stats.sent.Load()
		dropped := stats.dropped.Load()
		result.TotalSent += sent
		result.TotalDropped += dropped
		result.Subscribers[id] = SubscriberStats{Sent: sent, Dropped: dropped}
	}
	return result
}

func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
