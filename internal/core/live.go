package core

import (
	"sync"

	"github.com/e7canasta/tcam-core/internal/events"
	"github.com/e7canasta/tcam-core/modules/framesource"
)

// liveFeed is one live consumer class: the wake-up set its supplier class
// posts to, the sink it feeds, and a gate the owner task closes before the
// class is disarmed. Delivery happens under the gate, so once close returns
// no live frame reaches the sink until the gate is opened again.
type liveFeed struct {
	set  *events.Set
	sink Sink

	mu   sync.Mutex
	open bool
}

func newLiveFeed(sink Sink) *liveFeed {
	return &liveFeed{set: events.NewSet(), sink: sink}
}

func (l *liveFeed) setOpen(open bool) {
	l.mu.Lock()
	l.open = open
	l.mu.Unlock()
}

// deliver hands f to the sink if the gate is open.
func (l *liveFeed) deliver(f *framesource.Frame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return false
	}
	l.sink.DeliverFrame("", f)
	return true
}
