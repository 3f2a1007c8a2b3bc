// Package internal implements the frame supplier: ping-pong slot pairs per
// consumer class fed by a single distribution loop.
//
// This package is INTERNAL - clients MUST use the public API in the parent package.
package internal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/tcam-core/modules/framesource"
)

// supplier is the concrete implementation of framesupplier.Supplier.
//
// Goroutine topology:
//   - 1 fixed: distributionLoop (spawned by Start, stopped by Stop)
//   - N external: consumer goroutines calling Acquire (not managed here)
//
// Thread-safety: All public methods safe for concurrent use. Distribute
// assumes a single producer.
type supplier struct {
	// --- Inbox Mailbox ---
	// Source → Supplier communication

	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inboxFrame *framesource.Frame // nil = consumed
	inboxDrops uint64             // atomic

	// --- Slot Pairs ---
	// Supplier → Consumers communication

	pairs    [numClasses]*pair
	lockWait atomic.Int64 // time.Duration

	// --- Distribution State ---

	publishSeq     uint64 // atomic
	published      uint64 // atomic
	integrityDrops uint64 // atomic

	// --- Lifecycle ---

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
}

// NewSupplier creates a new supplier instance (called by public New() in parent package).
func NewSupplier(cfg Config) *supplier {
	s := &supplier{}
	s.inboxCond = sync.NewCond(&s.inboxMu)
	for i := range s.pairs {
		s.pairs[i] = newPair()
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	s.lockWait.Store(int64(cfg.LockWait))
	return s
}

// Start begins the distribution loop. Returns an error if already started.
func (s *supplier) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return fmt.Errorf("supplier already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	// Wake distributionLoop when the caller's ctx ends without Stop
	context.AfterFunc(s.ctx, func() {
		s.inboxMu.Lock()
		s.inboxCond.Broadcast()
		s.inboxMu.Unlock()
	})

	s.wg.Add(1)
	go s.distributionLoop()

	return nil
}

// Stop shuts down the distribution loop and waits for it to exit.
// Idempotent. Slots and arming survive a Stop; Distribute keeps working.
func (s *supplier) Stop() error {
	s.startedMu.Lock()
	if !s.started {
		s.startedMu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.startedMu.Unlock()

	cancel()

	// Wake distributionLoop if blocked in inboxCond.Wait
	s.inboxMu.Lock()
	s.inboxCond.Broadcast()
	s.inboxMu.Unlock()

	s.wg.Wait()
	return nil
}

// distributionLoop consumes the inbox and distributes each frame.
//
// Exits on: ctx.Done() or Stop() called.
func (s *supplier) distributionLoop() {
	defer s.wg.Done()

	ctx := s.ctx
	for {
		s.inboxMu.Lock()
		for s.inboxFrame == nil {
			if ctx.Err() != nil {
				s.inboxMu.Unlock()
				return
			}
			s.inboxCond.Wait()
		}
		if ctx.Err() != nil {
			s.inboxMu.Unlock()
			return
		}

		frame := s.inboxFrame
		s.inboxFrame = nil
		s.inboxMu.Unlock()

		s.distribute(frame)
	}
}
