// Package framesupplier distributes radiometric frames from one producer to
// up to three independently paced consumer classes.
//
// Philosophy: "Drop frames, never block."
//
// Design:
//   - One ping-pong slot pair per consumer class (display, network, recording)
//   - Bounded-wait slot locking: a stalled consumer loses frames, the producer
//     and other classes never wait on it
//   - Integrity gate: a checksum mismatch is dropped for every class
//   - Per-class arming: only armed classes pay for the copy
package framesupplier

import (
	"context"
	"time"

	"github.com/e7canasta/tcam-core/modules/framesource"
	"github.com/e7canasta/tcam-core/modules/framesupplier/internal"
)

// Class identifies a consumer class.
type Class = internal.Class

const (
	ClassDisplay   = internal.ClassDisplay
	ClassNetwork   = internal.ClassNetwork
	ClassRecording = internal.ClassRecording
)

// Lease is a scoped guard over one slot. See internal/lease.go.
type Lease = internal.Lease

// Config tunes the supplier.
type Config = internal.Config

// SupplierStats is re-exported from the internal package.
type SupplierStats = internal.SupplierStats

// ClassStats is re-exported from the internal package.
type ClassStats = internal.ClassStats

// DefaultLockWait is the bounded slot wait used when Config.LockWait is zero.
const DefaultLockWait = internal.DefaultLockWait

// Supplier is the public interface for frame distribution.
//
// Lifecycle: New() → Start() → Arm()/Publish()/Acquire() → Stop()
type Supplier interface {
	// Start begins the distribution loop that drains Publish's inbox.
	Start(ctx context.Context) error

	// Stop ends the distribution loop. Idempotent.
	Stop() error

	// Publish validates the frame checksum and queues it for distribution.
	// Returns false if the frame failed the integrity check.
	Publish(frame *framesource.Frame) bool

	// Distribute validates and distributes on the caller's goroutine.
	Distribute(frame *framesource.Frame) bool

	// Arm starts copying frames for class; notify is called once per copy.
	Arm(class Class, notify func())

	// Disarm stops copying frames for class.
	Disarm(class Class)

	// Armed reports whether class is armed.
	Armed(class Class) bool

	// Acquire leases the newest frame of class newer than after.
	Acquire(class Class, after uint64) (*Lease, bool)

	// SetLockWait changes the bounded slot wait.
	SetLockWait(d time.Duration)

	// Stats returns an operational snapshot.
	Stats() SupplierStats
}

// New creates a Supplier.
func New(cfg Config) Supplier {
	return internal.NewSupplier(cfg)
}
