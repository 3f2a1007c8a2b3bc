package internal

import "time"

// Class identifies a consumer class. Each class owns one ping-pong slot pair.
type Class int

const (
	// ClassDisplay is the local display consumer.
	ClassDisplay Class = iota
	// ClassNetwork is the network client consumer.
	ClassNetwork
	// ClassRecording is the storage consumer.
	ClassRecording

	numClasses = 3
)

// Classes lists every consumer class in distribution order.
var Classes = [numClasses]Class{ClassDisplay, ClassNetwork, ClassRecording}

// String returns the class name used in logs and stats keys.
func (c Class) String() string {
	switch c {
	case ClassDisplay:
		return "display"
	case ClassNetwork:
		return "network"
	case ClassRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Config tunes the supplier.
type Config struct {
	// LockWait bounds how long the distributor waits for a slot held by a
	// consumer before dropping the frame for that consumer.
	LockWait time.Duration
}

// DefaultLockWait matches the sensor task's mutex wait.
const DefaultLockWait = 10 * time.Millisecond

// SupplierStats is a snapshot of supplier operational state.
type SupplierStats struct {
	// Published counts frames accepted for distribution.
	Published uint64

	// IntegrityDrops counts frames rejected for a checksum mismatch.
	// Such a frame is not distributed to any class.
	IntegrityDrops uint64

	// InboxDrops counts frames overwritten in the inbox before the
	// distribution loop picked them up.
	InboxDrops uint64

	// Classes maps class name to per-class statistics.
	Classes map[string]ClassStats
}

// ClassStats tracks per-class distribution state.
type ClassStats struct {
	// Armed reports whether the class currently receives frames.
	Armed bool

	// Delivered counts frames copied into this class's slots.
	Delivered uint64

	// Dropped counts frames lost because the consumer held the write
	// slot past the bounded wait.
	Dropped uint64

	// LastSeq is the sequence of the newest frame copied for this class.
	LastSeq uint64

	// LastDeliveredAt is when the newest frame was copied.
	LastDeliveredAt time.Time
}
