package internal

import (
	"sync"

	"github.com/e7canasta/tcam-core/modules/framesource"
)

// Lease is a held slot. The frame it exposes is owned by the slot and must
// not be retained or modified after Release.
type Lease struct {
	slot  *Slot
	class Class
	once  sync.Once
}

// Frame returns the leased frame.
func (l *Lease) Frame() *framesource.Frame {
	return &l.slot.frame
}

// Class returns the consumer class the lease belongs to.
func (l *Lease) Class() Class {
	return l.class
}

// Release returns the slot to the distributor. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.slot.unlock)
}
