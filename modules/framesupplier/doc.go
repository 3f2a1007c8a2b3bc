// Package framesupplier: see framesupplier.go for the API summary.
//
// # Basic Usage
//
// Producer side (sensor task):
//
//	supplier := framesupplier.New(framesupplier.Config{LockWait: 10 * time.Millisecond})
//	if err := supplier.Start(ctx); err != nil {
//	    return err
//	}
//	defer supplier.Stop()
//
//	for frame := range frames {
//	    supplier.Publish(frame) // false = checksum mismatch, frame dropped
//	}
//
// Consumer side (one goroutine per class):
//
//	ready := events.NewSet()
//	supplier.Arm(framesupplier.ClassDisplay, func() { ready.Post(events.FrameReady) })
//	defer supplier.Disarm(framesupplier.ClassDisplay)
//
//	var last uint64
//	for range ready.C() {
//	    ready.Take()
//	    lease, ok := supplier.Acquire(framesupplier.ClassDisplay, last)
//	    if !ok {
//	        continue // re-check state, don't count signals
//	    }
//	    last = lease.Frame().Seq
//	    render(lease.Frame())
//	    lease.Release()
//	}
//
// # Drop Semantics
//
// Drops are expected and local to one class:
//
//   - IntegrityDrops: checksum mismatch, no class receives the frame
//   - InboxDrops: the distribution loop fell behind the sensor
//   - ClassStats.Dropped: the consumer held its slot past LockWait
//
// Within a class, frames are never reordered and never duplicated: Acquire
// only returns a frame with a sequence greater than the caller's last one.
//
// # Ownership
//
// Slots own their buffers for their whole lifetime. A consumer holds a slot
// only between Acquire and Lease.Release; the Frame returned by a lease must
// not be retained after Release.
package framesupplier
