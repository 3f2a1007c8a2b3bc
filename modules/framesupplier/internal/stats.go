package internal

import "sync/atomic"

// Stats returns an operational statistics snapshot.
//
// Thread-safety: atomic counters plus one short lock per class; safe for
// concurrent use with distribution.
func (s *supplier) Stats() SupplierStats {
	classes := make(map[string]ClassStats, numClasses)
	for _, class := range Classes {
		p := s.pairs[class]
		p.mu.Lock()
		classes[class.String()] = ClassStats{
			Armed:           p.armed,
			Delivered:       p.delivered,
			Dropped:         p.dropped,
			LastSeq:         p.lastSeq,
			LastDeliveredAt: p.lastAt,
		}
		p.mu.Unlock()
	}

	return SupplierStats{
		Published:      atomic.LoadUint64(&s.published),
		IntegrityDrops: atomic.LoadUint64(&s.integrityDrops),
		InboxDrops:     atomic.LoadUint64(&s.inboxDrops),
		Classes:        classes,
	}
}
