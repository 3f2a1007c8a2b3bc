package catalog

// slab stores values at stable integer slots. A slot's generation is bumped
// on removal so handles to a removed value never resolve again, even after
// the slot is reused.
type slab[T any] struct {
	entries []slabEntry[T]
	free    []uint32
	live    int
}

type slabEntry[T any] struct {
	gen  uint32
	used bool
	val  T
}

func (s *slab[T]) insert(v T) (slot, gen uint32) {
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		slot = uint32(len(s.entries))
		s.entries = append(s.entries, slabEntry[T]{gen: 1})
	}
	e := &s.entries[slot]
	e.used = true
	e.val = v
	s.live++
	return slot, e.gen
}

func (s *slab[T]) get(slot, gen uint32) (*T, bool) {
	if int(slot) >= len(s.entries) {
		return nil, false
	}
	e := &s.entries[slot]
	if !e.used || e.gen != gen {
		return nil, false
	}
	return &e.val, true
}

func (s *slab[T]) remove(slot, gen uint32) bool {
	if _, ok := s.get(slot, gen); !ok {
		return false
	}
	e := &s.entries[slot]
	var zero T
	e.val = zero
	e.used = false
	e.gen++
	s.free = append(s.free, slot)
	s.live--
	return true
}

func (s *slab[T]) len() int {
	return s.live
}
