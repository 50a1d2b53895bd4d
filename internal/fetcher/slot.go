package fetcher

import "sync/atomic"

// Slot is a display position that may be recycled for another asset while
// a fetch for it is still running. Each claim bumps a generation counter;
// a result is applied only if its ticket is still current.
type Slot struct {
	gen atomic.Uint64
}

// Ticket identifies one claim on a Slot.
type Ticket struct {
	slot *Slot
	gen  uint64
}

// Claim starts a new generation and invalidates earlier tickets.
func (s *Slot) Claim() Ticket {
	return Ticket{slot: s, gen: s.gen.Add(1)}
}

// Release invalidates every outstanding ticket.
func (s *Slot) Release() {
	s.gen.Add(1)
}

// Current reports whether t is the latest claim. A ticket without a slot is
// always current.
func (t Ticket) Current() bool {
	return t.slot == nil || t.slot.gen.Load() == t.gen
}
