package metablock

// Head identifies the next ring slot to write or read. Wraparound is set
// once scanning (or writing) has passed the end of the region and
// returned to slot 0 of extent 0. saved holds a single-level snapshot
// used by the recovery scan to remember the slot of the highest-version
// record whose CRC validated so far (Push/Pop); spec.md §3 specifies
// exactly one saved level, not a general stack.
type Head struct {
	Extent     int
	Slot       int
	Wraparound bool

	saved    *Head
	hasSaved bool
}

// Offset computes the absolute file offset of the slot this head
// currently points at, per spec.md §4.1's offset formula.
func (h Head) Offset(g Geometry) int64 {
	return g.ExtentStart(h.Extent) + int64(h.Slot)*int64(g.Layout.RecordSize())
}

// Advance moves the head to the next slot, rolling over to the next
// extent (modulo MBNExtents) when the current extent is exhausted, and
// setting Wraparound the first time the cursor passes slot 0 of extent 0
// again.
func (h Head) Advance(g Geometry) Head {
	next := h
	next.Slot++

	if next.Slot >= g.SlotsPerExtent {
		next.Slot = 0
		next.Extent = (next.Extent + 1) % MBNExtents

		if next.Extent == 0 {
			next.Wraparound = true
		}
	}

	return next
}

// Push saves the current head as the best-known-valid candidate,
// overwriting any previously saved snapshot. Per spec.md §3 there is
// only ever one saved level.
func (h *Head) Push() {
	h.saved = &Head{Extent: h.Extent, Slot: h.Slot}
	h.hasSaved = true
}

// Pop returns the last pushed snapshot and whether one exists.
func (h Head) Pop() (Head, bool) {
	if !h.hasSaved {
		return Head{}, false
	}
	return *h.saved, true
}

// Equal compares only the position (extent, slot), ignoring Wraparound
// and any saved snapshot — used by the recovery scan to detect "we are
// back at the candidate slot".
func (h Head) Equal(other Head) bool {
	return h.Extent == other.Extent && h.Slot == other.Slot
}
