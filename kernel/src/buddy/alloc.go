package buddy

// Alloc returns the physical address of a block of at least size bytes,
// aligned to its own (power-of-two) size. It returns ok == false if
// size == 0, size exceeds 1<<MAXORDER, or no block is available.
func (a *Allocator_t) Alloc(size int) (Pa_t, bool) {
	order := orderFor(size)
	if order < 0 {
		return 0, false
	}
	return a.AllocOrder(order)
}

// AllocOrder returns a block of exactly 1<<order bytes, order in
// [MINORDER, MAXORDER].
func (a *Allocator_t) AllocOrder(order int) (Pa_t, bool) {
	if order < MINORDER || order > MAXORDER {
		return 0, false
	}
	a.Lock()
	defer a.Unlock()

	li := order - MINORDER
	if i, ok := a._listpop(order); ok {
		a._markused(i, order)
		a.allocated += int64(1) << uint(order)
		a.freebytes -= int64(1) << uint(order)
		return addrOf(a.pages[i].frame), true
	}

	// find the smallest non-empty list above the requested order
	donor := -1
	donorOrder := 0
	for j := li + 1; j < numOrders; j++ {
		if a.freelist[j] != noIndex {
			donor = int(a.freelist[j])
			donorOrder = j + MINORDER
			break
		}
	}
	if donor < 0 {
		a.Unlock()
		notifyOOM(1 << uint(order))
		a.Lock()
		return 0, false
	}
	a._listunlink(donorOrder, donor)

	// split the donor block down to the requested order, emitting a
	// buddy at each level. Order bookkeeping is updated before the new
	// head is linked into its free list, so every page record is
	// consistent at any point an observer could take the lock.
	pgn := donor
	curOrder := donorOrder
	for curOrder > order {
		half := 1 << uint(curOrder-1-MINORDER)
		blockPages := 1 << uint(curOrder-MINORDER)
		for l := 0; l < blockPages; l++ {
			a.pages[pgn+l].order--
		}
		highIdx := pgn + half
		a.pages[highIdx].head = true
		a._listpush(curOrder-1, highIdx)
		curOrder--
		a.Splits.Inc()
	}

	a._markused(pgn, order)
	a.allocated += int64(1) << uint(order)
	a.freebytes -= int64(1) << uint(order)
	return addrOf(a.pages[pgn].frame), true
}

// _markused marks every page in the order-sized block starting at index i
// as allocated (free=false); the block head keeps head=true so Free can
// validate that the address being freed is a genuine block head.
func (a *Allocator_t) _markused(i, order int) {
	npages := 1 << uint(order-MINORDER)
	for j := 0; j < npages; j++ {
		a.pages[i+j].free = false
		a.pages[i+j].order = int8(order)
	}
}
