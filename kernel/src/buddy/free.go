package buddy

// Free returns the block at addr to the allocator. addr == 0 is a no-op
// (the zero value doubles as "no page", matching the rest of the kernel's
// convention of a zero Pa_t meaning "none"). It is a fatal invariant
// violation -- and therefore a panic, not an error return -- to free an
// address that is not a current block head, or to double-free.
func (a *Allocator_t) Free(addr Pa_t) {
	if addr == 0 {
		return
	}
	a.Lock()
	defer a.Unlock()

	i, ok := a.idx(frameOf(addr))
	if !ok {
		panic("buddy: free of address outside managed range")
	}
	if !a.pages[i].head {
		panic("buddy: free of non-block-head address")
	}
	if a.pages[i].free {
		panic("buddy: double free")
	}

	k := int(a.pages[i].order)
	npages := 1 << uint(k-MINORDER)
	for j := 0; j < npages; j++ {
		a.pages[i+j].free = true
	}
	a.allocated -= int64(1) << uint(k)
	a.freebytes += int64(1) << uint(k)

	for k < MAXORDER {
		buddyAddr := addrOf(a.pages[i].frame) ^ (Pa_t(1) << uint(k))
		bi, ok := a.idx(frameOf(buddyAddr))
		if !ok {
			break
		}
		if !(a.pages[bi].head && a.pages[bi].free && int(a.pages[bi].order) == k) {
			break
		}
		a._listunlink(k, bi)

		lo, hi := i, bi
		if hi < lo {
			lo, hi = hi, lo
		}
		a.pages[hi].head = false
		merged := 1 << uint(k+1-MINORDER)
		for j := 0; j < merged; j++ {
			a.pages[lo+j].order = int8(k + 1)
		}
		i = lo
		k++
		a.Coalesces.Inc()
	}

	a.pages[i].head = true
	a._listpush(k, i)
}

// Pgcount reports free and allocated bytes currently under management,
// used by tests to check the allocator-conservation invariant.
func (a *Allocator_t) Pgcount() (free, allocated int64) {
	a.Lock()
	defer a.Unlock()
	return a.freebytes, a.allocated
}
