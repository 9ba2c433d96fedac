// Package buddy implements the kernel's physical page allocator: a
// power-of-two buddy system with splitting and coalescing, in the style of
// mem's single free-list allocator but generalized to many block sizes.
package buddy

import (
	"sync"

	"oommsg"
	"stats"
)

/// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

/// PGSIZE is the size of the smallest block, in bytes.
const PGSIZE = 1 << PGSHIFT

/// MINORDER is the order (log2 bytes) of the smallest allocatable block.
const MINORDER = 12

/// MAXORDER is the order (log2 bytes) of the largest allocatable block.
const MAXORDER = 21

const numOrders = MAXORDER - MINORDER + 1

/// noIndex is the sentinel "no page" index, akin to a nil pointer.
const noIndex = ^uint32(0)

/// Pa_t is a physical address. It is the fundamental address type for the
/// whole kernel; mem re-exports it so that higher layers need not import
/// buddy directly.
type Pa_t uintptr

/// page_t is a physical page record: frame number, containing block's
/// order, and whether the page is free and/or a block head. Only block
/// heads are linked into free lists.
type page_t struct {
	frame uint32
	order int8 // -1 when the page belongs to no block
	free  bool
	head  bool
	next  uint32
	prev  uint32
}

/// Range_t describes a span of physical memory as reported by the boot
/// memory map; Avail is false for reserved/unusable ranges (MMIO holes,
/// the kernel image, the bootloader's own memory).
type Range_t struct {
	Start Pa_t
	Len   uintptr
	Avail bool
}

/// Allocator_t is a buddy-system physical page allocator. A single mutex
/// protects every free list and every page record, matching the "one
/// page_lock for everything" discipline of the rest of the kernel.
type Allocator_t struct {
	sync.Mutex
	pages      []page_t
	baseFrame  uint32
	freelist   [numOrders]uint32 // index of list head in pages, or noIndex
	allocated  int64
	freebytes  int64

	// Splits and Coalesces are compiled-out statistics (stats.Stats
	// gates them, per the teacher's own Counter_t), one per halving step
	// during allocation and one per buddy merge during free.
	Splits    stats.Counter_t
	Coalesces stats.Counter_t
}

/// Physmem is the single system-wide instance, populated by Init at boot.
var Physmem = &Allocator_t{}

func frameOf(pa Pa_t) uint32 { return uint32(pa >> PGSHIFT) }
func addrOf(frame uint32) Pa_t { return Pa_t(frame) << PGSHIFT }

func (a *Allocator_t) idx(frame uint32) (int, bool) {
	if frame < a.baseFrame {
		return 0, false
	}
	i := int(frame - a.baseFrame)
	if i >= len(a.pages) {
		return 0, false
	}
	return i, true
}

/// Init seeds the allocator from an iterator of physical address ranges.
/// Ranges need not be sorted or contiguous; unavailable ranges (and the
/// gaps between ranges) are simply never added to a free list, so they
/// are never handed out and never coalesced into.
func (a *Allocator_t) Init(ranges []Range_t) {
	a.Lock()
	defer a.Unlock()

	a.allocated = 0
	a.freebytes = 0

	var lo, hi uint32
	first := true
	for _, r := range ranges {
		if !r.Avail || r.Len == 0 {
			continue
		}
		f := frameOf(r.Start)
		l := frameOf(r.Start + Pa_t(r.Len) + PGSIZE - 1)
		if first || f < lo {
			lo = f
		}
		if first || l > hi {
			hi = l
		}
		first = false
	}
	if first {
		// no available memory at all
		a.baseFrame = 0
		a.pages = nil
		for i := range a.freelist {
			a.freelist[i] = noIndex
		}
		return
	}

	a.baseFrame = lo
	a.pages = make([]page_t, int(hi-lo)+1)
	for i := range a.pages {
		a.pages[i] = page_t{frame: lo + uint32(i), order: -1, next: noIndex, prev: noIndex}
	}
	for i := range a.freelist {
		a.freelist[i] = noIndex
	}

	for _, r := range ranges {
		if !r.Avail || r.Len == 0 {
			continue
		}
		cur := r.Start
		end := r.Start + Pa_t(r.Len)
		for cur < end {
			remain := uintptr(end - cur)
			k := MAXORDER
			for k > MINORDER && (remain < uintptr(1<<uint(k)) || uintptr(cur)%(1<<uint(k)) != 0) {
				k--
			}
			a._emit(cur, k)
			cur += Pa_t(1) << uint(k)
		}
	}
}

// _emit marks the npages belonging to the block at addr as a free block of
// order k and links its head into the free list. Called only during Init,
// always under a.Mutex.
func (a *Allocator_t) _emit(addr Pa_t, k int) {
	i, ok := a.idx(frameOf(addr))
	if !ok {
		panic("block outside managed range")
	}
	npages := 1 << uint(k-MINORDER)
	for j := 0; j < npages; j++ {
		a.pages[i+j].order = int8(k)
		a.pages[i+j].free = true
	}
	a.pages[i].head = true
	a._listpush(k, i)
	a.freebytes += int64(1) << uint(k)
}

func (a *Allocator_t) _listpush(order int, i int) {
	li := order - MINORDER
	head := a.freelist[li]
	a.pages[i].next = head
	a.pages[i].prev = noIndex
	if head != noIndex {
		a.pages[head].prev = uint32(i)
	}
	a.freelist[li] = uint32(i)
}

func (a *Allocator_t) _listpop(order int) (int, bool) {
	li := order - MINORDER
	head := a.freelist[li]
	if head == noIndex {
		return 0, false
	}
	a._listunlink(order, int(head))
	return int(head), true
}

func (a *Allocator_t) _listunlink(order int, i int) {
	li := order - MINORDER
	p := &a.pages[i]
	if p.prev != noIndex {
		a.pages[p.prev].next = p.next
	} else {
		a.freelist[li] = p.next
	}
	if p.next != noIndex {
		a.pages[p.next].prev = p.prev
	}
	p.next = noIndex
	p.prev = noIndex
}

/// orderFor returns the smallest order in [MINORDER, MAXORDER] whose block
/// is at least sz bytes, or -1 if sz is invalid or too large.
func orderFor(sz int) int {
	if sz <= 0 || sz > 1<<uint(MAXORDER) {
		return -1
	}
	o := MINORDER
	for (1 << uint(o)) < sz {
		o++
	}
	return o
}

/// notifyOOM is a non-blocking, best-effort notification that the
/// allocator failed to satisfy a request; nothing in this kernel currently
/// reclaims memory in response, but the hook lets a debug listener observe
/// exhaustion without perturbing the fast path.
func notifyOOM(need int) {
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: need}:
	default:
	}
}
