// Package mem defines the kernel's physical/virtual address types and the
// thin page-granularity wrapper around the buddy allocator that the rest of
// the kernel (vm, fd, vnode) builds on.
package mem

import (
	"unsafe"

	"buddy"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// PTE_P marks a page as present.
const PTE_P Pa_t = 1 << 0

/// PTE_W marks a page writable.
const PTE_W Pa_t = 1 << 1

/// PTE_U marks a page user-accessible.
const PTE_U Pa_t = 1 << 2

/// PTE_G marks a global page.
const PTE_G Pa_t = 1 << 8

/// PTE_PCD disables caching for the page.
const PTE_PCD Pa_t = 1 << 4

/// PTE_PS indicates a large page.
const PTE_PS Pa_t = 1 << 7

/// PTE_ADDR extracts the address bits of a PTE.
const PTE_ADDR Pa_t = PGMASK

/// Pa_t represents a physical address. It is an alias of buddy.Pa_t so that
/// every layer above mem can share one address type without importing
/// buddy directly.
type Pa_t = buddy.Pa_t

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of ints.
type Pg_t [512]int

/// Pmap_t is a page table page: 512 page-table entries.
type Pmap_t [512]Pa_t

/// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

/// Physmem_t hands out zeroed and non-zeroed pages at PGSIZE granularity,
/// backed by the system buddy allocator. There is deliberately no
/// reference counting here: this kernel has no copy-on-write and no
/// demand paging, so every mapped page save the single shared console page
/// is owned by exactly one address space and is freed directly on unmap.
type Physmem_t struct {
	buddy *buddy.Allocator_t
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{buddy: buddy.Physmem}

/// Zeropg is a read-only, zero-filled page shared by every address space
/// that needs one (e.g. to back a fresh anonymous mapping's initial
/// content); it is never freed.
var Zeropg *Pg_t

/// P_zeropg is the physical address of Zeropg.
var P_zeropg Pa_t

/// Phys_init seeds the allocator from the boot memory map and carves out
/// the shared zero page. ranges is produced by the (out-of-scope)
/// hardware init layer.
func Phys_init(ranges []buddy.Range_t) {
	Physmem.buddy.Init(ranges)
	pg, p_pg, ok := Physmem.Refpg_new()
	if !ok {
		panic("oom during mem init")
	}
	Zeropg, P_zeropg = pg, p_pg
}

/// Refpg_new allocates a zeroed page and returns its mapping and address.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, p_pg, ok := phys.Refpg_new_nozero()
	if !ok {
		return nil, 0, false
	}
	for i := range pg {
		pg[i] = 0
	}
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates an uninitialised page.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	p_pg, ok := phys.buddy.AllocOrder(buddy.MINORDER)
	if !ok {
		return nil, 0, false
	}
	return phys.Dmap(p_pg), p_pg, true
}

/// Pmap_new allocates a new, zeroed page-table page.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	pg, p_pg, ok := phys.Refpg_new()
	if !ok {
		return nil, 0, false
	}
	return pg2pmap(pg), p_pg, true
}

/// Free returns a page (or page-table page) to the allocator.
func (phys *Physmem_t) Free(p_pg Pa_t) {
	phys.buddy.Free(p_pg)
}

/// Dmap returns a page-aligned virtual address for the given physical
/// address using the direct mapping maintained by the boot layer.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	return dmap(p)
}

/// Dmap8 returns a byte slice mapped to the given physical address.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

/// Pgcount reports free and allocated bytes under management, for tests
/// and debug diagnostics.
func (phys *Physmem_t) Pgcount() (free, allocated int64) {
	return phys.buddy.Pgcount()
}
