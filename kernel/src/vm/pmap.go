package vm

import (
	"defs"
	"mem"
)

// PTE_* mirror mem's page-table-entry bits so callers need not import mem
// just to build permission words.
const (
	PTE_P   = mem.PTE_P
	PTE_W   = mem.PTE_W
	PTE_U   = mem.PTE_U
	PTE_G   = mem.PTE_G
	PTE_PCD = mem.PTE_PCD
	PTE_PS  = mem.PTE_PS
	PTE_ADDR = mem.PTE_ADDR
)

const PGSIZE = mem.PGSIZE
const PGSHIFT = mem.PGSHIFT
const PGOFFSET = mem.PGOFFSET

func pml4x(va int) int { return (va >> 39) & 0x1ff }
func pdptx(va int) int { return (va >> 30) & 0x1ff }
func pdx(va int) int   { return (va >> 21) & 0x1ff }
func ptx(va int) int   { return (va >> 12) & 0x1ff }

// pmap_walk returns the PTE for va in pmap, allocating intermediate
// page-table pages (with the given permissions) as needed.
func pmap_walk(pmap *mem.Pmap_t, va int, perms mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	cur := pmap
	for _, idx := range []int{pml4x(va), pdptx(va), pdx(va)} {
		ent := &cur[idx]
		if *ent&PTE_P == 0 {
			next, p_next, ok := mem.Physmem.Pmap_new()
			if !ok {
				return nil, defs.E_NOMEM
			}
			*ent = p_next | perms | PTE_P
			cur = next
		} else {
			cur = (*mem.Pmap_t)(mem.Physmem.Dmap(*ent & PTE_ADDR))
		}
	}
	return &cur[ptx(va)], 0
}

// pmap_lookup returns the PTE for va without allocating, or nil if an
// intermediate page table is missing.
func pmap_lookup(pmap *mem.Pmap_t, va int) *mem.Pa_t {
	cur := pmap
	for _, idx := range []int{pml4x(va), pdptx(va), pdx(va)} {
		ent := &cur[idx]
		if *ent&PTE_P == 0 {
			return nil
		}
		cur = (*mem.Pmap_t)(mem.Physmem.Dmap(*ent & PTE_ADDR))
	}
	return &cur[ptx(va)]
}

// addrent_t is one entry yielded by an address iterator: a present user
// page's virtual address, physical address, and permission bits.
type addrent_t struct {
	Va    int
	Pa    mem.Pa_t
	Perms mem.Pa_t
}

// walkaddr walks every present PTE whose whole path has PTE_U set,
// invoking f for each. Used by fork to copy an address space.
func walkaddr(pmap *mem.Pmap_t, f func(addrent_t)) {
	for l4 := range pmap {
		e4 := pmap[l4]
		if e4&PTE_P == 0 || e4&PTE_U == 0 {
			continue
		}
		pdpt := (*mem.Pmap_t)(mem.Physmem.Dmap(e4 & PTE_ADDR))
		for l3 := range pdpt {
			e3 := pdpt[l3]
			if e3&PTE_P == 0 || e3&PTE_U == 0 {
				continue
			}
			pd := (*mem.Pmap_t)(mem.Physmem.Dmap(e3 & PTE_ADDR))
			for l2 := range pd {
				e2 := pd[l2]
				if e2&PTE_P == 0 || e2&PTE_U == 0 {
					continue
				}
				pt := (*mem.Pmap_t)(mem.Physmem.Dmap(e2 & PTE_ADDR))
				for l1 := range pt {
					e1 := pt[l1]
					if e1&PTE_P == 0 || e1&PTE_U == 0 {
						continue
					}
					va := (l4 << 39) | (l3 << 30) | (l2 << 21) | (l1 << 12)
					walkaddr_emit(f, va, e1)
				}
			}
		}
	}
}

func walkaddr_emit(f func(addrent_t), va int, pte mem.Pa_t) {
	f(addrent_t{Va: va, Pa: pte & PTE_ADDR, Perms: pte &^ PTE_ADDR})
}

// walkpgtables walks every intermediate page-table page (present pml4
// entries with PTE_U set, and everything they point to), invoking f on the
// physical address of each page-table page found, leaves first. Used for
// teardown by exit and exec.
func walkpgtables(pmap *mem.Pmap_t, f func(mem.Pa_t)) {
	for l4 := range pmap {
		e4 := pmap[l4]
		if e4&PTE_P == 0 || e4&PTE_U == 0 {
			continue
		}
		pdpt := (*mem.Pmap_t)(mem.Physmem.Dmap(e4 & PTE_ADDR))
		for l3 := range pdpt {
			e3 := pdpt[l3]
			if e3&PTE_P == 0 || e3&PTE_U == 0 {
				continue
			}
			pd := (*mem.Pmap_t)(mem.Physmem.Dmap(e3 & PTE_ADDR))
			for l2 := range pd {
				e2 := pd[l2]
				if e2&PTE_P == 0 || e2&PTE_U == 0 {
					continue
				}
				f(e2 & PTE_ADDR)
			}
			f(e3 & PTE_ADDR)
		}
		f(e4 & PTE_ADDR)
	}
}
