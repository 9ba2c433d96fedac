package mem

import "unsafe"

// Kernel virtual address layout. Installing these mappings is boot/hardware
// init (CPUID feature probing, recursive page-table tricks, global-page
// setup) and is out of scope here; this file keeps only the address-space
// layout constants and the translation helpers built on top of them, on the
// assumption that the direct map is already live by the time the kernel
// proper runs.

/// VREC is the recursive mapping slot used by the kernel.
const VREC int = 0x42

/// VDIRECT is the direct-map slot.
const VDIRECT int = 0x44

/// VEND marks the end of kernel virtual space.
const VEND int = 0x50

/// VUSER is the first user-space slot.
const VUSER int = 0x59

/// USERMIN is the lowest user virtual address.
const USERMIN int = VUSER << 39

/// DMAPLEN is the length of the direct map in bytes.
const DMAPLEN int = 1 << 39

/// Vdirect holds the virtual address of the direct map region.
var Vdirect = uintptr(VDIRECT << 39)

/// Dmaplen returns a slice over the direct map starting at p for l bytes.
func Dmaplen(p Pa_t, l int) []uint8 {
	_dmap := (*[DMAPLEN]uint8)(unsafe.Pointer(Vdirect))
	return _dmap[p : p+Pa_t(l)]
}

/// Dmaplen32 is like Dmaplen but operates on 32-bit units.
/// p and l must be multiples of 4.
func Dmaplen32(p uintptr, l int) []uint32 {
	if p%4 != 0 || l%4 != 0 {
		panic("not 32bit aligned")
	}
	_dmap := (*[DMAPLEN / 4]uint32)(unsafe.Pointer(Vdirect))
	p /= 4
	l /= 4
	return _dmap[p : p+uintptr(l)]
}

// dmap returns a page-aligned virtual address for the given physical
// address using the direct mapping.
func dmap(p Pa_t) *Pg_t {
	pa := uintptr(p)
	if pa >= 1<<39 {
		panic("direct map not large enough")
	}
	v := Vdirect + (pa &^ uintptr(PGSIZE-1))
	return (*Pg_t)(unsafe.Pointer(v))
}

// dmap_v2p converts a direct-mapped virtual address back to a physical
// address.
func dmap_v2p(v *Pg_t) Pa_t {
	va := uintptr(unsafe.Pointer(v))
	if va <= 1<<39 {
		panic("address isn't in the direct map")
	}
	return Pa_t(va - Vdirect)
}

/// Dmap_v2p converts a direct-mapped virtual address back to a physical
/// address.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	return dmap_v2p(v)
}
