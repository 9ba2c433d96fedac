// Package vm implements per-process virtual address spaces: page-table
// walks, the fork/exec/exit teardown and copy paths, the console's shared
// physical page, and user-memory copy helpers used by read/write/execv.
//
// There is no demand paging, no copy-on-write, and no shared file mappings
// here: every user page is eagerly allocated and either zeroed or copied
// (fork), and the only page ever mapped into more than one address space is
// the single permanent console page, which needs no reference counting
// because it is never freed.
package vm

import (
	"sync"

	"defs"
	"mem"
	"ustr"
	"util"
)

/// Vm_t represents a process's address space: its top-level page table and
/// the lock serializing all page-table mutation and lookup.
type Vm_t struct {
	sync.Mutex

	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	pgfltaken bool
}

/// Lock_pmap acquires the address-space lock.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address-space lock.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address-space lock is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pmap lock must be held")
	}
}

/// Mkaspace allocates a fresh, empty address space (an all-zero top-level
/// page table).
func Mkaspace() (*Vm_t, bool) {
	pmap, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return nil, false
	}
	return &Vm_t{Pmap: pmap, P_pmap: p_pmap}, true
}

/// Map installs a fresh page at va with the given permissions, copying
/// src into it if src is non-nil (used by fork and exec's argument copy).
/// perms should only carry PTE_U/PTE_W; PTE_P is added here.
func (as *Vm_t) Map(va int, perms mem.Pa_t, src *mem.Pg_t) (mem.Pa_t, defs.Err_t) {
	as.Lockassert_pmap()
	if mem.Pa_t(va)&PGOFFSET != 0 {
		panic("va not page aligned")
	}
	pg, p_pg, ok := mem.Physmem.Refpg_new()
	if !ok {
		return 0, defs.E_NOMEM
	}
	if src != nil {
		*pg = *src
	}
	pte, err := pmap_walk(as.Pmap, va, PTE_U|PTE_W)
	if err != 0 {
		mem.Physmem.Free(p_pg)
		return 0, err
	}
	if *pte&PTE_P != 0 {
		panic("mapping over present page")
	}
	*pte = p_pg | perms | PTE_P
	return p_pg, 0
}

/// MapShared aliases an existing physical page into this address space
/// without allocating or copying -- used only for the console page.
func (as *Vm_t) MapShared(va int, p_pg mem.Pa_t, perms mem.Pa_t) defs.Err_t {
	as.Lockassert_pmap()
	pte, err := pmap_walk(as.Pmap, va, PTE_U|PTE_W)
	if err != 0 {
		return err
	}
	*pte = p_pg | perms | PTE_P
	return 0
}

/// Unmap removes and frees the page at va, if present. p_console, if
/// non-zero, is never freed -- only unmapped -- since it is shared.
func (as *Vm_t) Unmap(va int, p_console mem.Pa_t) {
	as.Lockassert_pmap()
	pte := pmap_lookup(as.Pmap, va)
	if pte == nil || *pte&PTE_P == 0 {
		return
	}
	p_pg := *pte & PTE_ADDR
	*pte = 0
	if p_pg != p_console {
		mem.Physmem.Free(p_pg)
	}
}

/// Forkcopy duplicates every present user page of parent into as (a freshly
/// allocated, empty address space). The console page, identified by
/// p_console, is aliased rather than copied.
func (as *Vm_t) Forkcopy(parent *Vm_t, p_console mem.Pa_t) defs.Err_t {
	as.Lockassert_pmap()
	parent.Lockassert_pmap()
	var ferr defs.Err_t
	walkaddr(parent.Pmap, func(e addrent_t) {
		if ferr != 0 {
			return
		}
		if e.Pa == p_console {
			if err := as.MapShared(e.Va, e.Pa, e.Perms); err != 0 {
				ferr = err
			}
			return
		}
		src := mem.Physmem.Dmap(e.Pa)
		if _, err := as.Map(e.Va, e.Perms, src); err != 0 {
			ferr = err
		}
	})
	return ferr
}

/// Uvmfree tears down every user mapping and every intermediate
/// page-table page in this address space, then frees the top-level page
/// table itself. p_console pages are unmapped but not freed.
func (as *Vm_t) Uvmfree(p_console mem.Pa_t) {
	as.Lockassert_pmap()
	walkaddr(as.Pmap, func(e addrent_t) {
		if e.Pa != p_console {
			mem.Physmem.Free(e.Pa)
		}
	})
	walkpgtables(as.Pmap, func(p mem.Pa_t) {
		mem.Physmem.Free(p)
	})
	mem.Physmem.Free(as.P_pmap)
}

// Userdmap8_inner returns a kernel slice mapping the user page containing
// va. There is no page-fault resolution here: if the page isn't present,
// or the access doesn't match the page's permissions, it's EFAULT -- every
// user page a process can touch was installed eagerly by fork or exec.
func (as *Vm_t) Userdmap8_inner(va int, write bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()
	voff := mem.Pa_t(va) & PGOFFSET
	pte := pmap_lookup(as.Pmap, va)
	if pte == nil || *pte&PTE_P == 0 || *pte&PTE_U == 0 {
		return nil, defs.E_FAULT
	}
	if write && *pte&PTE_W == 0 {
		return nil, defs.E_FAULT
	}
	pg := mem.Physmem.Dmap(*pte & PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

func (as *Vm_t) _userdmap8(va int, write bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, write)
	as.Unlock_pmap()
	return ret, err
}

/// Userdmap8r maps the user address for reading.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

/// Checkuser validates that [va, va+n) is entirely mapped in this address
/// space with at least the given permission (PTE_W for writable), without
/// copying anything. Used to validate syscall buffer arguments up front.
func (as *Vm_t) Checkuser(va, n int, write bool) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for i := 0; i < n; {
		s, err := as.Userdmap8_inner(va+i, write)
		if err != 0 {
			return err
		}
		i += len(s)
	}
	return 0
}

/// Userreadn reads n (<= 8) bytes from the user address va as a little
/// endian integer.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.userreadn_inner(va, n)
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

/// Userwriten writes the low n (<= 8) bytes of val to the user address va.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

/// Userstr copies a NUL terminated string from user memory, up to lenmax
/// bytes.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			return nil, defs.E_NAMETOOLONG
		}
	}
}

/// K2user copies src into user memory at uva.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(src) {
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src[cnt:])
		cnt += n
	}
	return 0
}

/// User2k copies len(dst) bytes from user memory at uva into dst.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(dst) {
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		n := copy(dst[cnt:], src)
		cnt += n
	}
	return 0
}

/// Mkuserbuf allocates a Userbuf_t referencing [userva, userva+len) in
/// this address space.
func (as *Vm_t) Mkuserbuf(userva, len int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(as, userva, len)
	return ret
}
