package fd

import (
	"sync"

	"defs"
	"fdops"
	"limits"
)

/// Fdtable_t is a process's table of open file descriptors: a fixed-size
/// array of *Fd_t slots, nil where no descriptor is open. The table lock
/// is always acquired before a given slot's Fd_t lock, never the other
/// way around, so Close and a concurrent Read/Write on the same fd can
/// never deadlock against each other.
type Fdtable_t struct {
	sync.Mutex
	tbl []*Fd_t
}

/// MkFdtable returns an empty table sized per the system's NOFILE limit.
func MkFdtable() *Fdtable_t {
	return &Fdtable_t{tbl: make([]*Fd_t, limits.NOFILE)}
}

/// Get returns the fd at fdno, or nil if it isn't open.
func (ft *Fdtable_t) Get(fdno int) *Fd_t {
	ft.Lock()
	defer ft.Unlock()
	if fdno < 0 || fdno >= len(ft.tbl) {
		return nil
	}
	return ft.tbl[fdno]
}

/// Install places fd into the lowest-numbered free slot, returning
/// E_MFILE if the table is full.
func (ft *Fdtable_t) Install(fd *Fd_t) (int, defs.Err_t) {
	ft.Lock()
	defer ft.Unlock()
	for i, cur := range ft.tbl {
		if cur == nil {
			ft.tbl[i] = fd
			return i, 0
		}
	}
	return 0, defs.E_MFILE
}

/// installAt places fd directly at fdno, closing whatever was there
/// first. Used by dup2.
func (ft *Fdtable_t) installAt(fdno int, fd *Fd_t) defs.Err_t {
	if fdno < 0 || fdno >= len(ft.tbl) {
		return defs.E_INVAL
	}
	old := ft.tbl[fdno]
	ft.tbl[fdno] = fd
	if old != nil {
		Close_panic(old)
	}
	return 0
}

/// Close closes and clears fdno, reporting E_BADF if it was already
/// closed -- a closed fd is not reusable as a no-op, per the table's
/// "only ever close what you opened" contract.
func (ft *Fdtable_t) Close(fdno int) defs.Err_t {
	ft.Lock()
	if fdno < 0 || fdno >= len(ft.tbl) || ft.tbl[fdno] == nil {
		ft.Unlock()
		return defs.E_BADF
	}
	f := ft.tbl[fdno]
	ft.tbl[fdno] = nil
	ft.Unlock()
	return f.Fops.Close()
}

/// Dup2 makes newfd refer to the same open file description as oldfd. A
/// self-dup (oldfd == newfd on an open fd) is a no-op that reports
/// success without touching refcounts.
func (ft *Fdtable_t) Dup2(oldfd, newfd int) defs.Err_t {
	ft.Lock()
	defer ft.Unlock()
	if oldfd < 0 || oldfd >= len(ft.tbl) || newfd < 0 || newfd >= len(ft.tbl) {
		return defs.E_INVAL
	}
	src := ft.tbl[oldfd]
	if src == nil {
		return defs.E_BADF
	}
	if oldfd == newfd {
		return 0
	}
	nfd, err := Copyfd(src)
	if err != 0 {
		return err
	}
	return ft.installAt(newfd, nfd)
}

/// Read dispatches through fdno's vnode and advances its offset by the
/// number of bytes transferred. caller identifies the process making
/// the call, so a blocking vnode (the pipe) can park it on a wait queue.
func (ft *Fdtable_t) Read(caller fdops.Proc_i, fdno int, dst fdops.Userio_i) (int, defs.Err_t) {
	f := ft.Get(fdno)
	if f == nil {
		return 0, defs.E_BADF
	}
	if f.Perms&FD_READ == 0 {
		return 0, defs.E_BADF
	}
	f.Lock()
	defer f.Unlock()
	n, err := f.Fops.Read(caller, dst, f.Offset)
	f.Offset += n
	return n, err
}

/// Write dispatches through fdno's vnode and advances its offset by the
/// number of bytes transferred. caller identifies the process making
/// the call, so a blocking vnode (the pipe) can park it on a wait queue.
func (ft *Fdtable_t) Write(caller fdops.Proc_i, fdno int, src fdops.Userio_i) (int, defs.Err_t) {
	f := ft.Get(fdno)
	if f == nil {
		return 0, defs.E_BADF
	}
	if f.Perms&FD_WRITE == 0 {
		return 0, defs.E_BADF
	}
	f.Lock()
	defer f.Unlock()
	n, err := f.Fops.Write(caller, src, f.Offset)
	f.Offset += n
	return n, err
}

/// CopyTable clones every open slot for a forking child, reopening each
/// vnode's reference. On any failure it rolls back everything it already
/// cloned before returning the error.
func (ft *Fdtable_t) CopyTable() (*Fdtable_t, defs.Err_t) {
	ft.Lock()
	defer ft.Unlock()
	nt := MkFdtable()
	for i, f := range ft.tbl {
		if f == nil {
			continue
		}
		nf, err := Copyfd(f)
		if err != 0 {
			for j := 0; j < i; j++ {
				if nt.tbl[j] != nil {
					Close_panic(nt.tbl[j])
				}
			}
			return nil, err
		}
		nt.tbl[i] = nf
	}
	return nt, 0
}

/// CloseOnExec closes every descriptor marked FD_CLOEXEC, as part of
/// execv replacing the process image.
func (ft *Fdtable_t) CloseOnExec() {
	ft.Lock()
	defer ft.Unlock()
	for i, f := range ft.tbl {
		if f != nil && f.Perms&FD_CLOEXEC != 0 {
			Close_panic(f)
			ft.tbl[i] = nil
		}
	}
}

/// CloseAll closes every open descriptor, used when a process exits.
func (ft *Fdtable_t) CloseAll() {
	ft.Lock()
	defer ft.Unlock()
	for i, f := range ft.tbl {
		if f != nil {
			Close_panic(f)
			ft.tbl[i] = nil
		}
	}
}

/// Pipe allocates a pipe vnode and installs its two ends at the lowest
/// two free slots, rolling back in reverse order if either installation
/// fails (e.g. the table is nearly full).
func Pipe(ft *Fdtable_t, mkpipe func() (fdops.Fdops_i, fdops.Fdops_i, defs.Err_t)) (rfd, wfd int, err defs.Err_t) {
	rend, wend, err := mkpipe()
	if err != 0 {
		return 0, 0, err
	}
	rfile := &Fd_t{Fops: rend, Perms: FD_READ}
	wfile := &Fd_t{Fops: wend, Perms: FD_WRITE}

	rfd, err = ft.Install(rfile)
	if err != 0 {
		Close_panic(rfile)
		Close_panic(wfile)
		return 0, 0, err
	}
	wfd, err = ft.Install(wfile)
	if err != 0 {
		ft.Close(rfd)
		Close_panic(wfile)
		return 0, 0, err
	}
	return rfd, wfd, 0
}
