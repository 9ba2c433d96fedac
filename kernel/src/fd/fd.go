// Package fd implements open file descriptions and the per-process file
// descriptor table built on top of them.
package fd

import (
	"sync"

	"defs"
	"fdops"
)

/// File descriptor permission bits.
const (
	FD_READ    = 0x1 /// read permission
	FD_WRITE   = 0x2 /// write permission
	FD_CLOEXEC = 0x4 /// close-on-exec flag
)

/// Fd_t is an open file description: the (vnode, offset, perms) triple a
/// process's fdtable slots point at. Offset is meaningful only for
/// seekable vnodes (memfiles); stream and pipe vnodes ignore whatever is
/// passed through. Each fdtable slot owns its own Fd_t (see Copyfd) --
/// sharing of the underlying open file across dup'd descriptors is
/// tracked by the vnode's own Reopen/Close accounting, not by aliasing
/// this struct.
type Fd_t struct {
	sync.Mutex // serializes offset updates against concurrent read/write
	Fops       fdops.Fdops_i
	Perms      int
	Offset     int
}

/// Copyfd duplicates an open file descriptor by reopening it.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{Fops: fd.Fops, Perms: fd.Perms, Offset: fd.Offset}
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

/// Close_panic closes the descriptor and panics on failure.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}
