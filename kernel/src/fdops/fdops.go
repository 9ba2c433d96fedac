// Package fdops defines the interfaces that tie the fd/fdtable layer to
// the vnode layer, and the vnode layer to the user-memory copy layer.
// Keeping them in their own leaf package lets vnode, vm, and circbuf each
// depend on the dispatch shape without depending on each other.
package fdops

import "defs"

/// Userio_i abstracts a source/destination for vnode I/O: either real
/// user memory (vm.Userbuf_t) or a plain kernel buffer (vm.Fakeubuf_t).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Proc_i is the slice of a process record a blocking vnode (the pipe)
/// needs in order to build a wait.Waiter_t for whichever process called
/// it. Identical in shape to wait.Proc_i by construction: fdops cannot
/// import wait (vnode already imports both, and wait must stay ignorant
/// of fd/vnode), so the fd/vnode dispatch path threads the caller down
/// as this interface instead of reaching for a scheduler-global lookup.
type Proc_i interface {
	Pid() defs.Pid_t
	SetBlocked()
	SetRunnable()
}

/// Fdops_i is the operation set every open file description dispatches
/// through to its vnode. Read and Write handle their own blocking and
/// receive the calling process (the only thing a blocking vnode needs
/// to park it on a wait queue) and the file description's current
/// offset (ignored by non-seekable vnodes); the fd layer advances its
/// offset by the returned count. Reopen is called on dup/copy to bump
/// whatever reference count the underlying vnode needs, and Close drops
/// it.
type Fdops_i interface {
	Read(caller Proc_i, dst Userio_i, offset int) (int, defs.Err_t)
	Write(caller Proc_i, src Userio_i, offset int) (int, defs.Err_t)
	Reopen() defs.Err_t
	Close() defs.Err_t
}
