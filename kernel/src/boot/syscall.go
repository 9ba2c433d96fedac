package boot

import (
	"defs"
	"fd"
	"mem"
	"proc"
	"vm"
	"vnode"
	"wait"
)

/// Dispatch fans out on a syscall number exactly like the single
/// trap-entry point named in the spec's system-call dispatch component.
/// A real trampoline (out of scope: interrupt vector entry stubs) would
/// pull sysno and its arguments out of the trapped register frame and
/// call this; here the caller supplies them directly. Every user-pointer
/// argument is validated against p's address space before use; an
/// unknown sysno reports E_NOSYS.
///
/// A validation failure that comes back as E_FAULT means p tried to
/// touch memory its own page table doesn't back -- the hosted-model
/// equivalent of the page-fault trap a real CPU would raise for the
/// same access, since every page this kernel ever maps is mapped
/// eagerly and never demand-paged in. There is no handler to resolve
/// such a fault, so Dispatch reacts the way the fault handler it stands
/// in for does: mark p broken and let it go on being waitable but never
/// scheduled again.
func Dispatch(p *proc.Proc_t, sysno int, a1, a2, a3 int) (int, defs.Err_t) {
	ret, err := dispatch(p, sysno, a1, a2, a3)
	if err == defs.E_FAULT {
		p.SetBroken()
	}
	return ret, err
}

func dispatch(p *proc.Proc_t, sysno int, a1, a2, a3 int) (int, defs.Err_t) {
	switch sysno {
	case defs.SYS_GETPID:
		return int(p.Pid()), 0

	case defs.SYS_GETPPID:
		p.Lock()
		pp := p.ParentPid
		p.Unlock()
		return int(pp), 0

	case defs.SYS_YIELD:
		wait.Yield(p)
		return 0, 0

	case defs.SYS_PAUSE:
		wait.Yield(p)
		return 0, 0

	case defs.SYS_EXIT:
		proc.Exit(p, a1)
		return 0, 0

	case defs.SYS_MSLEEP:
		return 0, proc.Msleep(p, a1)

	case defs.SYS_MAP_CONSOLE:
		va := a1
		if err := checkPageAligned(va); err != 0 {
			return 0, err
		}
		p.Vm.Lock_pmap()
		err := p.Vm.MapShared(va, proc.ConsolePage, vm.PTE_U|vm.PTE_W)
		p.Vm.Unlock_pmap()
		return 0, err

	case defs.SYS_PAGE_ALLOC:
		va := a1
		if err := checkPageAligned(va); err != 0 {
			return 0, err
		}
		pg, _, ok := mem.Physmem.Refpg_new()
		if !ok {
			return 0, defs.E_NOMEM
		}
		p.Vm.Lock_pmap()
		_, err := p.Vm.Map(va, vm.PTE_U|vm.PTE_W, pg)
		p.Vm.Unlock_pmap()
		return 0, err

	case defs.SYS_FORK:
		return dispatchFork(p)

	case defs.SYS_READ:
		return dispatchRW(p, a1, a2, a3, false)
	case defs.SYS_WRITE:
		return dispatchRW(p, a1, a2, a3, true)

	case defs.SYS_CLOSE:
		return 0, p.Fds.Close(a1)

	case defs.SYS_DUP2:
		return 0, p.Fds.Dup2(a1, a2)

	case defs.SYS_PIPE:
		rfd, wfd, err := fd.Pipe(p.Fds, vnode.MkPipe)
		if err != 0 {
			return 0, err
		}
		return rfd | wfd<<32, 0

	case defs.SYS_EXECV:
		return 0, dispatchExecv(p, a1, a2)

	case defs.SYS_PANIC:
		panic("user process panicked")

	case defs.SYS_KDISPLAY:
		return 0, 0

	default:
		return 0, defs.E_NOSYS
	}
}

func checkPageAligned(va int) defs.Err_t {
	if va%mem.PGSIZE != 0 || va < 0 {
		return defs.E_INVAL
	}
	return 0
}

/// dispatchFork forks p with an empty body, mirroring a real fork's
/// "child resumes with return value 0" -- except there is no user-mode
/// program to jump to here (ELF/image loading is out of scope), so the
/// new process just waits to be driven by whatever test or init harness
/// wants it to do next. Callers that already know the child's workload
/// should call proc.Fork directly instead of going through this
/// syscall-shaped wrapper.
func dispatchFork(p *proc.Proc_t) (int, defs.Err_t) {
	childPid, err := proc.Fork(p, func(*proc.Proc_t) {})
	if err != 0 {
		return 0, err
	}
	return int(childPid), 0
}

// execMaxPath/execMaxArgc/execMaxArg bound how much user memory execv
// decoding will walk, the same role Checkuser's explicit n plays for
// read/write: without a cap a malformed uva chain could make the kernel
// copy an unbounded amount of "string".
const (
	execMaxPath = 128
	execMaxArgc = 32
	execMaxArg  = 128
)

// dispatchExecv decodes execv's path and argv out of p's own address
// space before handing off to proc.Execv, mirroring dispatchRW's
// validate-then-use pattern: patha is a NUL-terminated path string;
// argva, if non-zero, points to a NUL-terminated (0-valued) array of
// pointer-sized user addresses, each itself a NUL-terminated argument
// string.
func dispatchExecv(p *proc.Proc_t, patha, argva int) defs.Err_t {
	path, err := p.Vm.Userstr(patha, execMaxPath)
	if err != 0 {
		return err
	}

	var argv []string
	for i := 0; argva != 0 && i < execMaxArgc; i++ {
		ptrsz := 8
		ptr, err := p.Vm.Userreadn(argva+i*ptrsz, ptrsz)
		if err != 0 {
			return err
		}
		if ptr == 0 {
			break
		}
		arg, err := p.Vm.Userstr(ptr, execMaxArg)
		if err != 0 {
			return err
		}
		argv = append(argv, arg.String())
	}

	return proc.Execv(p, path.String(), argv)
}

func dispatchRW(p *proc.Proc_t, fdno, uva, n int, write bool) (int, defs.Err_t) {
	if n < 0 {
		return 0, defs.E_INVAL
	}
	// a read syscall writes into user memory; a write syscall reads
	// from it -- Checkuser's "write" flag names the permission the
	// access needs on the user mapping, which is the opposite sense.
	if err := p.Vm.Checkuser(uva, n, !write); err != 0 {
		return 0, err
	}
	ub := p.Vm.Mkuserbuf(uva, n)
	if write {
		return p.Fds.Write(p, fdno, ub)
	}
	return p.Fds.Read(p, fdno, ub)
}
